// Package recon runs a full reconciliation pass: pull ledger entries
// and source records, score and select matches, then suggest categories
// and split proposals for whatever remains.
package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ledgermatch/recon-backend/internal/adapters/ledger"
	"github.com/ledgermatch/recon-backend/internal/adapters/providers"
	"github.com/ledgermatch/recon-backend/internal/domain/merchant"
	"github.com/ledgermatch/recon-backend/internal/domain/model"
	"github.com/ledgermatch/recon-backend/internal/domain/selector"
	"github.com/ledgermatch/recon-backend/internal/domain/splitdetect"
	"github.com/ledgermatch/recon-backend/internal/domain/suggest"
	"github.com/ledgermatch/recon-backend/internal/infrastructure/config"
	"github.com/ledgermatch/recon-backend/internal/infrastructure/storage"
	"github.com/ledgermatch/recon-backend/internal/pkg/errs"
	"github.com/ledgermatch/recon-backend/internal/pkg/retry"
)

const defaultLookbackDays = 30

// Options controls a single run.
type Options struct {
	DryRun        bool
	Force         bool
	LookbackDays  int
	AccountFilter string
}

// Result is the structured outcome of one run.
type Result struct {
	RunUID      string                     `json:"run_uid"`
	Degraded    bool                       `json:"degraded"`
	DryRun      bool                       `json:"dry_run"`
	Matched     []selector.Match           `json:"matched"`
	Suggestions []model.CategorySuggestion `json:"suggestions"`
	Splits      []*model.SplitProposal     `json:"splits"`
	Errors      []string                   `json:"errors,omitempty"`
	Counts      storage.RunCounts          `json:"counts"`
}

// Orchestrator wires the providers, the ledger, the domain engines and
// the state store into one reconciliation pipeline.
type Orchestrator struct {
	cfg        *config.Config
	registry   *providers.Registry
	ledger     ledger.Provider
	repo       storage.Repository
	detector   *splitdetect.Detector
	classifier *merchant.Classifier
	suggestCfg suggest.Config
	policy     retry.Policy
	logger     *slog.Logger
	now        func() time.Time
}

// New builds an orchestrator from configuration. repo may be nil, which
// forces every run into degraded stateless mode.
func New(
	cfg *config.Config,
	registry *providers.Registry,
	ledgerProvider ledger.Provider,
	repo storage.Repository,
	logger *slog.Logger,
) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	suggestCfg := suggest.Config{
		MaxSuggestions: cfg.Suggestions.MaxSuggestions,
		MinConfidence:  cfg.Suggestions.MinConfidence,
	}
	for _, r := range cfg.Suggestions.KeywordRules {
		suggestCfg.KeywordRules = append(suggestCfg.KeywordRules, suggest.KeywordRule(r))
	}
	for _, b := range cfg.Suggestions.AmountBuckets {
		suggestCfg.AmountBuckets = append(suggestCfg.AmountBuckets, suggest.AmountBucket(b))
	}
	// Compile rules now so a bad pattern fails at startup, not mid-run.
	if _, err := suggest.NewEngine(suggestCfg, nil, logger); err != nil {
		return nil, err
	}

	classifier := merchant.NewClassifier(merchantRules(cfg.Splits.MerchantTypeRules))
	detector := splitdetect.NewDetector(splitdetect.Config{
		TipPercentage:              cfg.Splits.TipPercentage,
		TipSplittingEnabled:        cfg.Splits.TipSplittingEnabled,
		OnlineRetailThresholdCents: cfg.Splits.OnlineRetailThresholdCents,
		WarehouseThresholdCents:    cfg.Splits.WarehouseThresholdCents,
		DiningCategoryID:           cfg.Splits.DiningCategoryID,
		TipsCategoryID:             cfg.Splits.TipsCategoryID,
	}, classifier, logger)

	policy := retry.DefaultPolicy()
	if cfg.Providers.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Providers.Retry.MaxAttempts
	}
	if cfg.Providers.Retry.BaseDelayMillis > 0 {
		policy.BaseDelay = time.Duration(cfg.Providers.Retry.BaseDelayMillis) * time.Millisecond
	}
	if cfg.Providers.Retry.MaxDelayMillis > 0 {
		policy.MaxDelay = time.Duration(cfg.Providers.Retry.MaxDelayMillis) * time.Millisecond
	}

	return &Orchestrator{
		cfg:        cfg,
		registry:   registry,
		ledger:     ledgerProvider,
		repo:       repo,
		detector:   detector,
		classifier: classifier,
		suggestCfg: suggestCfg,
		policy:     policy,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func merchantRules(configured []config.MerchantTypeRule) []merchant.Rule {
	if len(configured) == 0 {
		return nil
	}
	rules := make([]merchant.Rule, 0, len(configured))
	for _, r := range configured {
		rules = append(rules, merchant.Rule{Keywords: r.Keywords, Type: merchant.Type(r.Type)})
	}
	return rules
}

// Run executes one reconciliation pass.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{
		RunUID: uuid.New().String(),
		DryRun: opts.DryRun,
	}

	repo := o.repo
	if repo != nil {
		if err := repo.Healthy(); err != nil {
			o.logger.Warn("state store unreachable, running stateless",
				"error", err, "condition", "state_store_unavailable")
			result.Errors = append(result.Errors, errs.ErrStateStoreUnavailable.Error())
			repo = nil
		}
	}
	result.Degraded = repo == nil

	var runID int64
	if repo != nil {
		id, err := repo.StartRun(result.RunUID, opts.DryRun, opts.Force)
		if err != nil {
			o.logger.Warn("failed to record run start", "error", err)
		} else {
			runID = id
		}
	}

	o.logger.Info("reconciliation run starting",
		"run_uid", result.RunUID,
		"dry_run", opts.DryRun,
		"force", opts.Force,
		"degraded", result.Degraded,
	)

	err := o.run(ctx, opts, repo, result)

	if repo != nil && runID != 0 {
		status := storage.RunStatusCompleted
		switch {
		case err != nil:
			status = storage.RunStatusFailed
		case result.Counts.Errored > 0:
			status = storage.RunStatusCompletedWithErrors
		}
		if cerr := repo.CompleteRun(runID, result.Counts, status); cerr != nil {
			o.logger.Warn("failed to record run completion", "error", cerr)
		}
	}

	if err != nil {
		return result, err
	}

	o.logger.Info("reconciliation run finished",
		"run_uid", result.RunUID,
		"matched", result.Counts.Matched,
		"suggested", result.Counts.Suggested,
		"splits", result.Counts.SplitProposed,
		"errored", result.Counts.Errored,
	)
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, opts Options, repo storage.Repository, result *Result) error {
	lookback := opts.LookbackDays
	if lookback <= 0 {
		lookback = defaultLookbackDays
	}
	since := o.now().AddDate(0, 0, -lookback)

	accountFilter := opts.AccountFilter
	if accountFilter == "" {
		accountFilter = o.cfg.Ledger.AccountFilter
	}

	// Ledger first: without entries there is nothing to reconcile.
	var entries []model.LedgerEntry
	err := o.policy.Do(ctx, "ledger pull", func(ctx context.Context) error {
		var pullErr error
		entries, pullErr = o.ledger.PullUnreconciled(ctx, accountFilter)
		return pullErr
	})
	if err != nil {
		return fmt.Errorf("pulling ledger entries: %w", err)
	}
	result.Counts.EntriesSeen = len(entries)

	records, err := o.pullSources(ctx, since, result)
	if err != nil {
		return err
	}
	result.Counts.SourcesSeen = len(records)

	// Score and select. Dry runs read exclusion state but never write.
	var store storage.ReconciliationStore
	if repo != nil {
		store = repo
		if opts.DryRun {
			store = readOnlyStore{repo}
		}
	}
	sel := selector.New(selector.Config{
		DateToleranceDays:    o.cfg.Matching.DateToleranceDays,
		AmountToleranceCents: o.cfg.Matching.AmountToleranceCents,
		MatchThreshold:       o.cfg.Matching.MatchThreshold,
		ScoreWorkers:         o.cfg.Matching.ScoreWorkers,
	}, store, o.logger)

	candidates, inputErrs := sel.BuildCandidates(ctx, entries, records, opts.Force)
	for _, e := range inputErrs {
		result.Errors = append(result.Errors, e.Error())
		result.Counts.Errored++
	}

	matches, storeErrs := sel.Select(candidates)
	for _, e := range storeErrs {
		result.Errors = append(result.Errors, e.Error())
		result.Counts.Errored++
	}
	result.Matched = matches
	result.Counts.Matched = len(matches)

	o.observeMerchants(repo, opts, matches)

	var profiles storage.MerchantProfileStore
	if repo != nil {
		profiles = repo
	}
	engine, err := suggest.NewEngine(o.suggestCfg, profiles, o.logger)
	if err != nil {
		return err
	}

	o.categorizeRemainder(engine, entries, matches, result)
	o.proposeMatchedSplits(matches, engine, suggest.BuildPayeeHistory(entries), result)

	if !opts.DryRun {
		o.applyUpdates(ctx, matches, result)
	}

	if repo != nil && !opts.DryRun {
		retention := o.cfg.Matching.RetentionDays
		if pruned, err := repo.Prune(retention); err != nil {
			o.logger.Warn("failed to prune reconciliation records", "error", err)
		} else if pruned > 0 {
			o.logger.Info("pruned aged reconciliation records", "pruned", pruned, "retention_days", retention)
		}
	}
	return nil
}

// pullSources pulls every registered provider in priority order with
// bounded concurrency and a minimum delay between request starts.
// Records are deduped across providers by content hash; the earlier
// priority wins.
func (o *Orchestrator) pullSources(ctx context.Context, since time.Time, result *Result) ([]model.SourceRecord, error) {
	ordered := o.registry.Ordered(o.cfg.Providers.Priority)
	if len(ordered) == 0 {
		return nil, nil
	}

	maxConcurrent := o.cfg.Providers.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	minDelay := time.Duration(o.cfg.Providers.MinDelayMillis) * time.Millisecond

	perProvider := make([][]model.SourceRecord, len(ordered))
	var (
		mu        sync.Mutex
		lastStart time.Time
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, provider := range ordered {
		g.Go(func() error {
			// Space out request starts across providers.
			mu.Lock()
			if wait := minDelay - time.Since(lastStart); wait > 0 {
				mu.Unlock()
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(wait):
				}
				mu.Lock()
			}
			lastStart = time.Now()
			mu.Unlock()

			var records []model.SourceRecord
			err := o.policy.Do(gctx, provider.Name()+" pull", func(ctx context.Context) error {
				var pullErr error
				records, pullErr = provider.Pull(ctx, since)
				return pullErr
			})
			if err != nil {
				if errors.Is(err, errs.ErrAuth) {
					return fmt.Errorf("provider %s: %w", provider.Name(), err)
				}
				o.logger.Error("provider pull failed", "provider", provider.Name(), "error", err)
				mu.Lock()
				result.Errors = append(result.Errors, fmt.Sprintf("provider %s: %v", provider.Name(), err))
				result.Counts.Errored++
				mu.Unlock()
				return nil
			}

			if len(records) == 0 && !provider.AllowEmpty() {
				empty := &errs.IngestionError{Provider: provider.Name()}
				o.logger.Warn("provider yielded no records", "provider", provider.Name())
				mu.Lock()
				result.Errors = append(result.Errors, empty.Error())
				mu.Unlock()
			}

			perProvider[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []model.SourceRecord
	seen := make(map[string]bool)
	for _, records := range perProvider {
		for _, rec := range records {
			if rec.ContentHash != "" && seen[rec.ContentHash] {
				continue
			}
			seen[rec.ContentHash] = true
			merged = append(merged, rec)
		}
	}
	return merged, nil
}

// observeMerchants feeds confirmed matches back into the merchant
// profile store so future suggestions improve. Skipped on dry and
// degraded runs.
func (o *Orchestrator) observeMerchants(repo storage.Repository, opts Options, matches []selector.Match) {
	if repo == nil || opts.DryRun {
		return
	}
	for _, m := range matches {
		if m.Entry.CategoryID == "" {
			continue
		}
		key := merchant.Normalize(m.Source.Merchant)
		if key == "" {
			continue
		}
		mType := string(o.classifier.Classify(m.Source.Merchant))
		if err := repo.ObserveCategory(key, m.Entry.CategoryID, mType); err != nil {
			o.logger.Warn("failed to observe merchant category",
				"merchant_key", key, "category_id", m.Entry.CategoryID, "error", err)
		}
	}
}

// categorizeRemainder produces suggestions and split proposals for
// entries the selector left unmatched and uncategorized.
func (o *Orchestrator) categorizeRemainder(
	engine *suggest.Engine,
	entries []model.LedgerEntry,
	matches []selector.Match,
	result *Result,
) {
	matchedLedger := make(map[string]bool, len(matches))
	for _, m := range matches {
		matchedLedger[m.Entry.ID] = true
	}
	history := suggest.BuildPayeeHistory(entries)

	for _, entry := range entries {
		if matchedLedger[entry.ID] || entry.CategoryID != "" {
			continue
		}

		suggestions, skipped := engine.Suggest(entry, history)
		if skipped {
			result.Counts.SkippedLowConfidence++
		}
		if len(suggestions) > 0 {
			result.Suggestions = append(result.Suggestions, suggestions...)
			result.Counts.Suggested++
		}

		proposal, err := o.detector.Detect(entry, nil)
		if err != nil {
			// Defensive invariant path: keep the plain suggestions.
			result.Errors = append(result.Errors, err.Error())
			result.Counts.Errored++
			continue
		}
		if proposal != nil {
			result.Splits = append(result.Splits, proposal)
			result.Counts.SplitProposed++
		}
	}
}

// proposeMatchedSplits runs the split detector over matched entries
// whose source carries itemized lines, which is where category grouping
// actually has data to work with.
func (o *Orchestrator) proposeMatchedSplits(
	matches []selector.Match,
	engine *suggest.Engine,
	history suggest.PayeeHistory,
	result *Result,
) {
	for _, m := range matches {
		source := m.Source
		proposal, err := o.detector.Detect(m.Entry, &source)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			result.Counts.Errored++
			// Fall back to a plain suggestion for the entry.
			if suggestions, _ := engine.Suggest(m.Entry, history); len(suggestions) > 0 {
				result.Suggestions = append(result.Suggestions, suggestions...)
				result.Counts.Suggested++
			}
			continue
		}
		if proposal != nil && !proposal.NeedsManualSplit {
			result.Splits = append(result.Splits, proposal)
			result.Counts.SplitProposed++
		}
	}
}

// applyUpdates pushes memo and split updates for matched entries back
// to the ledger.
func (o *Orchestrator) applyUpdates(ctx context.Context, matches []selector.Match, result *Result) {
	splitsByLedger := make(map[string]*model.SplitProposal, len(result.Splits))
	for _, p := range result.Splits {
		if !p.NeedsManualSplit {
			splitsByLedger[p.LedgerID] = p
		}
	}

	for _, m := range matches {
		memo := fmt.Sprintf("Matched %s purchase %s (score %d)", m.Source.Merchant, m.Source.OrderRef, m.Score.Value)
		update := model.LedgerUpdate{Memo: &memo}
		if p, ok := splitsByLedger[m.Entry.ID]; ok {
			update.Splits = p.Parts
		}

		err := o.policy.Do(ctx, "ledger update", func(ctx context.Context) error {
			return o.ledger.ApplyUpdate(ctx, m.Entry.ID, update)
		})
		if err != nil {
			o.logger.Error("failed to apply ledger update", "ledger_id", m.Entry.ID, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("apply update %s: %v", m.Entry.ID, err))
			result.Counts.Errored++
		}
	}
}

// readOnlyStore lets dry runs consult exclusion state without
// persisting anything.
type readOnlyStore struct {
	storage.ReconciliationStore
}

func (readOnlyStore) RecordMatch(*storage.ReconciliationRecord) error { return nil }
