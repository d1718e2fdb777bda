// Package selector turns scored candidate pairs into committed
// matches. It enforces the strict 1:1 invariant: each source record
// and each ledger entry is claimed at most once.
//
// Selection is a greedy sweep in descending score order rather than a
// maximum-weight bipartite assignment. Greedy is explainable ("the
// highest-scoring pair won") at the cost of global optimality, which
// is the intended trade-off at these volumes.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ledgermatch/recon-backend/internal/domain/model"
	"github.com/ledgermatch/recon-backend/internal/domain/scorer"
	"github.com/ledgermatch/recon-backend/internal/infrastructure/storage"
)

// Config holds selector tuning.
type Config struct {
	// DateToleranceDays is the candidate admission window for dates.
	DateToleranceDays int

	// AmountToleranceCents is the candidate admission window for
	// amounts, compared on absolute values.
	AmountToleranceCents int64

	// MatchThreshold is the minimum score a candidate needs to be
	// selected.
	MatchThreshold int

	// ScoreWorkers bounds the workers scoring the candidate
	// cross-product. Zero means 4.
	ScoreWorkers int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DateToleranceDays:    2,
		AmountToleranceCents: 50,
		MatchThreshold:       80,
		ScoreWorkers:         4,
	}
}

// Candidate is one scored (source, ledger) pair. Ephemeral: computed
// per run, never persisted.
type Candidate struct {
	Source model.SourceRecord
	Entry  model.LedgerEntry
	Score  scorer.Result
}

// Match is a selected candidate.
type Match struct {
	Source    model.SourceRecord
	Entry     model.LedgerEntry
	Score     scorer.Result
	MatchedAt time.Time
}

// Selector builds and selects match candidates. When store is nil the
// selector runs stateless: nothing is excluded up front and nothing is
// persisted, which is the degraded mode for an unreachable state store.
type Selector struct {
	cfg    Config
	store  storage.ReconciliationStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates a selector. store may be nil for stateless runs.
func New(cfg Config, store storage.ReconciliationStore, logger *slog.Logger) *Selector {
	if cfg.DateToleranceDays <= 0 {
		cfg.DateToleranceDays = 2
	}
	if cfg.AmountToleranceCents <= 0 {
		cfg.AmountToleranceCents = 50
	}
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = 80
	}
	if cfg.ScoreWorkers <= 0 {
		cfg.ScoreWorkers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{cfg: cfg, store: store, logger: logger, now: time.Now}
}

// BuildCandidates scores every admissible (entry, source) pair.
// Ids already present in the state store are excluded unless force is
// set. Malformed records are skipped; their errors are returned
// alongside the candidates and never abort the batch.
//
// Scoring runs on a bounded worker pool; each entry's candidates are
// produced independently, so there is no shared mutable state until
// the final merge.
func (s *Selector) BuildCandidates(
	ctx context.Context,
	entries []model.LedgerEntry,
	records []model.SourceRecord,
	force bool,
) ([]Candidate, []error) {
	var inputErrs []error

	validRecords := make([]model.SourceRecord, 0, len(records))
	for _, rec := range records {
		if err := scorer.ValidateRecord(rec); err != nil {
			s.logger.Warn("skipping malformed source record", "source_id", rec.ID, "error", err)
			inputErrs = append(inputErrs, err)
			continue
		}
		if !force && s.sourceAlreadyMatched(rec.ID) {
			continue
		}
		validRecords = append(validRecords, rec)
	}

	validEntries := make([]model.LedgerEntry, 0, len(entries))
	for _, entry := range entries {
		if err := scorer.ValidateEntry(entry); err != nil {
			s.logger.Warn("skipping malformed ledger entry", "ledger_id", entry.ID, "error", err)
			inputErrs = append(inputErrs, err)
			continue
		}
		if !force && s.ledgerAlreadyMatched(entry.ID) {
			continue
		}
		validEntries = append(validEntries, entry)
	}

	perEntry := make([][]Candidate, len(validEntries))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ScoreWorkers)
	for i, entry := range validEntries {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var cands []Candidate
			for _, rec := range validRecords {
				if !s.admissible(entry, rec) {
					continue
				}
				cands = append(cands, Candidate{
					Source: rec,
					Entry:  entry,
					Score:  scorer.Score(entry, rec),
				})
			}
			mu.Lock()
			perEntry[i] = cands
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Only context cancellation reaches here; return what we have.
		inputErrs = append(inputErrs, err)
	}

	var candidates []Candidate
	for _, cands := range perEntry {
		candidates = append(candidates, cands...)
	}
	return candidates, inputErrs
}

// admissible applies the candidate admission windows.
func (s *Selector) admissible(entry model.LedgerEntry, rec model.SourceRecord) bool {
	if model.DateDeltaDays(entry.Date, rec.Date) > s.cfg.DateToleranceDays {
		return false
	}
	delta := model.AbsCents(model.AbsCents(entry.AmountCents) - model.AbsCents(rec.AmountCents))
	return delta <= s.cfg.AmountToleranceCents
}

// Select sweeps candidates greedily and claims 1:1 matches at or above
// the threshold. Selection and state store writes are single-threaded;
// this is the critical section that preserves the invariant even when
// scoring was parallel.
//
// Returned store errors are record-scoped: a failed write skips that
// candidate and the sweep continues.
func (s *Selector) Select(candidates []Candidate) ([]Match, []error) {
	SortCandidates(candidates)

	var (
		matches    []Match
		storeErrs  []error
		usedSource = make(map[string]bool)
		usedLedger = make(map[string]bool)
	)

	for _, cand := range candidates {
		if cand.Score.Value < s.cfg.MatchThreshold {
			// Candidates are sorted by score; everything after this
			// point is below threshold too.
			break
		}
		if usedSource[cand.Source.ID] || usedLedger[cand.Entry.ID] {
			continue
		}

		matchedAt := s.now().UTC()
		if s.store != nil {
			err := s.store.RecordMatch(&storage.ReconciliationRecord{
				SourceID:  cand.Source.ID,
				LedgerID:  cand.Entry.ID,
				MatchedAt: matchedAt,
				Score:     cand.Score.Value,
			})
			if err != nil {
				s.logger.Error("failed to persist match",
					"source_id", cand.Source.ID,
					"ledger_id", cand.Entry.ID,
					"error", err,
				)
				storeErrs = append(storeErrs, fmt.Errorf("record match %s/%s: %w", cand.Source.ID, cand.Entry.ID, err))
				continue
			}
		}

		usedSource[cand.Source.ID] = true
		usedLedger[cand.Entry.ID] = true
		matches = append(matches, Match{
			Source:    cand.Source,
			Entry:     cand.Entry,
			Score:     cand.Score,
			MatchedAt: matchedAt,
		})

		s.logger.Debug("selected match",
			"source_id", cand.Source.ID,
			"ledger_id", cand.Entry.ID,
			"score", cand.Score.Value,
			"tier", cand.Score.Tier,
		)
	}

	return matches, storeErrs
}

// SortCandidates orders candidates deterministically: score descending,
// then smaller date delta, smaller amount delta, smaller ledger id, and
// finally smaller source id so the order is total.
func SortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score.Value != b.Score.Value {
			return a.Score.Value > b.Score.Value
		}
		if a.Score.Breakdown.DateDeltaDays != b.Score.Breakdown.DateDeltaDays {
			return a.Score.Breakdown.DateDeltaDays < b.Score.Breakdown.DateDeltaDays
		}
		if a.Score.Breakdown.AmountDeltaCents != b.Score.Breakdown.AmountDeltaCents {
			return a.Score.Breakdown.AmountDeltaCents < b.Score.Breakdown.AmountDeltaCents
		}
		if a.Entry.ID != b.Entry.ID {
			return a.Entry.ID < b.Entry.ID
		}
		return a.Source.ID < b.Source.ID
	})
}

func (s *Selector) sourceAlreadyMatched(sourceID string) bool {
	if s.store == nil {
		return false
	}
	matched, err := s.store.HasMatchedSource(sourceID)
	if err != nil {
		s.logger.Warn("state store read failed, treating source as unmatched", "source_id", sourceID, "error", err)
		return false
	}
	return matched
}

func (s *Selector) ledgerAlreadyMatched(ledgerID string) bool {
	if s.store == nil {
		return false
	}
	matched, err := s.store.HasMatchedLedger(ledgerID)
	if err != nil {
		s.logger.Warn("state store read failed, treating entry as unmatched", "ledger_id", ledgerID, "error", err)
		return false
	}
	return matched
}
