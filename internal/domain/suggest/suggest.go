// Package suggest produces category suggestions for ledger entries the
// selector could not match. Four independent sources contribute
// candidates which are merged by category, keeping the highest
// confidence per category.
package suggest

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"

	"github.com/ledgermatch/recon-backend/internal/domain/merchant"
	"github.com/ledgermatch/recon-backend/internal/domain/model"
	"github.com/ledgermatch/recon-backend/internal/infrastructure/storage"
)

const (
	defaultMaxSuggestions = 3
	defaultMinConfidence  = 60

	keywordConfidence = 90
	bucketConfidence  = 40

	historyBaseConfidence = 40
	historyStepConfidence = 15
	historyCapConfidence  = 95
)

// KeywordRule maps a payee pattern to a category with fixed confidence.
type KeywordRule struct {
	Pattern    string
	CategoryID string
	Confidence int
}

// AmountBucket maps an inclusive cent range to a low-confidence
// category, used as a tiebreak filler.
type AmountBucket struct {
	MinCents   int64
	MaxCents   int64
	CategoryID string
	Confidence int
}

// Config tunes the engine. Zero values fall back to the defaults.
type Config struct {
	MaxSuggestions int
	MinConfidence  int
	KeywordRules   []KeywordRule
	AmountBuckets  []AmountBucket
}

type compiledRule struct {
	re         *regexp.Regexp
	categoryID string
	confidence int
}

// Engine merges suggestions from merchant profiles, payee history,
// keyword rules and amount buckets.
type Engine struct {
	cfg      Config
	profiles storage.MerchantProfileStore
	rules    []compiledRule
	logger   *slog.Logger
}

// NewEngine compiles the keyword rules and returns an engine. The
// profile store may be nil, in which case the profile source is
// skipped (stateless runs).
func NewEngine(cfg Config, profiles storage.MerchantProfileStore, logger *slog.Logger) (*Engine, error) {
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = defaultMaxSuggestions
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = defaultMinConfidence
	}
	if logger == nil {
		logger = slog.Default()
	}

	rules := make([]compiledRule, 0, len(cfg.KeywordRules))
	for _, r := range cfg.KeywordRules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling keyword rule %q: %w", r.Pattern, err)
		}
		conf := r.Confidence
		if conf <= 0 {
			conf = keywordConfidence
		}
		rules = append(rules, compiledRule{re: re, categoryID: r.CategoryID, confidence: conf})
	}

	return &Engine{cfg: cfg, profiles: profiles, rules: rules, logger: logger}, nil
}

// PayeeHistory indexes categorized entries from the current fetch
// window by normalized payee key.
type PayeeHistory struct {
	counts map[string]map[string]int
}

// BuildPayeeHistory collects same-payee categorizations from the
// entries fetched this run. Only entries that already carry a category
// contribute.
func BuildPayeeHistory(entries []model.LedgerEntry) PayeeHistory {
	h := PayeeHistory{counts: make(map[string]map[string]int)}
	for _, e := range entries {
		if e.CategoryID == "" {
			continue
		}
		key := merchant.Normalize(e.PayeeName)
		if key == "" {
			continue
		}
		byCat := h.counts[key]
		if byCat == nil {
			byCat = make(map[string]int)
			h.counts[key] = byCat
		}
		byCat[e.CategoryID]++
	}
	return h
}

// Suggest returns up to MaxSuggestions candidates for an entry, sorted
// by confidence descending. The second return reports whether raw
// candidates existed but all fell below the confidence floor, so the
// caller can count the entry as skipped rather than uncovered.
func (e *Engine) Suggest(entry model.LedgerEntry, history PayeeHistory) ([]model.CategorySuggestion, bool) {
	best := make(map[string]model.CategorySuggestion)

	merge := func(categoryID string, confidence int, rationale string) {
		if categoryID == "" {
			return
		}
		if confidence > 100 {
			confidence = 100
		}
		cur, ok := best[categoryID]
		if !ok || confidence > cur.Confidence {
			best[categoryID] = model.CategorySuggestion{
				LedgerID:   entry.ID,
				CategoryID: categoryID,
				Confidence: confidence,
				Rationale:  rationale,
			}
		}
	}

	e.fromProfile(entry, merge)
	e.fromHistory(entry, history, merge)
	e.fromKeywords(entry, merge)
	e.fromBuckets(entry, merge)

	if len(best) == 0 {
		return nil, false
	}

	all := make([]model.CategorySuggestion, 0, len(best))
	for _, s := range best {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Confidence != all[j].Confidence {
			return all[i].Confidence > all[j].Confidence
		}
		return all[i].CategoryID < all[j].CategoryID
	})

	kept := all[:0:len(all)]
	for _, s := range all {
		if s.Confidence >= e.cfg.MinConfidence {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil, true
	}
	if len(kept) > e.cfg.MaxSuggestions {
		kept = kept[:e.cfg.MaxSuggestions]
	}
	for i := range kept {
		kept[i].Rank = i + 1
	}
	return kept, false
}

// fromProfile consults the merchant profile store, falling back to a
// fuzzy key lookup when the exact normalized key is unknown.
func (e *Engine) fromProfile(entry model.LedgerEntry, merge func(string, int, string)) {
	if e.profiles == nil {
		return
	}
	key := merchant.Normalize(entry.PayeeName)
	if key == "" {
		return
	}

	profile, err := e.profiles.GetProfile(key)
	if err != nil {
		e.logger.Warn("merchant profile lookup failed", "key", key, "error", err)
		return
	}
	if profile == nil {
		known, err := e.profiles.ListProfileKeys()
		if err != nil {
			e.logger.Warn("merchant profile key listing failed", "error", err)
			return
		}
		fuzzy, ok := merchant.FuzzyMatch(key, known)
		if !ok {
			return
		}
		profile, err = e.profiles.GetProfile(fuzzy)
		if err != nil || profile == nil {
			return
		}
		key = fuzzy
	}
	if profile.TotalObservations == 0 {
		return
	}

	for categoryID, count := range profile.CategoryCounts {
		conf := 100 * count / profile.TotalObservations
		merge(categoryID, conf, fmt.Sprintf("merchant %q categorized this way %d of %d times", key, count, profile.TotalObservations))
	}
}

// fromHistory scores same-payee categorizations seen in the current
// fetch window. Confidence grows with sample count, capped at 95.
func (e *Engine) fromHistory(entry model.LedgerEntry, history PayeeHistory, merge func(string, int, string)) {
	key := merchant.Normalize(entry.PayeeName)
	if key == "" {
		return
	}
	for categoryID, n := range history.counts[key] {
		conf := historyBaseConfidence + historyStepConfidence*n
		if conf > historyCapConfidence {
			conf = historyCapConfidence
		}
		merge(categoryID, conf, fmt.Sprintf("payee categorized this way %d time(s) in the current window", n))
	}
}

func (e *Engine) fromKeywords(entry model.LedgerEntry, merge func(string, int, string)) {
	for _, r := range e.rules {
		if r.re.MatchString(entry.PayeeName) {
			merge(r.categoryID, r.confidence, fmt.Sprintf("payee matches keyword rule %q", r.re.String()))
		}
	}
}

func (e *Engine) fromBuckets(entry model.LedgerEntry, merge func(string, int, string)) {
	amount := model.AbsCents(entry.AmountCents)
	for _, b := range e.cfg.AmountBuckets {
		if amount < b.MinCents || amount > b.MaxCents {
			continue
		}
		conf := b.Confidence
		if conf <= 0 {
			conf = bucketConfidence
		}
		merge(b.CategoryID, conf, fmt.Sprintf("amount falls in the %d-%d cent range", b.MinCents, b.MaxCents))
	}
}
