// Package splitdetect proposes multi-category splits for ledger
// entries whose merchant type suggests a composite purchase: a
// restaurant bill hiding a tip, or a retail order covering several
// spending categories.
package splitdetect

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/ledgermatch/recon-backend/internal/domain/merchant"
	"github.com/ledgermatch/recon-backend/internal/domain/model"
	"github.com/ledgermatch/recon-backend/internal/pkg/errs"
)

const (
	defaultTipPercentage      = 0.18
	defaultRetailThreshold    = 5000
	defaultWarehouseThreshold = 10000

	defaultDiningCategory = "dining"
	defaultTipsCategory   = "tips"
	uncategorized         = "uncategorized"
)

// Config tunes split triggering and construction. Zero values fall
// back to the defaults.
type Config struct {
	TipPercentage              float64
	TipSplittingEnabled        bool
	OnlineRetailThresholdCents int64
	WarehouseThresholdCents    int64
	DiningCategoryID           string
	TipsCategoryID             string
}

// Detector classifies an entry's payee into a merchant type and builds
// the split proposal appropriate for that type.
type Detector struct {
	cfg        Config
	classifier *merchant.Classifier
	logger     *slog.Logger
}

// NewDetector returns a detector. A nil classifier uses the built-in
// merchant rules.
func NewDetector(cfg Config, classifier *merchant.Classifier, logger *slog.Logger) *Detector {
	if cfg.TipPercentage <= 0 {
		cfg.TipPercentage = defaultTipPercentage
	}
	if cfg.OnlineRetailThresholdCents <= 0 {
		cfg.OnlineRetailThresholdCents = defaultRetailThreshold
	}
	if cfg.WarehouseThresholdCents <= 0 {
		cfg.WarehouseThresholdCents = defaultWarehouseThreshold
	}
	if cfg.DiningCategoryID == "" {
		cfg.DiningCategoryID = defaultDiningCategory
	}
	if cfg.TipsCategoryID == "" {
		cfg.TipsCategoryID = defaultTipsCategory
	}
	if classifier == nil {
		classifier = merchant.NewClassifier(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{cfg: cfg, classifier: classifier, logger: logger}
}

// Detect returns a split proposal for the entry, or nil when the
// entry's merchant type and amount do not trigger splitting. The
// source record is the matched purchase, if any; it supplies itemized
// lines for retail grouping and may be nil.
func (d *Detector) Detect(entry model.LedgerEntry, source *model.SourceRecord) (*model.SplitProposal, error) {
	mType := d.classifier.Classify(entry.PayeeName)
	amount := model.AbsCents(entry.AmountCents)

	var proposal *model.SplitProposal
	switch mType {
	case merchant.TypeRestaurant:
		if !d.cfg.TipSplittingEnabled || amount == 0 {
			return nil, nil
		}
		proposal = d.restaurantSplit(entry)
	case merchant.TypeOnlineRetail:
		if amount <= d.cfg.OnlineRetailThresholdCents {
			return nil, nil
		}
		proposal = d.itemizedSplit(entry, source, "online retail purchase above split threshold")
	case merchant.TypeWarehouseClub:
		if amount <= d.cfg.WarehouseThresholdCents {
			return nil, nil
		}
		proposal = d.itemizedSplit(entry, source, "warehouse club purchase above split threshold")
	default:
		return nil, nil
	}

	if total := proposal.PartsTotalCents(); total != entry.AmountCents {
		// Construction absorbs remainders, so a mismatch here means a
		// bug somewhere upstream. Discard the proposal and let the
		// caller fall back to a plain suggestion.
		d.logger.Error("split proposal failed sum check",
			"ledger_id", entry.ID,
			"entry_cents", entry.AmountCents,
			"parts_cents", total)
		return nil, fmt.Errorf("split for %s: parts sum %d != entry %d: %w",
			entry.ID, total, entry.AmountCents, errs.ErrSplitInvariant)
	}
	return proposal, nil
}

// restaurantSplit peels the tip out of a restaurant charge. The tip is
// recovered from the gross amount assuming it was computed on the
// subtotal, and the rounding remainder stays with the subtotal part.
func (d *Detector) restaurantSplit(entry model.LedgerEntry) *model.SplitProposal {
	amount := model.AbsCents(entry.AmountCents)
	p := d.cfg.TipPercentage

	tip := int64(math.Round(float64(amount) * p / (1 + p)))
	subtotal := amount - tip

	sign := int64(1)
	if entry.AmountCents < 0 {
		sign = -1
	}

	return &model.SplitProposal{
		LedgerID:      entry.ID,
		TriggerReason: "restaurant tip split",
		Parts: []model.SplitPart{
			{
				CategoryID:  d.cfg.DiningCategoryID,
				AmountCents: sign * subtotal,
				Rationale:   fmt.Sprintf("meal subtotal assuming a %.0f%% tip", p*100),
			},
			{
				CategoryID:  d.cfg.TipsCategoryID,
				AmountCents: sign * tip,
				Rationale:   fmt.Sprintf("estimated %.0f%% tip", p*100),
			},
		},
	}
}

// itemizedSplit groups the matched source's items by category. Without
// an itemized source there is nothing to group, so the proposal is a
// single part flagged for manual splitting.
func (d *Detector) itemizedSplit(entry model.LedgerEntry, source *model.SourceRecord, reason string) *model.SplitProposal {
	if source == nil || !source.HasItems() {
		return &model.SplitProposal{
			LedgerID:         entry.ID,
			TriggerReason:    reason,
			NeedsManualSplit: true,
			Parts: []model.SplitPart{
				{
					CategoryID:  entry.CategoryID,
					AmountCents: entry.AmountCents,
					Rationale:   "no itemized source available",
				},
			},
		}
	}

	totals := make(map[string]int64)
	for _, item := range source.Items {
		category := item.Category
		if category == "" {
			category = uncategorized
		}
		totals[category] += item.TotalCents()
	}

	categories := make([]string, 0, len(totals))
	for c := range totals {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	sign := int64(1)
	if entry.AmountCents < 0 {
		sign = -1
	}

	parts := make([]model.SplitPart, 0, len(totals))
	var assigned int64
	for _, c := range categories {
		amount := sign * totals[c]
		parts = append(parts, model.SplitPart{
			CategoryID:  c,
			AmountCents: amount,
			Rationale:   fmt.Sprintf("itemized %s purchases from %s", c, source.Merchant),
		})
		assigned += amount
	}

	// Tax, shipping and rounding land in the last part so the parts
	// reproduce the ledger amount exactly.
	if remainder := entry.AmountCents - assigned; remainder != 0 {
		parts[len(parts)-1].AmountCents += remainder
	}

	return &model.SplitProposal{
		LedgerID:      entry.ID,
		TriggerReason: reason,
		Parts:         parts,
	}
}
