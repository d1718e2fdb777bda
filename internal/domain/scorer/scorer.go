// Package scorer scores one (ledger entry, source record) candidate
// pair. Scoring is a pure function over its two inputs so results are
// reproducible across runs and safe to compute in parallel.
//
// The score is the sum of an amount term (max 60), a date term
// (max 40), and uncapped bonuses, clamped to 100:
//
//	amount: exact -> 60, within 25 cents -> 30, within 50 cents -> 15
//	date:   same day -> 40, 1 day off -> 20, 2 days off -> 10
//	bonus:  +5 amount exact, +5 same day, +10 payment type matches
//	        the ledger account's expected type
package scorer

import (
	"strings"

	"github.com/ledgermatch/recon-backend/internal/domain/model"
	"github.com/ledgermatch/recon-backend/internal/pkg/errs"
)

// Term thresholds and weights.
const (
	amountExactPoints  = 60
	amountClosePoints  = 30
	amountNearPoints   = 15
	amountCloseCents   = 25
	amountNearCents    = 50
	dateSamePoints     = 40
	dateOneDayPoints   = 20
	dateTwoDayPoints   = 10
	bonusAmountExact   = 5
	bonusSameDay       = 5
	bonusAccountType   = 10
	maxScore           = 100
)

// Tier buckets a score for human consumption.
type Tier string

const (
	TierHigh   Tier = "high"   // >= 90
	TierMedium Tier = "medium" // 70-89
	TierLow    Tier = "low"    // < 70
)

// TierFor returns the confidence tier for a score value.
func TierFor(score int) Tier {
	switch {
	case score >= 90:
		return TierHigh
	case score >= 70:
		return TierMedium
	default:
		return TierLow
	}
}

// Breakdown explains how a score was assembled.
type Breakdown struct {
	AmountPoints     int   `json:"amount_points"`
	DatePoints       int   `json:"date_points"`
	BonusPoints      int   `json:"bonus_points"`
	AmountDeltaCents int64 `json:"amount_delta_cents"`
	DateDeltaDays    int   `json:"date_delta_days"`
	AmountExact      bool  `json:"amount_exact"`
	SameDay          bool  `json:"same_day"`
	AccountTypeMatch bool  `json:"account_type_match"`
}

// Result is the scored outcome for one candidate pair.
type Result struct {
	Value     int       `json:"value"`
	Tier      Tier      `json:"tier"`
	Breakdown Breakdown `json:"breakdown"`
}

// Score computes the match score for a ledger entry against a source
// record. Deterministic for identical inputs; no side effects.
func Score(entry model.LedgerEntry, rec model.SourceRecord) Result {
	var b Breakdown

	entryAmount := model.AbsCents(entry.AmountCents)
	recAmount := model.AbsCents(rec.AmountCents)
	b.AmountDeltaCents = model.AbsCents(entryAmount - recAmount)

	switch {
	case b.AmountDeltaCents == 0:
		b.AmountPoints = amountExactPoints
		b.AmountExact = true
	case b.AmountDeltaCents <= amountCloseCents:
		b.AmountPoints = amountClosePoints
	case b.AmountDeltaCents <= amountNearCents:
		b.AmountPoints = amountNearPoints
	}

	b.DateDeltaDays = model.DateDeltaDays(entry.Date, rec.Date)
	switch b.DateDeltaDays {
	case 0:
		b.DatePoints = dateSamePoints
		b.SameDay = true
	case 1:
		b.DatePoints = dateOneDayPoints
	case 2:
		b.DatePoints = dateTwoDayPoints
	}

	if b.AmountExact {
		b.BonusPoints += bonusAmountExact
	}
	if b.SameDay {
		b.BonusPoints += bonusSameDay
	}
	if paymentTypeMatches(entry.AccountType, rec.PaymentType) {
		b.BonusPoints += bonusAccountType
		b.AccountTypeMatch = true
	}

	value := b.AmountPoints + b.DatePoints + b.BonusPoints
	if value > maxScore {
		value = maxScore
	}

	return Result{Value: value, Tier: TierFor(value), Breakdown: b}
}

// paymentTypeMatches compares the source's declared payment type with
// the ledger account's configured expected type, case-insensitively.
func paymentTypeMatches(accountType, paymentType string) bool {
	if accountType == "" || paymentType == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(accountType), strings.TrimSpace(paymentType))
}

// ValidateEntry reports whether a ledger entry is scoreable. Malformed
// entries are skipped and logged; they never abort the batch.
func ValidateEntry(entry model.LedgerEntry) error {
	if entry.ID == "" {
		return &errs.ScoringInputError{Kind: "ledger", ID: entry.ID, Reason: "missing id"}
	}
	if entry.Date.IsZero() {
		return &errs.ScoringInputError{Kind: "ledger", ID: entry.ID, Reason: "missing date"}
	}
	if entry.AmountCents == 0 {
		return &errs.ScoringInputError{Kind: "ledger", ID: entry.ID, Reason: "zero amount"}
	}
	return nil
}

// ValidateRecord reports whether a source record is scoreable.
func ValidateRecord(rec model.SourceRecord) error {
	if rec.ID == "" {
		return &errs.ScoringInputError{Kind: "source", ID: rec.ID, Reason: "missing id"}
	}
	if rec.Date.IsZero() {
		return &errs.ScoringInputError{Kind: "source", ID: rec.ID, Reason: "missing date"}
	}
	if rec.AmountCents <= 0 {
		return &errs.ScoringInputError{Kind: "source", ID: rec.ID, Reason: "non-positive amount"}
	}
	return nil
}
