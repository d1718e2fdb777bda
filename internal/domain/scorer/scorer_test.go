package scorer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermatch/recon-backend/internal/domain/model"
)

func makeEntry(amountCents int64, date time.Time) model.LedgerEntry {
	return model.LedgerEntry{
		ID:          "ledger-1",
		Date:        date,
		AmountCents: amountCents,
		PayeeName:   "Test Payee",
		AccountID:   "acct-1",
	}
}

func makeRecord(amountCents int64, date time.Time) model.SourceRecord {
	return model.SourceRecord{
		ID:          "src-1",
		Date:        date,
		AmountCents: amountCents,
		Merchant:    "Test Merchant",
	}
}

func TestScore_ExactAmountSameDay(t *testing.T) {
	day := time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC)

	// Ledger $45.00 purchase (negative) vs source $45.00 same day.
	result := Score(makeEntry(-4500, day), makeRecord(4500, day))

	assert.Equal(t, 100, result.Value)
	assert.Equal(t, TierHigh, result.Tier)
	assert.Equal(t, 60, result.Breakdown.AmountPoints)
	assert.Equal(t, 40, result.Breakdown.DatePoints)
	assert.Equal(t, 10, result.Breakdown.BonusPoints)
	assert.True(t, result.Breakdown.AmountExact)
	assert.True(t, result.Breakdown.SameDay)
}

func TestScore_NearAmountOneDayOff(t *testing.T) {
	// Ledger $45.30 on Nov 27 vs source $45.00 on Nov 26:
	// amount within 50 cents -> 15, one day off -> 20, no bonuses.
	entry := makeEntry(-4530, time.Date(2025, 11, 27, 0, 0, 0, 0, time.UTC))
	rec := makeRecord(4500, time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC))

	result := Score(entry, rec)

	assert.Equal(t, 35, result.Value)
	assert.Equal(t, TierLow, result.Tier)
	assert.Equal(t, 15, result.Breakdown.AmountPoints)
	assert.Equal(t, 20, result.Breakdown.DatePoints)
	assert.Equal(t, 0, result.Breakdown.BonusPoints)
	assert.Equal(t, int64(30), result.Breakdown.AmountDeltaCents)
	assert.Equal(t, 1, result.Breakdown.DateDeltaDays)
}

func TestScore_Terms(t *testing.T) {
	day := time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		entry     model.LedgerEntry
		rec       model.SourceRecord
		wantScore int
	}{
		{
			name:      "within 25 cents same day",
			entry:     makeEntry(-4520, day),
			rec:       makeRecord(4500, day),
			wantScore: 30 + 40 + 5, // close amount, same day, same-day bonus
		},
		{
			name:      "exact amount two days off",
			entry:     makeEntry(-4500, day.AddDate(0, 0, 2)),
			rec:       makeRecord(4500, day),
			wantScore: 60 + 10 + 5, // exact amount bonus only
		},
		{
			name:      "amount out of range",
			entry:     makeEntry(-9900, day),
			rec:       makeRecord(4500, day),
			wantScore: 0 + 40 + 5,
		},
		{
			name:      "date out of range",
			entry:     makeEntry(-4500, day.AddDate(0, 0, 5)),
			rec:       makeRecord(4500, day),
			wantScore: 60 + 0 + 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantScore, Score(tt.entry, tt.rec).Value)
		})
	}
}

func TestScore_AccountTypeBonus(t *testing.T) {
	day := time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC)

	entry := makeEntry(-4520, day)
	entry.AccountType = "visa"
	rec := makeRecord(4500, day)
	rec.PaymentType = "Visa"

	result := Score(entry, rec)
	assert.True(t, result.Breakdown.AccountTypeMatch)
	// within 25 cents (30) + same day (40) + same-day bonus (5) + type bonus (10)
	assert.Equal(t, 85, result.Value)

	// A 30 cent delta drops to the within-50-cents band.
	wider := makeEntry(-4530, day)
	wider.AccountType = "visa"
	assert.Equal(t, 70, Score(wider, rec).Value)
}

func TestScore_ClampedTo100(t *testing.T) {
	day := time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC)

	entry := makeEntry(-4500, day)
	entry.AccountType = "amex"
	rec := makeRecord(4500, day)
	rec.PaymentType = "amex"

	// 60 + 40 + 5 + 5 + 10 = 120 before clamping.
	result := Score(entry, rec)
	assert.Equal(t, 100, result.Value)
	assert.Equal(t, 20, result.Breakdown.BonusPoints)
}

func TestScore_Deterministic(t *testing.T) {
	entry := makeEntry(-4530, time.Date(2025, 11, 27, 14, 30, 0, 0, time.UTC))
	rec := makeRecord(4500, time.Date(2025, 11, 26, 9, 0, 0, 0, time.UTC))

	first := Score(entry, rec)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, Score(entry, rec))
	}
}

func TestScore_TimeOfDayIgnored(t *testing.T) {
	entry := makeEntry(-4500, time.Date(2025, 11, 26, 23, 59, 0, 0, time.UTC))
	rec := makeRecord(4500, time.Date(2025, 11, 26, 0, 1, 0, 0, time.UTC))

	result := Score(entry, rec)
	assert.True(t, result.Breakdown.SameDay)
	assert.Equal(t, 100, result.Value)
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, TierHigh, TierFor(100))
	assert.Equal(t, TierHigh, TierFor(90))
	assert.Equal(t, TierMedium, TierFor(89))
	assert.Equal(t, TierMedium, TierFor(70))
	assert.Equal(t, TierLow, TierFor(69))
	assert.Equal(t, TierLow, TierFor(0))
}

func TestValidateEntry(t *testing.T) {
	day := time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC)

	require.NoError(t, ValidateEntry(makeEntry(-4500, day)))

	missing := makeEntry(-4500, day)
	missing.ID = ""
	assert.Error(t, ValidateEntry(missing))

	noDate := makeEntry(-4500, time.Time{})
	assert.Error(t, ValidateEntry(noDate))

	zero := makeEntry(0, day)
	assert.Error(t, ValidateEntry(zero))
}

func TestValidateRecord(t *testing.T) {
	day := time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC)

	require.NoError(t, ValidateRecord(makeRecord(4500, day)))

	negative := makeRecord(-4500, day)
	assert.Error(t, ValidateRecord(negative))

	noDate := makeRecord(4500, time.Time{})
	assert.Error(t, ValidateRecord(noDate))
}
