package suggest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermatch/recon-backend/internal/domain/model"
	"github.com/ledgermatch/recon-backend/internal/infrastructure/storage"
)

func newEngine(t *testing.T, cfg Config, profiles storage.MerchantProfileStore) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, profiles, nil)
	require.NoError(t, err)
	return e
}

func entry(id, payee string, amountCents int64) model.LedgerEntry {
	return model.LedgerEntry{
		ID:          id,
		Date:        time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC),
		AmountCents: amountCents,
		PayeeName:   payee,
		AccountID:   "acct-1",
	}
}

func TestProfileFrequencyConfidence(t *testing.T) {
	repo := storage.NewMockRepository()
	require.NoError(t, repo.ObserveCategory("chipotle", "dining", "restaurant"))
	require.NoError(t, repo.ObserveCategory("chipotle", "dining", "restaurant"))
	require.NoError(t, repo.ObserveCategory("chipotle", "coffee", "restaurant"))

	e := newEngine(t, Config{}, repo)
	got, skipped := e.Suggest(entry("led-1", "CHIPOTLE", -1250), PayeeHistory{})

	assert.False(t, skipped)
	require.Len(t, got, 1, "coffee at floor(100/3)=33 falls below the confidence floor")
	assert.Equal(t, "dining", got[0].CategoryID)
	assert.Equal(t, 66, got[0].Confidence, "floor(100*2/3)")
	assert.Equal(t, 1, got[0].Rank)
}

func TestProfileFuzzyKeyFallback(t *testing.T) {
	repo := storage.NewMockRepository()
	require.NoError(t, repo.ObserveCategory("wholefoods", "groceries", "grocery"))
	require.NoError(t, repo.ObserveCategory("wholefoods", "groceries", "grocery"))

	e := newEngine(t, Config{}, repo)
	got, _ := e.Suggest(entry("led-1", "WHOLEFOOD", -8340), PayeeHistory{})

	require.Len(t, got, 1)
	assert.Equal(t, "groceries", got[0].CategoryID)
	assert.Equal(t, 100, got[0].Confidence)
}

func TestPayeeHistoryScaling(t *testing.T) {
	window := []model.LedgerEntry{
		{ID: "a", PayeeName: "Shell Oil", CategoryID: "auto-gas"},
		{ID: "b", PayeeName: "SHELL OIL", CategoryID: "auto-gas"},
		{ID: "c", PayeeName: "Shell Oil", CategoryID: ""},
	}
	history := BuildPayeeHistory(window)

	e := newEngine(t, Config{}, nil)
	got, _ := e.Suggest(entry("led-1", "Shell Oil", -4100), history)

	require.Len(t, got, 1)
	assert.Equal(t, "auto-gas", got[0].CategoryID)
	assert.Equal(t, 70, got[0].Confidence, "40 + 15*2 samples")
}

func TestPayeeHistoryConfidenceCap(t *testing.T) {
	window := make([]model.LedgerEntry, 10)
	for i := range window {
		window[i] = model.LedgerEntry{PayeeName: "Trader Joes", CategoryID: "groceries"}
	}
	history := BuildPayeeHistory(window)

	e := newEngine(t, Config{}, nil)
	got, _ := e.Suggest(entry("led-1", "Trader Joes", -5500), history)

	require.Len(t, got, 1)
	assert.Equal(t, 95, got[0].Confidence)
}

func TestKeywordRuleHit(t *testing.T) {
	cfg := Config{
		KeywordRules: []KeywordRule{
			{Pattern: `shell|chevron|exxon`, CategoryID: "auto-gas"},
		},
	}
	e := newEngine(t, cfg, nil)
	got, _ := e.Suggest(entry("led-1", "CHEVRON 00234", -3800), PayeeHistory{})

	require.Len(t, got, 1)
	assert.Equal(t, "auto-gas", got[0].CategoryID)
	assert.Equal(t, 90, got[0].Confidence)
}

func TestInvalidKeywordPattern(t *testing.T) {
	_, err := NewEngine(Config{
		KeywordRules: []KeywordRule{{Pattern: `([`, CategoryID: "x"}},
	}, nil, nil)
	require.Error(t, err)
}

func TestMergeKeepsMaxPerCategory(t *testing.T) {
	repo := storage.NewMockRepository()
	// Profile gives dining 100, keyword gives dining 90. Max wins.
	require.NoError(t, repo.ObserveCategory("chipotle", "dining", "restaurant"))

	cfg := Config{
		KeywordRules: []KeywordRule{{Pattern: `chipotle`, CategoryID: "dining"}},
	}
	e := newEngine(t, cfg, repo)
	got, _ := e.Suggest(entry("led-1", "CHIPOTLE", -1250), PayeeHistory{})

	require.Len(t, got, 1)
	assert.Equal(t, 100, got[0].Confidence)
}

func TestOrderingLengthAndFloor(t *testing.T) {
	cfg := Config{
		KeywordRules: []KeywordRule{
			{Pattern: `acme`, CategoryID: "cat-a", Confidence: 90},
			{Pattern: `acme`, CategoryID: "cat-b", Confidence: 75},
			{Pattern: `acme`, CategoryID: "cat-c", Confidence: 75},
			{Pattern: `acme`, CategoryID: "cat-d", Confidence: 62},
			{Pattern: `acme`, CategoryID: "cat-e", Confidence: 45},
		},
	}
	e := newEngine(t, cfg, nil)
	got, skipped := e.Suggest(entry("led-1", "ACME STORE", -2000), PayeeHistory{})

	assert.False(t, skipped)
	require.Len(t, got, 3, "truncated to max_suggestions")
	assert.Equal(t, []string{"cat-a", "cat-b", "cat-c"}, []string{got[0].CategoryID, got[1].CategoryID, got[2].CategoryID},
		"descending confidence, category id breaks the 75/75 tie")
	for i, s := range got {
		assert.GreaterOrEqual(t, s.Confidence, 60)
		assert.Equal(t, i+1, s.Rank)
	}
}

func TestAmountBucketIsFillerOnly(t *testing.T) {
	cfg := Config{
		AmountBuckets: []AmountBucket{
			{MinCents: 100, MaxCents: 500, CategoryID: "coffee"},
		},
	}
	e := newEngine(t, cfg, nil)

	// A bucket hit alone sits at confidence 40, below the floor.
	got, skipped := e.Suggest(entry("led-1", "UNKNOWN VENDOR", -350), PayeeHistory{})
	assert.Nil(t, got)
	assert.True(t, skipped, "candidates existed but none cleared the floor")

	// Lowering the floor lets the filler through.
	low := newEngine(t, Config{MinConfidence: 30, AmountBuckets: cfg.AmountBuckets}, nil)
	got, skipped = low.Suggest(entry("led-1", "UNKNOWN VENDOR", -350), PayeeHistory{})
	assert.False(t, skipped)
	require.Len(t, got, 1)
	assert.Equal(t, "coffee", got[0].CategoryID)
	assert.Equal(t, 40, got[0].Confidence)
}

func TestNoCandidates(t *testing.T) {
	e := newEngine(t, Config{}, nil)
	got, skipped := e.Suggest(entry("led-1", "UNKNOWN VENDOR", -350), PayeeHistory{})
	assert.Nil(t, got)
	assert.False(t, skipped)
}
