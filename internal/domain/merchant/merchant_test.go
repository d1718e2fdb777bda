package merchant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"lowercase and trim", "  Starbucks  ", "starbucks"},
		{"strip punctuation", "TST* Joe's Grill", "tst joe s grill"},
		{"strip store number", "COSTCO WHSE #0482", "costco whse"},
		{"strip trailing location id", "SHELL OIL 57442809", "shell oil"},
		{"collapse whitespace", "whole   foods  market", "whole foods market"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestFuzzyMatch(t *testing.T) {
	candidates := []string{"costco whse", "starbucks", "shell oil"}

	t.Run("exact distance zero", func(t *testing.T) {
		got, ok := FuzzyMatch("starbucks", candidates)
		assert.True(t, ok)
		assert.Equal(t, "starbucks", got)
	})

	t.Run("near miss within tolerance", func(t *testing.T) {
		got, ok := FuzzyMatch("costco whs", candidates)
		assert.True(t, ok)
		assert.Equal(t, "costco whse", got)
	})

	t.Run("short key tight tolerance", func(t *testing.T) {
		_, ok := FuzzyMatch("shxx oil", []string{"shell oil"})
		assert.False(t, ok)
	})

	t.Run("no candidate close enough", func(t *testing.T) {
		_, ok := FuzzyMatch("trader joes", candidates)
		assert.False(t, ok)
	})
}

func TestClassifier(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		payee string
		want  Type
	}{
		{"COSTCO WHSE #0482", TypeWarehouseClub},
		{"AMZN Mktp US*123ABC", TypeOnlineRetail},
		{"TARGET.COM *4829", TypeOnlineRetail},
		{"WALMART.COM 8009666546", TypeOnlineRetail},
		{"Luigi's Pizzeria", TypeRestaurant},
		{"SHELL OIL 57442809", TypeGasStation},
		{"Trader Joe's #552", TypeGrocery},
		{"ACME Plumbing", TypeUnknown},
		{"", TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.payee, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.payee))
		})
	}
}

func TestClassifier_FirstRuleWins(t *testing.T) {
	c := NewClassifier([]Rule{
		{Type: TypeRestaurant, Keywords: []string{"market"}},
		{Type: TypeGrocery, Keywords: []string{"market"}},
	})
	assert.Equal(t, TypeRestaurant, c.Classify("Corner Market"))
}
