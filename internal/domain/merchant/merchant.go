// Package merchant provides merchant key normalization and merchant
// type classification shared by the suggestion engine, the split
// detector, and the profile store.
package merchant

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Type buckets a merchant into a behavioral category used for split
// detection thresholds and the keyword heuristic.
type Type string

const (
	TypeRestaurant    Type = "restaurant"
	TypeOnlineRetail  Type = "online-retail"
	TypeWarehouseClub Type = "warehouse-club"
	TypeGasStation    Type = "gas-station"
	TypeGrocery       Type = "grocery"
	TypeUnknown       Type = "unknown"
)

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9 ]+`)
	trailingID = regexp.MustCompile(`\s+(#?\d{2,}|[a-z]{0,2}\d{4,})$`)
	spaces     = regexp.MustCompile(`\s+`)
)

// Normalize produces a stable merchant key from a raw payee or merchant
// string: lowercase, punctuation stripped, trailing store/location
// numbers dropped, whitespace collapsed.
//
//	"COSTCO WHSE #0482"  -> "costco whse"
//	"Starbucks  Store 12345" -> "starbucks store"
func Normalize(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = nonAlnum.ReplaceAllString(key, " ")
	key = spaces.ReplaceAllString(key, " ")
	key = strings.TrimSpace(key)
	// Strip trailing store numbers repeatedly ("whse 0482 123").
	for {
		stripped := trailingID.ReplaceAllString(key, "")
		if stripped == key {
			break
		}
		key = strings.TrimSpace(stripped)
	}
	return key
}

// FuzzyMatch returns the closest key from candidates within the edit
// distance tolerance for the key's length, and whether one was found.
// Longer keys tolerate more noise: distance 2 for keys of 8+ runes,
// otherwise 1. Ties go to the lexicographically smallest candidate so
// lookups are deterministic.
func FuzzyMatch(key string, candidates []string) (string, bool) {
	tolerance := 1
	if len([]rune(key)) >= 8 {
		tolerance = 2
	}

	best := ""
	bestDist := tolerance + 1
	for _, cand := range candidates {
		if cand == "" {
			continue
		}
		d := levenshtein.ComputeDistance(key, cand)
		if d < bestDist || (d == bestDist && best != "" && cand < best) {
			best = cand
			bestDist = d
		}
	}
	if bestDist > tolerance {
		return "", false
	}
	return best, true
}

// Rule maps payee keywords to a merchant type.
type Rule struct {
	Keywords []string
	Type     Type
}

// Classifier assigns merchant types from configured keyword rules.
// Rules are checked in order; first hit wins.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier. Keywords are matched
// case-insensitively against the normalized payee.
func NewClassifier(rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify returns the merchant type for a raw payee string, or
// TypeUnknown when no rule matches.
func (c *Classifier) Classify(payee string) Type {
	key := Normalize(payee)
	if key == "" {
		return TypeUnknown
	}
	for _, rule := range c.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(key, strings.ToLower(kw)) {
				return rule.Type
			}
		}
	}
	return TypeUnknown
}

// DefaultRules covers the common national merchants. Deployments extend
// this list through configuration.
func DefaultRules() []Rule {
	return []Rule{
		{Type: TypeWarehouseClub, Keywords: []string{"costco", "sams club", "bjs wholesale"}},
		{Type: TypeOnlineRetail, Keywords: []string{"amazon", "amzn", "wal mart", "walmart", "target com", "ebay"}},
		{Type: TypeRestaurant, Keywords: []string{"restaurant", "grill", "bistro", "pizzeria", "sushi", "taqueria", "diner", "cafe", "doordash", "grubhub", "ubereats", "uber eats"}},
		{Type: TypeGasStation, Keywords: []string{"shell", "chevron", "exxon", "mobil", "76 ", "arco", "texaco", "sunoco", "gas"}},
		{Type: TypeGrocery, Keywords: []string{"safeway", "kroger", "trader joe", "whole foods", "albertsons", "aldi", "wegmans"}},
	}
}
