// Package model defines the core data types shared across the
// reconciliation engine: source purchase records pulled from upstream
// providers and unreconciled entries fetched from the ledger.
//
// All monetary values are integer cents. Ledger purchases are negative,
// refunds positive, matching the upstream ledger's sign convention.
// Source record amounts are always positive; comparison is done on
// absolute values.
package model

import (
	"time"
)

// SourceKind identifies which ingestion path produced a SourceRecord.
type SourceKind string

const (
	SourceKindFolder SourceKind = "folder"
	SourceKindManual SourceKind = "manual"
	SourceKindRemote SourceKind = "remote"
)

// SourceItem is one line item on a purchase record. Category is the
// category id declared by the upstream source, when it provides one.
type SourceItem struct {
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Category       string `json:"category,omitempty"`
}

// TotalCents returns quantity times unit price for the item.
func (i SourceItem) TotalCents() int64 {
	qty := int64(i.Quantity)
	if qty <= 0 {
		qty = 1
	}
	return qty * i.UnitPriceCents
}

// SourceRecord is a candidate purchase observed from an upstream
// provider. Immutable once created by ingestion.
type SourceRecord struct {
	ID          string       `json:"id"`
	OrderRef    string       `json:"order_ref"`
	Date        time.Time    `json:"date"`
	AmountCents int64        `json:"amount_cents"`
	Merchant    string       `json:"merchant"`
	PaymentType string       `json:"payment_type,omitempty"`
	Items       []SourceItem `json:"items,omitempty"`
	SourceKind  SourceKind   `json:"source_kind"`
	ContentHash string       `json:"content_hash,omitempty"`
}

// HasItems reports whether the record carries itemized line data.
func (r SourceRecord) HasItems() bool {
	return len(r.Items) > 0
}

// LedgerEntry is an unreconciled transaction fetched fresh from the
// ledger each run. The engine never mutates entries locally; changes go
// through LedgerProvider.ApplyUpdate.
type LedgerEntry struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	AmountCents int64     `json:"amount_cents"`
	PayeeName   string    `json:"payee_name"`
	Memo        string    `json:"memo,omitempty"`
	AccountID   string    `json:"account_id"`
	AccountType string    `json:"account_type,omitempty"`
	CategoryID  string    `json:"category_id,omitempty"`
	Cleared     bool      `json:"cleared"`
}

// CategorySuggestion is a ranked category candidate for an unmatched,
// uncategorized ledger entry. Confidence is 0-100.
type CategorySuggestion struct {
	LedgerID   string `json:"ledger_id"`
	CategoryID string `json:"category_id"`
	Confidence int    `json:"confidence"`
	Rationale  string `json:"rationale"`
	Rank       int    `json:"rank"`
}

// SplitPart is one category-tagged slice of a split proposal.
type SplitPart struct {
	CategoryID  string `json:"category_id"`
	AmountCents int64  `json:"amount_cents"`
	Rationale   string `json:"rationale,omitempty"`
}

// SplitProposal decomposes one ledger entry's amount into multiple
// parts. Parts always sum to the entry amount exactly; the rounding
// remainder is absorbed by one part during construction.
type SplitProposal struct {
	LedgerID         string      `json:"ledger_id"`
	Parts            []SplitPart `json:"parts"`
	TriggerReason    string      `json:"trigger_reason"`
	NeedsManualSplit bool        `json:"needs_manual_split,omitempty"`
}

// PartsTotalCents sums the proposal's part amounts.
func (p SplitProposal) PartsTotalCents() int64 {
	var total int64
	for _, part := range p.Parts {
		total += part.AmountCents
	}
	return total
}

// LedgerUpdate describes a change the engine wants applied to a ledger
// entry. Nil pointer fields are left untouched by the ledger.
type LedgerUpdate struct {
	CategoryID *string     `json:"category_id,omitempty"`
	Memo       *string     `json:"memo,omitempty"`
	Splits     []SplitPart `json:"splits,omitempty"`
}

// AbsCents returns the absolute value of an amount in cents.
func AbsCents(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// DateDeltaDays returns the whole-day distance between two calendar
// dates, ignoring time-of-day and timezone offsets.
func DateDeltaDays(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	delta := int(ad.Sub(bd).Hours() / 24)
	if delta < 0 {
		delta = -delta
	}
	return delta
}
