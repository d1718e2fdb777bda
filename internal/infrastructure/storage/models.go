package storage

import (
	"time"
)

// Run status values recorded in recon_runs.
const (
	RunStatusRunning             = "running"
	RunStatusCompleted           = "completed"
	RunStatusCompletedWithErrors = "completed_with_errors"
	RunStatusFailed              = "failed"
)

// ReconciliationRecord is a persisted match between one source record
// and one ledger entry. Source and ledger ids are each unique across
// all records (strict 1:1).
type ReconciliationRecord struct {
	ID        int64     `json:"id"`
	SourceID  string    `json:"source_id"`
	LedgerID  string    `json:"ledger_id"`
	MatchedAt time.Time `json:"matched_at"`
	Score     int       `json:"score"`
}

// MerchantProfile is the learned category-frequency mapping for one
// normalized merchant key.
type MerchantProfile struct {
	MerchantKey       string         `json:"merchant_key"`
	CategoryCounts    map[string]int `json:"category_counts"`
	TotalObservations int            `json:"total_observations"`
	MerchantType      string         `json:"merchant_type,omitempty"`
}

// ReconRun is one recorded reconciliation run.
type ReconRun struct {
	ID          int64     `json:"id"`
	RunUID      string    `json:"run_uid"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	DryRun      bool      `json:"dry_run"`
	Force       bool      `json:"force"`
	Status      string    `json:"status"`
	RunCounts
}

// RunCounts holds the per-run result counts surfaced by the API.
type RunCounts struct {
	EntriesSeen          int `json:"entries_seen"`
	SourcesSeen          int `json:"sources_seen"`
	Matched              int `json:"matched"`
	Suggested            int `json:"suggested"`
	SplitProposed        int `json:"split_proposed"`
	SkippedLowConfidence int `json:"skipped_low_confidence"`
	Errored              int `json:"errored"`
}

// Stats aggregates run history for the stats endpoint.
type Stats struct {
	TotalRuns       int     `json:"total_runs"`
	CompletedRuns   int     `json:"completed_runs"`
	FailedRuns      int     `json:"failed_runs"`
	DryRuns         int     `json:"dry_runs"`
	TotalMatched    int     `json:"total_matched"`
	TotalSuggested  int     `json:"total_suggested"`
	TotalSplits     int     `json:"total_splits"`
	TotalErrored    int     `json:"total_errored"`
	AvgMatchedPerRun float64 `json:"avg_matched_per_run"`
	MatchedRecords  int     `json:"matched_records"`
	MerchantsKnown  int     `json:"merchants_known"`
}
