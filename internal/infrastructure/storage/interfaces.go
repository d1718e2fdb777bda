package storage

// Repository defines the complete storage interface. It allows swapping
// backing implementations (SQLite, object storage, key-value) and makes
// testing with the in-memory mock straightforward.
type Repository interface {
	ReconciliationStore
	MerchantProfileStore
	RunStore
	Close() error
}

// ReconciliationStore persists which (source, ledger) pairs have
// already been matched, enforcing idempotency across runs.
type ReconciliationStore interface {
	// HasMatchedSource reports whether the source id already belongs to
	// a reconciliation record.
	HasMatchedSource(sourceID string) (bool, error)

	// HasMatchedLedger reports whether the ledger id already belongs to
	// a reconciliation record.
	HasMatchedLedger(ledgerID string) (bool, error)

	// RecordMatch persists a match. Re-recording the identical pair is
	// a no-op; recording a conflicting pair for a claimed id is an error.
	RecordMatch(rec *ReconciliationRecord) error

	// ListMatches returns the most recent records, newest first.
	ListMatches(limit int) ([]*ReconciliationRecord, error)

	// PrunedView returns the records that Prune would delete.
	PrunedView(olderThanDays int) ([]*ReconciliationRecord, error)

	// Prune deletes records older than the retention window and
	// returns how many were removed.
	Prune(olderThanDays int) (int, error)

	// Healthy pings the backing store. A failing ping at run start
	// degrades the engine to a stateless run.
	Healthy() error
}

// MerchantProfileStore persists learned merchant to category-frequency
// mappings used by the suggestion engine.
type MerchantProfileStore interface {
	// GetProfile returns the profile for a normalized merchant key, or
	// nil when the merchant has never been observed.
	GetProfile(merchantKey string) (*MerchantProfile, error)

	// ListProfileKeys returns all known merchant keys, sorted.
	ListProfileKeys() ([]string, error)

	// ObserveCategory increments the category count for a merchant,
	// creating the profile on first observation. Counts only grow.
	ObserveCategory(merchantKey, categoryID, merchantType string) error

	// ResetProfile clears a merchant's learned counts. The only way a
	// count ever decreases.
	ResetProfile(merchantKey string) error
}

// RunStore tracks reconciliation run history for reporting.
type RunStore interface {
	// StartRun records the start of a run and returns its row id.
	StartRun(runUID string, dryRun, force bool) (int64, error)

	// CompleteRun records the outcome of a run.
	CompleteRun(runID int64, counts RunCounts, status string) error

	// ListRuns returns recent runs, newest first.
	ListRuns(limit int) ([]*ReconRun, error)

	// GetRun retrieves a run by row id.
	GetRun(runID int64) (*ReconRun, error)

	// Stats returns aggregate statistics over the last 30 days.
	Stats() (*Stats, error)
}
