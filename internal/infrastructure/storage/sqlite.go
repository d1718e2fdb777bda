package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides SQLite database access for reconciliation state,
// merchant profiles, and run history. It implements Repository.
type Storage struct {
	db     *sql.DB
	logger *slog.Logger
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// NewStorage creates a new storage instance with SQLite database
func NewStorage(dbPath string, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{db: db, logger: logger}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// Healthy pings the database.
func (s *Storage) Healthy() error {
	return s.db.Ping()
}

// HasMatchedSource reports whether the source id is already claimed.
func (s *Storage) HasMatchedSource(sourceID string) (bool, error) {
	return s.exists(`SELECT COUNT(*) FROM reconciliation_records WHERE source_id = ?`, sourceID)
}

// HasMatchedLedger reports whether the ledger id is already claimed.
func (s *Storage) HasMatchedLedger(ledgerID string) (bool, error) {
	return s.exists(`SELECT COUNT(*) FROM reconciliation_records WHERE ledger_id = ?`, ledgerID)
}

func (s *Storage) exists(query, arg string) (bool, error) {
	var count int
	if err := s.db.QueryRow(query, arg).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordMatch persists a match. Re-recording the identical pair is a
// no-op; a conflicting pair for an already claimed id is an error.
func (s *Storage) RecordMatch(rec *ReconciliationRecord) error {
	if rec == nil {
		return errors.New("nil reconciliation record")
	}

	var existingLedger string
	err := s.db.QueryRow(
		`SELECT ledger_id FROM reconciliation_records WHERE source_id = ?`, rec.SourceID,
	).Scan(&existingLedger)
	switch {
	case err == nil:
		if existingLedger == rec.LedgerID {
			return nil // idempotent re-record
		}
		return fmt.Errorf("source %s already matched to ledger %s", rec.SourceID, existingLedger)
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	matchedAt := rec.MatchedAt
	if matchedAt.IsZero() {
		matchedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(`
		INSERT INTO reconciliation_records (source_id, ledger_id, matched_at, score)
		VALUES (?, ?, ?, ?)
	`, rec.SourceID, rec.LedgerID, matchedAt, rec.Score)
	if err != nil {
		// The UNIQUE constraint on ledger_id catches a ledger entry
		// claimed by a different source.
		return fmt.Errorf("failed to record match %s/%s: %w", rec.SourceID, rec.LedgerID, err)
	}

	return nil
}

// ListMatches returns the most recent records, newest first.
func (s *Storage) ListMatches(limit int) ([]*ReconciliationRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, source_id, ledger_id, matched_at, score
		FROM reconciliation_records
		ORDER BY matched_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// PrunedView returns the records Prune would delete.
func (s *Storage) PrunedView(olderThanDays int) ([]*ReconciliationRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, source_id, ledger_id, matched_at, score
		FROM reconciliation_records
		WHERE matched_at < ?
		ORDER BY matched_at ASC
	`, pruneCutoff(olderThanDays))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// Prune deletes records older than the retention window.
func (s *Storage) Prune(olderThanDays int) (int, error) {
	result, err := s.db.Exec(
		`DELETE FROM reconciliation_records WHERE matched_at < ?`,
		pruneCutoff(olderThanDays),
	)
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func pruneCutoff(olderThanDays int) time.Time {
	if olderThanDays <= 0 {
		olderThanDays = 90
	}
	return time.Now().UTC().AddDate(0, 0, -olderThanDays)
}

func scanRecords(rows *sql.Rows) ([]*ReconciliationRecord, error) {
	var records []*ReconciliationRecord
	for rows.Next() {
		rec := &ReconciliationRecord{}
		if err := rows.Scan(&rec.ID, &rec.SourceID, &rec.LedgerID, &rec.MatchedAt, &rec.Score); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetProfile retrieves a merchant profile, or nil when unknown.
func (s *Storage) GetProfile(merchantKey string) (*MerchantProfile, error) {
	profile := &MerchantProfile{MerchantKey: merchantKey}
	var countsJSON string

	err := s.db.QueryRow(`
		SELECT category_counts, total_observations, merchant_type
		FROM merchant_profiles WHERE merchant_key = ?
	`, merchantKey).Scan(&countsJSON, &profile.TotalObservations, &profile.MerchantType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	profile.CategoryCounts = make(map[string]int)
	if countsJSON != "" {
		if err := json.Unmarshal([]byte(countsJSON), &profile.CategoryCounts); err != nil {
			return nil, fmt.Errorf("corrupt category counts for %s: %w", merchantKey, err)
		}
	}

	return profile, nil
}

// ListProfileKeys returns all known merchant keys, sorted.
func (s *Storage) ListProfileKeys() ([]string, error) {
	rows, err := s.db.Query(`SELECT merchant_key FROM merchant_profiles ORDER BY merchant_key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ObserveCategory increments the category count for a merchant,
// creating the profile on first observation.
func (s *Storage) ObserveCategory(merchantKey, categoryID, merchantType string) error {
	if merchantKey == "" || categoryID == "" {
		return errors.New("merchant key and category id are required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	counts := make(map[string]int)
	total := 0
	existingType := ""

	var countsJSON string
	err = tx.QueryRow(`
		SELECT category_counts, total_observations, merchant_type
		FROM merchant_profiles WHERE merchant_key = ?
	`, merchantKey).Scan(&countsJSON, &total, &existingType)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if countsJSON != "" {
		if err := json.Unmarshal([]byte(countsJSON), &counts); err != nil {
			return fmt.Errorf("corrupt category counts for %s: %w", merchantKey, err)
		}
	}

	counts[categoryID]++
	total++
	if merchantType == "" {
		merchantType = existingType
	}

	updated, err := json.Marshal(counts)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO merchant_profiles (merchant_key, category_counts, total_observations, merchant_type, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(merchant_key) DO UPDATE SET
			category_counts = excluded.category_counts,
			total_observations = excluded.total_observations,
			merchant_type = excluded.merchant_type,
			updated_at = CURRENT_TIMESTAMP
	`, merchantKey, string(updated), total, merchantType)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// ResetProfile clears a merchant's learned counts.
func (s *Storage) ResetProfile(merchantKey string) error {
	_, err := s.db.Exec(`
		UPDATE merchant_profiles
		SET category_counts = '{}', total_observations = 0, updated_at = CURRENT_TIMESTAMP
		WHERE merchant_key = ?
	`, merchantKey)
	return err
}

// StartRun records the start of a reconciliation run.
func (s *Storage) StartRun(runUID string, dryRun, force bool) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO recon_runs (run_uid, dry_run, force, status)
		VALUES (?, ?, ?, 'running')
	`, runUID, dryRun, force)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// CompleteRun records the completion of a reconciliation run.
func (s *Storage) CompleteRun(runID int64, counts RunCounts, status string) error {
	_, err := s.db.Exec(`
		UPDATE recon_runs
		SET completed_at = CURRENT_TIMESTAMP,
		    entries_seen = ?, sources_seen = ?, matched = ?, suggested = ?,
		    split_proposed = ?, skipped_low_confidence = ?, errored = ?,
		    status = ?
		WHERE id = ?
	`, counts.EntriesSeen, counts.SourcesSeen, counts.Matched, counts.Suggested,
		counts.SplitProposed, counts.SkippedLowConfidence, counts.Errored, status, runID)
	return err
}

// ListRuns returns recent runs, newest first.
func (s *Storage) ListRuns(limit int) ([]*ReconRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(runSelect+`ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []*ReconRun
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun retrieves a run by id.
func (s *Storage) GetRun(runID int64) (*ReconRun, error) {
	row := s.db.QueryRow(runSelect+`WHERE id = ?`, runID)
	run, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

const runSelect = `
	SELECT id, run_uid, started_at, completed_at, dry_run, force, status,
	       entries_seen, sources_seen, matched, suggested, split_proposed,
	       skipped_low_confidence, errored
	FROM recon_runs
`

func scanRun(scan func(...any) error) (*ReconRun, error) {
	run := &ReconRun{}
	var completedAt sql.NullTime
	err := scan(
		&run.ID, &run.RunUID, &run.StartedAt, &completedAt, &run.DryRun,
		&run.Force, &run.Status, &run.EntriesSeen, &run.SourcesSeen,
		&run.Matched, &run.Suggested, &run.SplitProposed,
		&run.SkippedLowConfidence, &run.Errored,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = completedAt.Time
	}
	return run, nil
}

// Stats returns aggregate statistics over the last 30 days of runs.
func (s *Storage) Stats() (*Stats, error) {
	stats := &Stats{}

	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COUNT(CASE WHEN status IN ('completed', 'completed_with_errors') THEN 1 END),
			COUNT(CASE WHEN status = 'failed' THEN 1 END),
			COUNT(CASE WHEN dry_run = 1 THEN 1 END),
			COALESCE(SUM(matched), 0),
			COALESCE(SUM(suggested), 0),
			COALESCE(SUM(split_proposed), 0),
			COALESCE(SUM(errored), 0),
			COALESCE(AVG(matched), 0)
		FROM recon_runs
		WHERE started_at > datetime('now', '-30 days')
	`).Scan(
		&stats.TotalRuns, &stats.CompletedRuns, &stats.FailedRuns,
		&stats.DryRuns, &stats.TotalMatched, &stats.TotalSuggested,
		&stats.TotalSplits, &stats.TotalErrored, &stats.AvgMatchedPerRun,
	)
	if err != nil {
		return nil, err
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM reconciliation_records`).Scan(&stats.MatchedRecords); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM merchant_profiles`).Scan(&stats.MerchantsKnown); err != nil {
		return nil, err
	}

	return stats, nil
}
