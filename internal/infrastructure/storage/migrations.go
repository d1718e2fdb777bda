package storage

import (
	"database/sql"
	"fmt"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order
var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration001InitialSchema,
	},
	{
		Version: 2,
		Name:    "add_recon_runs_table",
		Up:      migration002AddReconRunsTable,
	},
	{
		Version: 3,
		Name:    "add_merchant_type_column",
		Up:      migration003AddMerchantTypeColumn,
	},
}

// runMigrations executes all pending migrations
func (s *Storage) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue
		}

		s.logger.Info("running migration", "version", migration.Version, "name", migration.Name)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		_, err = tx.Exec(`
			INSERT INTO schema_migrations (version, name) VALUES (?, ?)
		`, migration.Version, migration.Name)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the schema_migrations table
func (s *Storage) ensureMigrationsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	_, err := s.db.Exec(query)
	return err
}

// getAppliedMigrations returns a set of applied migration versions
func (s *Storage) getAppliedMigrations() (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// migration001InitialSchema creates the reconciliation record and
// merchant profile tables. The two UNIQUE constraints are the 1:1
// invariant: no source id and no ledger id may appear twice.
func migration001InitialSchema(tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS reconciliation_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id TEXT NOT NULL UNIQUE,
			ledger_id TEXT NOT NULL UNIQUE,
			matched_at TIMESTAMP NOT NULL,
			score INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recon_matched_at ON reconciliation_records(matched_at)`,
		`CREATE TABLE IF NOT EXISTS merchant_profiles (
			merchant_key TEXT PRIMARY KEY,
			category_counts TEXT NOT NULL DEFAULT '{}',
			total_observations INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// migration002AddReconRunsTable adds run history tracking.
func migration002AddReconRunsTable(tx *sql.Tx) error {
	query := `
	CREATE TABLE IF NOT EXISTS recon_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_uid TEXT NOT NULL,
		started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		dry_run BOOLEAN NOT NULL DEFAULT 0,
		force BOOLEAN NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running',
		entries_seen INTEGER NOT NULL DEFAULT 0,
		sources_seen INTEGER NOT NULL DEFAULT 0,
		matched INTEGER NOT NULL DEFAULT 0,
		suggested INTEGER NOT NULL DEFAULT 0,
		split_proposed INTEGER NOT NULL DEFAULT 0,
		skipped_low_confidence INTEGER NOT NULL DEFAULT 0,
		errored INTEGER NOT NULL DEFAULT 0
	)`

	_, err := tx.Exec(query)
	return err
}

// migration003AddMerchantTypeColumn records the classified merchant
// type alongside learned counts.
func migration003AddMerchantTypeColumn(tx *sql.Tx) error {
	_, err := tx.Exec(`ALTER TABLE merchant_profiles ADD COLUMN merchant_type TEXT NOT NULL DEFAULT ''`)
	return err
}
