package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	Up          func(*sql.Tx) error
	Down        func(*sql.Tx) error
}

// migrations is the ordered list of all database migrations
var migrations = []Migration{
	{
		Version:     1,
		Description: "Create schema_version table",
		Up:          migration001Up,
		Down:        migration001Down,
	},
	{
		Version:     2,
		Description: "Create runs table",
		Up:          migration002Up,
		Down:        migration002Down,
	},
	{
		Version:     3,
		Description: "Create rounds table",
		Up:          migration003Up,
		Down:        migration003Down,
	},
	{
		Version:     4,
		Description: "Create failures table",
		Up:          migration004Up,
		Down:        migration004Down,
	},
	{
		Version:     5,
		Description: "Create anomalies table",
		Up:          migration005Up,
		Down:        migration005Down,
	},
}

// LatestVersion is the schema version after every migration has run
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

// RunMigrations runs all pending database migrations
func (db *DB) RunMigrations() error {
	// Get current version
	currentVersion, err := db.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	db.logger.Debug(fmt.Sprintf("Current database version: %d", currentVersion))

	// Run pending migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		db.logger.Info(fmt.Sprintf("Running migration %d: %s", migration.Version, migration.Description))

		err := db.ExecTx(func(tx *sql.Tx) error {
			// Run migration
			if err := migration.Up(tx); err != nil {
				return fmt.Errorf("migration %d failed: %w", migration.Version, err)
			}

			// Record migration
			_, err := tx.Exec(`
				INSERT INTO schema_version (version, description, applied_at)
				VALUES (?, ?, ?)
			`, migration.Version, migration.Description, time.Now())

			return err
		})

		if err != nil {
			return err
		}
	}

	return nil
}

// RollbackTo reverts migrations above version, newest first
func (db *DB) RollbackTo(version int) error {
	for i := len(migrations) - 1; i >= 0; i-- {
		migration := migrations[i]
		if migration.Version <= version {
			break
		}
		current, err := db.getCurrentVersion()
		if err != nil {
			return err
		}
		if migration.Version > current {
			continue
		}

		err = db.ExecTx(func(tx *sql.Tx) error {
			if migration.Version > 1 {
				if _, err := tx.Exec(`DELETE FROM schema_version WHERE version = ?`, migration.Version); err != nil {
					return err
				}
			}
			if err := migration.Down(tx); err != nil {
				return fmt.Errorf("rollback of migration %d failed: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// getCurrentVersion returns the current schema version
func (db *DB) getCurrentVersion() (int, error) {
	// Check if schema_version table exists
	var tableExists bool
	err := db.conn.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)

	if err != nil {
		return 0, err
	}

	if !tableExists {
		return 0, nil
	}

	// Get latest version
	var version int
	err = db.conn.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_version
	`).Scan(&version)

	if err != nil {
		return 0, err
	}

	return version, nil
}

// Migration 001: Schema version tracking table
func migration001Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL UNIQUE,
			description TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	return err
}

func migration001Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS schema_version`)
	return err
}

// Migration 002: one row per task run
func migration002Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE runs (
			id TEXT PRIMARY KEY,
			task_name TEXT NOT NULL,
			task_path TEXT,
			status TEXT NOT NULL DEFAULT 'running',

			total_rounds INTEGER NOT NULL DEFAULT 0,
			rounds_completed INTEGER NOT NULL DEFAULT 0,
			total_success INTEGER NOT NULL DEFAULT 0,
			total_failure INTEGER NOT NULL DEFAULT 0,
			total_skipped INTEGER NOT NULL DEFAULT 0,

			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			duration_ms INTEGER,
			error_message TEXT,

			CHECK (status IN ('running', 'finished', 'stopped', 'error'))
		)
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`CREATE INDEX idx_runs_started_at ON runs(started_at)`)
	return err
}

func migration002Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS runs`)
	return err
}

// Migration 003: per-round outcome counts
func migration003Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE rounds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			round_number INTEGER NOT NULL,
			success INTEGER NOT NULL DEFAULT 0,
			failure INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			completed_at DATETIME NOT NULL,

			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE,
			UNIQUE (run_id, round_number)
		)
	`)
	return err
}

func migration003Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS rounds`)
	return err
}

// Migration 004: archived failure screenshots with thumbnails
func migration004Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE failures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			screenshot_path TEXT,
			thumbnail BLOB,
			occurred_at DATETIME NOT NULL,

			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`CREATE INDEX idx_failures_run ON failures(run_id)`)
	return err
}

func migration004Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS failures`)
	return err
}

// Migration 005: watchdog alarms, failure rate alerts and run errors
func migration005Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE anomalies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			kind TEXT NOT NULL,
			message TEXT NOT NULL,
			occurred_at DATETIME NOT NULL,

			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE SET NULL,
			CHECK (kind IN ('freeze', 'inactivity', 'exception', 'failure_rate', 'error'))
		)
	`)
	return err
}

func migration005Down(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS anomalies`)
	return err
}
