package store

import (
	"database/sql"
	"fmt"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of all migrations. New migrations should be
// appended to the end with incrementing version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			rating INTEGER NOT NULL DEFAULT 1000,
			matches_played INTEGER NOT NULL DEFAULT 0,
			matches_won INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL,
			total_candles INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'WAITING',
			creator_id TEXT NOT NULL REFERENCES users(id),
			opponent_id TEXT REFERENCES users(id),
			starting_balance INTEGER NOT NULL,
			candle_index INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME,
			ended_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			match_id TEXT NOT NULL REFERENCES matches(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			price INTEGER NOT NULL,
			candle_index INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS match_stats (
			match_id TEXT NOT NULL REFERENCES matches(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			final_equity INTEGER NOT NULL,
			peak_equity INTEGER NOT NULL,
			max_drawdown_pct REAL NOT NULL,
			trade_count INTEGER NOT NULL DEFAULT 0,
			composite_score REAL NOT NULL,
			rating_delta INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (match_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_matches_status ON matches(status);
		CREATE INDEX IF NOT EXISTS idx_trades_match ON trades(match_id);
		CREATE INDEX IF NOT EXISTS idx_trades_match_user ON trades(match_id, user_id);
		`,
	},
}

// initMigrationsTable creates the migrations tracking table.
func (s *Store) initMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// getCurrentVersion returns the highest applied migration version.
func (s *Store) getCurrentVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Migrate runs all pending migrations.
func (s *Store) Migrate() error {
	if err := s.initMigrationsTable(); err != nil {
		return fmt.Errorf("init migrations table: %w", err)
	}

	currentVersion, err := s.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}

	return nil
}

// applyMigration runs a single migration in a transaction.
func (s *Store) applyMigration(m Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// MigrationStatus returns applied and pending migration versions.
func (s *Store) MigrationStatus() (applied []int, pending []int, err error) {
	if err := s.initMigrationsTable(); err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	appliedSet := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, nil, err
		}
		applied = append(applied, v)
		appliedSet[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	for _, m := range migrations {
		if !appliedSet[m.Version] {
			pending = append(pending, m.Version)
		}
	}

	return applied, pending, nil
}

// GetDB returns the underlying database connection for advanced operations.
func (s *Store) GetDB() *sql.DB {
	return s.db
}
