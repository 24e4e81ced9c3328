// Package store persists rule usage counters in SQLite. Rule definitions
// stay in their human-editable file; counters churn on every run and are
// merged here from the usage deltas each batch returns.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/brackendale/ledgerpilot/internal/model"
)

// Store implements usage-counter persistence on SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (or creates) the usage database and migrates it.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("dbPath is required")
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ApplyDeltas merges usage deltas into the persisted counters inside one
// database transaction.
func (s *Store) ApplyDeltas(ctx context.Context, deltas []model.UsageDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rule_usage (rule_id, matched, applied, overridden, last_used)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET
			matched = matched + excluded.matched,
			applied = applied + excluded.applied,
			overridden = overridden + excluded.overridden,
			last_used = MAX(last_used, excluded.last_used)`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, d := range deltas {
		if _, err := stmt.ExecContext(ctx, d.RuleID, d.Matched, d.Applied, d.Overridden, d.LastUsed.UTC()); err != nil {
			return fmt.Errorf("failed to apply delta for rule %s: %w", d.RuleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deltas: %w", err)
	}
	return nil
}

// Usage returns the persisted counters keyed by rule id.
func (s *Store) Usage(ctx context.Context) (map[string]model.RuleUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rule_id, matched, applied, overridden, last_used FROM rule_usage`)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	usage := make(map[string]model.RuleUsage)
	for rows.Next() {
		var ruleID string
		var u model.RuleUsage
		var lastUsed time.Time
		if err := rows.Scan(&ruleID, &u.Matched, &u.Applied, &u.Overridden, &lastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		u.LastUsed = lastUsed
		usage[ruleID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage rows: %w", err)
	}
	return usage, nil
}
