package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"niftyscan/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	start_date  TEXT NOT NULL,
	row_count   INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	warnings    INTEGER NOT NULL,
	buy         INTEGER NOT NULL,
	sell        INTEGER NOT NULL,
	other       INTEGER NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);

CREATE TABLE IF NOT EXISTS run_rows (
	run_id              TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	position            INTEGER NOT NULL,
	ticker              TEXT NOT NULL,
	high_eq_open        REAL NOT NULL,
	high_gt_open        REAL NOT NULL,
	high_gt_open_gt_low REAL NOT NULL,
	high_eq_open_gt_low REAL NOT NULL,
	low_eq_open         REAL NOT NULL,
	low_lt_open         REAL NOT NULL,
	signal              TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers and keeps PRAGMAs in effect.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialising %s: %w", dbPath, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts a run and its rows in one transaction. Saving the same ID
// twice replaces the earlier record.
func (s *SQLiteStore) SaveRun(ctx context.Context, run domain.RunSummary, rows []domain.AnalysisRow) error {
	if run.ID == "" {
		return errors.New("run has no id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_rows WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("clearing rows for run %s: %w", run.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, started_at, finished_at, start_date, row_count, skipped, warnings, buy, sell, other, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(), run.StartDate,
		run.Rows, run.Skipped, run.Warnings,
		run.Counts.Buy, run.Counts.Sell, run.Counts.Other,
		string(run.Status), run.Error)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}

	if len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO run_rows
				(run_id, position, ticker, high_eq_open, high_gt_open, high_gt_open_gt_low,
				 high_eq_open_gt_low, low_eq_open, low_lt_open, signal)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, r := range rows {
			if _, err := stmt.ExecContext(ctx, run.ID, i, r.Ticker,
				r.HighEqOpen, r.HighGtOpen, r.HighGtOpenGtLow,
				r.HighEqOpenGtLow, r.LowEqOpen, r.LowLtOpen, string(r.Signal)); err != nil {
				return fmt.Errorf("saving row %d of run %s: %w", i, run.ID, err)
			}
		}
	}

	return tx.Commit()
}

const runColumns = `id, started_at, finished_at, start_date, row_count, skipped, warnings, buy, sell, other, status, error`

// ListRuns returns the most recent runs, newest first, up to limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LastRun returns the most recent run.
func (s *SQLiteStore) LastRun(ctx context.Context) (domain.RunSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunSummary{}, ErrNotFound
	}
	return r, err
}

// RunRows returns the rows recorded for a run in stream order.
func (s *SQLiteStore) RunRows(ctx context.Context, id string) ([]domain.AnalysisRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, high_eq_open, high_gt_open, high_gt_open_gt_low,
		       high_eq_open_gt_low, low_eq_open, low_lt_open, signal
		FROM run_rows WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AnalysisRow
	for rows.Next() {
		var r domain.AnalysisRow
		var sig string
		if err := rows.Scan(&r.Ticker, &r.HighEqOpen, &r.HighGtOpen, &r.HighGtOpenGtLow,
			&r.HighEqOpenGtLow, &r.LowEqOpen, &r.LowLtOpen, &sig); err != nil {
			return nil, err
		}
		r.Signal = domain.Signal(sig)
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (domain.RunSummary, error) {
	var (
		r                 domain.RunSummary
		started, finished int64
		status            string
	)
	err := sc.Scan(&r.ID, &started, &finished, &r.StartDate, &r.Rows, &r.Skipped, &r.Warnings,
		&r.Counts.Buy, &r.Counts.Sell, &r.Counts.Other, &status, &r.Error)
	if err != nil {
		return domain.RunSummary{}, err
	}
	r.StartedAt = time.UnixMilli(started)
	r.FinishedAt = time.UnixMilli(finished)
	r.Status = domain.RunStatus(status)
	return r, nil
}
