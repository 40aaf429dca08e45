// Package store defines storage interfaces for daily bars and run history,
// with Parquet and SQLite implementations.
package store

import (
	"context"
	"errors"
	"time"

	"niftyscan/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves daily OHLCV bars.
type BarStore interface {
	// WriteBars merges a batch of bars into storage for the given market.
	WriteBars(ctx context.Context, market domain.Market, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end],
	// ordered by timestamp.
	ReadBars(ctx context.Context, market domain.Market, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// RunStore persists the outcome of analysis runs.
type RunStore interface {
	// SaveRun records a finished run together with the rows it delivered.
	SaveRun(ctx context.Context, run domain.RunSummary, rows []domain.AnalysisRow) error

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)

	// LastRun returns the most recent run, or ErrNotFound.
	LastRun(ctx context.Context) (domain.RunSummary, error)

	// RunRows returns the rows recorded for a run in stream order.
	RunRows(ctx context.Context, id string) ([]domain.AnalysisRow, error)
}
