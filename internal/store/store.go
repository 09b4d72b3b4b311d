// Package store defines storage interfaces for market data and the run
// ledger, with CSV, Parquet and SQLite implementations.
package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"quantbt/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrSchemaMismatch is returned when a Parquet file lacks the bar columns.
var ErrSchemaMismatch = errors.New("parquet schema mismatch")

// BarStore persists and retrieves OHLCV bar data by dataset name.
type BarStore interface {
	// WriteBars persists bars under name, merging with any bars already
	// stored there.
	WriteBars(ctx context.Context, name string, bars []domain.Bar) error

	// ReadBars returns all bars stored under name, ordered by timestamp.
	ReadBars(ctx context.Context, name string) ([]domain.Bar, error)
}

// RunStore persists the ledger of runner invocations.
type RunStore interface {
	// StartRun records a new run in the running state. Runs are keyed by
	// Dir.
	StartRun(ctx context.Context, run *domain.Run) error

	// FinishRun records the final status, error and counts of a run.
	FinishRun(ctx context.Context, run *domain.Run) error

	// GetRun retrieves a run by its directory, or ErrNotFound.
	GetRun(ctx context.Context, dir string) (*domain.Run, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
}

// ReadHourlyBars loads hourly candles from path. Files ending in .parquet are
// read with ParquetStore; anything else is parsed as CSV.
func ReadHourlyBars(ctx context.Context, path string) ([]domain.Bar, error) {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		ps := NewParquetStore(filepath.Dir(path))
		return ps.ReadBars(ctx, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	}
	return ReadBarsCSV(path)
}
