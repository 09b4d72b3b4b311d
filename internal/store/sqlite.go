package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"quantbt/internal/domain"
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	dir          TEXT PRIMARY KEY,
	id           TEXT NOT NULL,
	started_at   INTEGER NOT NULL,
	finished_at  INTEGER NOT NULL DEFAULT 0,
	config_path  TEXT NOT NULL,
	seed         INTEGER NOT NULL,
	stage        TEXT NOT NULL,
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	hourly       INTEGER NOT NULL DEFAULT 0,
	daily        INTEGER NOT NULL DEFAULT 0,
	signals      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
`

// IsBusy reports whether err is SQLite refusing a write because another
// connection holds the lock.
func IsBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// runs table if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating run ledger: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StartRun inserts a new run. The status is forced to running.
func (s *SQLiteStore) StartRun(ctx context.Context, run *domain.Run) error {
	run.Status = domain.RunStatusRunning
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (dir, id, started_at, config_path, seed, stage, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.Dir, run.ID, run.StartedAt.UnixMilli(), run.ConfigPath, run.Seed, run.Stage, string(run.Status),
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.Dir, err)
	}
	return nil
}

// FinishRun updates the outcome columns of an existing run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *domain.Run) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ?, hourly = ?, daily = ?, signals = ? WHERE dir = ?`,
		run.FinishedAt.UnixMilli(), string(run.Status), run.Error,
		run.HourlyCandles, run.DailyCandles, run.Signals, run.Dir,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", run.Dir, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing run %s: %w", run.Dir, ErrNotFound)
	}
	return nil
}

const selectRun = `SELECT dir, id, started_at, finished_at, config_path, seed, stage, status, error, hourly, daily, signals FROM runs`

// GetRun retrieves a single run by its directory.
func (s *SQLiteStore) GetRun(ctx context.Context, dir string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, selectRun+` WHERE dir = ?`, dir)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", dir, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first, up to limit. A
// non-positive limit returns every run.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectRun+` ORDER BY started_at DESC, dir DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*domain.Run, error) {
	var (
		run               domain.Run
		started, finished int64
		status            string
	)
	err := sc.Scan(
		&run.Dir, &run.ID, &started, &finished, &run.ConfigPath, &run.Seed, &run.Stage,
		&status, &run.Error, &run.HourlyCandles, &run.DailyCandles, &run.Signals,
	)
	if err != nil {
		return nil, err
	}
	run.StartedAt = time.UnixMilli(started).UTC()
	if finished != 0 {
		run.FinishedAt = time.UnixMilli(finished).UTC()
	}
	run.Status = domain.RunStatus(status)
	return &run, nil
}
