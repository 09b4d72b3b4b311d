package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"quantbt/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using one Parquet file per dataset name.
type ParquetStore struct {
	Dir string
}

// NewParquetStore creates a new ParquetStore rooted at the given directory.
func NewParquetStore(dir string) *ParquetStore {
	return &ParquetStore{Dir: dir}
}

// BarRecord is the Parquet schema for bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// WriteBars writes bars to <Dir>/<name>.parquet, merging with the records
// already in the file. Incoming bars win on (symbol, timestamp) conflicts.
func (s *ParquetStore) WriteBars(_ context.Context, name string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	records := make([]BarRecord, 0, len(bars))
	for _, b := range bars {
		records = append(records, BarRecord{
			Symbol:    b.Symbol,
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	path := s.path(name)
	existing, err := readBarRecords(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading existing bars %s: %w", name, err)
	}
	merged := mergeBarRecords(existing, records)

	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing bars %s: %w", name, err)
	}
	return nil
}

// ReadBars reads every bar in <Dir>/<name>.parquet.
func (s *ParquetStore) ReadBars(_ context.Context, name string) ([]domain.Bar, error) {
	records, err := readBarRecords(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("reading bars %s: %w", name, err)
	}

	bars := make([]domain.Bar, 0, len(records))
	for _, r := range records {
		bars = append(bars, domain.Bar{
			Symbol:    r.Symbol,
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

// path returns <Dir>/<name>.parquet.
func (s *ParquetStore) path(name string) string {
	return filepath.Join(s.Dir, name+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// requiredBarColumns must be present for a file to decode into BarRecord.
// Missing columns would otherwise read back as zeros.
var requiredBarColumns = []string{"timestamp", "open", "high", "low", "close"}

func readBarRecords(path string) ([]BarRecord, error) {
	if err := checkParquetColumns(path, requiredBarColumns); err != nil {
		return nil, err
	}
	return readParquetFile[BarRecord](path)
}

// checkParquetColumns returns ErrSchemaMismatch when the file at path lacks
// any of the named top-level columns.
func checkParquetColumns(path string, columns []string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return fmt.Errorf("opening parquet %s: %w", path, err)
	}

	schema := pf.Schema()
	var missing []string
	for _, col := range columns {
		if _, ok := schema.Lookup(col); !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s is missing columns %s", ErrSchemaMismatch, path, strings.Join(missing, ", "))
	}
	return nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].Symbol < merged[j].Symbol
	})
	return merged
}
