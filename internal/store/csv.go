package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"quantbt/internal/domain"
)

// Hourly CSV column names.
const (
	colOpenTime = "Open_Time"    // Unix milliseconds
	colDatetime = "Datetime_Obj" // textual timestamp, preferred when present
	colSymbol   = "Symbol"
	colOpen     = "Open"
	colHigh     = "High"
	colLow      = "Low"
	colClose    = "Close"
	colVolume   = "Volume"
)

// datetimeLayouts are tried in order when parsing Datetime_Obj. Values
// without a zone are taken as UTC.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ReadBarsCSV opens path and parses it with ParseBarsCSV.
func ReadBarsCSV(path string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bars, err := ParseBarsCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// ParseBarsCSV reads OHLCV candles from CSV. The header must contain Open,
// High, Low and Close plus either Datetime_Obj or Open_Time; Volume and
// Symbol are optional.
func ParseBarsCSV(r io.Reader) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty CSV: missing header")
		}
		return nil, err
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, col := range []string{colOpen, colHigh, colLow, colClose} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}
	_, hasDatetime := idx[colDatetime]
	_, hasOpenTime := idx[colOpenTime]
	if !hasDatetime && !hasOpenTime {
		return nil, fmt.Errorf("missing time column: need %q or %q", colDatetime, colOpenTime)
	}

	get := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var bars []domain.Bar
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, err
		}

		ts, err := parseTimestamp(get(rec, colDatetime), get(rec, colOpenTime))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bar := domain.Bar{Symbol: get(rec, colSymbol), Timestamp: ts}
		fields := []struct {
			col      string
			dst      *float64
			optional bool
		}{
			{colOpen, &bar.Open, false},
			{colHigh, &bar.High, false},
			{colLow, &bar.Low, false},
			{colClose, &bar.Close, false},
			{colVolume, &bar.Volume, true},
		}
		for _, f := range fields {
			v := get(rec, f.col)
			if v == "" && f.optional {
				continue
			}
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: column %s: %w", line, f.col, err)
			}
			*f.dst = x
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseTimestamp prefers the textual datetime and falls back to Unix ms.
func parseTimestamp(datetime, openTime string) (time.Time, error) {
	if datetime != "" {
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, datetime); err == nil {
				return t.UTC(), nil
			}
		}
		if openTime == "" {
			return time.Time{}, fmt.Errorf("unrecognised datetime %q", datetime)
		}
	}
	if openTime == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	ms, err := strconv.ParseInt(openTime, 10, 64)
	if err != nil {
		// Some exports write Open_Time as a float.
		f, ferr := strconv.ParseFloat(openTime, 64)
		if ferr != nil {
			return time.Time{}, fmt.Errorf("bad %s %q: %w", colOpenTime, openTime, err)
		}
		ms = int64(f)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// WriteBarsCSV writes daily candles with a date column.
func WriteBarsCSV(path string, bars []domain.Bar) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"date", colOpen, colHigh, colLow, colClose, colVolume}); err != nil {
		return err
	}
	for _, b := range bars {
		row := []string{
			b.Timestamp.Format("2006-01-02"),
			fmtFloat(b.Open),
			fmtFloat(b.High),
			fmtFloat(b.Low),
			fmtFloat(b.Close),
			fmtFloat(b.Volume),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// WriteSignalsCSV writes daily candles with their indicators, signal and
// reason flags. Undefined indicators are written as empty cells.
func WriteSignalsCSV(path string, rows []domain.DailySignal) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"date",
		colOpen,
		colHigh,
		colLow,
		colClose,
		colVolume,
		"ma_value",
		"rsi",
		"peak",
		"drawdown_pct",
		"daily_signal",
		"reason_flags",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		row := []string{
			r.Timestamp.Format("2006-01-02"),
			fmtFloat(r.Open),
			fmtFloat(r.High),
			fmtFloat(r.Low),
			fmtFloat(r.Close),
			fmtFloat(r.Volume),
			fmtFloat(r.MAValue),
			fmtFloat(r.RSI),
			fmtFloat(r.Peak),
			fmtFloat(r.DrawdownPct),
			strconv.FormatBool(r.Signal),
			r.ReasonFlags,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func fmtFloat(x float64) string {
	if math.IsNaN(x) {
		return ""
	}
	return strconv.FormatFloat(x, 'f', -1, 64)
}
