// Package signals turns hourly candles into daily candles, computes causal
// indicators on them and evaluates the daily entry permission.
package signals

import (
	"math"
	"sort"
	"time"

	"quantbt/internal/domain"
)

// HoursPerDay is the number of hourly bars a UTC day needs to be kept.
const HoursPerDay = 24

// Params configures the indicators and the signal threshold.
type Params struct {
	MAPeriod     int
	MAType       domain.MAType
	RSIPeriod    int
	RSIThreshold float64
}

// Engine produces daily signals with a fixed set of Params.
type Engine struct {
	params Params
}

// NewEngine creates an Engine. Params are expected to be validated.
func NewEngine(p Params) *Engine {
	return &Engine{params: p}
}

// Generate runs aggregation, indicators and signal logic in sequence.
func (e *Engine) Generate(hourly []domain.Bar) []domain.DailySignal {
	rows := e.ComputeIndicators(AggregateDaily(hourly))
	ApplySignalLogic(rows, e.params.RSIThreshold)
	return rows
}

// AggregateDaily groups hourly bars by UTC calendar date. Open is the first
// bar's open, High the max, Low the min, Close the last bar's close and
// Volume the sum. Days without exactly HoursPerDay bars are dropped. The
// result is ordered by date.
func AggregateDaily(hourly []domain.Bar) []domain.Bar {
	if len(hourly) == 0 {
		return nil
	}

	sorted := make([]domain.Bar, len(hourly))
	copy(sorted, hourly)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var (
		daily []domain.Bar
		cur   domain.Bar
		count int
	)
	flush := func() {
		if count == HoursPerDay {
			daily = append(daily, cur)
		}
	}
	for _, b := range sorted {
		ts := b.Timestamp.UTC()
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		if count == 0 || !day.Equal(cur.Timestamp) {
			if count > 0 {
				flush()
			}
			cur = domain.Bar{
				Symbol:    b.Symbol,
				Timestamp: day,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
			}
			count = 0
		}
		cur.High = math.Max(cur.High, b.High)
		cur.Low = math.Min(cur.Low, b.Low)
		cur.Close = b.Close
		cur.Volume += b.Volume
		count++
	}
	flush()
	return daily
}

// ComputeIndicators attaches the moving average, RSI, running peak and
// drawdown to each daily bar. Every value depends only on the current and
// earlier bars.
func (e *Engine) ComputeIndicators(daily []domain.Bar) []domain.DailySignal {
	closes := make([]float64, len(daily))
	for i, b := range daily {
		closes[i] = b.Close
	}

	var ma []float64
	if e.params.MAType == domain.MATypeEMA {
		ma = EMA(closes, e.params.MAPeriod)
	} else {
		ma = SMA(closes, e.params.MAPeriod)
	}
	rsi := RSI(closes, e.params.RSIPeriod)

	rows := make([]domain.DailySignal, len(daily))
	peak := math.Inf(-1)
	for i, b := range daily {
		peak = math.Max(peak, b.Close)
		rows[i] = domain.DailySignal{
			Bar:         b,
			MAValue:     ma[i],
			RSI:         rsi[i],
			Peak:        peak,
			DrawdownPct: (b.Close - peak) / peak,
		}
	}
	return rows
}

// ApplySignalLogic sets Signal when close is above the moving average and
// RSI is below threshold. Undefined indicators fail their condition. Drawdown
// is context only and never gates the signal.
func ApplySignalLogic(rows []domain.DailySignal, rsiThreshold float64) {
	for i := range rows {
		r := &rows[i]
		aboveMA := !math.IsNaN(r.MAValue) && r.Close > r.MAValue
		notOverbought := !math.IsNaN(r.RSI) && r.RSI < rsiThreshold

		r.Signal = aboveMA && notOverbought
		r.ReasonFlags = ""
		if !aboveMA {
			r.ReasonFlags += domain.ReasonBelowMA
		}
		if !notOverbought {
			r.ReasonFlags += domain.ReasonOverboughtRSI
		}
	}
}

// CountSignals returns how many rows carry a signal.
func CountSignals(rows []domain.DailySignal) int {
	n := 0
	for _, r := range rows {
		if r.Signal {
			n++
		}
	}
	return n
}
