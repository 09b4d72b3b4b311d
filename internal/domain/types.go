// Package domain holds the market-data types shared across the pipeline.
package domain

import "time"

// Bar is a single OHLCV candle. Hourly input and daily aggregates share the
// same shape; Timestamp is the open time of the candle in UTC.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// MAType selects the moving-average flavour used by the daily signal.
type MAType string

const (
	MATypeSMA MAType = "SMA"
	MATypeEMA MAType = "EMA"
)

// Reason flags explain why a day did not produce a signal.
const (
	ReasonBelowMA       = "Below_MA;"
	ReasonOverboughtRSI = "Overbought_RSI;"
)

// DailySignal is one aggregated day with its indicators and the evaluated
// entry permission. Indicator fields are NaN until enough history exists.
type DailySignal struct {
	Bar
	MAValue     float64
	RSI         float64
	Peak        float64
	DrawdownPct float64
	Signal      bool
	ReasonFlags string
}

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Run is the ledger entry for one invocation of the runner.
type Run struct {
	ID         string // run directory base name, e.g. run_20240103_120000
	Dir        string // absolute run directory; unique ledger key
	StartedAt  time.Time
	FinishedAt time.Time
	ConfigPath string
	Seed       int64
	Stage      string
	Status     RunStatus
	Error      string

	HourlyCandles int
	DailyCandles  int
	Signals       int
}
