package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"quantbt/internal/domain"
	"quantbt/internal/signals"
	"quantbt/internal/store"
)

// Compile-time interface checks.
var (
	_ Stage = Skeleton{}
	_ Stage = DailySignals{}
)

// Skeleton validates the run plumbing without touching market data. A
// missing input file is only a warning.
type Skeleton struct{}

// Name returns "skeleton".
func (Skeleton) Name() string { return "skeleton" }

// Run logs the seed and checks that data.input_path exists.
func (Skeleton) Run(_ context.Context, env *Env) (*Result, error) {
	log := env.Logger.With("stage", "skeleton")
	log.Info("initializing backtest engine")
	log.Info("random seed set", "seed", env.Config.Seed())

	path := env.Config.Data.InputPath
	switch _, err := os.Stat(path); {
	case path == "":
		log.Warn("data.input_path not set")
	case err != nil:
		log.Warn("data file not found", "path", path)
		log.Info("continuing with stub execution")
	default:
		log.Info("data file located", "path", path)
	}

	log.Info("execution skeleton validated")
	return &Result{Stage: "skeleton", Status: "skeleton_validated"}, nil
}

// Stage output names, relative to the run directory.
const (
	StageDir         = "stage1"
	DailyCandlesFile = "daily_candles.csv"
	DailySignalsFile = "daily_signals.csv"
	DailyBarsDataset = "daily_bars"
)

// DailySignals aggregates hourly candles to daily ones, computes indicators,
// evaluates the daily signal and writes the results under stage1/.
type DailySignals struct{}

// Name returns "daily-signals".
func (DailySignals) Name() string { return "daily-signals" }

// Run executes the daily signal stage.
func (DailySignals) Run(ctx context.Context, env *Env) (*Result, error) {
	cfg := env.Config
	log := env.Logger.With("stage", "daily-signals")

	if cfg.Data.HourlyInputPath == "" {
		return nil, errors.New("data.hourly_input_path is required for daily-signals")
	}
	dir, err := env.RunDir.Stage(StageDir)
	if err != nil {
		return nil, err
	}

	log.Info("loading hourly data", "path", cfg.Data.HourlyInputPath)
	hourly, err := store.ReadHourlyBars(ctx, cfg.Data.HourlyInputPath)
	if err != nil {
		return nil, fmt.Errorf("loading hourly data: %w", err)
	}
	log.Info("loaded hourly candles", "count", len(hourly))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	engine := signals.NewEngine(signals.Params{
		MAPeriod:     cfg.Signals.MAPeriod,
		MAType:       cfg.Signals.MAType,
		RSIPeriod:    cfg.Signals.RSIPeriod,
		RSIThreshold: cfg.Signals.RSIThreshold,
	})
	log.Debug("signal engine initialized",
		"ma_type", cfg.Signals.MAType,
		"ma_period", cfg.Signals.MAPeriod,
		"rsi_period", cfg.Signals.RSIPeriod,
		"rsi_threshold", cfg.Signals.RSIThreshold,
	)

	rows := engine.Generate(hourly)
	daily := make([]domain.Bar, len(rows))
	for i := range rows {
		daily[i] = rows[i].Bar
	}
	log.Info("aggregated daily candles", "count", len(daily))
	count := signals.CountSignals(rows)
	log.Info("generated daily signals", "count", count)

	candlesPath := filepath.Join(dir, DailyCandlesFile)
	log.Info("saving daily candles", "path", candlesPath)
	if err := store.WriteBarsCSV(candlesPath, daily); err != nil {
		return nil, fmt.Errorf("writing daily candles: %w", err)
	}

	signalsPath := filepath.Join(dir, DailySignalsFile)
	log.Info("saving daily signals", "path", signalsPath)
	if err := store.WriteSignalsCSV(signalsPath, rows); err != nil {
		return nil, fmt.Errorf("writing daily signals: %w", err)
	}

	if err := store.NewParquetStore(dir).WriteBars(ctx, DailyBarsDataset, daily); err != nil {
		return nil, err
	}

	return &Result{
		Stage:         "daily-signals",
		Status:        "success",
		HourlyCandles: len(hourly),
		DailyCandles:  len(daily),
		Signals:       count,
		Outputs: []string{
			filepath.Join(StageDir, DailyCandlesFile),
			filepath.Join(StageDir, DailySignalsFile),
			filepath.Join(StageDir, DailyBarsDataset+".parquet"),
		},
	}, nil
}
