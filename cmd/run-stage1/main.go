// Stage 1 runner: loads a YAML config, creates a timestamped run directory,
// starts console+file logging, snapshots the config, seeds the RNG and runs
// the configured pipeline stage.
//
// Usage:
//
//	run-stage1 configs/default.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"quantbt/internal/config"
	"quantbt/internal/domain"
	"quantbt/internal/pipeline"
	"quantbt/internal/rundir"
	"quantbt/internal/seed"
	"quantbt/internal/store"
	"quantbt/internal/util"
)

// errUsage marks a bad command line; usage has already been printed.
var errUsage = errors.New("usage error")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout, os.Args[1:]); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("run-stage1", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: run-stage1 <config.yaml>\n")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}
	configPath := fs.Arg(0)

	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file not found: %s", configPath)
		}
		return err
	}

	registry := pipeline.DefaultRegistry()
	stage, ok := registry.Get(cfg.Execution.Stage)
	if !ok {
		return fmt.Errorf("unknown stage %q (available: %s)", cfg.Execution.Stage, strings.Join(registry.List(), ", "))
	}

	now := time.Now()
	dir, err := rundir.Create(cfg.Output.ResultsDir, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Run directory: %s\n", dir.Path)

	logger, err := util.NewRunLogger(util.RunLogOptions{
		Stage:   "stage1",
		LogsDir: cfg.Output.LogsDir,
		RunDir:  dir.Path,
		Verbose: cfg.Execution.Verbose,
		Level:   cfg.LogLevel,
		Console: out,
		Now:     now,
	})
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.With("run_id", dir.ID)
	util.SetDefault(log)

	log.Info("starting Stage 1 execution", "stage", stage.Name())
	log.Info("config loaded", "path", configPath)

	if cfg.Output.SnapshotEnabled() {
		if err := dir.SnapshotConfig(cfg, configPath, now); err != nil {
			log.Error("config snapshot failed", "error", err)
			return err
		}
		log.Info("configuration snapshot saved")
	}

	rng := seed.New(cfg.Seed())
	log.Info("random generator seeded", "seed", cfg.Seed())

	ledger, rec := openLedger(ctx, log, cfg, dir, configPath, stage.Name(), now)
	if ledger != nil {
		defer ledger.Close()
	}

	res, runErr := stage.Run(ctx, &pipeline.Env{
		Config: cfg,
		Logger: log,
		RunDir: dir,
		Rand:   rng,
	})
	if runErr != nil {
		log.Error("Stage 1 execution failed", "error", runErr)
		res = &pipeline.Result{Stage: stage.Name(), Status: "failed"}
	} else {
		log.Info("Stage 1 execution completed successfully")
		for _, rel := range res.Outputs {
			log.Info("output written", "path", dir.File(rel))
		}
	}

	if ledger != nil {
		finishLedger(log, ledger, rec, res, runErr)
	}

	if cfg.Output.SummaryEnabled() {
		if err := dir.WriteSummary(summaryFor(res, runErr)); err != nil {
			log.Error("writing summary failed", "error", err)
		} else {
			log.Info("summary saved", "path", dir.File(rundir.SummaryFile))
		}
	}

	if runErr != nil {
		fmt.Fprintf(out, "\nStage 1 failed. Check logs in: %s\n", dir.Path)
		return runErr
	}
	fmt.Fprintf(out, "\nStage 1 complete. Results in: %s\n", dir.Path)
	return nil
}

// openLedger records the run start when a run database is configured. A
// ledger failure is logged and the run continues without it.
func openLedger(ctx context.Context, log *slog.Logger, cfg *config.Config, dir *rundir.Dir, configPath, stage string, now time.Time) (*store.SQLiteStore, *domain.Run) {
	if cfg.Storage.RunDB == "" {
		return nil, nil
	}
	ledger, err := store.NewSQLiteStore(cfg.Storage.RunDB)
	if err != nil {
		log.Warn("run ledger unavailable", "path", cfg.Storage.RunDB, "error", err)
		return nil, nil
	}
	runPath, err := filepath.Abs(dir.Path)
	if err != nil {
		runPath = dir.Path
	}
	rec := &domain.Run{
		ID:         dir.ID,
		Dir:        runPath,
		StartedAt:  now,
		ConfigPath: configPath,
		Seed:       cfg.Seed(),
		Stage:      stage,
	}
	// Concurrent runs can share one ledger file.
	err = util.Retry(ctx, util.RetryPolicy{
		Attempts:  5,
		BaseDelay: 50 * time.Millisecond,
		MaxDelay:  time.Second,
		Retryable: store.IsBusy,
	}, func() error {
		return ledger.StartRun(ctx, rec)
	})
	if err != nil {
		log.Warn("recording run start failed", "error", err)
		ledger.Close()
		return nil, nil
	}
	return ledger, rec
}

// finishLedger records the outcome. It uses a fresh context so a cancelled
// run is still recorded as failed.
func finishLedger(log *slog.Logger, ledger *store.SQLiteStore, rec *domain.Run, res *pipeline.Result, runErr error) {
	rec.FinishedAt = time.Now()
	rec.Status = domain.RunStatusSuccess
	if runErr != nil {
		rec.Status = domain.RunStatusFailed
		rec.Error = runErr.Error()
	}
	rec.HourlyCandles = res.HourlyCandles
	rec.DailyCandles = res.DailyCandles
	rec.Signals = res.Signals

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ledger.FinishRun(ctx, rec); err != nil {
		log.Warn("recording run result failed", "error", err)
	}
}

func summaryFor(res *pipeline.Result, runErr error) rundir.Summary {
	s := rundir.Summary{
		Title:   "Stage 1 Execution Summary",
		Success: runErr == nil,
		Lines:   [][2]string{{"Stage", res.Stage}},
	}
	if runErr != nil {
		s.Lines = append(s.Lines, [2]string{"Error", runErr.Error()})
		return s
	}
	if res.Stage == "skeleton" {
		s.Lines = append(s.Lines, [2]string{"Results", res.Status})
		return s
	}
	s.Lines = append(s.Lines,
		[2]string{"Hourly candles processed", strconv.Itoa(res.HourlyCandles)},
		[2]string{"Daily candles created", strconv.Itoa(res.DailyCandles)},
		[2]string{"Daily signals generated", strconv.Itoa(res.Signals)},
	)
	return s
}
