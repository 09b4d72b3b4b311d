package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"quantbt/internal/domain"
)

// writeConfig writes content to a temp YAML file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

// clearEnv unsets every override variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"QUANTBT_RESULTS_DIR", "QUANTBT_LOGS_DIR", "QUANTBT_RUN_DB", "QUANTBT_SEED", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoadFull(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
execution:
  random_seed: 7
  verbose: true
  stage: skeleton
data:
  input_path: data/raw.csv
  hourly_input_path: data/btc_1h.csv
output:
  results_dir: out
  logs_dir: out/logs
  save_config_snapshot: true
  create_summary: true
signals:
  ma_period: 20
  ma_type: ema
  rsi_period: 10
  rsi_threshold: 65
storage:
  run_db: out/runs.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Execution --
	if cfg.Seed() != 7 {
		t.Errorf("Seed() = %d, want 7", cfg.Seed())
	}
	if !cfg.Execution.Verbose {
		t.Error("Execution.Verbose = false, want true")
	}
	if cfg.Execution.Stage != "skeleton" {
		t.Errorf("Execution.Stage = %q, want %q", cfg.Execution.Stage, "skeleton")
	}

	// -- Data --
	if cfg.Data.HourlyInputPath != "data/btc_1h.csv" {
		t.Errorf("Data.HourlyInputPath = %q, want %q", cfg.Data.HourlyInputPath, "data/btc_1h.csv")
	}

	// -- Output --
	if cfg.Output.ResultsDir != "out" || cfg.Output.LogsDir != "out/logs" {
		t.Errorf("Output dirs = %q/%q, want out/out/logs", cfg.Output.ResultsDir, cfg.Output.LogsDir)
	}
	if !cfg.Output.SnapshotEnabled() || !cfg.Output.SummaryEnabled() {
		t.Error("Output flags should both be true")
	}

	// -- Signals --
	if cfg.Signals.MAType != domain.MATypeEMA {
		t.Errorf("Signals.MAType = %q, want %q (upper-cased)", cfg.Signals.MAType, domain.MATypeEMA)
	}
	if cfg.Signals.MAPeriod != 20 || cfg.Signals.RSIPeriod != 10 {
		t.Errorf("Signals periods = %d/%d, want 20/10", cfg.Signals.MAPeriod, cfg.Signals.RSIPeriod)
	}
	if cfg.Signals.RSIThreshold != 65 {
		t.Errorf("Signals.RSIThreshold = %f, want 65", cfg.Signals.RSIThreshold)
	}

	// -- Storage --
	if cfg.Storage.RunDB != "out/runs.db" {
		t.Errorf("Storage.RunDB = %q, want %q", cfg.Storage.RunDB, "out/runs.db")
	}

	if len(cfg.Raw) == 0 {
		t.Error("Raw should hold the file contents")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "execution:\n  verbose: false\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Seed() != DefaultSeed {
		t.Errorf("Seed() = %d, want %d", cfg.Seed(), DefaultSeed)
	}
	if cfg.Execution.Stage != DefaultStage {
		t.Errorf("Execution.Stage = %q, want %q", cfg.Execution.Stage, DefaultStage)
	}
	if cfg.Output.ResultsDir != DefaultResultsDir || cfg.Output.LogsDir != DefaultLogsDir {
		t.Errorf("Output dirs = %q/%q, want defaults", cfg.Output.ResultsDir, cfg.Output.LogsDir)
	}
	if !cfg.Output.SnapshotEnabled() || !cfg.Output.SummaryEnabled() {
		t.Error("snapshot and summary should default to enabled")
	}
	if cfg.Signals.MAPeriod != DefaultMAPeriod || cfg.Signals.RSIPeriod != DefaultRSIPeriod {
		t.Errorf("Signals periods = %d/%d, want defaults", cfg.Signals.MAPeriod, cfg.Signals.RSIPeriod)
	}
	if cfg.Signals.MAType != domain.MATypeSMA {
		t.Errorf("Signals.MAType = %q, want SMA", cfg.Signals.MAType)
	}
}

func TestLoadStageDefaultFollowsData(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "data:\n  hourly_input_path: data/btc_1h.csv\n"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Execution.Stage != DefaultDataStage {
		t.Errorf("Execution.Stage = %q, want %q when hourly data is configured", cfg.Execution.Stage, DefaultDataStage)
	}
}

func TestLoadOutputFlagsExplicitFalse(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "output:\n  save_config_snapshot: false\n  create_summary: false\n"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Output.SnapshotEnabled() || cfg.Output.SummaryEnabled() {
		t.Error("explicit false output flags must be kept")
	}
}

func TestLoadZeroSeedIsKept(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "execution:\n  random_seed: 0\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Seed() != 0 {
		t.Errorf("Seed() = %d, want 0 (explicit zero must not become the default)", cfg.Seed())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
execution:
  random_seed: 1
output:
  results_dir: yaml-results
  logs_dir: yaml-logs
`)

	t.Setenv("QUANTBT_RESULTS_DIR", "/env/results")
	t.Setenv("QUANTBT_SEED", "99")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Output.ResultsDir != "/env/results" {
		t.Errorf("Output.ResultsDir = %q, want %q (env override)", cfg.Output.ResultsDir, "/env/results")
	}
	// logs_dir should remain from YAML since no env override was set.
	if cfg.Output.LogsDir != "yaml-logs" {
		t.Errorf("Output.LogsDir = %q, want %q (from YAML)", cfg.Output.LogsDir, "yaml-logs")
	}
	if cfg.Seed() != 99 {
		t.Errorf("Seed() = %d, want 99 (env override)", cfg.Seed())
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
}

func TestLoadBadSeedEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "execution:\n  verbose: true\n")
	t.Setenv("QUANTBT_SEED", "not-a-number")

	_, err := Load(path)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestLoadBadLogLevel(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "execution:\n  verbose: true\n")
	t.Setenv("LOG_LEVEL", "loud")

	_, err := Load(path)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) error = %v, want os.ErrNotExist", err)
	}

	malformed := writeConfig(t, "execution: [unterminated\n")
	if _, err := Load(malformed); err == nil {
		t.Error("Load(malformed) should return an error")
	}

	tests := []struct {
		name string
		yaml string
	}{
		{"negative ma period", "signals:\n  ma_period: -1\n"},
		{"unknown ma type", "signals:\n  ma_type: WMA\n"},
		{"negative rsi period", "signals:\n  rsi_period: -3\n"},
		{"threshold above 100", "signals:\n  rsi_threshold: 150\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Load() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestMarshalResolved(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "signals:\n  ma_type: ema\n"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	out, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal() returned error: %v", err)
	}

	var back Config
	if err := yaml.Unmarshal(out, &back); err != nil {
		t.Fatalf("resolved YAML does not parse: %v", err)
	}
	if back.Seed() != DefaultSeed {
		t.Errorf("resolved seed = %d, want %d", back.Seed(), DefaultSeed)
	}
	if back.Signals.MAType != domain.MATypeEMA {
		t.Errorf("resolved ma_type = %q, want EMA", back.Signals.MAType)
	}
	if back.Output.CreateSummary == nil || !*back.Output.CreateSummary {
		t.Error("resolved create_summary should be written as true")
	}
	if back.Output.ResultsDir != DefaultResultsDir {
		t.Errorf("resolved results_dir = %q, want %q", back.Output.ResultsDir, DefaultResultsDir)
	}
}
