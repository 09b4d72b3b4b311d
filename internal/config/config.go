package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"quantbt/internal/domain"
	"quantbt/internal/util"
)

// ErrInvalid is wrapped by every validation failure returned from Load.
var ErrInvalid = errors.New("invalid config")

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the run configuration. It is loaded once at process start and
// treated as read-only afterwards.
type Config struct {
	Execution Execution `yaml:"execution"`
	Data      Data      `yaml:"data"`
	Output    Output    `yaml:"output"`
	Signals   Signals   `yaml:"signals"`
	Storage   Storage   `yaml:"storage"`

	// Raw holds the file exactly as read, for verbatim snapshotting.
	Raw []byte `yaml:"-"`
	// LogLevel is set from LOG_LEVEL and takes precedence over Verbose.
	LogLevel string `yaml:"-"`
}

// Execution controls determinism, verbosity and which pipeline stage runs.
type Execution struct {
	RandomSeed *int64 `yaml:"random_seed"`
	Verbose    bool   `yaml:"verbose"`
	Stage      string `yaml:"stage"`
}

// Data holds input paths.
type Data struct {
	InputPath       string `yaml:"input_path"`
	HourlyInputPath string `yaml:"hourly_input_path"`
}

// Output controls where run artifacts are written and which are produced.
type Output struct {
	ResultsDir         string `yaml:"results_dir"`
	LogsDir            string `yaml:"logs_dir"`
	SaveConfigSnapshot *bool  `yaml:"save_config_snapshot"`
	CreateSummary      *bool  `yaml:"create_summary"`
}

// SnapshotEnabled reports whether the config snapshot is written. Unset means
// true.
func (o Output) SnapshotEnabled() bool {
	return o.SaveConfigSnapshot == nil || *o.SaveConfigSnapshot
}

// SummaryEnabled reports whether summary.txt is written. Unset means true.
func (o Output) SummaryEnabled() bool {
	return o.CreateSummary == nil || *o.CreateSummary
}

// Signals parameterises the daily signal stage.
type Signals struct {
	MAPeriod     int           `yaml:"ma_period"`
	MAType       domain.MAType `yaml:"ma_type"`
	RSIPeriod    int           `yaml:"rsi_period"`
	RSIThreshold float64       `yaml:"rsi_threshold"`
}

// Storage holds persistence settings.
type Storage struct {
	RunDB string `yaml:"run_db"`
}

// Defaults used when the YAML leaves a field unset.
const (
	DefaultSeed         int64   = 42
	DefaultStage                = "skeleton"
	DefaultDataStage            = "daily-signals"
	DefaultResultsDir           = "results"
	DefaultLogsDir              = "logs"
	DefaultMAPeriod             = 50
	DefaultRSIPeriod            = 14
	DefaultRSIThreshold float64 = 70
)

// Seed returns the configured random seed, or DefaultSeed.
func (c *Config) Seed() int64 {
	if c.Execution.RandomSeed == nil {
		return DefaultSeed
	}
	return *c.Execution.RandomSeed
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, applies defaults
// and environment variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Raw = data

	applyDefaults(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Execution.Stage == "" {
		cfg.Execution.Stage = DefaultStage
		if cfg.Data.HourlyInputPath != "" {
			cfg.Execution.Stage = DefaultDataStage
		}
	}
	if cfg.Output.ResultsDir == "" {
		cfg.Output.ResultsDir = DefaultResultsDir
	}
	if cfg.Output.LogsDir == "" {
		cfg.Output.LogsDir = DefaultLogsDir
	}
	if cfg.Output.SaveConfigSnapshot == nil {
		cfg.Output.SaveConfigSnapshot = boolPtr(true)
	}
	if cfg.Output.CreateSummary == nil {
		cfg.Output.CreateSummary = boolPtr(true)
	}
	if cfg.Signals.MAPeriod == 0 {
		cfg.Signals.MAPeriod = DefaultMAPeriod
	}
	if cfg.Signals.MAType == "" {
		cfg.Signals.MAType = domain.MATypeSMA
	}
	cfg.Signals.MAType = domain.MAType(strings.ToUpper(string(cfg.Signals.MAType)))
	if cfg.Signals.RSIPeriod == 0 {
		cfg.Signals.RSIPeriod = DefaultRSIPeriod
	}
	if cfg.Signals.RSIThreshold == 0 {
		cfg.Signals.RSIThreshold = DefaultRSIThreshold
	}
}

func boolPtr(b bool) *bool { return &b }

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("QUANTBT_RESULTS_DIR"); v != "" {
		cfg.Output.ResultsDir = v
	}
	if v := os.Getenv("QUANTBT_LOGS_DIR"); v != "" {
		cfg.Output.LogsDir = v
	}
	if v := os.Getenv("QUANTBT_RUN_DB"); v != "" {
		cfg.Storage.RunDB = v
	}
	if v := os.Getenv("QUANTBT_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: QUANTBT_SEED=%q: %v", ErrInvalid, v, err)
		}
		cfg.Execution.RandomSeed = &seed
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return nil
}

// Validate reports the first problem with the log level or the signal
// parameters.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, ok := util.ParseLevel(c.LogLevel); !ok {
			return fmt.Errorf("%w: LOG_LEVEL must be debug, info, warn or error, got %q", ErrInvalid, c.LogLevel)
		}
	}
	s := c.Signals
	switch {
	case s.MAPeriod < 1:
		return fmt.Errorf("%w: signals.ma_period must be positive, got %d", ErrInvalid, s.MAPeriod)
	case s.MAType != domain.MATypeSMA && s.MAType != domain.MATypeEMA:
		return fmt.Errorf("%w: signals.ma_type must be SMA or EMA, got %q", ErrInvalid, s.MAType)
	case s.RSIPeriod < 1:
		return fmt.Errorf("%w: signals.rsi_period must be positive, got %d", ErrInvalid, s.RSIPeriod)
	case s.RSIThreshold <= 0 || s.RSIThreshold > 100:
		return fmt.Errorf("%w: signals.rsi_threshold must be in (0, 100], got %g", ErrInvalid, s.RSIThreshold)
	}
	return nil
}

// Marshal renders the resolved configuration (defaults and overrides applied)
// back to YAML.
func (c *Config) Marshal() ([]byte, error) {
	resolved := *c
	seed := c.Seed()
	resolved.Execution.RandomSeed = &seed
	return yaml.Marshal(&resolved)
}
