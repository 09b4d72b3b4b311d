// Package util provides shared logging and retry helpers.
package util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels. The
// second return value is false when the string is not recognised.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// SetDefault configures the provided logger as the default slog logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// RunLogOptions configures NewRunLogger.
type RunLogOptions struct {
	Stage   string    // file name prefix, e.g. "stage1"
	LogsDir string    // shared log directory, e.g. "logs"
	RunDir  string    // per-run directory; receives <stage>_execution.log
	Verbose bool      // file logs at debug instead of info
	Level   string    // overrides Verbose for every sink when set
	Console io.Writer // defaults to os.Stderr
	Now     time.Time // timestamp for the shared log file name
}

// RunLogger is a logger writing to the console and to two log files at once.
type RunLogger struct {
	*slog.Logger
	// LogPath is the shared log file under LogsDir.
	LogPath string
	// RunLogPath is the copy inside the run directory.
	RunLogPath string

	files []*os.File
}

// Close flushes and closes the log files.
func (l *RunLogger) Close() error {
	var errs []error
	for _, f := range l.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

// NewRunLogger builds the dual console/file logger for a run. The console
// gets concise INFO output; both files get detailed output at DEBUG when
// verbose, INFO otherwise.
func NewRunLogger(opts RunLogOptions) (*RunLogger, error) {
	if opts.Stage == "" {
		opts.Stage = "stage1"
	}
	if opts.Console == nil {
		opts.Console = os.Stderr
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	fileLevel := slog.LevelInfo
	if opts.Verbose {
		fileLevel = slog.LevelDebug
	}
	consoleLevel := slog.LevelInfo
	if opts.Level != "" {
		lvl, ok := ParseLevel(opts.Level)
		if !ok {
			return nil, fmt.Errorf("unknown log level %q", opts.Level)
		}
		fileLevel, consoleLevel = lvl, lvl
	}

	if err := os.MkdirAll(opts.LogsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}

	rl := &RunLogger{
		LogPath:    filepath.Join(opts.LogsDir, fmt.Sprintf("%s_%s.log", opts.Stage, opts.Now.Format("20060102_150405"))),
		RunLogPath: filepath.Join(opts.RunDir, opts.Stage+"_execution.log"),
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(opts.Console, &slog.HandlerOptions{
			Level:       consoleLevel,
			ReplaceAttr: dropTime,
		}),
	}
	for _, path := range []string{rl.LogPath, rl.RunLogPath} {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			rl.Close()
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		rl.files = append(rl.files, f)
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: fileLevel}))
	}

	rl.Logger = slog.New(fanout(handlers))
	return rl, nil
}

// dropTime strips the timestamp from console records.
func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

// fanout dispatches each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
