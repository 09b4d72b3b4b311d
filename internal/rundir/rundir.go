// Package rundir manages the timestamped per-run output directory and the
// artifacts written into it: the config snapshot, run metadata and the
// summary.
package rundir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quantbt/internal/config"
)

// Artifact file names inside a run directory.
const (
	SnapshotFile = "config_snapshot.yaml"
	ResolvedFile = "config_resolved.yaml"
	MetadataFile = "metadata.txt"
	SummaryFile  = "summary.txt"
)

// timestampLayout names run directories, e.g. run_20240103_120000.
const timestampLayout = "20060102_150405"

// maxCollisions bounds the suffix search when several runs start in the
// same second.
const maxCollisions = 1000

// Dir is a created run directory.
type Dir struct {
	// ID is the directory's base name, e.g. "run_20240103_120000".
	ID   string
	Path string
}

// Create makes a new run directory under resultsDir named after now. If a
// run already claimed that second, "_1", "_2", ... is appended so no two
// runs share a folder.
func Create(resultsDir string, now time.Time) (*Dir, error) {
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating results dir: %w", err)
	}

	base := "run_" + now.Format(timestampLayout)
	for i := 0; i < maxCollisions; i++ {
		id := base
		if i > 0 {
			id = fmt.Sprintf("%s_%d", base, i)
		}
		path := filepath.Join(resultsDir, id)
		err := os.Mkdir(path, 0o755)
		if err == nil {
			return &Dir{ID: id, Path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating run dir: %w", err)
		}
	}
	return nil, fmt.Errorf("creating run dir: %d runs already exist for %s", maxCollisions, base)
}

// Open returns an existing run directory by ID.
func Open(resultsDir, id string) (*Dir, error) {
	path := filepath.Join(resultsDir, id)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("run dir %s: %w", id, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("run dir %s: not a directory", id)
	}
	return &Dir{ID: id, Path: path}, nil
}

// Stage returns the path of the named stage subdirectory, creating it if
// needed.
func (d *Dir) Stage(name string) (string, error) {
	path := filepath.Join(d.Path, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("creating stage dir %s: %w", name, err)
	}
	return path, nil
}

// Artifacts lists every file in the run directory, relative to it, in
// lexical order.
func (d *Dir) Artifacts() ([]string, error) {
	var files []string
	err := filepath.WalkDir(d.Path, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.Path, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing run dir %s: %w", d.ID, err)
	}
	return files, nil
}

// File returns the path of name inside the run directory.
func (d *Dir) File(name string) string {
	return filepath.Join(d.Path, name)
}

// SnapshotConfig writes the config file verbatim, the resolved config and a
// metadata file recording when and with what seed the run started.
func (d *Dir) SnapshotConfig(cfg *config.Config, configPath string, now time.Time) error {
	if err := os.WriteFile(d.File(SnapshotFile), cfg.Raw, 0o644); err != nil {
		return fmt.Errorf("writing config snapshot: %w", err)
	}

	resolved, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("encoding resolved config: %w", err)
	}
	if err := os.WriteFile(d.File(ResolvedFile), resolved, 0o644); err != nil {
		return fmt.Errorf("writing resolved config: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Execution timestamp: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "Config file: %s\n", configPath)
	fmt.Fprintf(&b, "Random seed: %d\n", cfg.Seed())
	fmt.Fprintf(&b, "Stage: %s\n", cfg.Execution.Stage)
	if err := os.WriteFile(d.File(MetadataFile), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

// Summary is the human-readable outcome of a run.
type Summary struct {
	Title   string
	Success bool
	// Lines are "key: value" pairs printed in order after the status.
	Lines [][2]string
}

// WriteSummary writes summary.txt.
func (d *Dir) WriteSummary(s Summary) error {
	var b strings.Builder
	b.WriteString(s.Title + "\n")
	b.WriteString(strings.Repeat("=", len(s.Title)) + "\n")
	status := "SUCCESS"
	if !s.Success {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "Status: %s\n", status)
	for _, kv := range s.Lines {
		fmt.Fprintf(&b, "%s: %s\n", kv[0], kv[1])
	}
	if err := os.WriteFile(d.File(SummaryFile), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}
