// Package pipeline defines the Stage interface run by the runner and a
// Registry for looking stages up by name.
package pipeline

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sort"

	"quantbt/internal/config"
	"quantbt/internal/rundir"
)

// Env is everything a stage may use during a run.
type Env struct {
	Config *config.Config
	Logger *slog.Logger
	RunDir *rundir.Dir
	Rand   *rand.Rand
}

// Result summarises a stage's output for the run summary and ledger.
type Result struct {
	Stage  string
	Status string

	HourlyCandles int
	DailyCandles  int
	Signals       int

	// Outputs lists the files the stage wrote, relative to the run directory.
	Outputs []string
}

// Stage is the interface that all pipeline stages must implement.
type Stage interface {
	// Name returns the unique identifier for this stage.
	Name() string

	// Run executes the stage. It must not mutate env.Config.
	Run(ctx context.Context, env *Env) (*Result, error)
}

// Registry holds a named collection of stages for lookup and enumeration.
type Registry struct {
	stages map[string]Stage
}

// NewRegistry creates an empty stage Registry.
func NewRegistry() *Registry {
	return &Registry{
		stages: make(map[string]Stage),
	}
}

// DefaultRegistry returns a Registry holding the built-in stages.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Skeleton{})
	r.Register(DailySignals{})
	return r
}

// Register adds a stage to the registry, keyed by its Name().
func (r *Registry) Register(s Stage) {
	r.stages[s.Name()] = s
}

// Get retrieves a stage by name. The second return value indicates whether
// the stage was found.
func (r *Registry) Get(name string) (Stage, bool) {
	s, ok := r.stages[name]
	return s, ok
}

// List returns a sorted slice of all registered stage names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.stages))
	for name := range r.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
