package reasoning

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketintel/internal/fallback"
	"marketintel/internal/metrics"
	"marketintel/internal/types"
)

// Config bounds one run of the loop.
type Config struct {
	// Categories in priority order.
	Categories []fallback.CategorySpec

	// StepBudget is the maximum number of ActionSteps across all categories.
	StepBudget int

	// Parallelism bounds how many categories are worked at once.
	// Zero means one worker per category.
	Parallelism int

	// GracePeriod is how long in-flight tool calls may continue after the
	// caller cancels the run.
	GracePeriod time.Duration

	// RunTimeout cancels the run after this long. Zero disables it.
	RunTimeout time.Duration
}

func (c Config) validate() error {
	if c.StepBudget < 1 {
		return &fallback.ConfigurationError{Err: fmt.Errorf("step budget must be at least 1, got %d", c.StepBudget)}
	}
	if c.Parallelism < 0 {
		return &fallback.ConfigurationError{Err: fmt.Errorf("parallelism cannot be negative, got %d", c.Parallelism)}
	}
	return nil
}

func (c Config) workers() int {
	if c.Parallelism <= 0 || c.Parallelism > len(c.Categories) {
		return len(c.Categories)
	}
	return c.Parallelism
}

// Toolbox is what the loop needs from the tool layer. *tools.Registry satisfies it.
type Toolbox interface {
	// Eligible returns the escalation order of tools for a category.
	Eligible(cat types.Category) []string

	// Reliability returns the static reliability weight of a tool.
	Reliability(tool string) float64

	// Invoke runs one step and always returns an observation.
	Invoke(ctx context.Context, step types.ActionStep) types.Observation
}

// CycleSink receives one Cycle per executed ActionStep. Sinks are called
// concurrently from category workers and must be safe for concurrent use.
type CycleSink interface {
	Emit(ctx context.Context, c types.Cycle) error
}

// CycleSinkFunc adapts a function to CycleSink.
type CycleSinkFunc func(ctx context.Context, c types.Cycle) error

// Emit calls f.
func (f CycleSinkFunc) Emit(ctx context.Context, c types.Cycle) error {
	return f(ctx, c)
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithSinks appends cycle sinks.
func WithSinks(sinks ...CycleSink) Option {
	return func(l *Loop) {
		for _, s := range sinks {
			if s != nil {
				l.sinks = append(l.sinks, s)
			}
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(l *Loop) { l.metrics = rec }
}

// WithClock overrides the clock used for run and cycle timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(l *Loop) {
		l.newID = func() string { return id }
	}
}
