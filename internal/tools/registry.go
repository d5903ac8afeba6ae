package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketintel/internal/metrics"
	"marketintel/internal/types"
)

// Registry holds all available tools and provides lookup functionality.
// It is thread-safe and supports registration at runtime.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool

	// byCategory provides fast lookup by category.
	byCategory map[types.Category][]*Tool

	logger  *zap.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for registration and invocation events.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRecorder attaches a metrics recorder to every invocation.
func WithRecorder(rec *metrics.Recorder) RegistryOption {
	return func(r *Registry) { r.metrics = rec }
}

// WithClock overrides the clock used to stamp observations.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a new empty tool registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:      make(map[string]*Tool),
		byCategory: make(map[types.Category][]*Tool),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool to the registry.
// Returns an error if a tool with the same name already exists.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}

	if tool.Priority == 0 {
		tool.Priority = DefaultPriority
	}

	r.tools[tool.Name] = tool
	for _, cat := range tool.Categories {
		r.byCategory[cat] = append(r.byCategory[cat], tool)
	}

	r.logger.Debug("registered tool",
		zap.String("tool", tool.Name),
		zap.Any("categories", tool.Categories),
		zap.Int("priority", tool.Priority),
		zap.Float64("reliability", tool.Reliability))
	return nil
}

// MustRegister registers a tool and panics on error.
// Use this for static tool registration at init time.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Apply overlays per-deployment bindings onto registered tools.
// Bindings for tools that are not registered are reported and skipped.
func (r *Registry) Apply(bindings map[string]Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var missing []string
	for name, b := range bindings {
		tool, ok := r.tools[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if b.Reliability != nil {
			if *b.Reliability < 0 || *b.Reliability > 1 {
				return fmt.Errorf("%w: %s=%v", ErrInvalidReliability, name, *b.Reliability)
			}
			tool.Reliability = *b.Reliability
		}
		if len(b.Categories) > 0 {
			tool.Categories = append([]types.Category(nil), b.Categories...)
		}
		if b.Priority != 0 {
			tool.Priority = b.Priority
		}
		if b.Timeout > 0 {
			tool.Timeout = b.Timeout
		}
	}

	r.byCategory = make(map[types.Category][]*Tool)
	for _, tool := range r.tools {
		for _, cat := range tool.Categories {
			r.byCategory[cat] = append(r.byCategory[cat], tool)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		r.logger.Warn("bindings reference unregistered tools", zap.Strings("tools", missing))
	}
	return nil
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has returns true if a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// ForCategory returns all tools eligible for a category, sorted by priority
// (descending) and then by name so escalation order is stable.
func (r *Registry) ForCategory(cat types.Category) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]*Tool, len(r.byCategory[cat]))
	copy(tools, r.byCategory[cat])

	sort.SliceStable(tools, func(i, j int) bool {
		if tools[i].Priority != tools[j].Priority {
			return tools[i].Priority > tools[j].Priority
		}
		return tools[i].Name < tools[j].Name
	})
	return tools
}

// Eligible returns the escalation order of tool names for a category.
func (r *Registry) Eligible(cat types.Category) []string {
	tools := r.ForCategory(cat)
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// Reliability returns the reliability weight of a tool, or zero if unknown.
func (r *Registry) Reliability(name string) float64 {
	if t := r.Get(name); t != nil {
		return t.Reliability
	}
	return 0
}

// All returns all registered tools sorted by name.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

type invokeOutcome struct {
	records []types.Record
	err     error
}

// Invoke runs the tool named by step and returns exactly one Observation.
// It never returns an error: every failure is classified onto the observation.
// Tool errors never cross this boundary as panics.
func (r *Registry) Invoke(ctx context.Context, step types.ActionStep) types.Observation {
	start := time.Now()
	obs := types.Observation{Step: step, Tool: step.Tool}

	tool := r.Get(step.Tool)
	var err error
	var records []types.Record
	switch {
	case tool == nil:
		err = Fail(types.FailureUnavailable, fmt.Errorf("%w: %s", ErrToolNotFound, step.Tool))
	case step.Category != "" && !tool.Serves(step.Category):
		err = Fail(types.FailureUnavailable, fmt.Errorf("%w: %s for %s", ErrCategoryNotServed, step.Tool, step.Category))
	default:
		if err = validateArgs(tool, step); err == nil {
			records, err = r.run(ctx, tool, step)
		}
	}

	obs.ObservedAt = r.now()
	obs.Elapsed = time.Since(start)
	if err == nil {
		err = checkRecords(records)
	}
	if err != nil {
		obs.Failure = classify(err)
		obs.Error = err.Error()
	} else {
		obs.Success = true
		obs.Records = records
	}

	r.metrics.ObserveTool(step.Tool, string(obs.Failure), obs.Elapsed)
	r.logger.Debug("tool invoked",
		zap.Int("seq", step.Seq),
		zap.String("category", string(step.Category)),
		zap.String("tool", step.Tool),
		zap.Bool("success", obs.Success),
		zap.String("failure", string(obs.Failure)),
		zap.Int("records", len(obs.Records)),
		zap.Duration("elapsed", obs.Elapsed))
	return obs
}

// run executes the tool in its own goroutine so a tool that ignores its
// context cannot hold the caller past the per-call timeout.
func (r *Registry) run(ctx context.Context, tool *Tool, step types.ActionStep) ([]types.Record, error) {
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if tool.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, tool.Timeout)
	}
	defer cancel()

	done := make(chan invokeOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- invokeOutcome{err: Failf(types.FailureMalformedResponse, "tool panicked: %v", p)}
			}
		}()
		records, err := tool.Invoke(callCtx, step)
		done <- invokeOutcome{records: records, err: err}
	}()

	select {
	case out := <-done:
		return out.records, out.err
	case <-callCtx.Done():
		return nil, callCtx.Err()
	}
}

// validateArgs checks that all required arguments are present.
func validateArgs(tool *Tool, step types.ActionStep) error {
	for _, required := range tool.Schema.Required {
		if strings.TrimSpace(step.Params[required]) == "" {
			return Fail(types.FailureUnavailable, fmt.Errorf("%w: %s", ErrMissingRequiredArg, required))
		}
	}
	return nil
}

func checkRecords(records []types.Record) error {
	if len(records) == 0 {
		return Fail(types.FailureEmptyResult, ErrNoRecords)
	}
	for i, rec := range records {
		if strings.TrimSpace(rec.Key) == "" {
			return Fail(types.FailureMalformedResponse, fmt.Errorf("%w: record %d", ErrRecordWithoutKey, i))
		}
	}
	return nil
}

// classify maps an invocation error onto a failure kind. Context expiry is
// always a timeout, whether it came from the per-call deadline or the caller.
func classify(err error) types.FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.FailureTimeout
	}
	return types.FailureUnavailable
}
