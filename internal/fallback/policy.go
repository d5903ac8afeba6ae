// Package fallback implements the per-category escalation state machine.
//
//	NOT_STARTED ──Next──▶ IN_PROGRESS ──Observe(coverage ≥ threshold)──▶ RESOLVED
//	                          │
//	                          └──Observe(no tool left | attempts = max)──▶ EXHAUSTED
//
// Exhaust forces any non-terminal category to EXHAUSTED with a reason, which
// the loop uses when the step budget runs out or the run is cancelled.
// Terminal states are never left.
package fallback

import (
	"fmt"
	"strings"
	"sync"

	"marketintel/internal/types"
)

// State is the lifecycle position of a category.
type State string

const (
	NotStarted State = "NOT_STARTED"
	InProgress State = "IN_PROGRESS"
	Resolved   State = "RESOLVED"
	Exhausted  State = "EXHAUSTED"
)

// Terminal reports whether the state is RESOLVED or EXHAUSTED.
func (s State) Terminal() bool {
	return s == Resolved || s == Exhausted
}

// CategorySpec configures one category.
type CategorySpec struct {
	Name        types.Category
	Threshold   float64
	MaxAttempts int
}

// Validate checks a spec in isolation.
func (s CategorySpec) Validate() error {
	if strings.TrimSpace(string(s.Name)) == "" {
		return &ConfigurationError{Err: fmt.Errorf("%w: empty name", ErrInvalidCategory)}
	}
	if s.Threshold < 0 || s.Threshold > 1 {
		return &ConfigurationError{Category: string(s.Name), Err: fmt.Errorf("%w: threshold %v outside [0,1]", ErrInvalidCategory, s.Threshold)}
	}
	if s.MaxAttempts < 1 {
		return &ConfigurationError{Category: string(s.Name), Err: fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidCategory)}
	}
	return nil
}

// FallbackState is the per-category record owned by the policy. Copies are
// handed out; the policy's own record is never exposed.
type FallbackState struct {
	Category    types.Category   `json:"category"`
	State       State            `json:"state"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"max_attempts"`
	Threshold   float64          `json:"threshold"`
	Confidence  float64          `json:"confidence"`
	Exhausted   bool             `json:"exhausted"`
	Tools       []string         `json:"tools"`
	Tried       []string         `json:"tried,omitempty"`
	Reason      types.Resolution `json:"reason,omitempty"`
}

// Remaining returns the eligible tools not yet tried, in priority order.
func (f FallbackState) Remaining() []string {
	var out []string
	for _, t := range f.Tools {
		if !contains(f.Tried, t) {
			out = append(out, t)
		}
	}
	return out
}

func (f *FallbackState) clone() FallbackState {
	c := *f
	c.Tools = append([]string(nil), f.Tools...)
	c.Tried = append([]string(nil), f.Tried...)
	return c
}

// Policy holds the fallback state of every category in a run. It is safe
// for concurrent use.
type Policy struct {
	mu     sync.Mutex
	order  []types.Category
	states map[types.Category]*FallbackState
}

// New builds a policy for the given categories. eligible returns the tools
// for a category in escalation order. A category without any tool is a
// ConfigurationError wrapping ErrNoEligibleTool.
func New(specs []CategorySpec, eligible func(types.Category) []string) (*Policy, error) {
	if len(specs) == 0 {
		return nil, &ConfigurationError{Err: fmt.Errorf("%w: no categories configured", ErrInvalidCategory)}
	}
	p := &Policy{states: make(map[types.Category]*FallbackState, len(specs))}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, dup := p.states[spec.Name]; dup {
			return nil, &ConfigurationError{Category: string(spec.Name), Err: fmt.Errorf("%w: duplicate category", ErrInvalidCategory)}
		}
		tools := dedupe(eligible(spec.Name))
		if len(tools) == 0 {
			return nil, &ConfigurationError{Category: string(spec.Name), Err: ErrNoEligibleTool}
		}
		p.order = append(p.order, spec.Name)
		p.states[spec.Name] = &FallbackState{
			Category:    spec.Name,
			State:       NotStarted,
			MaxAttempts: spec.MaxAttempts,
			Threshold:   spec.Threshold,
			Tools:       tools,
		}
	}
	return p, nil
}

// Categories returns the categories in priority order.
func (p *Policy) Categories() []types.Category {
	return append([]types.Category(nil), p.order...)
}

// Next returns the next tool to try for a category and marks it IN_PROGRESS.
// It returns false for terminal or unknown categories. When no untried tool
// remains, or attempts are used up, the category becomes EXHAUSTED.
func (p *Policy) Next(cat types.Category) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[cat]
	if !ok || st.State.Terminal() {
		return "", false
	}
	if st.Attempts >= st.MaxAttempts {
		p.exhaust(st, types.ExhaustedFallbacks)
		return "", false
	}
	for _, t := range st.Tools {
		if !contains(st.Tried, t) {
			st.State = InProgress
			return t, true
		}
	}
	p.exhaust(st, types.ExhaustedFallbacks)
	return "", false
}

// Observe records the outcome of one attempt with tool and returns the new
// state. coverage is the category's current coverage from memory and
// hasEvidence whether memory holds any active evidence for it.
func (p *Policy) Observe(cat types.Category, tool string, coverage float64, hasEvidence bool) State {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[cat]
	if !ok {
		return ""
	}
	if st.State.Terminal() {
		return st.State
	}

	if st.Attempts < st.MaxAttempts {
		st.Attempts++
	}
	if !contains(st.Tried, tool) {
		st.Tried = append(st.Tried, tool)
	}
	st.Confidence = coverage

	switch {
	case hasEvidence && coverage >= st.Threshold:
		st.State = Resolved
		st.Reason = types.ResolvedByThreshold
	case st.Attempts < st.MaxAttempts && len(st.Remaining()) > 0:
		st.State = InProgress
	default:
		p.exhaust(st, types.ExhaustedFallbacks)
	}
	return st.State
}

// Exhaust forces a non-terminal category to EXHAUSTED with reason.
// Terminal categories are left untouched.
func (p *Policy) Exhaust(cat types.Category, reason types.Resolution) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[cat]; ok && !st.State.Terminal() {
		p.exhaust(st, reason)
	}
}

func (p *Policy) exhaust(st *FallbackState, reason types.Resolution) {
	st.State = Exhausted
	st.Exhausted = true
	st.Reason = reason
}

// State returns a copy of a category's state.
func (p *Policy) State(cat types.Category) (FallbackState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[cat]
	if !ok {
		return FallbackState{}, fmt.Errorf("%w: %s", ErrUnknownCategory, cat)
	}
	return st.clone(), nil
}

// States returns copies of every category state in priority order.
func (p *Policy) States() []FallbackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]FallbackState, 0, len(p.order))
	for _, cat := range p.order {
		out = append(out, p.states[cat].clone())
	}
	return out
}

// Terminal reports whether a category is RESOLVED or EXHAUSTED.
// Unknown categories are reported terminal so callers never schedule them.
func (p *Policy) Terminal(cat types.Category) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[cat]
	return !ok || st.State.Terminal()
}

// AllTerminal reports whether every category has reached a terminal state.
func (p *Policy) AllTerminal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range p.states {
		if !st.State.Terminal() {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" && !contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
