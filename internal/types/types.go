// Package types provides shared type definitions used across marketintel packages.
// This package exists to break import cycles between the reasoning loop, the tool
// registry, working memory and the stores. Types in this package should be
// foundational data structures with no complex dependencies.
package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// QUERY
// =============================================================================

// ErrEmptyDomain is returned when a Query has no business domain.
var ErrEmptyDomain = errors.New("query domain cannot be empty")

// Query is the structured representation of a startup idea.
// It is produced by an external parser and consumed read-only by the loop.
type Query struct {
	Domain           string   `json:"domain" yaml:"domain"`
	Segment          string   `json:"segment,omitempty" yaml:"segment"`
	ValueProposition string   `json:"value_proposition,omitempty" yaml:"value_proposition"`
	Keywords         []string `json:"keywords,omitempty" yaml:"keywords"`
}

// Validate checks that the query carries enough structure to plan against.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Domain) == "" {
		return ErrEmptyDomain
	}
	return nil
}

// Params flattens the query into the string parameters handed to tools.
func (q Query) Params() map[string]string {
	params := map[string]string{
		"domain": strings.TrimSpace(q.Domain),
	}
	if q.Segment != "" {
		params["segment"] = strings.TrimSpace(q.Segment)
	}
	if q.ValueProposition != "" {
		params["value_proposition"] = strings.TrimSpace(q.ValueProposition)
	}
	if len(q.Keywords) > 0 {
		params["keywords"] = strings.Join(q.Keywords, ",")
	}
	return params
}

// =============================================================================
// CATEGORIES
// =============================================================================

// Category is a topic area the report must cover.
type Category string

const (
	CategoryCompetitors Category = "competitors"
	CategoryFunding     Category = "funding"
	CategoryTrends      Category = "trends"
	CategoryNews        Category = "news"
	CategoryFinancials  Category = "financials"
)

// DefaultCategories returns the built-in categories in their default priority order.
func DefaultCategories() []Category {
	return []Category{
		CategoryCompetitors,
		CategoryFunding,
		CategoryTrends,
		CategoryNews,
		CategoryFinancials,
	}
}

// Resolution is the cause for a Category's terminal state.
type Resolution string

const (
	ResolvedByThreshold Resolution = "resolved-by-threshold"
	ExhaustedFallbacks  Resolution = "exhausted-fallbacks"
	ExhaustedBudget     Resolution = "exhausted-budget"
)

// =============================================================================
// ACTIONS AND OBSERVATIONS
// =============================================================================

// ActionStep is one planned tool invocation. It is created by the controller,
// never mutated, and consumed by exactly one tool invocation.
type ActionStep struct {
	Seq      int               `json:"seq"`
	Category Category          `json:"category"`
	Tool     string            `json:"tool"`
	Attempt  int               `json:"attempt"`
	Params   map[string]string `json:"params,omitempty"`
}

// Param returns a parameter value or the empty string.
func (s ActionStep) Param(name string) string {
	return s.Params[name]
}

// ListParam splits a comma-joined parameter into trimmed, non-empty values.
func (s ActionStep) ListParam(name string) []string {
	raw := s.Params[name]
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FailureKind classifies why a tool invocation produced no usable result.
type FailureKind string

const (
	FailureNone              FailureKind = ""
	FailureTimeout           FailureKind = "timeout"
	FailureEmptyResult       FailureKind = "empty_result"
	FailureMalformedResponse FailureKind = "malformed_response"
	FailureUnavailable       FailureKind = "unavailable"
)

// KindCompetitor is the record kind of a company profile; its Key is the company name.
const KindCompetitor = "competitor"

// Record is one raw fact returned by a tool, before scoring.
type Record struct {
	// Key is the natural identity of the fact (company name, company|round, URL).
	Key string `json:"key"`

	// Kind selects the expected field set used for completeness scoring.
	Kind string `json:"kind"`

	Fields   map[string]string `json:"fields"`
	Citation string            `json:"citation"`

	// Timestamp is when the fact itself was published or dated; zero if unknown.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Observation is the raw outcome of exactly one ActionStep.
type Observation struct {
	Step       ActionStep    `json:"step"`
	Tool       string        `json:"tool"`
	ObservedAt time.Time     `json:"observed_at"`
	Elapsed    time.Duration `json:"elapsed"`
	Success    bool          `json:"success"`
	Failure    FailureKind   `json:"failure,omitempty"`
	Error      string        `json:"error,omitempty"`
	Records    []Record      `json:"records,omitempty"`
}

// =============================================================================
// EVIDENCE
// =============================================================================

// Evidence is a normalized, confidence-scored, cited fact owned by working memory.
type Evidence struct {
	Category     Category          `json:"category"`
	Key          string            `json:"key"`
	Kind         string            `json:"kind"`
	Value        map[string]string `json:"value"`
	Confidence   float64           `json:"confidence"`
	Citation     string            `json:"citation"`
	Tool         string            `json:"tool"`
	Step         int               `json:"step"`
	ObservedAt   time.Time         `json:"observed_at"`
	Superseded   bool              `json:"superseded,omitempty"`
	SupersededBy int               `json:"superseded_by,omitempty"`
}

// IdentityKey returns the deduplication key of the evidence.
func (e Evidence) IdentityKey() string {
	return string(e.Category) + "/" + strings.ToLower(strings.TrimSpace(e.Key))
}

// Clone returns a deep copy of the evidence.
func (e Evidence) Clone() Evidence {
	c := e
	if e.Value != nil {
		c.Value = make(map[string]string, len(e.Value))
		for k, v := range e.Value {
			c.Value[k] = v
		}
	}
	return c
}

// FromRecord builds evidence for a category from a scored record.
func FromRecord(cat Category, obs Observation, rec Record, confidence float64) Evidence {
	ev := Evidence{
		Category:   cat,
		Key:        rec.Key,
		Kind:       rec.Kind,
		Confidence: confidence,
		Citation:   rec.Citation,
		Tool:       obs.Tool,
		Step:       obs.Step.Seq,
		ObservedAt: obs.ObservedAt,
	}
	if rec.Fields != nil {
		ev.Value = make(map[string]string, len(rec.Fields))
		for k, v := range rec.Fields {
			ev.Value[k] = v
		}
	}
	return ev
}

// =============================================================================
// EVIDENCE BUNDLE
// =============================================================================

// CategoryReport is the per-category section of the EvidenceBundle.
type CategoryReport struct {
	Category     Category   `json:"category"`
	Evidence     []Evidence `json:"evidence"`
	Confidence   float64    `json:"confidence"`
	Threshold    float64    `json:"threshold"`
	Resolution   Resolution `json:"resolution,omitempty"`
	Insufficient bool       `json:"insufficient"`
	Attempts     int        `json:"attempts"`
	ToolsTried   []string   `json:"tools_tried,omitempty"`
}

// Active returns the non-superseded evidence.
func (r CategoryReport) Active() []Evidence {
	out := make([]Evidence, 0, len(r.Evidence))
	for _, ev := range r.Evidence {
		if !ev.Superseded {
			out = append(out, ev)
		}
	}
	return out
}

// Citations returns the distinct citations of the active evidence, sorted.
func (r CategoryReport) Citations() []string {
	seen := make(map[string]bool)
	var out []string
	for _, ev := range r.Active() {
		if ev.Citation == "" || seen[ev.Citation] {
			continue
		}
		seen[ev.Citation] = true
		out = append(out, ev.Citation)
	}
	sort.Strings(out)
	return out
}

// EvidenceBundle is the read-only artifact handed to the report synthesizer.
type EvidenceBundle struct {
	RunID      string                      `json:"run_id,omitempty"`
	Query      Query                       `json:"query"`
	Order      []Category                  `json:"order"`
	Categories map[Category]CategoryReport `json:"categories"`
	StepsUsed  int                         `json:"steps_used"`
	StepBudget int                         `json:"step_budget"`
	StartedAt  time.Time                   `json:"started_at,omitempty"`
	FinishedAt time.Time                   `json:"finished_at,omitempty"`
}

// Report returns the report for a category and whether it exists.
func (b *EvidenceBundle) Report(cat Category) (CategoryReport, bool) {
	r, ok := b.Categories[cat]
	return r, ok
}

// Gaps returns the categories flagged as insufficient, in bundle order.
func (b *EvidenceBundle) Gaps() []Category {
	var out []Category
	for _, cat := range b.Order {
		if r, ok := b.Categories[cat]; ok && r.Insufficient {
			out = append(out, cat)
		}
	}
	return out
}

// Summary returns a one-line description used by the CLI and logs.
func (b *EvidenceBundle) Summary() string {
	resolved := 0
	for _, r := range b.Categories {
		if r.Resolution == ResolvedByThreshold {
			resolved++
		}
	}
	return fmt.Sprintf("%d/%d categories resolved, %d/%d steps used",
		resolved, len(b.Categories), b.StepsUsed, b.StepBudget)
}

// =============================================================================
// CYCLE AUDIT RECORD
// =============================================================================

// Cycle is the Think/Act/Observe record emitted once per ActionStep.
type Cycle struct {
	RunID      string        `json:"run_id"`
	Seq        int           `json:"seq"`
	Category   Category      `json:"category"`
	Tool       string        `json:"tool"`
	Attempt    int           `json:"attempt"`
	Thought    string        `json:"thought"`
	Success    bool          `json:"success"`
	Failure    FailureKind   `json:"failure,omitempty"`
	Error      string        `json:"error,omitempty"`
	Records    int           `json:"records"`
	Confidence float64       `json:"confidence"`
	Coverage   float64       `json:"coverage"`
	State      string        `json:"state"`
	Elapsed    time.Duration `json:"elapsed"`
	At         time.Time     `json:"at"`
}
