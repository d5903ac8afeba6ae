// Package reasoning drives the Think → Act → Observe loop that gathers
// evidence for every category of a query.
//
// Each category is worked by its own goroutine; steps within a category run
// sequentially because escalation depends on the previous outcome. A shared
// step budget bounds the run, and the caller's context stops new steps while
// letting in-flight tool calls finish within a grace period.
package reasoning

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketintel/internal/fallback"
	"marketintel/internal/memory"
	"marketintel/internal/metrics"
	"marketintel/internal/scoring"
	"marketintel/internal/types"
)

// maxCompetitorHints caps how many competitor keys are passed to dependent lookups.
const maxCompetitorHints = 5

// categories whose tools benefit from knowing the competitors found so far.
var competitorDependent = map[types.Category]bool{
	types.CategoryFunding:    true,
	types.CategoryFinancials: true,
}

// Loop is the reasoning controller. A Loop is reusable; each Run is independent.
type Loop struct {
	tools   Toolbox
	scorer  *scoring.Scorer
	cfg     Config
	logger  *zap.Logger
	sinks   []CycleSink
	metrics *metrics.Recorder
	now     func() time.Time
	newID   func() string
}

// New creates a loop over the given toolbox and scorer.
func New(toolbox Toolbox, scorer *scoring.Scorer, cfg Config, opts ...Option) *Loop {
	l := &Loop{
		tools:  toolbox,
		scorer: scorer,
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// run is the state of one Run call.
type run struct {
	*Loop
	id       string
	query    types.Query
	params   map[string]string
	policy   *fallback.Policy
	mem      *memory.Memory
	budget   int64
	used     atomic.Int64
	ctx      context.Context // stops new steps
	invoke   context.Context // in-flight tool calls, outlives ctx by the grace period
	detached context.Context // sinks
	logger   *zap.Logger
}

// Run gathers evidence for query and returns the bundle. The only errors are
// an invalid query and a ConfigurationError; budget exhaustion and
// cancellation still produce a bundle.
func (l *Loop) Run(ctx context.Context, query types.Query) (*types.EvidenceBundle, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	if err := l.cfg.validate(); err != nil {
		return nil, err
	}
	policy, err := fallback.New(l.cfg.Categories, l.tools.Eligible)
	if err != nil {
		return nil, err
	}

	if l.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.RunTimeout)
		defer cancel()
	}

	invokeCtx, stopInvokes := context.WithCancel(context.WithoutCancel(ctx))
	defer stopInvokes()
	finished := make(chan struct{})
	defer close(finished)
	go l.graceWatch(ctx, finished, stopInvokes)

	r := &run{
		Loop:     l,
		id:       l.newID(),
		query:    query,
		params:   query.Params(),
		policy:   policy,
		mem:      memory.New(policy.Categories()...),
		budget:   int64(l.cfg.StepBudget),
		ctx:      ctx,
		invoke:   invokeCtx,
		detached: context.WithoutCancel(ctx),
	}
	r.logger = l.logger.With(zap.String("run_id", r.id))

	started := l.now()
	r.logger.Info("run started",
		zap.String("domain", query.Domain),
		zap.Int("categories", len(l.cfg.Categories)),
		zap.Int("step_budget", l.cfg.StepBudget),
		zap.Int("parallelism", l.cfg.workers()))

	var g errgroup.Group
	g.SetLimit(l.cfg.workers())
	for _, cat := range policy.Categories() {
		cat := cat
		g.Go(func() error {
			r.work(cat)
			return nil
		})
	}
	_ = g.Wait()

	if !policy.AllTerminal() {
		var open []string
		for _, cat := range policy.Categories() {
			if !policy.Terminal(cat) {
				open = append(open, string(cat))
				policy.Exhaust(cat, types.ExhaustedBudget)
			}
		}
		r.logger.Info("run stopped with open categories",
			zap.Strings("categories", open),
			zap.Int64("steps_used", r.used.Load()),
			zap.Bool("cancelled", ctx.Err() != nil))
	}

	bundle := r.bundle(started, l.now())
	l.metrics.ObserveRun(bundle.StepsUsed)
	r.logger.Info("run finished",
		zap.String("summary", bundle.Summary()),
		zap.Bool("cancelled", ctx.Err() != nil),
		zap.Duration("elapsed", bundle.FinishedAt.Sub(bundle.StartedAt)))
	return bundle, nil
}

// graceWatch cancels in-flight tool calls GracePeriod after ctx is done.
func (l *Loop) graceWatch(ctx context.Context, finished <-chan struct{}, stop context.CancelFunc) {
	select {
	case <-finished:
		return
	case <-ctx.Done():
	}
	if l.cfg.GracePeriod <= 0 {
		stop()
		return
	}
	t := time.NewTimer(l.cfg.GracePeriod)
	defer t.Stop()
	select {
	case <-t.C:
		stop()
	case <-finished:
	}
}

// reserve claims one step of the budget and returns its sequence number.
func (r *run) reserve() (int, bool) {
	for {
		cur := r.used.Load()
		if cur >= r.budget {
			return 0, false
		}
		if r.used.CompareAndSwap(cur, cur+1) {
			return int(cur + 1), true
		}
	}
}

// work drives one category until it is terminal, the budget is spent or the
// run is cancelled.
func (r *run) work(cat types.Category) {
	for {
		if r.ctx.Err() != nil {
			return
		}
		tool, ok := r.policy.Next(cat)
		if !ok {
			return
		}
		seq, ok := r.reserve()
		if !ok {
			r.logger.Debug("step budget exhausted", zap.String("category", string(cat)))
			return
		}
		r.cycle(cat, tool, seq)
	}
}

// cycle executes one Think → Act → Observe step.
func (r *run) cycle(cat types.Category, tool string, seq int) {
	before, _ := r.policy.State(cat)
	thought := r.think(before, tool)

	step := types.ActionStep{
		Seq:      seq,
		Category: cat,
		Tool:     tool,
		Attempt:  before.Attempts + 1,
		Params:   r.stepParams(cat),
	}

	obs := r.tools.Invoke(r.invoke, step)

	reliability := r.tools.Reliability(tool)
	scores := r.scorer.ScoreObservation(obs, reliability)
	best := 0.0
	for i, rec := range obs.Records {
		r.mem.Record(cat, types.FromRecord(cat, obs, rec, scores[i]))
		if scores[i] > best {
			best = scores[i]
		}
	}
	coverage := r.mem.Coverage(cat)
	state := r.policy.Observe(cat, tool, coverage, r.mem.HasEvidence(cat))

	c := types.Cycle{
		RunID:      r.id,
		Seq:        seq,
		Category:   cat,
		Tool:       tool,
		Attempt:    step.Attempt,
		Thought:    thought,
		Success:    obs.Success,
		Failure:    obs.Failure,
		Error:      obs.Error,
		Records:    len(obs.Records),
		Confidence: best,
		Coverage:   coverage,
		State:      string(state),
		Elapsed:    obs.Elapsed,
		At:         r.now(),
	}
	for _, sink := range r.sinks {
		if err := sink.Emit(r.detached, c); err != nil {
			r.logger.Warn("cycle sink failed", zap.Int("seq", seq), zap.Error(err))
		}
	}
}

// think explains why this step is being taken.
func (r *run) think(st fallback.FallbackState, tool string) string {
	if st.Attempts == 0 {
		return fmt.Sprintf("%s has no evidence yet; starting with %s (threshold %.2f)",
			st.Category, tool, st.Threshold)
	}
	return fmt.Sprintf("%s coverage %.2f below threshold %.2f after %d attempt(s) with %s; escalating to %s",
		st.Category, st.Confidence, st.Threshold, st.Attempts, strings.Join(st.Tried, ","), tool)
}

func (r *run) stepParams(cat types.Category) map[string]string {
	params := make(map[string]string, len(r.params)+2)
	for k, v := range r.params {
		params[k] = v
	}
	params["category"] = string(cat)
	if competitorDependent[cat] {
		// only company profiles carry names; article URLs and passages do not
		keys := r.mem.KeysOfKind(types.CategoryCompetitors, types.KindCompetitor)
		if len(keys) > maxCompetitorHints {
			keys = keys[:maxCompetitorHints]
		}
		if len(keys) > 0 {
			params["competitors"] = strings.Join(keys, ",")
		}
	}
	return params
}

func (r *run) bundle(started, finished time.Time) *types.EvidenceBundle {
	snap := r.mem.Snapshot()
	bundle := &types.EvidenceBundle{
		RunID:      r.id,
		Query:      r.query,
		Order:      r.policy.Categories(),
		Categories: make(map[types.Category]types.CategoryReport, len(snap.Categories)),
		StepsUsed:  int(r.used.Load()),
		StepBudget: int(r.budget),
		StartedAt:  started,
		FinishedAt: finished,
	}
	for _, st := range r.policy.States() {
		report := snap.Categories[st.Category]
		report.Category = st.Category
		report.Threshold = st.Threshold
		report.Resolution = st.Reason
		report.Insufficient = st.Reason != types.ResolvedByThreshold
		report.Attempts = st.Attempts
		report.ToolsTried = st.Tried
		if report.Evidence == nil {
			report.Evidence = []types.Evidence{}
		}
		bundle.Categories[st.Category] = report

		r.metrics.ObserveResolution(string(st.Category), string(st.Reason), report.Confidence)
		r.logger.Debug("category finished",
			zap.String("category", string(st.Category)),
			zap.String("resolution", string(st.Reason)),
			zap.Float64("confidence", report.Confidence),
			zap.Int("attempts", st.Attempts),
			zap.Int("evidence", len(report.Evidence)))
	}
	return bundle
}
