// Package metrics exposes Prometheus instrumentation for tool invocations,
// category resolutions and run budgets.
//
// All Recorder methods are safe on a nil receiver so callers can leave
// metrics unconfigured without guarding every call site.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marketintel"

// Recorder holds the collectors for one process.
type Recorder struct {
	toolLatency     *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
	toolFailures    *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	categoryScore   *prometheus.HistogramVec
	stepsUsed       prometheus.Histogram
	runs            prometheus.Counter
	cacheOperations *prometheus.CounterVec
}

// NewRecorder creates the collectors and registers them with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		toolLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_invoke_latency_seconds",
				Help:      "The latency of tool invocations.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"tool"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_invocations_total",
				Help:      "The count of tool invocations.",
			},
			[]string{"tool"},
		),
		toolFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_failures_total",
				Help:      "The count of tool invocations that produced no usable result.",
			},
			[]string{"tool", "kind"},
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "category_resolutions_total",
				Help:      "The count of categories reaching a terminal state.",
			},
			[]string{"category", "resolution"},
		),
		categoryScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "category_confidence",
				Help:      "The final coverage confidence per category.",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"category"},
		),
		stepsUsed: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_steps_used",
				Help:      "The number of steps consumed per run.",
				Buckets:   prometheus.LinearBuckets(1, 2, 12),
			},
		),
		runs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "The count of completed runs.",
			},
		),
		cacheOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_cache_operations_total",
				Help:      "The count of tool cache lookups by outcome.",
			},
			[]string{"tool", "outcome"},
		),
	}

	for _, c := range []prometheus.Collector{
		r.toolLatency, r.toolCalls, r.toolFailures, r.resolutions,
		r.categoryScore, r.stepsUsed, r.runs, r.cacheOperations,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveTool records one invocation. An empty failure means success.
func (r *Recorder) ObserveTool(tool, failure string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.toolCalls.WithLabelValues(tool).Inc()
	r.toolLatency.WithLabelValues(tool).Observe(elapsed.Seconds())
	if failure != "" {
		r.toolFailures.WithLabelValues(tool, failure).Inc()
	}
}

// ObserveResolution records a category reaching its terminal state.
func (r *Recorder) ObserveResolution(category, resolution string, confidence float64) {
	if r == nil {
		return
	}
	r.resolutions.WithLabelValues(category, resolution).Inc()
	r.categoryScore.WithLabelValues(category).Observe(confidence)
}

// ObserveRun records a completed run.
func (r *Recorder) ObserveRun(stepsUsed int) {
	if r == nil {
		return
	}
	r.runs.Inc()
	r.stepsUsed.Observe(float64(stepsUsed))
}

// ObserveCache records a cache lookup; hit is false for a miss.
func (r *Recorder) ObserveCache(tool string, hit bool) {
	if r == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	r.cacheOperations.WithLabelValues(tool, outcome).Inc()
}
