// Package scoring turns raw tool records into confidence values in [0,1].
//
// A score is the weighted geometric product of three factors:
//
//	R  static reliability of the tool that produced the record
//	C  completeness: populated expected fields / expected fields for the record kind
//	F  freshness: 1 when fresh or undated, StaleFactor once older than FreshnessWindow
//
// score = clamp(R^wR · C^wC · F^wF, 0, 1)
//
// Scores depend only on their inputs. The observation time is taken from the
// Observation, never from the wall clock.
package scoring

import (
	"math"
	"strings"
	"time"

	"marketintel/internal/types"
)

// Weights are the exponents applied to each factor. A zero weight removes
// the factor from the product.
type Weights struct {
	Reliability  float64 `yaml:"reliability" json:"reliability"`
	Completeness float64 `yaml:"completeness" json:"completeness"`
	Freshness    float64 `yaml:"freshness" json:"freshness"`
}

// Config holds the deployment-tunable scoring surface.
type Config struct {
	Weights         Weights
	FreshnessWindow time.Duration
	StaleFactor     float64

	// ExpectedFields lists, per record kind, the fields a complete record carries.
	ExpectedFields map[string][]string
}

// DefaultExpectedFields returns the field sets of the built-in record kinds.
func DefaultExpectedFields() map[string][]string {
	return map[string][]string{
		"competitor":    {"name", "industry", "description", "funding", "year"},
		"funding_round": {"company", "round", "amount_usd", "date", "investors"},
		"article":       {"title", "url", "snippet", "source", "published"},
		"quote":         {"symbol", "name", "currency", "price", "previous_close", "exchange"},
		"passage":       {"text", "source", "similarity"},
	}
}

// DefaultConfig returns unit weights, a one-year freshness window and a 0.75 stale factor.
func DefaultConfig() Config {
	return Config{
		Weights:         Weights{Reliability: 1, Completeness: 1, Freshness: 1},
		FreshnessWindow: 365 * 24 * time.Hour,
		StaleFactor:     0.75,
		ExpectedFields:  DefaultExpectedFields(),
	}
}

// Scorer computes record confidence. It is immutable after construction and
// safe for concurrent use.
type Scorer struct {
	cfg Config
}

// New creates a scorer. Negative weights are treated as zero and the stale
// factor is clamped to [0,1].
func New(cfg Config) *Scorer {
	cfg.Weights.Reliability = math.Max(0, cfg.Weights.Reliability)
	cfg.Weights.Completeness = math.Max(0, cfg.Weights.Completeness)
	cfg.Weights.Freshness = math.Max(0, cfg.Weights.Freshness)
	cfg.StaleFactor = Clamp(cfg.StaleFactor)
	if cfg.ExpectedFields == nil {
		cfg.ExpectedFields = DefaultExpectedFields()
	}
	return &Scorer{cfg: cfg}
}

// Config returns the scorer's effective configuration.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score computes the confidence of one record produced by a tool with the
// given reliability, observed at observedAt.
func (s *Scorer) Score(rec types.Record, reliability float64, observedAt time.Time) float64 {
	r := Clamp(reliability)
	c := s.Completeness(rec)
	f := s.Freshness(rec, observedAt)

	w := s.cfg.Weights
	return Clamp(pow(r, w.Reliability) * pow(c, w.Completeness) * pow(f, w.Freshness))
}

// ScoreObservation scores every record of a successful observation, in order.
// Failed observations score nothing.
func (s *Scorer) ScoreObservation(obs types.Observation, reliability float64) []float64 {
	if !obs.Success {
		return nil
	}
	out := make([]float64, len(obs.Records))
	for i, rec := range obs.Records {
		out[i] = s.Score(rec, reliability, obs.ObservedAt)
	}
	return out
}

// Completeness returns the fraction of expected fields the record populates.
// Unknown kinds are measured against the fields they provide.
func (s *Scorer) Completeness(rec types.Record) float64 {
	expected, ok := s.cfg.ExpectedFields[rec.Kind]
	if !ok || len(expected) == 0 {
		if len(rec.Fields) == 0 {
			return 0
		}
		populated := 0
		for _, v := range rec.Fields {
			if strings.TrimSpace(v) != "" {
				populated++
			}
		}
		return float64(populated) / float64(len(rec.Fields))
	}

	populated := 0
	for _, name := range expected {
		if strings.TrimSpace(rec.Fields[name]) != "" {
			populated++
		}
	}
	return float64(populated) / float64(len(expected))
}

// Freshness returns 1 for undated or fresh records and StaleFactor otherwise.
func (s *Scorer) Freshness(rec types.Record, observedAt time.Time) float64 {
	if rec.Timestamp.IsZero() || s.cfg.FreshnessWindow <= 0 {
		return 1
	}
	if observedAt.Sub(rec.Timestamp) > s.cfg.FreshnessWindow {
		return s.cfg.StaleFactor
	}
	return 1
}

// Clamp bounds v to [0,1]. NaN maps to 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func pow(base, exp float64) float64 {
	if exp == 0 {
		return 1
	}
	if exp == 1 {
		return base
	}
	return math.Pow(base, exp)
}
