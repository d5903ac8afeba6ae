package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryValidate(t *testing.T) {
	assert.ErrorIs(t, Query{}.Validate(), ErrEmptyDomain)
	assert.ErrorIs(t, Query{Domain: "   "}.Validate(), ErrEmptyDomain)
	assert.NoError(t, Query{Domain: "health"}.Validate())
}

func TestQueryParams(t *testing.T) {
	q := Query{
		Domain:           " health ",
		Segment:          "women 18-35",
		ValueProposition: "cycle tracking",
		Keywords:         []string{"femtech", "app"},
	}
	params := q.Params()
	assert.Equal(t, "health", params["domain"])
	assert.Equal(t, "women 18-35", params["segment"])
	assert.Equal(t, "cycle tracking", params["value_proposition"])
	assert.Equal(t, "femtech,app", params["keywords"])

	bare := Query{Domain: "finance"}.Params()
	assert.Len(t, bare, 1)
}

func TestActionStepListParam(t *testing.T) {
	step := ActionStep{Params: map[string]string{"competitors": "A, B,,  C "}}
	assert.Equal(t, []string{"A", "B", "C"}, step.ListParam("competitors"))
	assert.Nil(t, step.ListParam("missing"))
}

func TestEvidenceIdentityKey(t *testing.T) {
	a := Evidence{Category: CategoryFunding, Key: "HealthTrack|Seed"}
	b := Evidence{Category: CategoryFunding, Key: " healthtrack|seed "}
	c := Evidence{Category: CategoryCompetitors, Key: "HealthTrack|Seed"}
	assert.Equal(t, a.IdentityKey(), b.IdentityKey())
	assert.NotEqual(t, a.IdentityKey(), c.IdentityKey())
}

func TestEvidenceCloneIsDeep(t *testing.T) {
	ev := Evidence{Value: map[string]string{"name": "HealthTrack"}}
	c := ev.Clone()
	c.Value["name"] = "changed"
	assert.Equal(t, "HealthTrack", ev.Value["name"])
}

func TestFromRecord(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	obs := Observation{Tool: "datasetLookup", ObservedAt: at, Step: ActionStep{Seq: 4}}
	rec := Record{Key: "HealthTrack", Kind: "competitor", Fields: map[string]string{"name": "HealthTrack"}, Citation: "dataset:startups.csv#2"}

	ev := FromRecord(CategoryCompetitors, obs, rec, 0.9)
	assert.Equal(t, CategoryCompetitors, ev.Category)
	assert.Equal(t, "datasetLookup", ev.Tool)
	assert.Equal(t, 4, ev.Step)
	assert.Equal(t, at, ev.ObservedAt)
	assert.Equal(t, 0.9, ev.Confidence)

	rec.Fields["name"] = "mutated"
	assert.Equal(t, "HealthTrack", ev.Value["name"])
}

func TestCategoryReportActiveAndCitations(t *testing.T) {
	r := CategoryReport{Evidence: []Evidence{
		{Key: "a", Citation: "https://b.example"},
		{Key: "a", Citation: "https://old.example", Superseded: true},
		{Key: "c", Citation: "https://a.example"},
		{Key: "d", Citation: "https://a.example"},
	}}
	require.Len(t, r.Active(), 3)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, r.Citations())
}

func TestBundleGapsAndSummary(t *testing.T) {
	b := &EvidenceBundle{
		Order: []Category{CategoryCompetitors, CategoryFunding},
		Categories: map[Category]CategoryReport{
			CategoryCompetitors: {Resolution: ResolvedByThreshold},
			CategoryFunding:     {Resolution: ExhaustedFallbacks, Insufficient: true},
		},
		StepsUsed:  3,
		StepBudget: 10,
	}
	assert.Equal(t, []Category{CategoryFunding}, b.Gaps())
	assert.Equal(t, "1/2 categories resolved, 3/10 steps used", b.Summary())
}
