package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketintel/internal/config"
	"marketintel/internal/store"
	"marketintel/internal/tools/dataset"
	"marketintel/internal/types"
)

// offlineConfig returns a config that only uses the dataset tool, backed by
// the built-in sample tables, and a store under a temp dir.
func offlineConfig(t *testing.T) *config.Config {
	t.Helper()
	c := config.DefaultConfig()
	c.Categories = c.Categories[:2] // competitors, funding
	for _, name := range []string{config.ToolRAGRetrieval, config.ToolNewsFeed, config.ToolYahooFinance, config.ToolWebSearch} {
		tc := c.Tools[name]
		tc.Disabled = true
		c.Tools[name] = tc
	}
	c.Dataset.Dir = t.TempDir()
	c.Store.Path = filepath.Join(t.TempDir(), "runs.db")
	c.Loop.StepBudget = 6
	return c
}

func testCommand() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())
	return cmd, &buf
}

func TestAssembleQuery(t *testing.T) {
	dir := t.TempDir()
	yamlFile := filepath.Join(dir, "idea.yaml")
	require.NoError(t, os.WriteFile(yamlFile, []byte("domain: health\nsegment: women\nkeywords: [femtech, cycle]\n"), 0644))
	jsonFile := filepath.Join(dir, "idea.json")
	require.NoError(t, os.WriteFile(jsonFile, []byte(`{"domain": "finance", "value_proposition": "instant payouts"}`), 0644))

	tests := []struct {
		name  string
		path  string
		flags types.Query
		want  types.Query
	}{
		{
			name:  "flags only",
			flags: types.Query{Domain: "education", Keywords: []string{" tutoring ", ""}},
			want:  types.Query{Domain: "education", Keywords: []string{"tutoring"}},
		},
		{
			name:  "yaml file with flag override",
			path:  yamlFile,
			flags: types.Query{Segment: "teens"},
			want:  types.Query{Domain: "health", Segment: "teens", Keywords: []string{"femtech", "cycle"}},
		},
		{
			name: "json file",
			path: jsonFile,
			want: types.Query{Domain: "finance", ValueProposition: "instant payouts"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := assembleQuery(tt.path, tt.flags)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := assembleQuery("", types.Query{Segment: "women"})
	assert.ErrorIs(t, err, types.ErrEmptyDomain)

	_, err = assembleQuery(filepath.Join(dir, "missing.yaml"), types.Query{Domain: "x"})
	assert.Error(t, err)
}

func TestBuildRegistry(t *testing.T) {
	t.Run("disabled tools are not registered", func(t *testing.T) {
		c := offlineConfig(t)
		reg, err := buildRegistry(c, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, []string{dataset.ToolName}, reg.Names())
		assert.Equal(t, 0.9, reg.Reliability(dataset.ToolName))
	})

	t.Run("bindings override built-in settings", func(t *testing.T) {
		c := config.DefaultConfig()
		c.Dataset.Dir = t.TempDir()
		web := c.Tools[config.ToolWebSearch]
		web.Categories = []string{string(types.CategoryNews)}
		web.Priority = 95
		c.Tools[config.ToolWebSearch] = web

		reg, err := buildRegistry(c, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, []string{config.ToolWebSearch, config.ToolNewsFeed}, reg.Eligible(types.CategoryNews))
		assert.NotContains(t, reg.Eligible(types.CategoryFunding), config.ToolWebSearch)
	})

	t.Run("unavailable embedding backend skips the retriever", func(t *testing.T) {
		c := offlineConfig(t)
		rag := c.Tools[config.ToolRAGRetrieval]
		rag.Disabled = false
		c.Tools[config.ToolRAGRetrieval] = rag
		c.Embedding.Provider = "genai"
		c.Embedding.GenAIAPIKey = ""

		reg, err := buildRegistry(c, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.False(t, reg.Has(config.ToolRAGRetrieval))
	})
}

func TestEmbeddingConfig(t *testing.T) {
	ec := embeddingConfig(config.EmbeddingConfig{Provider: "genai", GenAIAPIKey: "k"})
	assert.Equal(t, "genai", ec.Provider)
	assert.Equal(t, "k", ec.GenAIAPIKey)
	assert.Equal(t, "gemini-embedding-001", ec.GenAIModel)
	assert.Equal(t, "http://localhost:11434", ec.OllamaEndpoint)
}

func TestRunAnalysisPersistsRun(t *testing.T) {
	c := offlineConfig(t)
	q := types.Query{Domain: "health", Keywords: []string{"tracking"}}

	bundle, err := runAnalysis(context.Background(), c, q, zap.NewNop(), nil)
	require.NoError(t, err)

	assert.Equal(t, []types.Category{types.CategoryCompetitors, types.CategoryFunding}, bundle.Order)
	comp, ok := bundle.Report(types.CategoryCompetitors)
	require.True(t, ok)
	assert.Equal(t, types.ResolvedByThreshold, comp.Resolution)
	assert.InDelta(t, 0.9, comp.Confidence, 1e-9)
	fund, _ := bundle.Report(types.CategoryFunding)
	assert.Equal(t, types.ResolvedByThreshold, fund.Resolution, "stale rounds still clear 0.6")
	assert.Equal(t, 2, bundle.StepsUsed)

	st, err := store.Open(c.Store.Path)
	require.NoError(t, err)
	defer st.Close()
	stored, err := st.LoadBundle(context.Background(), bundle.RunID)
	require.NoError(t, err)
	assert.Equal(t, bundle.Summary(), stored.Summary())
	cycles, err := st.Cycles(context.Background(), bundle.RunID)
	require.NoError(t, err)
	assert.Len(t, cycles, bundle.StepsUsed)
}

func TestRunAnalysisConfigurationError(t *testing.T) {
	c := offlineConfig(t)
	c.Categories = append(c.Categories, config.CategoryConfig{Name: "news", Threshold: 0.5, MaxAttempts: 1})
	c.Store.Enabled = false

	_, err := runAnalysis(context.Background(), c, types.Query{Domain: "health"}, zap.NewNop(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "news")
}

func TestCommandsAgainstStore(t *testing.T) {
	cfg = offlineConfig(t)
	logger = zap.NewNop()
	t.Cleanup(func() { cfg, logger = nil, nil })

	cmd, out := testCommand()
	require.NoError(t, listHistory(cmd, nil))
	assert.Contains(t, out.String(), "No runs recorded.")

	bundle, err := runAnalysis(context.Background(), cfg, types.Query{Domain: "finance"}, logger, nil)
	require.NoError(t, err)

	cmd, out = testCommand()
	require.NoError(t, listHistory(cmd, nil))
	assert.Contains(t, out.String(), bundle.RunID)
	assert.Contains(t, out.String(), "finance")

	cmd, out = testCommand()
	require.NoError(t, showRun(cmd, []string{bundle.RunID}))
	assert.Contains(t, out.String(), `"run_id": "`+bundle.RunID+`"`)

	showCycles = true
	t.Cleanup(func() { showCycles = false })
	cmd, out = testCommand()
	require.NoError(t, showRun(cmd, []string{bundle.RunID}))
	assert.Contains(t, out.String(), `"tool": "datasetLookup"`)

	showCycles = false
	cmd, _ = testCommand()
	assert.ErrorIs(t, showRun(cmd, []string{"missing"}), store.ErrRunNotFound)
}

func TestListTools(t *testing.T) {
	cfg = config.DefaultConfig()
	cfg.Dataset.Dir = t.TempDir()
	cfg.Embedding.Provider = "genai" // no key: retriever is skipped
	logger = zap.NewNop()
	t.Cleanup(func() { cfg, logger = nil, nil })

	cmd, out := testCommand()
	require.NoError(t, listTools(cmd, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5, "header plus four tools")
	assert.True(t, strings.HasPrefix(lines[0], "TOOL"))
	assert.Contains(t, out.String(), "competitors,funding")
	assert.Contains(t, out.String(), "5s")
}
