package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/internal/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "marketintel", cfg.Name)
	assert.Equal(t, 12, cfg.Loop.StepBudget)
	require.Len(t, cfg.Categories, 5)
	assert.Equal(t, "competitors", cfg.Categories[0].Name)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("MARKETINTEL_STEP_BUDGET", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Loop, cfg.Loop)
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marketintel.yaml")
	yaml := `
loop:
  step_budget: 4
  parallelism: 2
  grace_period: 250ms
categories:
  - name: funding
    threshold: 0.7
    max_attempts: 2
  - name: competitors
    threshold: 0.6
    max_attempts: 3
tools:
  webSearch:
    category: funding
    priority: 5
    reliability_weight: 0.4
    timeout_ms: 1500
scoring:
  weights:
    reliability: 1
    completeness: 2
    freshness: 1
  stale_factor: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Loop.StepBudget)
	assert.Equal(t, 250*time.Millisecond, cfg.GetGracePeriod())

	specs := cfg.CategorySpecs()
	require.Len(t, specs, 2)
	assert.Equal(t, types.CategoryFunding, specs[0].Name, "list order is priority order")
	assert.Equal(t, 0.7, specs[0].Threshold)

	web := cfg.Tools[ToolWebSearch]
	assert.Equal(t, []types.Category{types.CategoryFunding}, web.CategoryList())
	assert.Equal(t, 1500*time.Millisecond, web.Timeout())

	b := cfg.Bindings()[ToolWebSearch]
	require.NotNil(t, b.Reliability)
	assert.Equal(t, 0.4, *b.Reliability)
	assert.Equal(t, 5, b.Priority)

	sc := cfg.ScorerConfig()
	assert.Equal(t, 2.0, sc.Weights.Completeness)
	assert.Equal(t, 0.5, sc.StaleFactor)
	assert.Contains(t, sc.ExpectedFields, "competitor")
}

func TestLoadDisabledToolAndUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marketintel.yaml")
	yaml := `
tools:
  newsFeed:
    disabled: true
    options:
      region: GB
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled(ToolNewsFeed))
	assert.NotContains(t, cfg.Bindings(), ToolNewsFeed)
	assert.True(t, cfg.Enabled(ToolWebSearch))
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loop: [unterminated"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "marketintel.yaml")
	cfg := DefaultConfig()
	cfg.Loop.StepBudget = 9
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Loop.StepBudget)
	assert.Equal(t, cfg.Categories, loaded.Categories)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("step budget and dataset dir", func(t *testing.T) {
		t.Setenv("MARKETINTEL_STEP_BUDGET", "20")
		t.Setenv("MARKETINTEL_DATASET_DIR", "/srv/data")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 20, cfg.Loop.StepBudget)
		assert.Equal(t, "/srv/data", cfg.Dataset.Dir)
	})

	t.Run("invalid step budget is ignored", func(t *testing.T) {
		t.Setenv("MARKETINTEL_STEP_BUDGET", "lots")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, 12, cfg.Loop.StepBudget)
	})

	t.Run("GEMINI_API_KEY sets provider if empty", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "gem-key")
		cfg := &Config{}
		cfg.applyEnvOverrides()
		assert.Equal(t, "gem-key", cfg.Embedding.GenAIAPIKey)
		assert.Equal(t, "genai", cfg.Embedding.Provider)
	})

	t.Run("GEMINI_API_KEY keeps configured provider", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "gem-key")
		cfg := &Config{Embedding: EmbeddingConfig{Provider: "ollama"}}
		cfg.applyEnvOverrides()
		assert.Equal(t, "ollama", cfg.Embedding.Provider)
	})

	t.Run("OLLAMA_HOST and MARKETINTEL_DB", func(t *testing.T) {
		t.Setenv("OLLAMA_HOST", "http://gpu:11434")
		t.Setenv("MARKETINTEL_DB", "/tmp/runs.db")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "http://gpu:11434", cfg.Embedding.OllamaEndpoint)
		assert.Equal(t, "/tmp/runs.db", cfg.Store.Path)
	})
}

func TestValidate(t *testing.T) {
	bad := -0.1
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero budget", func(c *Config) { c.Loop.StepBudget = 0 }},
		{"negative parallelism", func(c *Config) { c.Loop.Parallelism = -1 }},
		{"no categories", func(c *Config) { c.Categories = nil }},
		{"duplicate category", func(c *Config) { c.Categories = append(c.Categories, c.Categories[0]) }},
		{"threshold out of range", func(c *Config) { c.Categories[1].Threshold = 1.5 }},
		{"zero attempts", func(c *Config) { c.Categories[2].MaxAttempts = 0 }},
		{"negative weight", func(c *Config) { c.Scoring.Weights.Freshness = -1 }},
		{"stale factor", func(c *Config) { c.Scoring.StaleFactor = 2 }},
		{"tool reliability", func(c *Config) {
			tc := c.Tools[ToolNewsFeed]
			tc.ReliabilityWeight = &bad
			c.Tools[ToolNewsFeed] = tc
		}},
		{"embedding provider", func(c *Config) { c.Embedding.Provider = "word2vec" }},
		{"logging format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestToolsEnabledAndBindings(t *testing.T) {
	cfg := DefaultConfig()
	tc := cfg.Tools[ToolRAGRetrieval]
	tc.Disabled = true
	cfg.Tools[ToolRAGRetrieval] = tc

	assert.False(t, cfg.Enabled(ToolRAGRetrieval))
	assert.True(t, cfg.Enabled(ToolDatasetLookup))
	assert.True(t, cfg.Enabled("customTool"))

	bindings := cfg.Bindings()
	assert.NotContains(t, bindings, ToolRAGRetrieval)
	assert.Len(t, bindings[ToolWebSearch].Categories, 5)
	assert.Equal(t, 5*time.Second, bindings[ToolDatasetLookup].Timeout)
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 5*time.Second, cfg.GetGracePeriod())
	assert.Equal(t, 2*time.Minute, cfg.GetRunTimeout())
	assert.Equal(t, 365*24*time.Hour, cfg.GetFreshnessWindow())
	assert.Equal(t, 15*time.Minute, cfg.GetCacheTTL())
}
