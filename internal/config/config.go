package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"marketintel/internal/fallback"
	"marketintel/internal/scoring"
	"marketintel/internal/types"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "marketintel.yaml"

// Config holds all marketintel configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Reasoning loop bounds
	Loop LoopConfig `yaml:"loop"`

	// Categories in priority order
	Categories []CategoryConfig `yaml:"categories"`

	// Per-tool overlays keyed by tool id
	Tools map[string]ToolConfig `yaml:"tools"`

	// Confidence scoring
	Scoring ScoringConfig `yaml:"scoring"`

	// Tool backends
	Dataset   DatasetConfig   `yaml:"dataset"`
	RAG       RAGConfig       `yaml:"rag"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	News      NewsConfig      `yaml:"news"`
	Search    SearchConfig    `yaml:"search"`
	Finance   FinanceConfig   `yaml:"finance"`
	Cache     CacheConfig     `yaml:"cache"`

	// Persistence and observability
	Store   StoreConfig   `yaml:"store"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// LoopConfig bounds one reasoning run.
type LoopConfig struct {
	StepBudget  int    `yaml:"step_budget"`
	Parallelism int    `yaml:"parallelism"`
	GracePeriod string `yaml:"grace_period"`
	RunTimeout  string `yaml:"run_timeout"`
}

// CategoryConfig configures one category. Its priority is its list position.
type CategoryConfig struct {
	Name        string  `yaml:"name"`
	Threshold   float64 `yaml:"threshold"`
	MaxAttempts int     `yaml:"max_attempts"`
}

// ScoringConfig configures the confidence scorer.
type ScoringConfig struct {
	Weights         scoring.Weights     `yaml:"weights"`
	FreshnessWindow string              `yaml:"freshness_window"`
	StaleFactor     float64             `yaml:"stale_factor"`
	ExpectedFields  map[string][]string `yaml:"expected_fields,omitempty"`
}

// DatasetConfig locates the startup and investment CSV files.
type DatasetConfig struct {
	Dir             string `yaml:"dir"`
	StartupsFile    string `yaml:"startups_file"`
	InvestmentsFile string `yaml:"investments_file"`
	MaxResults      int    `yaml:"max_results"`
}

// RAGConfig configures the local corpus retriever.
type RAGConfig struct {
	CorpusDir     string  `yaml:"corpus_dir"`
	TopK          int     `yaml:"top_k"`
	MinSimilarity float64 `yaml:"min_similarity"`
}

// EmbeddingConfig configures the embedding engine used by the retriever.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // ollama, genai
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key,omitempty"`
	GenAIModel     string `yaml:"genai_model"`
	TaskType       string `yaml:"task_type"`
}

// NewsConfig configures the RSS news tool.
type NewsConfig struct {
	Endpoint string `yaml:"endpoint"`
	Language string `yaml:"language"`
	Region   string `yaml:"region"`
	MaxItems int    `yaml:"max_items"`
}

// SearchConfig configures the web search tool.
type SearchConfig struct {
	Endpoint   string `yaml:"endpoint"`
	MaxResults int    `yaml:"max_results"`
	UserAgent  string `yaml:"user_agent"`
}

// FinanceConfig configures the market data tool.
type FinanceConfig struct {
	SearchEndpoint string `yaml:"search_endpoint"`
	ChartEndpoint  string `yaml:"chart_endpoint"`
	MaxSymbols     int    `yaml:"max_symbols"`
}

// CacheConfig configures the tool-internal response cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Size    int    `yaml:"size"`
	TTL     string `yaml:"ttl"`
}

// StoreConfig configures run persistence.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "marketintel",
		Version: "0.3.0",

		Loop: LoopConfig{
			StepBudget:  12,
			Parallelism: 3,
			GracePeriod: "5s",
			RunTimeout:  "2m",
		},

		Categories: []CategoryConfig{
			{Name: string(types.CategoryCompetitors), Threshold: 0.6, MaxAttempts: 3},
			{Name: string(types.CategoryFunding), Threshold: 0.6, MaxAttempts: 2},
			{Name: string(types.CategoryTrends), Threshold: 0.5, MaxAttempts: 2},
			{Name: string(types.CategoryNews), Threshold: 0.5, MaxAttempts: 2},
			{Name: string(types.CategoryFinancials), Threshold: 0.5, MaxAttempts: 2},
		},

		Tools: DefaultTools(),

		Scoring: ScoringConfig{
			Weights:         scoring.Weights{Reliability: 1, Completeness: 1, Freshness: 1},
			FreshnessWindow: "8760h",
			StaleFactor:     0.75,
		},

		Dataset: DatasetConfig{
			Dir:             "data",
			StartupsFile:    "startups.csv",
			InvestmentsFile: "investments.csv",
			MaxResults:      5,
		},

		RAG: RAGConfig{
			CorpusDir:     "data/corpus",
			TopK:          5,
			MinSimilarity: 0.35,
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "RETRIEVAL_QUERY",
		},

		News: NewsConfig{
			Endpoint: "https://news.google.com/rss/search",
			Language: "en-US",
			Region:   "US",
			MaxItems: 10,
		},

		Search: SearchConfig{
			Endpoint:   "https://html.duckduckgo.com/html/",
			MaxResults: 5,
			UserAgent:  "Mozilla/5.0 (compatible; marketintel/0.3)",
		},

		Finance: FinanceConfig{
			SearchEndpoint: "https://query2.finance.yahoo.com/v1/finance/search",
			ChartEndpoint:  "https://query1.finance.yahoo.com/v8/finance/chart/",
			MaxSymbols:     3,
		},

		Cache: CacheConfig{
			Enabled: true,
			Size:    256,
			TTL:     "15m",
		},

		Store: StoreConfig{
			Enabled: true,
			Path:    "data/marketintel.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MARKETINTEL_STEP_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Loop.StepBudget = n
		}
	}
	if dir := os.Getenv("MARKETINTEL_DATASET_DIR"); dir != "" {
		c.Dataset.Dir = dir
	}

	// Embedding backends
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
		if c.Embedding.Provider == "" {
			c.Embedding.Provider = "genai"
		}
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.Embedding.OllamaEndpoint = host
	}

	// Database path from environment
	if path := os.Getenv("MARKETINTEL_DB"); path != "" {
		c.Store.Path = path
	}
}

// GetGracePeriod returns the cancellation grace period as a duration.
func (c *Config) GetGracePeriod() time.Duration {
	return parseDuration(c.Loop.GracePeriod, 5*time.Second)
}

// GetRunTimeout returns the run timeout as a duration.
func (c *Config) GetRunTimeout() time.Duration {
	return parseDuration(c.Loop.RunTimeout, 2*time.Minute)
}

// GetFreshnessWindow returns the scorer freshness window as a duration.
func (c *Config) GetFreshnessWindow() time.Duration {
	return parseDuration(c.Scoring.FreshnessWindow, 365*24*time.Hour)
}

// GetCacheTTL returns the tool cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	return parseDuration(c.Cache.TTL, 15*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// CategorySpecs converts the category list into fallback specs, keeping order.
func (c *Config) CategorySpecs() []fallback.CategorySpec {
	specs := make([]fallback.CategorySpec, 0, len(c.Categories))
	for _, cat := range c.Categories {
		specs = append(specs, fallback.CategorySpec{
			Name:        types.Category(cat.Name),
			Threshold:   cat.Threshold,
			MaxAttempts: cat.MaxAttempts,
		})
	}
	return specs
}

// ScorerConfig converts the scoring section into a scorer config.
func (c *Config) ScorerConfig() scoring.Config {
	cfg := scoring.DefaultConfig()
	cfg.Weights = c.Scoring.Weights
	cfg.FreshnessWindow = c.GetFreshnessWindow()
	cfg.StaleFactor = c.Scoring.StaleFactor
	for kind, fields := range c.Scoring.ExpectedFields {
		cfg.ExpectedFields[kind] = fields
	}
	return cfg
}

// ValidEmbeddingProviders lists the supported embedding providers.
var ValidEmbeddingProviders = []string{"ollama", "genai"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Loop.StepBudget < 1 {
		return fmt.Errorf("loop.step_budget must be at least 1, got %d", c.Loop.StepBudget)
	}
	if c.Loop.Parallelism < 0 {
		return fmt.Errorf("loop.parallelism cannot be negative, got %d", c.Loop.Parallelism)
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("at least one category must be configured")
	}

	seen := make(map[string]bool, len(c.Categories))
	for _, cat := range c.Categories {
		if cat.Name == "" {
			return fmt.Errorf("category name cannot be empty")
		}
		if seen[cat.Name] {
			return fmt.Errorf("duplicate category: %s", cat.Name)
		}
		seen[cat.Name] = true
		if cat.Threshold < 0 || cat.Threshold > 1 {
			return fmt.Errorf("category %s: threshold %v outside [0,1]", cat.Name, cat.Threshold)
		}
		if cat.MaxAttempts < 1 {
			return fmt.Errorf("category %s: max_attempts must be at least 1", cat.Name)
		}
	}

	w := c.Scoring.Weights
	if w.Reliability < 0 || w.Completeness < 0 || w.Freshness < 0 {
		return fmt.Errorf("scoring weights cannot be negative")
	}
	if c.Scoring.StaleFactor < 0 || c.Scoring.StaleFactor > 1 {
		return fmt.Errorf("scoring.stale_factor %v outside [0,1]", c.Scoring.StaleFactor)
	}

	for name, tc := range c.Tools {
		if err := tc.validate(); err != nil {
			return fmt.Errorf("tool %s: %w", name, err)
		}
	}

	validProvider := false
	for _, p := range ValidEmbeddingProviders {
		if c.Embedding.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid embedding provider: %s (valid: %v)", c.Embedding.Provider, ValidEmbeddingProviders)
	}

	return c.Logging.validate()
}
