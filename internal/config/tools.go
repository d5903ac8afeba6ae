package config

import (
	"fmt"
	"time"

	"marketintel/internal/tools"
	"marketintel/internal/types"
)

// Built-in tool ids.
const (
	ToolDatasetLookup = "datasetLookup"
	ToolRAGRetrieval  = "ragRetrieval"
	ToolNewsFeed      = "newsFeed"
	ToolYahooFinance  = "yahooFinance"
	ToolWebSearch     = "webSearch"
)

// ToolConfig overlays deployment settings onto a registered tool.
// Zero values keep the tool's built-in setting.
type ToolConfig struct {
	// Category is shorthand for a single-element Categories.
	Category          string   `yaml:"category,omitempty"`
	Categories        []string `yaml:"categories,omitempty"`
	Priority          int      `yaml:"priority,omitempty"`
	ReliabilityWeight *float64 `yaml:"reliability_weight,omitempty"`
	TimeoutMs         int      `yaml:"timeout_ms,omitempty"`
	Disabled          bool     `yaml:"disabled,omitempty"`
}

func weight(v float64) *float64 { return &v }

// DefaultTools returns the built-in tool overlays.
func DefaultTools() map[string]ToolConfig {
	all := make([]string, 0, len(types.DefaultCategories()))
	for _, c := range types.DefaultCategories() {
		all = append(all, string(c))
	}
	return map[string]ToolConfig{
		ToolDatasetLookup: {
			Categories:        []string{string(types.CategoryCompetitors), string(types.CategoryFunding)},
			Priority:          100,
			ReliabilityWeight: weight(0.9),
			TimeoutMs:         5000,
		},
		ToolYahooFinance: {
			Category:          string(types.CategoryFinancials),
			Priority:          90,
			ReliabilityWeight: weight(0.85),
			TimeoutMs:         10000,
		},
		ToolRAGRetrieval: {
			Categories:        []string{string(types.CategoryTrends), string(types.CategoryCompetitors)},
			Priority:          80,
			ReliabilityWeight: weight(0.8),
			TimeoutMs:         15000,
		},
		ToolNewsFeed: {
			Categories:        []string{string(types.CategoryNews), string(types.CategoryTrends)},
			Priority:          70,
			ReliabilityWeight: weight(0.7),
			TimeoutMs:         10000,
		},
		ToolWebSearch: {
			Categories:        all,
			Priority:          10,
			ReliabilityWeight: weight(0.5),
			TimeoutMs:         10000,
		},
	}
}

func (t ToolConfig) validate() error {
	if t.ReliabilityWeight != nil && (*t.ReliabilityWeight < 0 || *t.ReliabilityWeight > 1) {
		return fmt.Errorf("reliability_weight %v outside [0,1]", *t.ReliabilityWeight)
	}
	if t.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms cannot be negative")
	}
	return nil
}

// CategoryList returns the configured categories, merging Category and Categories.
func (t ToolConfig) CategoryList() []types.Category {
	var out []types.Category
	if t.Category != "" {
		out = append(out, types.Category(t.Category))
	}
	for _, c := range t.Categories {
		if c != "" && c != t.Category {
			out = append(out, types.Category(c))
		}
	}
	return out
}

// Timeout returns the per-call timeout, zero when unset.
func (t ToolConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutMs) * time.Millisecond
}

// Enabled reports whether a tool id is enabled. Tools without an entry are enabled.
func (c *Config) Enabled(tool string) bool {
	tc, ok := c.Tools[tool]
	return !ok || !tc.Disabled
}

// Bindings converts the enabled tool overlays into registry bindings.
func (c *Config) Bindings() map[string]tools.Binding {
	out := make(map[string]tools.Binding, len(c.Tools))
	for name, tc := range c.Tools {
		if tc.Disabled {
			continue
		}
		out[name] = tools.Binding{
			Categories:  tc.CategoryList(),
			Priority:    tc.Priority,
			Reliability: tc.ReliabilityWeight,
			Timeout:     tc.Timeout(),
		}
	}
	return out
}
