package research

import (
	"marketintel/internal/tools"
)

// Config selects and configures the research tools to register.
type Config struct {
	Search  []WebSearchOption
	News    NewsConfig
	Finance FinanceConfig

	// Cache wraps every tool with Cached when non-nil.
	Cache *CacheOptions

	// Enabled filters tools by registry id; nil enables all.
	Enabled func(name string) bool
}

// Tools builds the enabled research tools.
func Tools(cfg Config) []*tools.Tool {
	all := []*tools.Tool{
		NewFinance(cfg.Finance).Tool(),
		NewNews(cfg.News).Tool(),
		NewWebSearch(cfg.Search...).Tool(),
	}

	var out []*tools.Tool
	for _, t := range all {
		if cfg.Enabled != nil && !cfg.Enabled(t.Name) {
			continue
		}
		if cfg.Cache != nil {
			t = Cached(t, *cfg.Cache)
		}
		out = append(out, t)
	}
	return out
}

// RegisterAll registers the enabled research tools with the given registry.
func RegisterAll(registry *tools.Registry, cfg Config) error {
	for _, tool := range Tools(cfg) {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
