package main

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"marketintel/internal/config"
	"marketintel/internal/embedding"
	"marketintel/internal/logging"
	"marketintel/internal/metrics"
	"marketintel/internal/tools"
	"marketintel/internal/tools/dataset"
	"marketintel/internal/tools/rag"
	"marketintel/internal/tools/research"
)

// buildRegistry registers every enabled tool and applies the configured
// bindings. A tool whose backend cannot be set up is skipped with a warning
// so the remaining tools still run.
func buildRegistry(c *config.Config, log *zap.Logger, rec *metrics.Recorder) (*tools.Registry, error) {
	reg := tools.NewRegistry(
		tools.WithLogger(logging.Named(log, logging.CategoryTools)),
		tools.WithRecorder(rec),
	)

	if c.Enabled(config.ToolDatasetLookup) {
		dl := logging.Named(log, logging.CategoryDataset)
		ds, err := dataset.Load(c.Dataset.Dir, c.Dataset.StartupsFile, c.Dataset.InvestmentsFile, dl)
		if err != nil {
			log.Warn("dataset unavailable, skipping tool", zap.String("tool", config.ToolDatasetLookup), zap.Error(err))
		} else if err := reg.Register(dataset.NewLookup(ds, c.Dataset.MaxResults, dl).Tool()); err != nil {
			return nil, err
		}
	}

	if c.Enabled(config.ToolRAGRetrieval) {
		engine, err := embedding.NewEngine(embeddingConfig(c.Embedding), logging.Named(log, logging.CategoryEmbedding))
		if err != nil {
			log.Warn("embedding engine unavailable, skipping tool", zap.String("tool", config.ToolRAGRetrieval), zap.Error(err))
		} else {
			r := rag.New(rag.Config{
				CorpusDir:     c.RAG.CorpusDir,
				TopK:          c.RAG.TopK,
				MinSimilarity: c.RAG.MinSimilarity,
			}, engine, logging.Named(log, logging.CategoryRAG))
			if err := reg.Register(r.Tool()); err != nil {
				return nil, err
			}
		}
	}

	rl := logging.Named(log, logging.CategoryResearch)
	rcfg := research.Config{
		Search: []research.WebSearchOption{
			research.WithSearchEndpoint(c.Search.Endpoint),
			research.WithMaxResults(c.Search.MaxResults),
			research.WithUserAgent(c.Search.UserAgent),
			research.WithSearchLogger(rl),
		},
		News: research.NewsConfig{
			Endpoint: c.News.Endpoint,
			Language: c.News.Language,
			Region:   c.News.Region,
			MaxItems: c.News.MaxItems,
			Logger:   rl,
		},
		Finance: research.FinanceConfig{
			SearchEndpoint: c.Finance.SearchEndpoint,
			ChartEndpoint:  c.Finance.ChartEndpoint,
			MaxSymbols:     c.Finance.MaxSymbols,
			UserAgent:      c.Search.UserAgent,
			Logger:         rl,
		},
		Enabled: c.Enabled,
	}
	if c.Cache.Enabled {
		rcfg.Cache = &research.CacheOptions{
			Size:     c.Cache.Size,
			TTL:      c.GetCacheTTL(),
			Recorder: rec,
			Logger:   rl,
		}
	}
	if err := research.RegisterAll(reg, rcfg); err != nil {
		return nil, err
	}

	if err := reg.Apply(c.Bindings()); err != nil {
		return nil, fmt.Errorf("invalid tool bindings: %w", err)
	}
	return reg, nil
}

func embeddingConfig(c config.EmbeddingConfig) embedding.Config {
	ec := embedding.DefaultConfig()
	if c.Provider != "" {
		ec.Provider = c.Provider
	}
	if c.OllamaEndpoint != "" {
		ec.OllamaEndpoint = c.OllamaEndpoint
	}
	if c.OllamaModel != "" {
		ec.OllamaModel = c.OllamaModel
	}
	if c.GenAIModel != "" {
		ec.GenAIModel = c.GenAIModel
	}
	if c.TaskType != "" {
		ec.TaskType = c.TaskType
	}
	ec.GenAIAPIKey = c.GenAIAPIKey
	return ec
}

// serveMetrics exposes handler on addr until the returned stop is called.
func serveMetrics(addr string, handler http.Handler, log *zap.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics endpoint failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	log.Info("metrics endpoint listening", zap.String("addr", addr))
	return func() { _ = srv.Close() }
}
