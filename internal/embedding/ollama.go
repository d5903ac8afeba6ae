package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultOllamaEndpoint = "http://localhost:11434"
	defaultOllamaModel    = "embeddinggemma"
	defaultOllamaWorkers  = 4

	// embeddinggemma's width, reported until the first vector arrives.
	defaultDimensions = 768
)

// OllamaEngine embeds text with a local Ollama server. Ollama has no batch
// endpoint, so EmbedBatch fans single requests out over a few workers.
type OllamaEngine struct {
	endpoint string
	model    string
	client   *http.Client
	workers  int
	logger   *zap.Logger
	dims     atomic.Int32
}

// OllamaOption configures an OllamaEngine.
type OllamaOption func(*OllamaEngine)

// WithOllamaClient sets the HTTP client.
func WithOllamaClient(client *http.Client) OllamaOption {
	return func(e *OllamaEngine) {
		if client != nil {
			e.client = client
		}
	}
}

// WithOllamaWorkers sets how many requests EmbedBatch keeps in flight.
func WithOllamaWorkers(n int) OllamaOption {
	return func(e *OllamaEngine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithOllamaLogger sets the engine logger.
func WithOllamaLogger(logger *zap.Logger) OllamaOption {
	return func(e *OllamaEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewOllamaEngine creates an Ollama engine. Empty endpoint and model take defaults.
func NewOllamaEngine(endpoint, model string, opts ...OllamaOption) *OllamaEngine {
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	if model == "" {
		model = defaultOllamaModel
	}
	e := &OllamaEngine{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: 30 * time.Second},
		workers:  defaultOllamaWorkers,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed embeds one search query.
func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.dims.Store(int32(len(vec)))
	return vec, nil
}

// EmbedBatch embeds corpus passages, preserving input order. Every vector
// must have the same width.
func (e *OllamaEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := e.embed(gctx, text)
			if err != nil {
				return fmt.Errorf("passage %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("embedding batch failed",
			zap.String("model", e.model),
			zap.Int("texts", len(texts)),
			zap.Error(err))
		return nil, err
	}

	width := len(out[0])
	for i, vec := range out {
		if len(vec) != width {
			return nil, fmt.Errorf("%w: passage %d has %d dimensions, passage 0 has %d",
				ErrBatchMismatch, i, len(vec), width)
		}
	}
	e.dims.Store(int32(width))

	e.logger.Debug("embedding batch",
		zap.String("model", e.model),
		zap.Int("texts", len(texts)),
		zap.Int("workers", e.workers),
		zap.Int("dimensions", width),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (e *OllamaEngine) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: ollama returned status %d: %s",
			ErrBackendUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("%w (model %s)", ErrEmptyEmbedding, e.model)
	}
	return result.Embedding, nil
}

// Dimensions returns the width of the last vector produced, or 768 before any.
func (e *OllamaEngine) Dimensions() int {
	if d := e.dims.Load(); d > 0 {
		return int(d)
	}
	return defaultDimensions
}

// Name returns "ollama:<model>".
func (e *OllamaEngine) Name() string {
	return "ollama:" + e.model
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}
