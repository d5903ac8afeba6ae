package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultGenAIModel = "gemini-embedding-001"

	// maxGenAIBatch is the most contents one EmbedContent call accepts.
	maxGenAIBatch = 100

	taskRetrievalQuery    = "RETRIEVAL_QUERY"
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

// GenAIEngine embeds text with the Gemini API. Queries use the configured
// task type; corpus passages are always embedded as RETRIEVAL_DOCUMENT.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
	logger   *zap.Logger
}

// NewGenAIEngine creates a Gemini engine.
func NewGenAIEngine(apiKey, model, taskType string, logger *zap.Logger) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai: %w", ErrMissingAPIKey)
	}
	if model == "" {
		model = defaultGenAIModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEngine{
		client:   client,
		model:    model,
		taskType: parseTaskType(taskType),
		logger:   logger,
	}, nil
}

// Embed embeds one search query.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, e.taskType)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds corpus passages in chunks of at most 100, preserving order.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, chunk := range chunks(texts, maxGenAIBatch) {
		start := time.Now()
		vecs, err := e.embed(ctx, chunk, taskRetrievalDocument)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		e.logger.Debug("embedding batch",
			zap.String("model", e.model),
			zap.Int("chunk", i),
			zap.Int("texts", len(chunk)),
			zap.Duration("elapsed", time.Since(start)))
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *GenAIEngine) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{TaskType: taskType})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: %d embeddings for %d texts", ErrBatchMismatch, len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("%w (model %s, text %d)", ErrEmptyEmbedding, e.model, i)
		}
		out[i] = emb.Values
	}
	return out, nil
}

// Dimensions returns 768, the default output width of gemini-embedding-001.
func (e *GenAIEngine) Dimensions() int {
	return defaultDimensions
}

// Name returns "genai:<model>".
func (e *GenAIEngine) Name() string {
	return "genai:" + e.model
}

// chunks splits texts into consecutive slices of at most size elements.
func chunks(texts []string, size int) [][]string {
	var out [][]string
	for len(texts) > size {
		out = append(out, texts[:size])
		texts = texts[size:]
	}
	if len(texts) > 0 {
		out = append(out, texts)
	}
	return out
}

// parseTaskType maps a configured task type onto one the API accepts,
// defaulting to RETRIEVAL_QUERY.
func parseTaskType(taskType string) string {
	switch taskType {
	case "SEMANTIC_SIMILARITY", "CLASSIFICATION", "CLUSTERING",
		taskRetrievalDocument, "QUESTION_ANSWERING", "FACT_VERIFICATION":
		return taskType
	default:
		return taskRetrievalQuery
	}
}
