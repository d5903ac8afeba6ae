// Package rag retrieves passages from a local document corpus by embedding
// similarity.
package rag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketintel/internal/embedding"
	"marketintel/internal/logging"
	"marketintel/internal/tools"
	"marketintel/internal/types"
)

// ToolName is the registry id of the retriever.
const ToolName = "ragRetrieval"

// KindPassage is the record kind of retrieved passages.
const KindPassage = "passage"

// ErrEmptyCorpus is returned when the corpus directory holds no passages.
var ErrEmptyCorpus = errors.New("corpus has no passages")

// corpusExtensions lists the file types indexed from the corpus directory.
// slowIndexThreshold is the corpus embedding time above which indexing warns.
const slowIndexThreshold = 10 * time.Second

var corpusExtensions = map[string]bool{".md": true, ".txt": true, ".markdown": true}

// Passage is one indexed paragraph of a corpus document.
type Passage struct {
	Source string
	Index  int
	Text   string
}

// Config configures a Retriever.
type Config struct {
	CorpusDir     string
	TopK          int
	MinSimilarity float64

	// MinPassageChars drops headings and fragments shorter than this.
	MinPassageChars int
}

// Retriever answers trends and competitor questions from the corpus.
// The corpus is embedded on first use; a failed build is retried on the next call.
type Retriever struct {
	cfg    Config
	engine embedding.Engine
	logger *zap.Logger

	mu       sync.Mutex
	passages []Passage
	vectors  [][]float32
	built    bool
}

// New creates a retriever over cfg.CorpusDir using engine.
func New(cfg Config, engine embedding.Engine, logger *zap.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.MinPassageChars <= 0 {
		cfg.MinPassageChars = 40
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{cfg: cfg, engine: engine, logger: logger}
}

// Tool returns the registry definition.
func (r *Retriever) Tool() *tools.Tool {
	return &tools.Tool{
		Name:        ToolName,
		Description: "Retrieve market research passages from the local corpus by semantic similarity",
		Categories:  []types.Category{types.CategoryTrends, types.CategoryCompetitors},
		Invoke:      r.Invoke,
		Priority:    80,
		Reliability: 0.8,
		Schema: tools.ToolSchema{
			Required: []string{"domain"},
			Properties: map[string]tools.Property{
				"domain":            {Type: "string", Description: "Business domain"},
				"segment":           {Type: "string", Description: "Target segment"},
				"value_proposition": {Type: "string", Description: "What the startup offers"},
				"keywords":          {Type: "string", Description: "Comma-separated keywords"},
			},
		},
	}
}

// Invoke embeds a query built from the step and returns the top passages
// whose similarity reaches the configured floor.
func (r *Retriever) Invoke(ctx context.Context, step types.ActionStep) ([]types.Record, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return nil, err
	}

	query := buildQuery(step)
	vec, err := r.engine.Embed(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, tools.Fail(embedFailure(err), fmt.Errorf("failed to embed query: %w", err))
	}

	r.mu.Lock()
	passages, vectors := r.passages, r.vectors
	r.mu.Unlock()

	var records []types.Record
	for _, hit := range embedding.FindTopK(vec, vectors, r.cfg.TopK) {
		if hit.Similarity < r.cfg.MinSimilarity {
			break
		}
		p := passages[hit.Index]
		citation := fmt.Sprintf("corpus:%s#%d", p.Source, p.Index)
		records = append(records, types.Record{
			Key:  citation,
			Kind: KindPassage,
			Fields: map[string]string{
				"text":       p.Text,
				"source":     p.Source,
				"similarity": strconv.FormatFloat(hit.Similarity, 'f', 3, 64),
			},
			Citation: citation,
		})
	}

	r.logger.Debug("corpus retrieval",
		zap.String("query", query),
		zap.Int("passages", len(passages)),
		zap.Int("hits", len(records)))
	return records, nil
}

// Passages returns the indexed passages, building the index if needed.
func (r *Retriever) Passages(ctx context.Context) ([]Passage, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Passage(nil), r.passages...), nil
}

func (r *Retriever) ensureIndex(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.built {
		return nil
	}

	passages, err := LoadCorpus(r.cfg.CorpusDir, r.cfg.MinPassageChars)
	if err != nil {
		return tools.Fail(types.FailureUnavailable, err)
	}
	if len(passages) == 0 {
		return tools.Fail(types.FailureUnavailable, fmt.Errorf("%w: %s", ErrEmptyCorpus, r.cfg.CorpusDir))
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	timer := logging.StartTimer(r.logger, "corpus embedding")
	vectors, err := r.engine.EmbedBatch(ctx, texts)
	elapsed := timer.StopWithThreshold(slowIndexThreshold)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return tools.Fail(embedFailure(err), fmt.Errorf("failed to embed corpus: %w", err))
	}
	if len(vectors) != len(passages) {
		return tools.Failf(types.FailureMalformedResponse, "engine returned %d vectors for %d passages", len(vectors), len(passages))
	}

	r.passages, r.vectors, r.built = passages, vectors, true
	r.logger.Info("corpus indexed",
		zap.String("dir", r.cfg.CorpusDir),
		zap.String("engine", r.engine.Name()),
		zap.Int("passages", len(passages)),
		zap.Duration("elapsed", elapsed))
	return nil
}

// embedFailure classifies an engine error. Vectors the engine could not
// produce consistently are malformed; everything else is an outage.
func embedFailure(err error) types.FailureKind {
	if errors.Is(err, embedding.ErrEmptyEmbedding) || errors.Is(err, embedding.ErrBatchMismatch) {
		return types.FailureMalformedResponse
	}
	return types.FailureUnavailable
}

// LoadCorpus splits every text document under dir into paragraph passages,
// in path order. Paragraphs shorter than minChars are skipped.
func LoadCorpus(dir string, minChars int) ([]Passage, error) {
	if dir == "" {
		return nil, fmt.Errorf("corpus directory not configured")
	}
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && corpusExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk corpus: %w", err)
	}
	sort.Strings(files)

	var passages []Passage
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		rel = filepath.ToSlash(rel)
		for i, para := range splitParagraphs(string(data)) {
			if len(para) < minChars {
				continue
			}
			passages = append(passages, Passage{Source: rel, Index: i, Text: para})
		}
	}
	return passages, nil
}

// splitParagraphs splits on blank lines and joins wrapped lines.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		if p := strings.Join(strings.Fields(block), " "); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func buildQuery(step types.ActionStep) string {
	parts := []string{step.Param("segment"), step.Param("domain"), step.Param("value_proposition")}
	parts = append(parts, step.ListParam("keywords")...)
	switch step.Category {
	case types.CategoryTrends:
		parts = append(parts, "market trends growth")
	case types.CategoryCompetitors:
		parts = append(parts, "competitors startups")
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
