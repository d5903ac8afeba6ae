package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"marketintel/internal/embedding"
	"marketintel/internal/tools"
	"marketintel/internal/types"
)

// wordEngine embeds text as counts over a fixed vocabulary.
type wordEngine struct {
	vocab      []string
	batchCalls atomic.Int32
	failBatch  bool
	batchErr   error
}

func (e *wordEngine) vector(text string) []float32 {
	v := make([]float32, len(e.vocab))
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,'")
		for i, term := range e.vocab {
			if w == term {
				v[i]++
			}
		}
	}
	return v
}

func (e *wordEngine) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e *wordEngine) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.batchCalls.Add(1)
	if e.batchErr != nil {
		return nil, e.batchErr
	}
	if e.failBatch {
		return nil, fmt.Errorf("%w: engine offline", embedding.ErrBackendUnavailable)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *wordEngine) Dimensions() int { return len(e.vocab) }
func (e *wordEngine) Name() string    { return "words" }

func newEngine() *wordEngine {
	return &wordEngine{vocab: []string{"health", "femtech", "finance", "payments", "education", "trends", "growth", "market"}}
}

func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "reports"), 0755))
	files := map[string]string{
		"reports/femtech.md": "# FemTech\n\nWomen's health and femtech startups raised record\nfunding as the health market keeps its growth.\n\nShort.\n",
		"fintech.txt":        "Finance apps and payments rails dominate the finance market with steady growth.\n",
		"notes.json":         `{"ignored": "health health health"}`,
		"edu.md":             "Education platforms report that education market trends favour cohort courses.\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
	}
	return dir
}

func TestLoadCorpus(t *testing.T) {
	passages, err := LoadCorpus(writeCorpus(t), 40)
	require.NoError(t, err)

	require.Len(t, passages, 3, "headings, short paragraphs and non-text files are skipped")
	assert.Equal(t, "edu.md", passages[0].Source)
	assert.Equal(t, "fintech.txt", passages[1].Source)
	assert.Equal(t, Passage{
		Source: "reports/femtech.md",
		Index:  1,
		Text:   "Women's health and femtech startups raised record funding as the health market keeps its growth.",
	}, passages[2])

	_, err = LoadCorpus("", 40)
	assert.Error(t, err)
}

func TestRetrieverTopK(t *testing.T) {
	engine := newEngine()
	r := New(Config{CorpusDir: writeCorpus(t), TopK: 2, MinSimilarity: 0.1}, engine, nil)

	records, err := r.Invoke(context.Background(), types.ActionStep{
		Category: types.CategoryTrends,
		Params:   map[string]string{"domain": "health", "keywords": "femtech"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, records)

	top := records[0]
	assert.Equal(t, "corpus:reports/femtech.md#1", top.Key)
	assert.Equal(t, top.Key, top.Citation)
	assert.Equal(t, KindPassage, top.Kind)
	assert.Equal(t, "reports/femtech.md", top.Fields["source"])
	assert.Contains(t, top.Fields["text"], "femtech startups")
	assert.LessOrEqual(t, len(records), 2)

	_, err = r.Invoke(context.Background(), types.ActionStep{Params: map[string]string{"domain": "finance"}})
	require.NoError(t, err)
	assert.Equal(t, int32(1), engine.batchCalls.Load(), "corpus is embedded once")
}

func TestRetrieverLogsIndexTiming(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := New(Config{CorpusDir: writeCorpus(t)}, newEngine(), zap.New(core))

	_, err := r.Passages(context.Background())
	require.NoError(t, err)

	timed := logs.FilterMessage("corpus embedding completed").All()
	require.Len(t, timed, 1)
	indexed := logs.FilterMessage("corpus indexed").All()
	require.Len(t, indexed, 1)
	assert.Contains(t, indexed[0].ContextMap(), "elapsed")
	assert.EqualValues(t, 3, indexed[0].ContextMap()["passages"])
}

func TestRetrieverSimilarityFloor(t *testing.T) {
	r := New(Config{CorpusDir: writeCorpus(t), TopK: 5, MinSimilarity: 0.99}, newEngine(), nil)
	records, err := r.Invoke(context.Background(), types.ActionStep{
		Category: types.CategoryCompetitors,
		Params:   map[string]string{"domain": "unrelated"},
	})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRetrieverFailures(t *testing.T) {
	t.Run("empty corpus", func(t *testing.T) {
		r := New(Config{CorpusDir: t.TempDir()}, newEngine(), nil)
		_, err := r.Invoke(context.Background(), types.ActionStep{Params: map[string]string{"domain": "x"}})
		assert.ErrorIs(t, err, ErrEmptyCorpus)
		assert.Equal(t, types.FailureUnavailable, tools.KindOf(err))
	})

	t.Run("inconsistent vectors are malformed", func(t *testing.T) {
		engine := newEngine()
		engine.batchErr = fmt.Errorf("passage 2: %w", embedding.ErrEmptyEmbedding)
		r := New(Config{CorpusDir: writeCorpus(t)}, engine, nil)

		_, err := r.Invoke(context.Background(), types.ActionStep{Params: map[string]string{"domain": "x"}})
		assert.Equal(t, types.FailureMalformedResponse, tools.KindOf(err))
		assert.ErrorIs(t, err, embedding.ErrEmptyEmbedding)
	})

	t.Run("engine offline is retried", func(t *testing.T) {
		engine := newEngine()
		engine.failBatch = true
		r := New(Config{CorpusDir: writeCorpus(t)}, engine, nil)

		_, err := r.Invoke(context.Background(), types.ActionStep{Params: map[string]string{"domain": "x"}})
		assert.Equal(t, types.FailureUnavailable, tools.KindOf(err))

		engine.failBatch = false
		passages, err := r.Passages(context.Background())
		require.NoError(t, err)
		assert.Len(t, passages, 3)
		assert.Equal(t, int32(2), engine.batchCalls.Load())
	})
}

func TestBuildQuery(t *testing.T) {
	q := buildQuery(types.ActionStep{
		Category: types.CategoryCompetitors,
		Params:   map[string]string{"domain": "health", "segment": "women", "keywords": "femtech, cycle"},
	})
	assert.Equal(t, "women health femtech cycle competitors startups", q)
}
