package ranking

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/metrics"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/storage"
	"github.com/hyperjump/shiori/internal/vector"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// fixedEmbedder embeds every text as the same vector.
type fixedEmbedder struct {
	vec []float32
	err error
}

func (f *fixedEmbedder) Embed(context.Context, string) ([]float32, error) { return f.vec, f.err }
func (f *fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, f.err
}
func (f *fixedEmbedder) Dimensions() int { return len(f.vec) }
func (f *fixedEmbedder) Close() error    { return nil }

func minScore(v float64) *float64 { return &v }

// tenChunkStore holds ten chunks; only c0 and c1 are close to the x axis.
func tenChunkStore(t *testing.T) storage.GraphStore {
	t.Helper()
	s, err := storage.NewMemoryGraph(3, vector.MetricCosine)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	doc := &models.Document{ID: "doc:r", Title: "Report", Family: "finance"}
	pages := []*models.Page{{DocID: doc.ID, PageNum: 1, Width: 612, Height: 792}}
	vecs := [][]float32{{0.7, 0.7, 0}, {0.95, 0.1, 0}}
	var chunks []*models.Chunk
	for i := 0; i < 10; i++ {
		vec := []float32{0, 1, 0}
		if i%2 == 1 {
			vec = []float32{0, 0, 1}
		}
		if i < len(vecs) {
			vec = vecs[i]
		}
		chunks = append(chunks, &models.Chunk{
			ID:        fmt.Sprintf("c%d", i),
			DocID:     doc.ID,
			PageNum:   1,
			BBox:      models.BBox{72, float64(700 - 20*i), 540, float64(715 - 20*i)},
			Headings:  []string{},
			Text:      fmt.Sprintf("chunk number %d", i),
			Embedding: vec,
		})
	}
	require.NoError(t, s.WriteDocument(context.Background(), doc, pages, chunks))
	return s
}

func TestRanker_ThresholdAndOrder(t *testing.T) {
	store := tenChunkStore(t)
	r := NewRanker(store, &fixedEmbedder{vec: []float32{1, 0, 0}}, config.RetrievalConfig{DefaultTopK: 5, MaxTopK: 20, MinScore: minScore(0.5)})

	results := r.Rank(context.Background(), RankRequest{Query: "anything", TopK: 3})
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].Chunk.ID)
	assert.Equal(t, "c0", results[1].Chunk.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Equal(t, "doc:r", results[0].Document.ID)
	assert.Equal(t, 1, results[0].Page.PageNum)
}

func TestRanker_RequestOverridesThreshold(t *testing.T) {
	store := tenChunkStore(t)
	r := NewRanker(store, &fixedEmbedder{vec: []float32{1, 0, 0}}, config.RetrievalConfig{DefaultTopK: 5, MaxTopK: 20, MinScore: minScore(0.5)})

	results := r.Rank(context.Background(), RankRequest{Query: "q", TopK: 4, MinScore: minScore(-1)})
	assert.Len(t, results, 4)

	results = r.Rank(context.Background(), RankRequest{Query: "q", TopK: 4, DocID: "doc:other", MinScore: minScore(-1)})
	assert.Empty(t, results)
}

func TestRanker_ZeroQueryVector(t *testing.T) {
	store := tenChunkStore(t)
	r := NewRanker(store, &fixedEmbedder{vec: []float32{0, 0, 0}}, config.RetrievalConfig{DefaultTopK: 5})
	results := r.Rank(context.Background(), RankRequest{Query: "the of", MinScore: minScore(-1)})
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRanker_TopK(t *testing.T) {
	r := NewRanker(nil, nil, config.RetrievalConfig{DefaultTopK: 5, MaxTopK: 10})
	tests := []struct {
		in, want int
	}{
		{0, 5},
		{-3, 5},
		{3, 3},
		{50, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.TopK(tt.in), "TopK(%d)", tt.in)
	}
	assert.Equal(t, 1, NewRanker(nil, nil, config.RetrievalConfig{}).TopK(0))
}

func TestRanker_FailuresYieldEmpty(t *testing.T) {
	store := tenChunkStore(t)
	m := metrics.New()
	r := NewRanker(store, &fixedEmbedder{err: errors.New("model offline")}, config.RetrievalConfig{DefaultTopK: 5}, WithMetrics(m))

	results := r.Rank(context.Background(), RankRequest{Query: "q"})
	assert.NotNil(t, results)
	assert.Empty(t, results)

	// a query vector of the wrong size fails in the store
	r = NewRanker(store, &fixedEmbedder{vec: []float32{1, 0}}, config.RetrievalConfig{DefaultTopK: 5}, WithMetrics(m))
	assert.Empty(t, r.Rank(context.Background(), RankRequest{Query: "q"}))
	n, err := testutil.GatherAndCount(m.Registry(), "shiori_retrieval_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series each for embed and vector_search")
}

func TestRanker_EmptyStore(t *testing.T) {
	s, err := storage.NewMemoryGraph(3, vector.MetricCosine)
	require.NoError(t, err)
	defer s.Close()
	r := NewRanker(s, &fixedEmbedder{vec: []float32{1, 0, 0}}, config.RetrievalConfig{DefaultTopK: 5})
	assert.Empty(t, r.Rank(context.Background(), RankRequest{Query: "revenue growth"}))
}

func TestRanker_KeywordFusion(t *testing.T) {
	store := tenChunkStore(t)
	idx, err := keyword.NewBleveIndex("")
	require.NoError(t, err)
	defer idx.Close()

	chunks, err := store.ListChunks(context.Background(), "doc:r")
	require.NoError(t, err)
	// only c0 mentions the query term
	for _, ch := range chunks {
		if ch.ID == "c0" {
			ch.Text = "quarterly revenue"
		}
	}
	doc, err := store.GetDocument(context.Background(), "doc:r")
	require.NoError(t, err)
	require.NoError(t, idx.IndexChunks(context.Background(), doc, chunks))

	cfg := config.RetrievalConfig{DefaultTopK: 5, MaxTopK: 20, MinScore: minScore(0.5), KeywordWeight: 0.5}
	r := NewRanker(store, &fixedEmbedder{vec: []float32{1, 0, 0}}, cfg, WithKeywordIndex(idx))

	results := r.Rank(context.Background(), RankRequest{Query: "revenue", TopK: 3})
	require.Len(t, results, 2)
	assert.Equal(t, "c0", results[0].Chunk.ID, "keyword match should lift c0 above c1")
}

func TestRanker_Spans(t *testing.T) {
	store := tenChunkStore(t)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	cfg := config.RetrievalConfig{DefaultTopK: 5, MaxTopK: 20, MinScore: minScore(0.5)}
	r := NewRanker(store, &fixedEmbedder{vec: []float32{1, 0, 0}}, cfg, WithTracerProvider(tp))
	require.Len(t, r.Rank(context.Background(), RankRequest{Query: "q", TopK: 3}), 2)

	r = NewRanker(store, &fixedEmbedder{err: errors.New("model offline")}, cfg, WithTracerProvider(tp))
	assert.Empty(t, r.Rank(context.Background(), RankRequest{Query: "q"}))

	spans := rec.Ended()
	require.Len(t, spans, 2)

	ok := spans[0]
	assert.Equal(t, "Ranker.Rank", ok.Name())
	attrs := attribute.NewSet(ok.Attributes()...)
	v, found := attrs.Value("top_k")
	require.True(t, found)
	assert.Equal(t, int64(3), v.AsInt64())
	v, found = attrs.Value("hybrid")
	require.True(t, found)
	assert.False(t, v.AsBool())
	v, found = attrs.Value("results")
	require.True(t, found)
	assert.Equal(t, int64(2), v.AsInt64())
	assert.Equal(t, codes.Unset, ok.Status().Code)

	failed := spans[1]
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, "model offline", failed.Status().Description)
	require.NotEmpty(t, failed.Events())
	assert.Equal(t, "exception", failed.Events()[0].Name)
}
