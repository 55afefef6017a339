// Package ranking turns a question into the top-k most similar chunks, with
// their documents and pages, optionally blended with keyword scores.
package ranking

import (
	"context"
	"time"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/metrics"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/storage"
	"github.com/hyperjump/shiori/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// candidateFactor widens the semantic candidate pool when keyword fusion may
// reorder it.
const candidateFactor = 3

// RankRequest is one retrieval call. Zero TopK means the configured default;
// a nil MinScore means the configured threshold.
type RankRequest struct {
	Query    string
	TopK     int
	DocID    string
	Family   string
	MinScore *float64
}

// Ranker retrieves chunks by semantic similarity.
type Ranker struct {
	store    storage.GraphStore
	embedder embedding.Embedder
	keywords keyword.Index
	cfg      config.RetrievalConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithLogger sets a logger for retrieval failures and debug output.
func WithLogger(l *zap.Logger) Option {
	return func(r *Ranker) { r.logger = l }
}

// WithMetrics records retrieval failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Ranker) { r.metrics = m }
}

// WithTracerProvider sets where Rank spans go. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Ranker) { r.tracer = tp.Tracer("shiori.ranking") }
}

// WithKeywordIndex enables keyword fusion when the retrieval keyword weight is positive.
func WithKeywordIndex(idx keyword.Index) Option {
	return func(r *Ranker) { r.keywords = idx }
}

// NewRanker creates a ranker over store using embedder for queries.
func NewRanker(store storage.GraphStore, embedder embedding.Embedder, cfg config.RetrievalConfig, opts ...Option) *Ranker {
	r := &Ranker{store: store, embedder: embedder, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer("shiori.ranking")
	}
	return r
}

// TopK clamps k into [1, MaxTopK], using DefaultTopK when k is not positive.
func (r *Ranker) TopK(k int) int {
	if k <= 0 {
		k = r.cfg.DefaultTopK
	}
	if r.cfg.MaxTopK > 0 && k > r.cfg.MaxTopK {
		k = r.cfg.MaxTopK
	}
	if k < 1 {
		k = 1
	}
	return k
}

// Rank returns up to TopK results in descending score order. Results below the
// similarity threshold are dropped. Encoder or store failures are logged and
// yield an empty result; an empty result means no relevant evidence.
func (r *Ranker) Rank(ctx context.Context, req RankRequest) []*models.QueryResult {
	start := time.Now()
	topK := r.TopK(req.TopK)
	minScore := r.cfg.MinScoreOrDefault()
	if req.MinScore != nil {
		minScore = *req.MinScore
	}
	hybrid := r.cfg.KeywordWeight > 0 && r.keywords != nil

	ctx, span := r.tracer.Start(ctx, "Ranker.Rank")
	defer span.End()
	span.SetAttributes(
		attribute.Int("top_k", topK),
		attribute.Float64("min_score", minScore),
		attribute.Bool("hybrid", hybrid),
	)

	qvec, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		r.fail(span, "embed", err)
		return []*models.QueryResult{}
	}
	if utils.IsZero(qvec) {
		// nothing in the query to match on
		r.logger.Debug("query has no embeddable terms", zap.String("query", req.Query))
		return []*models.QueryResult{}
	}

	fetch := topK
	if hybrid {
		fetch = topK * candidateFactor
	}
	candidates, err := r.store.VectorSearch(ctx, qvec, fetch, storage.SearchFilter{DocID: req.DocID, Family: req.Family})
	if err != nil {
		r.fail(span, "vector_search", err)
		return []*models.QueryResult{}
	}

	results := make([]*models.QueryResult, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= minScore {
			results = append(results, c)
		}
	}

	if hybrid && len(results) > 0 {
		hits, err := r.keywords.Search(ctx, req.Query, fetch, &keyword.SearchOptions{DocID: req.DocID, Family: req.Family})
		if err != nil {
			// semantic order stands
			r.logger.Warn("keyword search failed", zap.Error(err))
			r.metrics.RetrievalFailed("keyword_search")
		} else {
			results = Fuse(results, NormalizeKeywordScores(hits), r.cfg.KeywordWeight)
		}
	}
	if len(results) > topK {
		results = results[:topK]
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	r.logger.Debug("ranked query",
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(results)),
		zap.Duration("took", time.Since(start)))
	return results
}

func (r *Ranker) fail(span trace.Span, stage string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.logger.Warn("retrieval failed", zap.String("stage", stage), zap.Error(err))
	r.metrics.RetrievalFailed(stage)
}
