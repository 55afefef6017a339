// Package search answers questions over the ingested corpus and resolves the
// evidence regions that answers cite.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/shiori/internal/citation"
	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/metrics"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/ranking"
	"github.com/hyperjump/shiori/internal/storage"
	"go.uber.org/zap"
)

// Input errors. Both map to a client error at the HTTP surface.
var (
	ErrInvalidQuery = errors.New("invalid query")
	ErrInvalidBBox  = errors.New("invalid bbox")
)

// Engine ranks chunks for a question and turns them into a cited answer.
type Engine struct {
	store      storage.GraphStore
	ranker     *ranking.Ranker
	synth      citation.Synthesizer
	retrieval  config.RetrievalConfig
	viewerBase string
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records query counts and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithViewerBase sets the viewer path used in evidence links.
func WithViewerBase(base string) Option {
	return func(e *Engine) { e.viewerBase = base }
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(
	store storage.GraphStore,
	ranker *ranking.Ranker,
	synth citation.Synthesizer,
	retrieval config.RetrievalConfig,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:      store,
		ranker:     ranker,
		synth:      synth,
		retrieval:  retrieval,
		viewerBase: citation.DefaultViewerBase,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Query validates req, ranks chunks and synthesizes an answer. No evidence is
// a normal answer, not an error; only an invalid request fails.
func (e *Engine) Query(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	start := time.Now()
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidQuery)
	}
	if err := req.Validate(e.retrieval.DefaultTopK, e.retrieval.MaxTopK); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	results := e.ranker.Rank(ctx, ranking.RankRequest{
		Query:    req.Query,
		TopK:     req.TopK,
		DocID:    req.DocID,
		Family:   req.Family,
		MinScore: req.MinScore,
	})

	answer, err := e.synth.Synthesize(ctx, req.Query, results)
	if err != nil || answer == nil {
		e.logger.Warn("answer synthesis failed", zap.String("query", req.Query), zap.Error(err))
		e.metrics.RetrievalFailed("synthesize")
		answer = &models.Answer{AnswerText: citation.NoEvidenceMessage, Citations: []models.Citation{}}
	}
	if answer.Citations == nil {
		answer.Citations = []models.Citation{}
	}

	took := time.Since(start)
	e.metrics.QueryServed(len(results), took)
	e.logger.Debug("query answered",
		zap.String("query", req.Query),
		zap.Int("results", len(results)),
		zap.Int("citations", len(answer.Citations)),
		zap.Duration("took", took))
	return &models.QueryResponse{
		Query:       req.Query,
		Answer:      *answer,
		Results:     results,
		QueryTimeMS: took.Milliseconds(),
	}, nil
}

// ResolveEvidence returns what a viewer needs to highlight bbox on a page of a
// stored document. A box reaching outside the page is reported, not rejected.
func (e *Engine) ResolveEvidence(ctx context.Context, docID string, pageNum int, bbox models.BBox) (*models.Evidence, error) {
	if !bbox.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBBox, bbox)
	}
	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	page, err := e.store.GetPage(ctx, docID, pageNum)
	if err != nil {
		return nil, err
	}
	return &models.Evidence{
		DocID:      doc.ID,
		PageNum:    page.PageNum,
		PageWidth:  page.Width,
		PageHeight: page.Height,
		BBox:       bbox,
		Normalized: bbox.Normalized(page.Width, page.Height),
		InBounds:   bbox.Within(page.Width, page.Height),
		SourceURI:  doc.SourceURI,
		ViewerURL:  citation.ViewerURL(e.viewerBase, doc.ID, page.PageNum, bbox),
	}, nil
}
