package embedding

import (
	"context"
	"time"

	"github.com/hyperjump/shiori/internal/metrics"
)

type instrumented struct {
	inner    Embedder
	provider string
	metrics  *metrics.Metrics
}

// Instrument records latency, batch size and failures of every call on m.
func Instrument(inner Embedder, provider string, m *metrics.Metrics) Embedder {
	if m == nil {
		return inner
	}
	return &instrumented{inner: inner, provider: provider, metrics: m}
}

func (e *instrumented) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	v, err := e.inner.Embed(ctx, text)
	e.metrics.ObserveEmbedding(e.provider, "embed", time.Since(start), 1, err)
	return v, err
}

func (e *instrumented) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	v, err := e.inner.EmbedBatch(ctx, texts)
	e.metrics.ObserveEmbedding(e.provider, "embed_batch", time.Since(start), len(texts), err)
	return v, err
}

func (e *instrumented) Dimensions() int { return e.inner.Dimensions() }

func (e *instrumented) Close() error { return e.inner.Close() }
