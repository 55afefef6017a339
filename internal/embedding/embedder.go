// Package embedding maps text to fixed-length dense vectors.
//
// Every provider is deterministic and treats blank input as the zero vector of its
// configured dimension, so one ill-formed chunk cannot fail a whole ingestion.
// Ingestion and retrieval both go through Embed/EmbedBatch; there is no separate
// query path.
package embedding

import (
	"context"
	"strings"
)

// Provider names accepted by New.
const (
	ProviderHash      = "hash"
	ProviderONNX      = "onnx"
	ProviderFastEmbed = "fastembed"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// IsBlank reports whether text has no non-whitespace content.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// ZeroVector is the documented embedding of blank text.
func ZeroVector(dims int) []float32 {
	return make([]float32, dims)
}

// embedEach runs embed over texts in order, checking ctx between items.
func embedEach(ctx context.Context, texts []string, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
