package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder decorates an Embedder with an LRU keyed by the exact input text.
// Vectors are copied in and out so callers can never mutate a cached entry.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with a cache holding up to size vectors.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: c}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return clone(v), nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, clone(v))
	return v, nil
}

// EmbedBatch serves hits from the cache and sends only the misses to the inner
// provider, in one batch, preserving input order in the result.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			out[i] = clone(v)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache.Add(missTexts[j], clone(vecs[j]))
	}
	return out, nil
}

func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }

func (c *CachedEmbedder) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
