package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	*HashEmbedder
	calls   int
	batched []int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.HashEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batched = append(c.batched, len(texts))
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}

func newCounting(t *testing.T) *countingEmbedder {
	h, err := NewHashEmbedder(16)
	require.NoError(t, err)
	return &countingEmbedder{HashEmbedder: h}
}

func TestCachedEmbedder_HitsSkipInner(t *testing.T) {
	inner := newCounting(t)
	c, err := NewCachedEmbedder(inner, 2)
	require.NoError(t, err)
	ctx := context.Background()

	a1, err := c.Embed(ctx, "alpha")
	require.NoError(t, err)
	a2, err := c.Embed(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, c.Len())
}

func TestCachedEmbedder_Evicts(t *testing.T) {
	inner := newCounting(t)
	c, err := NewCachedEmbedder(inner, 2)
	require.NoError(t, err)
	ctx := context.Background()
	for _, s := range []string{"a", "b", "c"} {
		_, err := c.Embed(ctx, s)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len())
	_, err = c.Embed(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 4, inner.calls, "a should have been evicted")
}

func TestCachedEmbedder_ReturnsCopies(t *testing.T) {
	c, err := NewCachedEmbedder(newCounting(t), 4)
	require.NoError(t, err)
	ctx := context.Background()
	v, err := c.Embed(ctx, "revenue growth")
	require.NoError(t, err)
	want := clone(v)
	v[0] = 42
	again, err := c.Embed(ctx, "revenue growth")
	require.NoError(t, err)
	assert.Equal(t, want, again)
}

func TestCachedEmbedder_BatchSendsOnlyMisses(t *testing.T) {
	inner := newCounting(t)
	c, err := NewCachedEmbedder(inner, 8)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = c.Embed(ctx, "b")
	require.NoError(t, err)

	out, err := c.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []int{2}, inner.batched)

	direct, err := inner.HashEmbedder.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, direct, out)
}
