package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	a, err := NewHashEmbedder(384)
	require.NoError(t, err)
	b, err := NewHashEmbedder(384)
	require.NoError(t, err)
	ctx := context.Background()

	v1, err := a.Embed(ctx, "Quarterly revenue growth exceeded expectations.")
	require.NoError(t, err)
	v2, err := b.Embed(ctx, "Quarterly revenue growth exceeded expectations.")
	require.NoError(t, err)
	require.Len(t, v1, 384)
	for i := range v1 {
		if math.Float32bits(v1[i]) != math.Float32bits(v2[i]) {
			t.Fatalf("component %d differs: %v vs %v", i, v1[i], v2[i])
		}
	}
}

func TestHashEmbedder_BlankIsZeroVector(t *testing.T) {
	e, err := NewHashEmbedder(8)
	require.NoError(t, err)
	for _, text := range []string{"", "   ", "\n\t", "?!"} {
		v, err := e.Embed(context.Background(), text)
		require.NoError(t, err, text)
		assert.Equal(t, ZeroVector(8), v, "text %q", text)
	}
}

func TestHashEmbedder_UnitNormAndCaseInsensitive(t *testing.T) {
	e, err := NewHashEmbedder(64)
	require.NoError(t, err)
	ctx := context.Background()
	v, err := e.Embed(ctx, "Revenue GROWTH")
	require.NoError(t, err)
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)

	lower, err := e.Embed(ctx, "revenue growth")
	require.NoError(t, err)
	assert.Equal(t, lower, v)
}

func TestHashEmbedder_SharedWordsAreSimilar(t *testing.T) {
	e, err := NewHashEmbedder(384)
	require.NoError(t, err)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "revenue growth")
	near, _ := e.Embed(ctx, "revenue growth was strong this quarter")
	far, _ := e.Embed(ctx, "the cafeteria menu changes on mondays")
	assert.Greater(t, dot(q, near), dot(q, far))
}

func TestHashEmbedder_BatchMatchesSingle(t *testing.T) {
	e, err := NewHashEmbedder(32)
	require.NoError(t, err)
	ctx := context.Background()
	texts := []string{"one", "", "two words"}
	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestHashEmbedder_Cancelled(t *testing.T) {
	e, err := NewHashEmbedder(8)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.EmbedBatch(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewHashEmbedder_InvalidDims(t *testing.T) {
	_, err := NewHashEmbedder(0)
	assert.Error(t, err)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
