package ranking

import (
	"testing"

	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKeywordScores(t *testing.T) {
	results := []*keyword.Result{
		{DocID: "d", ChunkID: "a", Score: 2},
		{DocID: "d", ChunkID: "b", Score: 4},
		{DocID: "d", ChunkID: "c", Score: 1},
	}
	m := NormalizeKeywordScores(results)
	assert.Len(t, m, 3)
	assert.Equal(t, 1.0, m["d/b"])
	assert.Equal(t, 0.5, m["d/a"])
	assert.Empty(t, NormalizeKeywordScores(nil))
}

func result(id string, score float64) *models.QueryResult {
	return &models.QueryResult{Chunk: &models.Chunk{ID: id, DocID: "d"}, Score: score}
}

func chunkIDs(results []*models.QueryResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Chunk.ID
	}
	return ids
}

func TestFuse(t *testing.T) {
	results := []*models.QueryResult{result("a", 0.9), result("b", 0.8), result("c", 0.8)}
	fused := Fuse(results, map[string]float64{"d/b": 1.0}, 0.5)
	require.Len(t, fused, 3)
	assert.Equal(t, []string{"b", "a", "c"}, chunkIDs(fused))
	assert.InDelta(t, 0.9, fused[0].Score, 1e-9)
}

func TestFuse_ZeroWeightKeepsOrder(t *testing.T) {
	results := []*models.QueryResult{result("a", 0.2), result("b", 0.9)}
	fused := Fuse(results, map[string]float64{"d/a": 1}, 0)
	assert.Equal(t, "a", fused[0].Chunk.ID)
	assert.Equal(t, 0.2, fused[0].Score)
}

func TestFuse_StableTies(t *testing.T) {
	results := []*models.QueryResult{result("a", 0.5), result("b", 0.5), result("c", 0.5)}
	assert.Equal(t, []string{"a", "b", "c"}, chunkIDs(Fuse(results, nil, 0.3)))
}
