package ranking

import (
	"sort"

	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/models"
)

// NormalizeKeywordScores maps "docID/chunkID" to the keyword score divided by the
// best score, so the top hit is 1.
func NormalizeKeywordScores(results []*keyword.Result) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	if len(results) == 0 {
		return normalized
	}
	maxScore := results[0].Score
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[fusionKey(r.DocID, r.ChunkID)] = r.Score / maxScore
		} else {
			normalized[fusionKey(r.DocID, r.ChunkID)] = 0
		}
	}
	return normalized
}

func fusionKey(docID, chunkID string) string {
	return docID + "/" + chunkID
}

// Fuse rescores semantic results as (1-w)*similarity + w*keyword and re-sorts
// them stably. Only results already present are kept; keyword-only hits never
// enter the set. The input slice is reordered in place.
func Fuse(results []*models.QueryResult, keywordScores map[string]float64, weight float64) []*models.QueryResult {
	if weight <= 0 || len(results) == 0 {
		return results
	}
	if weight > 1 {
		weight = 1
	}
	for _, r := range results {
		kw := keywordScores[fusionKey(r.Chunk.DocID, r.Chunk.ID)]
		r.Score = (1-weight)*r.Score + weight*kw
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}
