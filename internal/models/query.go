package models

import (
	"fmt"
	"strings"
)

// QueryRequest is the input to the query entrypoint.
type QueryRequest struct {
	Query  string `json:"query"`
	DocID  string `json:"doc_id,omitempty"`
	Family string `json:"family,omitempty"`
	TopK   int    `json:"top_k,omitempty"`
	// MinScore overrides the configured similarity threshold when set.
	MinScore *float64 `json:"min_score,omitempty"`
}

// Validate trims the query and clamps TopK into [1, maxTopK], using defaultTopK when unset.
func (q *QueryRequest) Validate(defaultTopK, maxTopK int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if maxTopK > 0 && q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	if q.TopK <= 0 {
		q.TopK = 1
	}
	return nil
}

// QueryResult pairs a Chunk with its similarity score and originating Document and Page.
type QueryResult struct {
	Chunk    *Chunk    `json:"chunk"`
	Document *Document `json:"document"`
	Page     *Page     `json:"page"`
	Score    float64   `json:"score"`
}

// Citation maps an inline marker to the evidence region it points at.
type Citation struct {
	Marker    string  `json:"marker"`
	ChunkID   string  `json:"chunk_id"`
	DocID     string  `json:"doc_id"`
	PageNum   int     `json:"page_num"`
	BBox      BBox    `json:"bbox"`
	Score     float64 `json:"score"`
	Snippet   string  `json:"snippet,omitempty"`
	ViewerURL string  `json:"viewer_url,omitempty"`
}

// Answer is an answer string with inline markers plus the evidence they resolve to.
type Answer struct {
	AnswerText string     `json:"answer_text"`
	Citations  []Citation `json:"citations"`
}

// QueryResponse is the response of the query entrypoint.
type QueryResponse struct {
	Query string `json:"query"`
	Answer
	Results     []*QueryResult `json:"results,omitempty"`
	QueryTimeMS int64          `json:"query_time_ms"`
}

// Evidence is everything a viewer needs to draw a highlight over the stored PDF.
type Evidence struct {
	DocID      string     `json:"doc_id"`
	PageNum    int        `json:"page_num"`
	PageWidth  float64    `json:"page_width"`
	PageHeight float64    `json:"page_height"`
	BBox       BBox       `json:"bbox"`
	Normalized [4]float64 `json:"normalized_bbox"`
	InBounds   bool       `json:"in_bounds"`
	SourceURI  string     `json:"source_uri"`
	ViewerURL  string     `json:"viewer_url,omitempty"`
}
