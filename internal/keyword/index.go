// Package keyword provides a BM25 keyword index over chunk text and headings.
package keyword

import (
	"context"

	"github.com/hyperjump/shiori/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// DocID restricts hits to one document when non-empty.
	DocID string
	// Family restricts hits to one document family when non-empty.
	Family string
	// HeadingBoost multiplies the score contribution from matches in the heading path.
	// Use 1.0 for no boost.
	HeadingBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2).
	// Default is 1 when FuzzyEnabled is true.
	Fuzziness int
}

// Index defines keyword search operations over chunks.
type Index interface {
	IndexChunks(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error)
	DeleteDocument(ctx context.Context, docID string) error
	// DocCount returns the number of indexed chunks.
	DocCount() (uint64, error)
	Close() error
}

// Result is a single keyword hit.
type Result struct {
	DocID   string
	ChunkID string
	Score   float64
}
