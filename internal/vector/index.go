// Package vector provides the brute-force similarity index that backs chunk retrieval.
package vector

import "errors"

// ErrDimensionMismatch is returned when a vector's length differs from the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Key identifies a chunk vector. Chunk IDs are only unique within a document.
type Key struct {
	DocID   string
	ChunkID string
}

// Entry is one indexed vector plus the fields search filters look at.
type Entry struct {
	Key    Key
	Seq    int64
	Family string
	Vector []float32
}

// Result is a single search hit.
type Result struct {
	Key   Key
	Seq   int64
	Score float64
}

// Filter reports whether an entry may appear in results. A nil Filter accepts all.
type Filter func(e *Entry) bool
