package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory vector index using brute-force search. Entries are
// kept in Seq order so equal scores come back in insertion order.
type MemoryIndex struct {
	dimensions int
	metric     Metric
	entries    []*Entry
	norms      []float64
	byKey      map[Key]int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension and metric.
func NewMemoryIndex(dimensions int, metric Metric) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if metric == "" {
		metric = MetricCosine
	}
	return &MemoryIndex{
		dimensions: dimensions,
		metric:     metric,
		byKey:      make(map[Key]int),
	}, nil
}

// Add inserts entries. The batch is validated first and applied as a whole, so
// a bad entry leaves the index unchanged and searches never see half a batch.
func (m *MemoryIndex) Add(ctx context.Context, entries []Entry) error {
	seen := make(map[Key]bool, len(entries))
	for i := range entries {
		if len(entries[i].Vector) != m.dimensions {
			return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(entries[i].Vector), m.dimensions)
		}
		if seen[entries[i].Key] {
			return fmt.Errorf("duplicate key in batch: %s/%s", entries[i].Key.DocID, entries[i].Key.ChunkID)
		}
		seen[entries[i].Key] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range seen {
		if _, ok := m.byKey[k]; ok {
			return fmt.Errorf("key already indexed: %s/%s", k.DocID, k.ChunkID)
		}
	}
	sorted := true
	for i := range entries {
		e := entries[i]
		vec := make([]float32, m.dimensions)
		copy(vec, e.Vector)
		e.Vector = vec
		if n := len(m.entries); n > 0 && m.entries[n-1].Seq > e.Seq {
			sorted = false
		}
		m.entries = append(m.entries, &e)
		m.norms = append(m.norms, L2Norm(vec))
	}
	if !sorted {
		m.resortLocked()
	} else {
		for i := len(m.entries) - len(entries); i < len(m.entries); i++ {
			m.byKey[m.entries[i].Key] = i
		}
	}
	return nil
}

func (m *MemoryIndex) resortLocked() {
	idx := make([]int, len(m.entries))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return m.entries[idx[a]].Seq < m.entries[idx[b]].Seq })
	entries := make([]*Entry, len(idx))
	norms := make([]float64, len(idx))
	for i, j := range idx {
		entries[i] = m.entries[j]
		norms[i] = m.norms[j]
	}
	m.entries = entries
	m.norms = norms
	m.reindexLocked()
}

func (m *MemoryIndex) reindexLocked() {
	m.byKey = make(map[Key]int, len(m.entries))
	for i, e := range m.entries {
		m.byKey[e.Key] = i
	}
}

// Search returns up to k entries accepted by filter, by descending score. Ties
// keep insertion (Seq) order.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Result, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("%w: query has %d, expected %d", ErrDimensionMismatch, len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.entries) == 0 {
		return []Result{}, nil
	}
	qNorm := L2Norm(query)
	scores := make([]Result, 0, len(m.entries))
	for i, e := range m.entries {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if filter != nil && !filter(e) {
			continue
		}
		scores = append(scores, Result{Key: e.Key, Seq: e.Seq, Score: m.score(query, qNorm, i)})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

func (m *MemoryIndex) score(query []float32, qNorm float64, i int) float64 {
	dot := InnerProduct(query, m.entries[i].Vector)
	if m.metric == MetricDot {
		return dot
	}
	if qNorm == 0 || m.norms[i] == 0 {
		return 0
	}
	return dot / (qNorm * m.norms[i])
}

// RemoveDocument drops every entry of docID and returns how many were removed.
func (m *MemoryIndex) RemoveDocument(ctx context.Context, docID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.entries[:0]
	norms := m.norms[:0]
	removed := 0
	for i, e := range m.entries {
		if e.Key.DocID == docID {
			removed++
			continue
		}
		entries = append(entries, e)
		norms = append(norms, m.norms[i])
	}
	for i := len(entries); i < len(m.entries); i++ {
		m.entries[i] = nil
	}
	m.entries = entries
	m.norms = norms
	m.reindexLocked()
	return removed
}

// Has reports whether key is indexed.
func (m *MemoryIndex) Has(key Key) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byKey[key]
	return ok
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Dimensions returns the configured vector length.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Metric returns the similarity metric.
func (m *MemoryIndex) Metric() Metric {
	return m.metric
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
