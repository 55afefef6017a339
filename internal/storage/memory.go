package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/vector"
	"github.com/hyperjump/shiori/pkg/utils"
)

type pageKey struct {
	docID   string
	pageNum int
}

// MemoryGraph is a GraphStore held entirely in process memory. It has the same
// preconditions and ordering guarantees as SQLiteGraph and loses everything on exit.
type MemoryGraph struct {
	mu      sync.RWMutex
	docs    map[string]*models.Document
	pages   map[pageKey]*models.Page
	chunks  map[vector.Key]*models.Chunk
	byDoc   map[string][]vector.Key
	nextSeq int64
	index   *vector.MemoryIndex
	logger  *zap.Logger
}

// NewMemoryGraph creates an empty in-memory store.
func NewMemoryGraph(dimensions int, metric vector.Metric, opts ...Option) (*MemoryGraph, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	index, err := vector.NewMemoryIndex(dimensions, metric)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}
	return &MemoryGraph{
		docs:   make(map[string]*models.Document),
		pages:  make(map[pageKey]*models.Page),
		chunks: make(map[vector.Key]*models.Chunk),
		byDoc:  make(map[string][]vector.Key),
		index:  index,
		logger: utils.OrNop(o.logger),
	}, nil
}

func (m *MemoryGraph) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putDocumentLocked(doc)
}

func (m *MemoryGraph) putDocumentLocked(doc *models.Document) error {
	if _, ok := m.docs[doc.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDocument, doc.ID)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	d := *doc
	m.docs[doc.ID] = &d
	return nil
}

func (m *MemoryGraph) CreatePage(ctx context.Context, page *models.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[page.DocID]; !ok {
		return fmt.Errorf("%w: %s", ErrOrphanPage, page.DocID)
	}
	k := pageKey{page.DocID, page.PageNum}
	if _, ok := m.pages[k]; ok {
		return fmt.Errorf("%w: %s page %d", ErrDuplicatePage, page.DocID, page.PageNum)
	}
	p := *page
	m.pages[k] = &p
	return nil
}

func (m *MemoryGraph) CreateChunk(ctx context.Context, chunk *models.Chunk) error {
	if err := validateChunk(chunk, m.index.Dimensions()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pages[pageKey{chunk.DocID, chunk.PageNum}]; !ok {
		return fmt.Errorf("%w: %s page %d", ErrOrphanChunk, chunk.DocID, chunk.PageNum)
	}
	if _, ok := m.chunks[vector.Key{DocID: chunk.DocID, ChunkID: chunk.ID}]; ok {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateChunk, chunk.DocID, chunk.ID)
	}
	return m.putChunksLocked(ctx, []*models.Chunk{chunk}, m.docs[chunk.DocID].Family)
}

// putChunksLocked indexes first so a rejected batch leaves the maps untouched.
func (m *MemoryGraph) putChunksLocked(ctx context.Context, chunks []*models.Chunk, family string) error {
	entries := make([]vector.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = entryFor(c, family)
		entries[i].Seq = m.nextSeq + int64(i) + 1
	}
	if err := m.index.Add(ctx, entries); err != nil {
		return err
	}
	for i, c := range chunks {
		c.Seq = entries[i].Seq
		stored := *c
		stored.Headings = append([]string(nil), c.Headings...)
		stored.Embedding = append([]float32(nil), c.Embedding...)
		m.chunks[entries[i].Key] = &stored
		m.byDoc[c.DocID] = append(m.byDoc[c.DocID], entries[i].Key)
	}
	m.nextSeq += int64(len(chunks))
	return nil
}

// WriteDocument validates the whole batch before touching state, so it is all or nothing.
func (m *MemoryGraph) WriteDocument(ctx context.Context, doc *models.Document, pages []*models.Page, chunks []*models.Chunk) error {
	if err := validateWrite(doc, pages, chunks, m.index.Dimensions()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDocument, doc.ID)
	}
	if err := m.putChunksLocked(ctx, chunks, doc.Family); err != nil {
		return err
	}
	_ = m.putDocumentLocked(doc)
	for _, p := range pages {
		cp := *p
		m.pages[pageKey{p.DocID, p.PageNum}] = &cp
	}
	m.logger.Debug("document written", zap.String("doc_id", doc.ID), zap.Int("chunks", len(chunks)))
	return nil
}

func (m *MemoryGraph) VectorSearch(ctx context.Context, query []float32, topK int, filter SearchFilter) ([]*models.QueryResult, error) {
	hits, err := m.index.Search(ctx, query, topK, filter.accept)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*models.QueryResult, 0, len(hits))
	for _, h := range hits {
		c, ok := m.chunks[h.Key]
		if !ok {
			continue
		}
		chunk := *c
		chunk.Embedding = nil
		doc := *m.docs[c.DocID]
		page := *m.pages[pageKey{c.DocID, c.PageNum}]
		results = append(results, &models.QueryResult{Chunk: &chunk, Document: &doc, Page: &page, Score: h.Score})
	}
	return results, nil
}

func (m *MemoryGraph) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryGraph) GetPage(ctx context.Context, docID string, pageNum int) (*models.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pages[pageKey{docID, pageNum}]
	if !ok {
		return nil, fmt.Errorf("page %d of %s: %w", pageNum, docID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryGraph) GetChunk(ctx context.Context, docID, chunkID string) (*models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chunks[vector.Key{DocID: docID, ChunkID: chunkID}]
	if !ok {
		return nil, fmt.Errorf("chunk %s/%s: %w", docID, chunkID, ErrNotFound)
	}
	cp := *c
	cp.Embedding = append([]float32(nil), c.Embedding...)
	return &cp, nil
}

func (m *MemoryGraph) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]*models.Document, 0, len(m.docs))
	for _, d := range m.docs {
		cp := *d
		docs = append(docs, &cp)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

func (m *MemoryGraph) ListPages(ctx context.Context, docID string) ([]*models.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pages := []*models.Page{}
	for k, p := range m.pages {
		if k.docID == docID {
			cp := *p
			pages = append(pages, &cp)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNum < pages[j].PageNum })
	return pages, nil
}

func (m *MemoryGraph) ListChunks(ctx context.Context, docID string) ([]*models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chunks := make([]*models.Chunk, 0, len(m.byDoc[docID]))
	for _, k := range m.byDoc[docID] {
		cp := *m.chunks[k]
		chunks = append(chunks, &cp)
	}
	return chunks, nil
}

func (m *MemoryGraph) DeleteDocument(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	m.index.RemoveDocument(ctx, id)
	for _, k := range m.byDoc[id] {
		delete(m.chunks, k)
	}
	delete(m.byDoc, id)
	for k := range m.pages {
		if k.docID == id {
			delete(m.pages, k)
		}
	}
	delete(m.docs, id)
	return nil
}

func (m *MemoryGraph) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Stats{
		Documents: int64(len(m.docs)),
		Pages:     int64(len(m.pages)),
		Chunks:    int64(len(m.chunks)),
		Vectors:   m.index.Size(),
	}, nil
}

func (m *MemoryGraph) Dimensions() int { return m.index.Dimensions() }

func (m *MemoryGraph) Close() error { return m.index.Close() }
