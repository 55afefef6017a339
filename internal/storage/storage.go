// Package storage persists the Document → Page → Chunk graph and answers vector
// similarity queries over chunk embeddings.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/vector"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Store errors. Callers match them with errors.Is; returned errors wrap them with context.
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateDocument = errors.New("document already exists")
	ErrDuplicatePage     = errors.New("page already exists")
	ErrDuplicateChunk    = errors.New("chunk already exists")
	ErrOrphanPage        = errors.New("page references a missing document")
	ErrOrphanChunk       = errors.New("chunk references a missing page")
	ErrDimensionMismatch = vector.ErrDimensionMismatch
)

// IsDuplicate reports whether err is any of the duplicate-write errors.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateDocument) || errors.Is(err, ErrDuplicatePage) || errors.Is(err, ErrDuplicateChunk)
}

// SearchFilter restricts VectorSearch. Empty fields match everything.
type SearchFilter struct {
	DocID  string
	Family string
}

func (f SearchFilter) accept(e *vector.Entry) bool {
	if f.DocID != "" && e.Key.DocID != f.DocID {
		return false
	}
	if f.Family != "" && e.Family != f.Family {
		return false
	}
	return true
}

// Stats holds node counts.
type Stats struct {
	Documents int64 `json:"documents"`
	Pages     int64 `json:"pages"`
	Chunks    int64 `json:"chunks"`
	Vectors   int   `json:"vectors"`
}

// GraphStore is the storage port. Writes enforce Document before Page before Chunk;
// every backend preserves the OF (Page→Document) and IN_PAGE (Chunk→Page) edges.
type GraphStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	CreatePage(ctx context.Context, page *models.Page) error
	CreateChunk(ctx context.Context, chunk *models.Chunk) error
	// WriteDocument stores a document with all its pages and chunks atomically.
	WriteDocument(ctx context.Context, doc *models.Document, pages []*models.Page, chunks []*models.Chunk) error

	// VectorSearch returns up to topK results by descending similarity; equal scores
	// keep chunk insertion order. An empty store yields an empty slice.
	VectorSearch(ctx context.Context, query []float32, topK int, filter SearchFilter) ([]*models.QueryResult, error)

	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetPage(ctx context.Context, docID string, pageNum int) (*models.Page, error)
	GetChunk(ctx context.Context, docID, chunkID string) (*models.Chunk, error)
	ListDocuments(ctx context.Context) ([]*models.Document, error)
	ListPages(ctx context.Context, docID string) ([]*models.Page, error)
	ListChunks(ctx context.Context, docID string) ([]*models.Chunk, error)

	// DeleteDocument removes a document and, with it, its pages and chunks.
	DeleteDocument(ctx context.Context, id string) error

	Stats(ctx context.Context) (*Stats, error)
	Dimensions() int
	Close() error
}

const tracerName = "shiori.storage"

// Backends accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Option configures a store.
type Option func(*options)

type options struct {
	logger         *zap.Logger
	tracerProvider trace.TracerProvider
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracerProvider sets where store spans go. The global provider is used
// otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

func (o options) tracer() trace.Tracer {
	tp := o.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName)
}

// Open builds the backend named by cfg.Backend with the given embedding
// dimension and similarity metric.
func Open(cfg config.StorageConfig, dimensions int, metric vector.Metric, opts ...Option) (GraphStore, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		return NewSQLiteGraph(cfg.Driver, cfg.DatabasePath, dimensions, metric, opts...)
	case BackendMemory:
		return NewMemoryGraph(dimensions, metric, opts...)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// validateWrite checks a document write batch for everything that can be decided
// without looking at the store: page ownership, chunk ownership and placement,
// duplicates within the batch, and embedding length.
func validateWrite(doc *models.Document, pages []*models.Page, chunks []*models.Chunk, dims int) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	pageSet := make(map[int]bool, len(pages))
	for _, p := range pages {
		if p.DocID != doc.ID {
			return fmt.Errorf("%w: page %d belongs to %q", ErrOrphanPage, p.PageNum, p.DocID)
		}
		if pageSet[p.PageNum] {
			return fmt.Errorf("%w: %s page %d", ErrDuplicatePage, doc.ID, p.PageNum)
		}
		pageSet[p.PageNum] = true
	}
	chunkSet := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		if err := validateChunk(c, dims); err != nil {
			return err
		}
		if c.DocID != doc.ID || !pageSet[c.PageNum] {
			return fmt.Errorf("%w: chunk %s on %s page %d", ErrOrphanChunk, c.ID, c.DocID, c.PageNum)
		}
		if chunkSet[c.ID] {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateChunk, doc.ID, c.ID)
		}
		chunkSet[c.ID] = true
	}
	return nil
}

func validateChunk(c *models.Chunk, dims int) error {
	if c.ID == "" {
		return fmt.Errorf("chunk id is required")
	}
	if len(c.Embedding) != dims {
		return fmt.Errorf("%w: chunk %s has %d, store has %d", ErrDimensionMismatch, c.ID, len(c.Embedding), dims)
	}
	if !c.BBox.Valid() {
		return fmt.Errorf("chunk %s has invalid bbox %s", c.ID, c.BBox)
	}
	return nil
}

func entryFor(c *models.Chunk, family string) vector.Entry {
	return vector.Entry{
		Key:    vector.Key{DocID: c.DocID, ChunkID: c.ID},
		Seq:    c.Seq,
		Family: family,
		Vector: c.Embedding,
	}
}
