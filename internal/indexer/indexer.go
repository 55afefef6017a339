// Package indexer runs the ingestion pipeline: parse, chunk, embed, then persist
// a document, its pages and its chunks in one atomic write.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/shiori/internal/chunker"
	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/layout"
	"github.com/hyperjump/shiori/internal/metrics"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Indexer ingests PDFs into the graph store, the blob store and, when set, the
// keyword index.
type Indexer struct {
	store    storage.GraphStore
	blobs    *storage.BlobStore
	parser   layout.Parser
	chunker  *chunker.Builder
	embedder embedding.Embedder
	keywords keyword.Index
	cfg      config.IngestConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
	locks    *keyedMutex
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for pipeline events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithMetrics records ingestion outcomes.
func WithMetrics(m *metrics.Metrics) IndexerOption {
	return func(idx *Indexer) { idx.metrics = m }
}

// WithKeywordIndex also indexes chunk text into idx. Keyword indexing is best
// effort; failures are logged and never fail an ingestion.
func WithKeywordIndex(k keyword.Index) IndexerOption {
	return func(idx *Indexer) { idx.keywords = k }
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(
	store storage.GraphStore,
	blobs *storage.BlobStore,
	parser layout.Parser,
	builder *chunker.Builder,
	embedder embedding.Embedder,
	cfg config.IngestConfig,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		store:    store,
		blobs:    blobs,
		parser:   parser,
		chunker:  builder,
		embedder: embedder,
		cfg:      cfg,
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = zap.NewNop()
	}
	return idx
}

// Ingest parses, chunks and embeds req.Data and writes the document with all of
// its pages and chunks atomically. A document id that already exists fails with
// storage.ErrDuplicateDocument and leaves the stored document untouched. Parse
// errors, embedding errors and cancellation abort with nothing persisted.
func (idx *Indexer) Ingest(ctx context.Context, req *models.IngestRequest) (res *models.IngestResult, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			idx.metrics.IngestFailed(failureReason(err))
		}
	}()

	if req == nil || len(req.Data) == 0 {
		return nil, &layout.ParseError{Op: "open", Err: fmt.Errorf("%w: empty upload", layout.ErrCorrupt)}
	}
	docID := req.ID
	if docID == "" {
		if docID, err = NewDocID(idx.cfg.IDStrategy, req.Data); err != nil {
			return nil, err
		}
	}
	if err := ValidateDocID(docID); err != nil {
		return nil, err
	}

	unlock := idx.locks.Lock(docID)
	defer unlock()

	if _, err := idx.store.GetDocument(ctx, docID); err == nil {
		return nil, fmt.Errorf("document %s: %w", docID, storage.ErrDuplicateDocument)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to check document %s: %w", docID, err)
	}

	parsed, err := idx.parser.Parse(ctx, req.Data)
	if err != nil {
		return nil, err
	}

	chunks := idx.chunker.Build(docID, parsed.Elements)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Text
		}
		vectors, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(vectors) != len(chunks) {
			return nil, fmt.Errorf("failed to generate embeddings: got %d vectors for %d chunks", len(vectors), len(chunks))
		}
		for i := range chunks {
			chunks[i].Embedding = vectors[i]
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sourceURI, err := idx.blobs.URI(docID)
	if err != nil {
		return nil, err
	}
	doc := &models.Document{
		ID:        docID,
		Title:     resolveTitle(req, parsed, docID),
		SourceURI: sourceURI,
		Family:    req.Family,
		CreatedAt: time.Now().UTC(),
	}
	if doc.Family == "" {
		doc.Family = idx.cfg.DefaultFamily
	}
	pages := make([]*models.Page, len(parsed.Pages))
	for i := range parsed.Pages {
		p := parsed.Pages[i]
		p.DocID = docID
		pages[i] = &p
	}

	// the PDF only takes its final name once the graph write has committed, so a
	// rejected write never touches a blob another writer already stored
	staged, err := idx.blobs.Stage(docID, req.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to store pdf: %w", err)
	}
	if err := idx.writeGraph(ctx, doc, pages, chunks); err != nil {
		if discardErr := staged.Discard(); discardErr != nil {
			idx.logger.Error("failed to remove pdf after aborted ingest", zap.String("doc_id", docID), zap.Error(discardErr))
		}
		return nil, err
	}
	if err := staged.Commit(); err != nil {
		if delErr := idx.store.DeleteDocument(context.WithoutCancel(ctx), docID); delErr != nil {
			idx.logger.Error("failed to roll back document without pdf", zap.String("doc_id", docID), zap.Error(delErr))
		}
		return nil, fmt.Errorf("failed to store pdf: %w", err)
	}

	if idx.keywords != nil {
		if err := idx.keywords.IndexChunks(ctx, doc, chunks); err != nil {
			idx.logger.Warn("keyword indexing failed", zap.String("doc_id", docID), zap.Error(err))
		}
	}

	took := time.Since(start)
	idx.metrics.IngestSucceeded(len(chunks), took)
	idx.logger.Info("document ingested",
		zap.String("doc_id", docID),
		zap.String("title", doc.Title),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(chunks)),
		zap.Duration("took", took))
	return &models.IngestResult{DocID: docID, Title: doc.Title, Pages: len(pages), Chunks: len(chunks)}, nil
}

// writeGraph commits the document unless ctx was cancelled first.
func (idx *Indexer) writeGraph(ctx context.Context, doc *models.Document, pages []*models.Page, chunks []*models.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := idx.store.WriteDocument(ctx, doc, pages, chunks); err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

func resolveTitle(req *models.IngestRequest, parsed *layout.Result, docID string) string {
	for _, t := range []string{req.Title, parsed.Title, titleFromFilename(req.Filename)} {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return docID
}

func titleFromFilename(name string) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, storage.ErrDuplicateDocument):
		return "duplicate"
	case layout.IsParseError(err):
		return "parse"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrInvalidDocID):
		return "invalid"
	default:
		return "error"
	}
}

// FileOptions overrides what IngestFile derives from the file.
type FileOptions struct {
	ID     string
	Title  string
	Family string
}

// IngestFile reads path and ingests it. The title defaults to the file name
// without its extension when the PDF has no title of its own.
func (idx *Indexer) IngestFile(ctx context.Context, path string, opts FileOptions) (*models.IngestResult, error) {
	idx.logger.Debug("indexer ingesting file", zap.String("path", path))
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return idx.Ingest(ctx, &models.IngestRequest{
		ID:       opts.ID,
		Title:    opts.Title,
		Family:   opts.Family,
		Filename: filepath.Base(absPath),
		Data:     data,
	})
}

// FileOutcome is the result of ingesting one file in a batch.
type FileOutcome struct {
	Path   string
	Result *models.IngestResult
	Err    error
}

// IngestPaths ingests every PDF named by paths, walking directories
// recursively, with at most workers ingestions in flight. Outcomes are returned
// in path order; a failing file does not stop the others.
func (idx *Indexer) IngestPaths(ctx context.Context, paths []string, workers int, opts FileOptions) ([]FileOutcome, error) {
	files, err := CollectPDFs(paths)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = idx.cfg.Workers
	}
	if workers <= 0 {
		workers = 1
	}
	// ids derive from each file's content
	opts.ID = ""

	outcomes := make([]FileOutcome, len(files))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			outcomes[i].Path = path
			if err := ctx.Err(); err != nil {
				outcomes[i].Err = err
				return nil
			}
			outcomes[i].Result, outcomes[i].Err = idx.IngestFile(ctx, path, opts)
			if outcomes[i].Err != nil {
				idx.logger.Warn("ingest failed", zap.String("path", path), zap.Error(outcomes[i].Err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}

// CollectPDFs expands paths into regular .pdf files, walking directories
// recursively. Explicitly named files are kept whatever their extension.
func CollectPDFs(paths []string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			files = append(files, p)
		}
	}
	for _, p := range paths {
		absPath, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("absolute path: %w", err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			add(absPath)
			continue
		}
		err = filepath.WalkDir(absPath, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || !IsPDF(path) {
				return nil
			}
			// Resolve symlinks so we only ingest regular files
			finfo, statErr := os.Stat(path)
			if statErr != nil || !finfo.Mode().IsRegular() {
				return nil
			}
			add(path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	return files, nil
}

// IsPDF reports whether path has a .pdf extension, case-insensitively.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// DeleteDocument removes a document from the graph store, the keyword index and
// the blob store. A missing document is storage.ErrNotFound.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	unlock := idx.locks.Lock(id)
	defer unlock()

	idx.logger.Debug("indexer deleting document", zap.String("id", id))
	if err := idx.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if idx.keywords != nil {
		if err := idx.keywords.DeleteDocument(ctx, id); err != nil {
			idx.logger.Warn("failed to delete from keyword index", zap.String("id", id), zap.Error(err))
		}
	}
	if err := idx.blobs.Delete(id); err != nil {
		return err
	}
	idx.logger.Info("document deleted", zap.String("id", id))
	return nil
}
