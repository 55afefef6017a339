package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/vector"
	"github.com/hyperjump/shiori/pkg/utils"
)

// SQL driver names: mattn/go-sqlite3 needs cgo, modernc.org/sqlite is pure Go.
const (
	DriverMattn   = "sqlite3"
	DriverModernc = "sqlite"
)

// SQLiteGraph is a GraphStore on SQLite. Rows are the source of truth; chunk vectors
// are mirrored into an in-memory index that is rebuilt on open and updated after
// every committed write. Writes are serialized by a mutex, reads are not.
type SQLiteGraph struct {
	db     *sql.DB
	index  *vector.MemoryIndex
	dims   int
	mu     sync.Mutex
	logger *zap.Logger
	tracer trace.Tracer
}

// NewSQLiteGraph opens or creates the database at dbPath. Parent directories are
// created if they do not exist. dbPath may be ":memory:".
func NewSQLiteGraph(driver, dbPath string, dimensions int, metric vector.Metric, opts ...Option) (*SQLiteGraph, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if driver == "" {
		driver = DriverMattn
	}
	if driver != DriverMattn && driver != DriverModernc {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}
	index, err := vector.NewMemoryIndex(dimensions, metric)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}

	inMemory := dbPath == ":memory:"
	if !inMemory {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open(driver, dsn(driver, dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteGraph{db: db, index: index, dims: dimensions, logger: utils.OrNop(o.logger), tracer: o.tracer()}
	if err := s.checkMeta(dimensions, index.Metric()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.loadIndex(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	s.logger.Debug("graph store opened",
		zap.String("driver", driver),
		zap.String("path", dbPath),
		zap.Int("vectors", index.Size()))
	return s, nil
}

func dsn(driver, path string) string {
	if driver == DriverModernc {
		return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	return path + "?_foreign_keys=on&_busy_timeout=5000"
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		source_uri TEXT NOT NULL DEFAULT '',
		family TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_family ON documents(family);

	CREATE TABLE IF NOT EXISTS pages (
		doc_id TEXT NOT NULL,
		page_num INTEGER NOT NULL,
		width REAL NOT NULL,
		height REAL NOT NULL,
		PRIMARY KEY (doc_id, page_num),
		FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS chunks (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		page_num INTEGER NOT NULL,
		x0 REAL NOT NULL,
		y0 REAL NOT NULL,
		x1 REAL NOT NULL,
		y1 REAL NOT NULL,
		headings TEXT NOT NULL DEFAULT '[]',
		text TEXT NOT NULL,
		embedding BLOB NOT NULL,
		UNIQUE (doc_id, id),
		FOREIGN KEY (doc_id, page_num) REFERENCES pages(doc_id, page_num) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_page ON chunks(doc_id, page_num);

	CREATE VIEW IF NOT EXISTS rel_of AS
		SELECT doc_id, page_num, 'OF' AS label FROM pages;

	CREATE VIEW IF NOT EXISTS rel_in_page AS
		SELECT doc_id, id AS chunk_id, page_num, 'IN_PAGE' AS label FROM chunks;
	`
	_, err := db.Exec(schema)
	return err
}

// checkMeta pins the dimension and metric on first open and rejects later opens
// that disagree, since stored vectors cannot be compared across either.
func (s *SQLiteGraph) checkMeta(dims int, metric vector.Metric) error {
	want := map[string]string{"dimensions": strconv.Itoa(dims), "metric": string(metric)}
	for _, key := range []string{"dimensions", "metric"} {
		var got string
		err := s.db.QueryRow(`SELECT value FROM store_meta WHERE key = ?`, key).Scan(&got)
		if errors.Is(err, sql.ErrNoRows) {
			if _, err := s.db.Exec(`INSERT INTO store_meta (key, value) VALUES (?, ?)`, key, want[key]); err != nil {
				return fmt.Errorf("failed to record store %s: %w", key, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read store %s: %w", key, err)
		}
		if got != want[key] {
			if key == "dimensions" {
				return fmt.Errorf("%w: store was created with %s dimensions, encoder has %s", ErrDimensionMismatch, got, want[key])
			}
			return fmt.Errorf("store was created with metric %s, config says %s", got, want[key])
		}
	}
	return nil
}

func (s *SQLiteGraph) loadIndex(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.seq, c.id, c.doc_id, d.family, c.embedding
		 FROM chunks c JOIN documents d ON d.id = c.doc_id ORDER BY c.seq`)
	if err != nil {
		return err
	}
	defer rows.Close()
	var entries []vector.Entry
	for rows.Next() {
		var e vector.Entry
		var blob []byte
		if err := rows.Scan(&e.Seq, &e.Key.ChunkID, &e.Key.DocID, &e.Family, &blob); err != nil {
			return err
		}
		if e.Vector, err = decodeEmbedding(blob); err != nil {
			return fmt.Errorf("chunk %s/%s: %w", e.Key.DocID, e.Key.ChunkID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return s.index.Add(ctx, entries)
}

// CreateDocument inserts a document with no pages.
func (s *SQLiteGraph) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := insertDocument(ctx, tx, doc); err != nil {
		return err
	}
	return tx.Commit()
}

// CreatePage inserts a page of an existing document.
func (s *SQLiteGraph) CreatePage(ctx context.Context, page *models.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := exists(ctx, tx, `SELECT 1 FROM documents WHERE id = ?`, page.DocID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrphanPage, page.DocID)
	}
	if err := insertPage(ctx, tx, page); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateChunk inserts a chunk on an existing page and indexes its vector.
func (s *SQLiteGraph) CreateChunk(ctx context.Context, chunk *models.Chunk) error {
	if err := validateChunk(chunk, s.dims); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var family string
	err = tx.QueryRowContext(ctx,
		`SELECT d.family FROM pages p JOIN documents d ON d.id = p.doc_id
		 WHERE p.doc_id = ? AND p.page_num = ?`, chunk.DocID, chunk.PageNum,
	).Scan(&family)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s page %d", ErrOrphanChunk, chunk.DocID, chunk.PageNum)
	}
	if err != nil {
		return err
	}
	stmt, err := prepareChunkInsert(ctx, tx)
	if err != nil {
		return err
	}
	defer stmt.Close()
	seq, err := insertChunk(ctx, stmt, chunk)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	chunk.Seq = seq
	return s.index.Add(ctx, []vector.Entry{entryFor(chunk, family)})
}

// WriteDocument stores doc, pages and chunks in one transaction, in that order.
// On any error nothing is written. Chunk Seq fields are set on success.
func (s *SQLiteGraph) WriteDocument(ctx context.Context, doc *models.Document, pages []*models.Page, chunks []*models.Chunk) (err error) {
	ctx, span := s.tracer.Start(ctx, "GraphStore.WriteDocument")
	defer span.End()
	defer func() { endSpan(span, err) }()
	span.SetAttributes(
		attribute.Int("pages", len(pages)),
		attribute.Int("chunks", len(chunks)),
	)
	if err := validateWrite(doc, pages, chunks, s.dims); err != nil {
		return err
	}
	span.SetAttributes(attribute.String("doc_id", doc.ID))

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertDocument(ctx, tx, doc); err != nil {
		return err
	}
	for _, p := range pages {
		if err := insertPage(ctx, tx, p); err != nil {
			return err
		}
	}
	stmt, err := prepareChunkInsert(ctx, tx)
	if err != nil {
		return err
	}
	defer stmt.Close()
	seqs := make([]int64, len(chunks))
	for i, c := range chunks {
		if seqs[i], err = insertChunk(ctx, stmt, c); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document %s: %w", doc.ID, err)
	}

	entries := make([]vector.Entry, len(chunks))
	for i, c := range chunks {
		c.Seq = seqs[i]
		entries[i] = entryFor(c, doc.Family)
	}
	if err := s.index.Add(ctx, entries); err != nil {
		return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
	}
	s.logger.Debug("document written",
		zap.String("doc_id", doc.ID),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(chunks)))
	return nil
}

func insertDocument(ctx context.Context, tx *sql.Tx, doc *models.Document) error {
	ok, err := exists(ctx, tx, `SELECT 1 FROM documents WHERE id = ?`, doc.ID)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDocument, doc.ID)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, source_uri, family, created_at) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.SourceURI, doc.Family, doc.CreatedAt.UnixNano(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateDocument, doc.ID)
	}
	return err
}

func insertPage(ctx context.Context, tx *sql.Tx, p *models.Page) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO pages (doc_id, page_num, width, height) VALUES (?, ?, ?, ?)`,
		p.DocID, p.PageNum, p.Width, p.Height,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s page %d", ErrDuplicatePage, p.DocID, p.PageNum)
	}
	return err
}

func prepareChunkInsert(ctx context.Context, tx *sql.Tx) (*sql.Stmt, error) {
	return tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, doc_id, page_num, x0, y0, x1, y1, headings, text, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
}

func insertChunk(ctx context.Context, stmt *sql.Stmt, c *models.Chunk) (int64, error) {
	headings := c.Headings
	if headings == nil {
		headings = []string{}
	}
	headingsJSON, err := json.Marshal(headings)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal headings: %w", err)
	}
	res, err := stmt.ExecContext(ctx,
		c.ID, c.DocID, c.PageNum, c.BBox[0], c.BBox[1], c.BBox[2], c.BBox[3],
		string(headingsJSON), c.Text, encodeEmbedding(c.Embedding),
	)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%w: %s/%s", ErrDuplicateChunk, c.DocID, c.ID)
	}
	if isForeignKeyViolation(err) {
		return 0, fmt.Errorf("%w: %s page %d", ErrOrphanChunk, c.DocID, c.PageNum)
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// VectorSearch ranks chunks by similarity to query and joins each hit to its page
// and document.
func (s *SQLiteGraph) VectorSearch(ctx context.Context, query []float32, topK int, filter SearchFilter) (results []*models.QueryResult, err error) {
	ctx, span := s.tracer.Start(ctx, "GraphStore.VectorSearch")
	defer span.End()
	defer func() { endSpan(span, err) }()
	span.SetAttributes(
		attribute.Int("top_k", topK),
		attribute.String("doc_id", filter.DocID),
		attribute.String("family", filter.Family),
	)

	hits, err := s.index.Search(ctx, query, topK, filter.accept)
	if err != nil {
		return nil, err
	}
	results = make([]*models.QueryResult, 0, len(hits))
	for _, h := range hits {
		row := s.db.QueryRowContext(ctx, hydrateQuery, h.Key.DocID, h.Key.ChunkID)
		r, err := scanResult(row)
		if errors.Is(err, sql.ErrNoRows) {
			// deleted between index search and load
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load chunk %s/%s: %w", h.Key.DocID, h.Key.ChunkID, err)
		}
		r.Score = h.Score
		results = append(results, r)
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

const hydrateQuery = `
	SELECT c.seq, c.id, c.doc_id, c.page_num, c.x0, c.y0, c.x1, c.y1, c.headings, c.text,
	       p.width, p.height,
	       d.title, d.source_uri, d.family, d.created_at
	FROM chunks c
	JOIN pages p ON p.doc_id = c.doc_id AND p.page_num = c.page_num
	JOIN documents d ON d.id = c.doc_id
	WHERE c.doc_id = ? AND c.id = ?`

func scanResult(row *sql.Row) (*models.QueryResult, error) {
	var (
		c        models.Chunk
		p        models.Page
		d        models.Document
		headings string
		created  int64
	)
	err := row.Scan(&c.Seq, &c.ID, &c.DocID, &c.PageNum, &c.BBox[0], &c.BBox[1], &c.BBox[2], &c.BBox[3],
		&headings, &c.Text, &p.Width, &p.Height, &d.Title, &d.SourceURI, &d.Family, &created)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(headings), &c.Headings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal headings: %w", err)
	}
	p.DocID, p.PageNum = c.DocID, c.PageNum
	d.ID = c.DocID
	d.CreatedAt = time.Unix(0, created).UTC()
	return &models.QueryResult{Chunk: &c, Page: &p, Document: &d}, nil
}

// GetDocument returns a document by ID.
func (s *SQLiteGraph) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, source_uri, family, created_at FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*models.Document, error) {
	var d models.Document
	var created int64
	if err := row.Scan(&d.ID, &d.Title, &d.SourceURI, &d.Family, &created); err != nil {
		return nil, err
	}
	d.CreatedAt = time.Unix(0, created).UTC()
	return &d, nil
}

// GetPage returns one page of a document.
func (s *SQLiteGraph) GetPage(ctx context.Context, docID string, pageNum int) (*models.Page, error) {
	p := models.Page{DocID: docID, PageNum: pageNum}
	err := s.db.QueryRowContext(ctx,
		`SELECT width, height FROM pages WHERE doc_id = ? AND page_num = ?`, docID, pageNum,
	).Scan(&p.Width, &p.Height)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %d of %s: %w", pageNum, docID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetChunk returns a chunk, including its embedding.
func (s *SQLiteGraph) GetChunk(ctx context.Context, docID, chunkID string) (*models.Chunk, error) {
	row := s.db.QueryRowContext(ctx, chunkQuery+` WHERE doc_id = ? AND id = ?`, docID, chunkID)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chunk %s/%s: %w", docID, chunkID, ErrNotFound)
	}
	return c, err
}

const chunkQuery = `SELECT seq, id, doc_id, page_num, x0, y0, x1, y1, headings, text, embedding FROM chunks`

func scanChunk(row scanner) (*models.Chunk, error) {
	var c models.Chunk
	var headings string
	var blob []byte
	err := row.Scan(&c.Seq, &c.ID, &c.DocID, &c.PageNum, &c.BBox[0], &c.BBox[1], &c.BBox[2], &c.BBox[3],
		&headings, &c.Text, &blob)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(headings), &c.Headings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal headings: %w", err)
	}
	if c.Embedding, err = decodeEmbedding(blob); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListDocuments returns all documents, oldest first.
func (s *SQLiteGraph) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, source_uri, family, created_at FROM documents ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := []*models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// ListPages returns the pages of a document in page order.
func (s *SQLiteGraph) ListPages(ctx context.Context, docID string) ([]*models.Page, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page_num, width, height FROM pages WHERE doc_id = ? ORDER BY page_num`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	pages := []*models.Page{}
	for rows.Next() {
		p := &models.Page{DocID: docID}
		if err := rows.Scan(&p.PageNum, &p.Width, &p.Height); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// ListChunks returns the chunks of a document in insertion order.
func (s *SQLiteGraph) ListChunks(ctx context.Context, docID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, chunkQuery+` WHERE doc_id = ? ORDER BY seq`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	chunks := []*models.Chunk{}
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteDocument removes a document with its pages and chunks.
func (s *SQLiteGraph) DeleteDocument(ctx context.Context, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "GraphStore.DeleteDocument", trace.WithAttributes(attribute.String("doc_id", id)))
	defer span.End()
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := exists(ctx, tx, `SELECT 1 FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	for _, q := range []string{
		`DELETE FROM chunks WHERE doc_id = ?`,
		`DELETE FROM pages WHERE doc_id = ?`,
		`DELETE FROM documents WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("failed to delete document %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	removed := s.index.RemoveDocument(ctx, id)
	s.logger.Debug("document deleted", zap.String("doc_id", id), zap.Int("vectors", removed))
	return nil
}

// Stats returns node counts.
func (s *SQLiteGraph) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Vectors: s.index.Size()}
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM pages), (SELECT COUNT(*) FROM chunks)`,
	).Scan(&st.Documents, &st.Pages, &st.Chunks)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Dimensions returns the embedding length the store accepts.
func (s *SQLiteGraph) Dimensions() int { return s.dims }

// Close closes the database connection.
func (s *SQLiteGraph) Close() error {
	_ = s.index.Close()
	return s.db.Close()
}

func exists(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Both drivers report constraint failures with SQLite's own message text.
func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed"))
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
