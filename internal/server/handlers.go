package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/layout"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/search"
	"github.com/hyperjump/shiori/internal/storage"
	"go.uber.org/zap"
)

// errBadRequest marks malformed input the handlers reject themselves.
var errBadRequest = errors.New("bad request")

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case layout.IsParseError(err):
		return http.StatusUnprocessableEntity
	case storage.IsDuplicate(err):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, search.ErrInvalidQuery),
		errors.Is(err, search.ErrInvalidBBox),
		errors.Is(err, indexer.ErrInvalidDocID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if limit := s.config.Server.MaxUploadBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	data, filename, err := readUpload(r)
	if err != nil {
		s.fail(w, r, "ingest upload rejected", err)
		return
	}
	q := r.URL.Query()
	req := &models.IngestRequest{
		ID:       q.Get("id"),
		Title:    q.Get("title"),
		Family:   q.Get("family"),
		Filename: filename,
		Data:     data,
	}
	s.logger.Debug("ingest request", zap.String("id", req.ID), zap.String("filename", filename), zap.Int("bytes", len(data)))
	res, err := s.indexer.Ingest(r.Context(), req)
	if err != nil {
		s.fail(w, r, "ingest failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

// readUpload accepts a multipart form with a "file" part or a raw PDF body.
func readUpload(r *http.Request) ([]byte, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, "", err
			}
			return nil, "", fmt.Errorf("%w: multipart field \"file\" is required", errBadRequest)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", err
		}
		return data, header.Filename, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty body", errBadRequest)
	}
	return data, r.URL.Query().Get("filename"), nil
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		s.fail(w, r, "list documents failed", err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs, "total": len(docs)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		s.fail(w, r, "get document failed", err)
		return
	}
	pages, err := s.store.ListPages(r.Context(), id)
	if err != nil {
		s.fail(w, r, "list pages failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"document": doc, "pages": len(pages)})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.indexer.DeleteDocument(r.Context(), id); err != nil {
		s.fail(w, r, "deletion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleGetPDF(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetDocument(r.Context(), id); err != nil {
		s.fail(w, r, "get document failed", err)
		return
	}
	f, err := s.blobs.Open(id)
	if err != nil {
		s.fail(w, r, "open pdf failed", err)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/pdf")
	http.ServeContent(w, r, id+".pdf", time.Time{}, f)
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pageNum, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		s.fail(w, r, "bad page", fmt.Errorf("%w: page must be an integer", errBadRequest))
		return
	}
	page, err := s.store.GetPage(r.Context(), id, pageNum)
	if err != nil {
		s.fail(w, r, "get page failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("query request", zap.String("query", req.Query), zap.Int("top_k", req.TopK))
	resp, err := s.engine.Query(r.Context(), &req)
	if err != nil {
		s.fail(w, r, "query failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docID := q.Get("doc")
	if docID == "" {
		s.fail(w, r, "bad evidence request", fmt.Errorf("%w: doc is required", errBadRequest))
		return
	}
	pageNum, err := strconv.Atoi(q.Get("page"))
	if err != nil {
		s.fail(w, r, "bad evidence request", fmt.Errorf("%w: page must be an integer", errBadRequest))
		return
	}
	bbox, err := models.ParseBBox(q.Get("bbox"))
	if err != nil {
		s.fail(w, r, "bad evidence request", fmt.Errorf("%w: %v", search.ErrInvalidBBox, err))
		return
	}
	ev, err := s.engine.ResolveEvidence(r.Context(), docID, pageNum, bbox)
	if err != nil {
		s.fail(w, r, "evidence lookup failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, ev)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusConfig is the configuration echoed by the status endpoint.
type StatusConfig struct {
	StorageBackend      string  `json:"storage_backend"`
	EmbeddingProvider   string  `json:"embedding_provider"`
	EmbeddingDimensions int     `json:"embedding_dimensions"`
	Similarity          string  `json:"similarity"`
	MinScore            float64 `json:"min_score"`
	KeywordWeight       float64 `json:"keyword_weight"`
	ChunkMaxTokens      int     `json:"chunk_max_tokens"`
	Parser              string  `json:"parser"`
	DatabasePath        string  `json:"database_path,omitempty"`
	DocumentsDir        string  `json:"documents_dir,omitempty"`
	BleveIndexPath      string  `json:"bleve_index_path,omitempty"`
}

// Status is the shape of GET /api/v1/status.
type Status struct {
	Documents       int64         `json:"documents"`
	Pages           int64         `json:"pages"`
	Chunks          int64         `json:"chunks"`
	VectorIndexSize int           `json:"vector_index_size"`
	DiskUsageBytes  *int64        `json:"disk_usage_bytes,omitempty"`
	Config          *StatusConfig `json:"config,omitempty"`
}

// BuildStatus gathers graph counts, disk usage and the effective configuration.
// Disk usage is omitted when it cannot be measured.
func BuildStatus(ctx context.Context, store storage.GraphStore, cfg *config.Config) (*Status, error) {
	stats, err := store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}
	st := &Status{
		Documents:       stats.Documents,
		Pages:           stats.Pages,
		Chunks:          stats.Chunks,
		VectorIndexSize: stats.Vectors,
		Config: &StatusConfig{
			StorageBackend:      cfg.Storage.Backend,
			EmbeddingProvider:   cfg.Embedding.Provider,
			EmbeddingDimensions: store.Dimensions(),
			Similarity:          cfg.Retrieval.Similarity,
			MinScore:            cfg.Retrieval.MinScoreOrDefault(),
			KeywordWeight:       cfg.Retrieval.KeywordWeight,
			ChunkMaxTokens:      cfg.Chunking.MaxTokens,
			Parser:              cfg.Ingest.Parser,
			DatabasePath:        cfg.Storage.DatabasePath,
			DocumentsDir:        cfg.Storage.DocumentsDir,
			BleveIndexPath:      cfg.Storage.BleveIndexPath,
		},
	}
	if n, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath, cfg.Storage.DocumentsDir); err == nil {
		st.DiskUsageBytes = &n
	}
	return st, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := BuildStatus(r.Context(), s.store, s.config)
	if err != nil {
		s.fail(w, r, "status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
