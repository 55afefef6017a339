package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/shiori/internal/chunker"
	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/layout"
	"github.com/hyperjump/shiori/internal/metrics"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/pdftest"
	"github.com/hyperjump/shiori/internal/storage"
	"github.com/hyperjump/shiori/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 16

type fixture struct {
	idx      *Indexer
	store    storage.GraphStore
	blobs    *storage.BlobStore
	keywords *keyword.BleveIndex
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, wrap func(storage.GraphStore) storage.GraphStore, emb embedding.Embedder) *fixture {
	t.Helper()
	store, err := storage.NewMemoryGraph(testDims, vector.MetricCosine)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	blobs, err := storage.NewBlobStore(filepath.Join(t.TempDir(), "documents"))
	require.NoError(t, err)
	kw, err := keyword.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })
	if emb == nil {
		emb, err = embedding.NewHashEmbedder(testDims)
		require.NoError(t, err)
	}
	m := metrics.New()

	var gs storage.GraphStore = store
	if wrap != nil {
		gs = wrap(store)
	}
	idx := NewIndexer(gs, blobs, layout.NewPDFParser(), chunker.NewBuilder(), emb,
		config.IngestConfig{IDStrategy: IDStrategyContent, DefaultFamily: "general", Workers: 2},
		WithKeywordIndex(kw), WithMetrics(m))
	return &fixture{idx: idx, store: store, blobs: blobs, keywords: kw, metrics: m}
}

func twoPagePDF() []byte {
	page1 := []pdftest.Line{{X: 72, Y: 720, Size: 18, Text: "Intro"}}
	page1 = append(page1, pdftest.Paragraph(72, 690, 11, 460, "Shiori keeps every chunk anchored to the page it came from.")...)
	return pdftest.Build(pdftest.Doc{Pages: []pdftest.Page{
		{Lines: page1},
		{Lines: pdftest.Paragraph(72, 720, 11, 460, "The second page continues the discussion of evidence pins.")},
	}})
}

func TestIngest_TwoPageDocument(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	data := twoPagePDF()

	res, err := f.idx.Ingest(ctx, &models.IngestRequest{Filename: "field_notes.pdf", Data: data})
	require.NoError(t, err)
	assert.Equal(t, ContentDocID(data), res.DocID)
	assert.Equal(t, "field_notes", res.Title)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 2, res.Chunks)

	chunks, err := f.store.ListChunks(ctx, res.DocID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"Intro"}, chunks[0].Headings)
	assert.Equal(t, 1, chunks[0].PageNum)
	assert.Equal(t, 2, chunks[1].PageNum)

	doc, err := f.store.GetDocument(ctx, res.DocID)
	require.NoError(t, err)
	assert.Equal(t, "general", doc.Family)
	assert.True(t, f.blobs.Exists(res.DocID))
	p, _ := f.blobs.Path(res.DocID)
	assert.Equal(t, "file://"+filepath.ToSlash(p), doc.SourceURI)

	hits, err := f.keywords.Search(ctx, "evidence", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, chunks[1].ID, hits[0].ChunkID)

	assert.Equal(t, 1.0, counter(t, f.metrics, "shiori_documents_ingested_total"))
	assert.Equal(t, 2.0, counter(t, f.metrics, "shiori_chunks_ingested_total"))
}

// counter sums every series of the named counter.
func counter(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestIngest_DuplicateLeavesOriginal(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	data := twoPagePDF()

	first, err := f.idx.Ingest(ctx, &models.IngestRequest{ID: "contract-7", Title: "Contract", Data: data})
	require.NoError(t, err)
	before, err := f.store.ListChunks(ctx, first.DocID)
	require.NoError(t, err)

	other := pdftest.Build(pdftest.Doc{Pages: []pdftest.Page{{Lines: []pdftest.Line{{X: 72, Y: 700, Size: 11, Text: "Different text"}}}}})
	_, err = f.idx.Ingest(ctx, &models.IngestRequest{ID: "contract-7", Data: other})
	require.ErrorIs(t, err, storage.ErrDuplicateDocument)

	after, err := f.store.ListChunks(ctx, first.DocID)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].Text, after[i].Text)
	}
	doc, err := f.store.GetDocument(ctx, "contract-7")
	require.NoError(t, err)
	assert.Equal(t, "Contract", doc.Title)
	assert.Equal(t, 1.0, counter(t, f.metrics, "shiori_ingest_failures_total"))
}

func TestIngest_ConcurrentSameID(t *testing.T) {
	f := newFixture(t, nil, nil)
	data := twoPagePDF()

	const n = 6
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.idx.Ingest(context.Background(), &models.IngestRequest{Data: data})
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, storage.ErrDuplicateDocument):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dup)
	assert.Equal(t, 0, f.idx.locks.size())
}

func TestIngest_ParseErrorPersistsNothing(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.idx.Ingest(ctx, &models.IngestRequest{ID: "bad", Data: []byte("not a pdf at all")})
	require.Error(t, err)
	assert.True(t, layout.IsParseError(err))

	_, err = f.store.GetDocument(ctx, "bad")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.False(t, f.blobs.Exists("bad"))

	_, err = f.idx.Ingest(ctx, &models.IngestRequest{ID: "empty"})
	assert.True(t, layout.IsParseError(err))
}

type failingEmbedder struct{ embedding.Embedder }

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model offline")
}

func TestIngest_EmbeddingFailurePersistsNothing(t *testing.T) {
	f := newFixture(t, nil, failingEmbedder{})
	_, err := f.idx.Ingest(context.Background(), &models.IngestRequest{ID: "x", Data: twoPagePDF()})
	require.Error(t, err)
	_, err = f.store.GetDocument(context.Background(), "x")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.False(t, f.blobs.Exists("x"))
}

// failingStore refuses every write.
type failingStore struct{ storage.GraphStore }

func (failingStore) WriteDocument(context.Context, *models.Document, []*models.Page, []*models.Chunk) error {
	return errors.New("disk full")
}

func TestIngest_StoreFailureRemovesBlob(t *testing.T) {
	f := newFixture(t, func(s storage.GraphStore) storage.GraphStore { return failingStore{s} }, nil)
	_, err := f.idx.Ingest(context.Background(), &models.IngestRequest{ID: "x", Data: twoPagePDF()})
	require.Error(t, err)
	assert.False(t, f.blobs.Exists("x"))
	entries, err := os.ReadDir(f.blobs.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp files or blobs should remain")
}

// racingStore hides stored documents from the duplicate pre-check, the way a
// second process sharing the database sees them before its own write.
type racingStore struct{ storage.GraphStore }

func (racingStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	return nil, fmt.Errorf("document %s: %w", id, storage.ErrNotFound)
}

func TestIngest_RejectedWriteKeepsStoredPDF(t *testing.T) {
	f := newFixture(t, func(s storage.GraphStore) storage.GraphStore { return racingStore{s} }, nil)
	ctx := context.Background()
	original := twoPagePDF()
	_, err := f.idx.Ingest(ctx, &models.IngestRequest{ID: "contract", Data: original})
	require.NoError(t, err)

	other := pdftest.Build(pdftest.Doc{Pages: []pdftest.Page{{Lines: []pdftest.Line{{X: 72, Y: 700, Size: 11, Text: "A different upload."}}}}})
	_, err = f.idx.Ingest(ctx, &models.IngestRequest{ID: "contract", Data: other})
	require.ErrorIs(t, err, storage.ErrDuplicateDocument)

	stored, err := os.ReadFile(filepath.Join(f.blobs.Dir(), "contract.pdf"))
	require.NoError(t, err)
	assert.Equal(t, original, stored)
	entries, err := os.ReadDir(f.blobs.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staged upload should be discarded")
}

func TestIngest_Canceled(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.idx.Ingest(ctx, &models.IngestRequest{ID: "x", Data: twoPagePDF()})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, f.blobs.Exists("x"))
}

func TestIngest_InvalidID(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.idx.Ingest(context.Background(), &models.IngestRequest{ID: "../escape", Data: twoPagePDF()})
	assert.ErrorIs(t, err, ErrInvalidDocID)
}

func TestIngestPaths(t *testing.T) {
	f := newFixture(t, nil, nil)
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	write := func(path string, data []byte) {
		require.NoError(t, os.WriteFile(path, data, 0o600))
	}
	write(filepath.Join(dir, "a.pdf"), twoPagePDF())
	write(filepath.Join(sub, "b.PDF"), pdftest.Build(pdftest.Doc{Pages: []pdftest.Page{{Lines: []pdftest.Line{{X: 72, Y: 700, Size: 11, Text: "Nested file"}}}}}))
	write(filepath.Join(dir, "broken.pdf"), []byte("garbage"))
	write(filepath.Join(dir, "notes.txt"), []byte("ignored"))

	outcomes, err := f.idx.IngestPaths(context.Background(), []string{dir}, 2, FileOptions{Family: "batch"})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	byName := map[string]FileOutcome{}
	for _, o := range outcomes {
		byName[filepath.Base(o.Path)] = o
	}
	assert.NoError(t, byName["a.pdf"].Err)
	assert.NoError(t, byName["b.PDF"].Err)
	assert.True(t, layout.IsParseError(byName["broken.pdf"].Err))
	assert.Equal(t, "b", byName["b.PDF"].Result.Title)

	docs, err := f.store.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, "batch", d.Family)
	}
}

func TestCollectPDFs_MissingPath(t *testing.T) {
	_, err := CollectPDFs([]string{filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	res, err := f.idx.Ingest(ctx, &models.IngestRequest{Data: twoPagePDF()})
	require.NoError(t, err)

	require.NoError(t, f.idx.DeleteDocument(ctx, res.DocID))
	_, err = f.store.GetDocument(ctx, res.DocID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.False(t, f.blobs.Exists(res.DocID))
	hits, err := f.keywords.Search(ctx, "evidence", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	assert.ErrorIs(t, f.idx.DeleteDocument(ctx, res.DocID), storage.ErrNotFound)

	// the same bytes can be ingested again after a delete
	_, err = f.idx.Ingest(ctx, &models.IngestRequest{Data: twoPagePDF()})
	assert.NoError(t, err)
}
