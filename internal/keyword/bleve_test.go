package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/shiori/internal/models"
)

func testChunks(docID string) []*models.Chunk {
	return []*models.Chunk{
		{ID: "c1", DocID: docID, PageNum: 1, Headings: []string{"Intro"}, Text: "The warranty covers water damage for two years."},
		{ID: "c2", DocID: docID, PageNum: 2, Headings: []string{"Intro", "Returns"}, Text: "Refunds are issued within thirty days."},
	}
}

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_SearchFindsChunkText(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	doc := &models.Document{ID: "doc:a", Title: "product_manual", Family: "manuals"}
	if err := idx.IndexChunks(ctx, doc, testChunks(doc.ID)); err != nil {
		t.Fatalf("IndexChunks: %v", err)
	}

	results, err := idx.Search(ctx, "warranty", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].DocID != "doc:a" || results[0].ChunkID != "c1" {
		t.Errorf("result = %+v, want doc:a/c1", results[0])
	}

	// title words reach every chunk of the document
	results, err = idx.Search(ctx, "manual", 10, nil)
	if err != nil {
		t.Fatalf("Search title: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected title match on both chunks, got %d", len(results))
	}
}

func TestBleveIndex_SearchFilters(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.IndexChunks(ctx, &models.Document{ID: "doc:a", Family: "manuals"}, testChunks("doc:a")); err != nil {
		t.Fatal(err)
	}
	if err := idx.IndexChunks(ctx, &models.Document{ID: "doc:b", Family: "contracts"}, testChunks("doc:b")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts *SearchOptions
		want int
	}{
		{"no filter", nil, 2},
		{"doc filter", &SearchOptions{DocID: "doc:b"}, 1},
		{"family filter", &SearchOptions{Family: "manuals"}, 1},
		{"both filters disjoint", &SearchOptions{DocID: "doc:a", Family: "contracts"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := idx.Search(ctx, "refunds", 10, tt.opts)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(results) != tt.want {
				t.Errorf("got %d results, want %d", len(results), tt.want)
			}
		})
	}
}

func TestBleveIndex_HeadingBoost(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	chunks := []*models.Chunk{
		{ID: "body", DocID: "d", PageNum: 1, Headings: []string{"Overview"}, Text: "Returns are handled by support."},
		{ID: "head", DocID: "d", PageNum: 1, Headings: []string{"Returns"}, Text: "Ship the item back."},
	}
	if err := idx.IndexChunks(ctx, &models.Document{ID: "d"}, chunks); err != nil {
		t.Fatal(err)
	}
	results, err := idx.Search(ctx, "returns", 10, &SearchOptions{HeadingBoost: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkID != "head" {
		t.Errorf("heading match should rank first, got %s", results[0].ChunkID)
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.IndexChunks(ctx, &models.Document{ID: "d"}, testChunks("d")); err != nil {
		t.Fatal(err)
	}
	results, err := idx.Search(ctx, "waranty", 10, &SearchOptions{FuzzyEnabled: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].ChunkID != "c1" {
		t.Errorf("fuzzy search should find c1, got %+v", results)
	}
}

func TestBleveIndex_DeleteDocument(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.IndexChunks(ctx, &models.Document{ID: "doc:a"}, testChunks("doc:a")); err != nil {
		t.Fatal(err)
	}
	if err := idx.IndexChunks(ctx, &models.Document{ID: "doc:b"}, testChunks("doc:b")); err != nil {
		t.Fatal(err)
	}
	if err := idx.DeleteDocument(ctx, "doc:a"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	n, err := idx.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("DocCount = %d, want 2", n)
	}
	results, err := idx.Search(ctx, "warranty", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.DocID == "doc:a" {
			t.Errorf("deleted document still returned: %+v", r)
		}
	}
	// deleting an unknown document is a no-op
	if err := idx.DeleteDocument(ctx, "doc:missing"); err != nil {
		t.Errorf("DeleteDocument missing: %v", err)
	}
}

func TestBleveIndex_EmptyQuery(t *testing.T) {
	idx := newTestIndex(t)
	results, err := idx.Search(context.Background(), "   ", 10, nil)
	if err != nil || results != nil {
		t.Errorf("blank query = %v, %v; want nil, nil", results, err)
	}
}

func TestNewBleveIndex_ReopensExisting(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "sub", "bleve")
	ctx := context.Background()

	idx1, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	if err := idx1.IndexChunks(ctx, &models.Document{ID: "d"}, testChunks("d")); err != nil {
		t.Fatal(err)
	}
	if err := idx1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(indexPath); err != nil {
		t.Fatalf("index path should exist: %v", err)
	}

	idx2, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex (reopen): %v", err)
	}
	defer func() { _ = idx2.Close() }()
	results, err := idx2.Search(ctx, "refunds", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("reopened index should keep chunks, got %d results", len(results))
	}
}

func TestSplitKey(t *testing.T) {
	doc, chunk := splitKey(key("doc:a/b", "abc123"))
	if doc != "doc:a/b" || chunk != "abc123" {
		t.Errorf("splitKey = %q, %q", doc, chunk)
	}
}
