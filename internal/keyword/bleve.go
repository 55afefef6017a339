package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/shiori/internal/models"
)

// deleteBatch bounds how many hits are fetched per delete round.
const deleteBatch = 1000

// BleveIndex implements Index using Bleve. Index keys are "docID/chunkID".
type BleveIndex struct {
	index bleve.Index
}

// chunkDoc is the indexed form of a chunk.
type chunkDoc struct {
	DocID    string  `json:"doc_id"`
	ChunkID  string  `json:"chunk_id"`
	Family   string  `json:"family"`
	Page     float64 `json:"page"`
	Title    string  `json:"title"`
	Headings string  `json:"headings"`
	Text     string  `json:"text"`
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so a query term matches
	// the exact word.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("headings", textFieldMapping)
	docMapping.AddFieldMappingsAt("title", textFieldMapping)

	keywordFieldMapping := bleve.NewTextFieldMapping()
	keywordFieldMapping.Analyzer = keywordanalyzer.Name
	docMapping.AddFieldMappingsAt("doc_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("chunk_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("family", keywordFieldMapping)

	docMapping.AddFieldMappingsAt("page", bleve.NewNumericFieldMapping())

	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path gives an
// in-memory index. An existing index is reopened as is; if the mapping changes,
// remove the index directory and re-ingest.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func key(docID, chunkID string) string {
	return docID + "/" + chunkID
}

// splitKey reverses key. Chunk ids are hex digests, so the last slash separates.
func splitKey(k string) (docID, chunkID string) {
	i := strings.LastIndexByte(k, '/')
	if i < 0 {
		return k, ""
	}
	return k[:i], k[i+1:]
}

// IndexChunks indexes every chunk of doc in one batch.
func (b *BleveIndex) IndexChunks(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error {
	batch := b.index.NewBatch()
	for _, ch := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		cd := chunkDoc{
			DocID:    ch.DocID,
			ChunkID:  ch.ID,
			Page:     float64(ch.PageNum),
			Headings: strings.Join(ch.Headings, " / "),
			Text:     ch.Text,
		}
		if doc != nil {
			cd.Family = doc.Family
			cd.Title = normalizeTitleForKeywordSearch(doc.Title)
		}
		if err := batch.Index(key(ch.DocID, ch.ID), cd); err != nil {
			return fmt.Errorf("failed to batch chunk %s: %w", ch.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	return nil
}

// normalizeTitleForKeywordSearch turns underscores into spaces so a title taken
// from a file name like "annual_report_2021" is searchable word by word.
func normalizeTitleForKeywordSearch(title string) string {
	return strings.ReplaceAll(title, "_", " ")
}

// Search runs a match query over text, headings and title and returns up to
// limit hits. With HeadingBoost > 1 heading and text matches are scored
// separately and merged additively.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	if opts == nil {
		opts = &SearchOptions{}
	}
	if opts.HeadingBoost <= 1.0 {
		return b.run(ctx, b.restrict(b.matchQuery(query, "", opts), opts), limit)
	}

	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	headingHits, err := b.run(ctx, b.restrict(b.matchQuery(query, "headings", opts), opts), reqSize)
	if err != nil {
		return nil, err
	}
	textHits, err := b.run(ctx, b.restrict(b.matchQuery(query, "text", opts), opts), reqSize)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]*Result)
	order := make([]string, 0, len(headingHits)+len(textHits))
	add := func(r *Result, w float64) {
		k := key(r.DocID, r.ChunkID)
		if s, ok := scores[k]; ok {
			s.Score += r.Score * w
			return
		}
		scores[k] = &Result{DocID: r.DocID, ChunkID: r.ChunkID, Score: r.Score * w}
		order = append(order, k)
	}
	for _, r := range headingHits {
		add(r, opts.HeadingBoost)
	}
	for _, r := range textHits {
		add(r, 1)
	}

	out := make([]*Result, 0, len(order))
	for _, k := range order {
		out = append(out, scores[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *BleveIndex) run(ctx context.Context, q blevequery.Query, size int) ([]*Result, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Result, len(results.Hits))
	for i, hit := range results.Hits {
		docID, chunkID := splitKey(hit.ID)
		out[i] = &Result{DocID: docID, ChunkID: chunkID, Score: hit.Score}
	}
	return out, nil
}

// matchQuery builds a match query on field (all fields when empty), or a
// disjunction of fuzzy term queries when fuzzy matching is on.
func (b *BleveIndex) matchQuery(query, field string, opts *SearchOptions) blevequery.Query {
	if !opts.FuzzyEnabled {
		mq := bleve.NewMatchQuery(query)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	fuzziness := opts.Fuzziness
	if fuzziness <= 0 {
		fuzziness = 1
	}
	terms := strings.Fields(strings.ToLower(query))
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// restrict adds the DocID and Family filters as required exact-term clauses.
func (b *BleveIndex) restrict(q blevequery.Query, opts *SearchOptions) blevequery.Query {
	must := []blevequery.Query{q}
	if opts.DocID != "" {
		tq := bleve.NewTermQuery(opts.DocID)
		tq.SetField("doc_id")
		must = append(must, tq)
	}
	if opts.Family != "" {
		tq := bleve.NewTermQuery(opts.Family)
		tq.SetField("family")
		must = append(must, tq)
	}
	if len(must) == 1 {
		return q
	}
	return bleve.NewConjunctionQuery(must...)
}

// DeleteDocument removes every chunk of docID from the index.
func (b *BleveIndex) DeleteDocument(ctx context.Context, docID string) error {
	tq := bleve.NewTermQuery(docID)
	tq.SetField("doc_id")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req := bleve.NewSearchRequest(tq)
		req.Size = deleteBatch
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to find chunks of %s: %w", docID, err)
		}
		if len(results.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range results.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete chunks of %s: %w", docID, err)
		}
	}
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
