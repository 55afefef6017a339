// Package models defines the core data structures for documents, pages, chunks and answers.
package models

import "time"

// Document is an ingested PDF. It is immutable after creation and owns its pages.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	SourceURI string    `json:"source_uri"`
	Family    string    `json:"family"`
	CreatedAt time.Time `json:"created_at"`
}

// Page is one physical page of a Document. Width and Height are in PDF user-space units.
type Page struct {
	DocID   string  `json:"doc_id"`
	PageNum int     `json:"page_num"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

// Default page size (US Letter) used when a page carries no usable MediaBox.
const (
	DefaultPageWidth  = 612.0
	DefaultPageHeight = 792.0
)

// Chunk is the atomic retrieval unit. It never spans pages; BBox covers exactly
// the layout elements it was built from.
type Chunk struct {
	ID        string    `json:"id"`
	DocID     string    `json:"doc_id"`
	PageNum   int       `json:"page_num"`
	BBox      BBox      `json:"bbox"`
	Headings  []string  `json:"headings"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
	// Seq is the store-assigned insertion order.
	Seq int64 `json:"seq,omitempty"`
}

// ElementKind classifies a layout element.
type ElementKind string

const (
	KindText    ElementKind = "text"
	KindHeading ElementKind = "heading"
	KindTable   ElementKind = "table"
	KindList    ElementKind = "list"
)

// LayoutElement is a parser-produced span of text with a page and bounding box.
type LayoutElement struct {
	PageNum     int         `json:"page_num"`
	BBox        BBox        `json:"bbox"`
	Text        string      `json:"text"`
	Kind        ElementKind `json:"kind"`
	HeadingPath []string    `json:"heading_path"`
	// Level is the heading level (1 = top) for headings, 0 otherwise.
	Level int `json:"level,omitempty"`
}

// IngestRequest is the input to the ingestion entrypoint.
type IngestRequest struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title,omitempty"`
	Family   string `json:"family,omitempty"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"-"`
}

// IngestResult is returned by a successful ingestion.
type IngestResult struct {
	DocID  string `json:"doc_id"`
	Title  string `json:"title"`
	Pages  int    `json:"pages"`
	Chunks int    `json:"chunks"`
}
