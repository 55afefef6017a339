// Package chunker groups layout elements into page-local retrieval chunks.
package chunker

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hyperjump/shiori/internal/models"
)

// DefaultMaxTokens is the chunk budget when none is configured.
const DefaultMaxTokens = 256

// idPrefixRunes bounds how much chunk text feeds the chunk id.
const idPrefixRunes = 160

// Builder accumulates consecutive elements of one page into chunks of at most
// maxTokens words. Elements are never split.
type Builder struct {
	maxTokens int
}

// Option configures a Builder.
type Option func(*Builder)

// WithMaxTokens sets the per-chunk word budget. Non-positive values are ignored.
func WithMaxTokens(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxTokens = n
		}
	}
}

// NewBuilder creates a chunk builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{maxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MaxTokens returns the configured budget.
func (b *Builder) MaxTokens() int { return b.maxTokens }

// Build turns elements into chunks for docID. A chunk closes on a page change or
// when the next element would exceed the budget; an element larger than the
// budget becomes a chunk on its own. Each chunk's box is the exact union of its
// elements' boxes and its headings are the path active at its first element.
func (b *Builder) Build(docID string, elements []models.LayoutElement) []*models.Chunk {
	var (
		chunks []*models.Chunk
		acc    []models.LayoutElement
		tokens int
	)
	flush := func() {
		if len(acc) == 0 {
			return
		}
		chunks = append(chunks, newChunk(docID, len(chunks), acc))
		acc, tokens = nil, 0
	}
	for _, el := range elements {
		if strings.TrimSpace(el.Text) == "" {
			continue
		}
		n := CountTokens(el.Text)
		if len(acc) > 0 && (el.PageNum != acc[0].PageNum || tokens+n > b.maxTokens) {
			flush()
		}
		acc = append(acc, el)
		tokens += n
	}
	flush()
	return chunks
}

func newChunk(docID string, seq int, elements []models.LayoutElement) *models.Chunk {
	texts := make([]string, len(elements))
	bbox := elements[0].BBox
	for i, el := range elements {
		texts[i] = strings.TrimSpace(el.Text)
		bbox = bbox.Union(el.BBox)
	}
	text := strings.Join(texts, "\n")
	headings := append([]string(nil), elements[0].HeadingPath...)
	if headings == nil {
		headings = []string{}
	}
	page := elements[0].PageNum
	return &models.Chunk{
		ID:       ChunkID(docID, page, seq, text),
		DocID:    docID,
		PageNum:  page,
		BBox:     bbox,
		Headings: headings,
		Text:     text,
	}
}

// ChunkID is the hex sha1 of "{docID}:{page}:{seq}:{first 160 runes of text}".
func ChunkID(docID string, page, seq int, text string) string {
	prefix := text
	if r := []rune(text); len(r) > idPrefixRunes {
		prefix = string(r[:idPrefixRunes])
	}
	sum := sha1.Sum([]byte(fmt.Sprintf("%s:%d:%d:%s", docID, page, seq, prefix)))
	return hex.EncodeToString(sum[:])
}

// CountTokens approximates tokens as whitespace-separated words.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}
