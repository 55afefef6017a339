// Package citation turns ranked chunks into an answer with inline [n] markers,
// each resolving to a page region of the source PDF.
package citation

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/pkg/utils"
)

// NoEvidenceMessage is the answer when retrieval found nothing.
const NoEvidenceMessage = "No relevant evidence found for your query."

// DefaultViewerBase is the viewer path used when none is configured.
const DefaultViewerBase = "/viewer"

// Synthesizer builds an answer from ranked results. Every marker in the answer
// text must have a matching citation.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, results []*models.QueryResult) (*models.Answer, error)
}

// Linker is the extractive Synthesizer: it quotes sentences that share a key
// term with the query and cites the chunk each came from.
type Linker struct {
	maxChunks   int
	maxSnippets int
	maxChars    int
	viewerBase  string
}

// NewLinker creates a Linker. Zero limits fall back to 5 chunks, 2 snippets per
// chunk and 300 characters per snippet.
func NewLinker(cfg config.CitationConfig, viewerBase string) *Linker {
	l := &Linker{
		maxChunks:   cfg.MaxChunks,
		maxSnippets: cfg.MaxSnippetsPerChunk,
		maxChars:    cfg.MaxSnippetChars,
		viewerBase:  viewerBase,
	}
	if l.maxChunks <= 0 {
		l.maxChunks = 5
	}
	if l.maxSnippets <= 0 {
		l.maxSnippets = 2
	}
	if l.maxChars <= 0 {
		l.maxChars = 300
	}
	if l.viewerBase == "" {
		l.viewerBase = DefaultViewerBase
	}
	return l
}

// Synthesize never fails; the error is part of the Synthesizer contract.
func (l *Linker) Synthesize(_ context.Context, query string, results []*models.QueryResult) (*models.Answer, error) {
	if len(results) == 0 {
		return &models.Answer{AnswerText: NoEvidenceMessage, Citations: []models.Citation{}}, nil
	}

	terms := make(map[string]struct{})
	for _, t := range KeyTerms(query) {
		terms[t] = struct{}{}
	}
	var lines []string
	citations := []models.Citation{}
	for _, r := range results {
		if len(citations) == l.maxChunks {
			break
		}
		if r == nil || r.Chunk == nil {
			continue
		}
		snippets := l.matchingSentences(r.Chunk.Text, terms)
		if len(snippets) == 0 {
			continue
		}
		marker := fmt.Sprintf("[%d]", len(citations)+1)
		for _, s := range snippets {
			lines = append(lines, s+" "+marker)
		}
		citations = append(citations, l.citation(marker, r, snippets[0]))
	}

	if len(citations) == 0 {
		// no sentence overlaps the query: quote the top result
		top := firstResult(results)
		if top == nil {
			return &models.Answer{AnswerText: NoEvidenceMessage, Citations: []models.Citation{}}, nil
		}
		snippet := utils.TruncateAtWord(firstSentence(top.Chunk.Text), l.maxChars)
		return &models.Answer{
			AnswerText: snippet + " [1]",
			Citations:  []models.Citation{l.citation("[1]", top, snippet)},
		}, nil
	}
	return &models.Answer{AnswerText: strings.Join(lines, "\n"), Citations: citations}, nil
}

func (l *Linker) matchingSentences(text string, terms map[string]struct{}) []string {
	var out []string
	for _, s := range SplitSentences(text) {
		if !sharesTerm(s, terms) {
			continue
		}
		out = append(out, utils.TruncateAtWord(s, l.maxChars))
		if len(out) == l.maxSnippets {
			break
		}
	}
	return out
}

func (l *Linker) citation(marker string, r *models.QueryResult, snippet string) models.Citation {
	ch := r.Chunk
	return models.Citation{
		Marker:    marker,
		ChunkID:   ch.ID,
		DocID:     ch.DocID,
		PageNum:   ch.PageNum,
		BBox:      ch.BBox,
		Score:     r.Score,
		Snippet:   snippet,
		ViewerURL: ViewerURL(l.viewerBase, ch.DocID, ch.PageNum, ch.BBox),
	}
}

func firstResult(results []*models.QueryResult) *models.QueryResult {
	for _, r := range results {
		if r != nil && r.Chunk != nil && strings.TrimSpace(r.Chunk.Text) != "" {
			return r
		}
	}
	return nil
}

// KeyTerms returns the lowercased alphanumeric tokens of query that are neither
// stopwords nor single characters, deduplicated in order.
func KeyTerms(query string) []string {
	var terms []string
	seen := make(map[string]struct{})
	for _, tok := range utils.Tokenize(query) {
		if utf8.RuneCountInString(tok) < 2 || utils.IsStopword(tok) {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		terms = append(terms, tok)
	}
	return terms
}

func sharesTerm(sentence string, terms map[string]struct{}) bool {
	for _, tok := range utils.Tokenize(sentence) {
		if _, ok := terms[tok]; ok {
			return true
		}
	}
	return false
}

// SplitSentences breaks text after '.', '!' or '?' followed by whitespace, and at
// line breaks. Sentences are trimmed; empty ones are dropped.
func SplitSentences(text string) []string {
	var out []string
	emit := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		switch {
		case r == '\n' || r == '\r':
			emit(string(runes[start:i]))
			start = i + 1
		case (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && isSpace(runes[i+1]):
			emit(string(runes[start : i+1]))
			start = i + 1
		}
	}
	emit(string(runes[start:]))
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func firstSentence(text string) string {
	if s := SplitSentences(text); len(s) > 0 {
		return s[0]
	}
	return strings.TrimSpace(text)
}

// ViewerURL links to the viewer with the page and box to highlight:
// base?doc=<id>&page=<n>&bbox=x0,y0,x1,y1.
func ViewerURL(base, docID string, page int, bbox models.BBox) string {
	if base == "" {
		base = DefaultViewerBase
	}
	coords := make([]string, 4)
	for i, v := range bbox {
		coords[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "doc=" + url.QueryEscape(docID) + "&page=" + strconv.Itoa(page) + "&bbox=" + strings.Join(coords, ",")
}

var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// ParseMarkers returns the marker numbers in text in order of appearance.
func ParseMarkers(text string) []int {
	var out []int
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
