// Package layout turns PDF bytes into typed layout elements (headings, text,
// tables, lists), each anchored to a page and a bounding box in page space.
package layout

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/models"
	"go.uber.org/zap"
)

// Parse failure causes. A *ParseError wraps one of these or a lower-level error.
var (
	ErrEncrypted = errors.New("pdf is password-protected")
	ErrNoPages   = errors.New("pdf has no extractable pages")
	ErrCorrupt   = errors.New("pdf is corrupt")
)

// ParseError is returned for any document the parser cannot turn into elements.
// Ingestion treats it as unrecoverable for that document.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Result is a parsed document. Pages are ascending; Elements are in reading order
// within each page and pages follow each other.
type Result struct {
	Title    string
	Pages    []models.Page
	Elements []models.LayoutElement
}

// Parser converts raw PDF bytes into layout elements.
type Parser interface {
	Parse(ctx context.Context, data []byte) (*Result, error)
}

// Parser names accepted by New.
const (
	ParserPDF     = "pdf"
	ParserDocling = "docling"
)

// Option configures a parser.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets a logger for per-page debug output.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New returns the parser selected by cfg.Parser.
func New(cfg config.IngestConfig, opts ...Option) (Parser, error) {
	switch cfg.Parser {
	case ParserPDF, "":
		return NewPDFParser(opts...), nil
	case ParserDocling:
		return NewDoclingParser(cfg.DoclingCommand, opts...), nil
	default:
		return nil, fmt.Errorf("unknown layout parser %q", cfg.Parser)
	}
}

// assignHeadingPaths fills HeadingPath from a stack of open headings. A heading
// closes every open heading of the same or a deeper level, and its own path ends
// with itself. Paths carry across pages.
func assignHeadingPaths(elements []models.LayoutElement) {
	type open struct {
		level int
		text  string
	}
	var stack []open
	texts := func() []string {
		out := make([]string, len(stack))
		for i, h := range stack {
			out[i] = h.text
		}
		return out
	}
	for i := range elements {
		el := &elements[i]
		if el.Kind == models.KindHeading {
			level := el.Level
			if level <= 0 {
				level = 1
			}
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, open{level: level, text: el.Text})
		}
		el.HeadingPath = texts()
	}
}
