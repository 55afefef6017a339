package layout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// PDFParser extracts positioned glyphs with ledongthuc/pdf and rebuilds lines,
// blocks and element kinds from geometry and font size.
type PDFParser struct {
	logger *zap.Logger
}

// NewPDFParser creates the native PDF parser.
func NewPDFParser(opts ...Option) *PDFParser {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &PDFParser{logger: o.logger}
}

// Parse reads every page of data. Any failure, including a panic inside the PDF
// reader, is reported as a *ParseError.
func (p *PDFParser) Parse(ctx context.Context, data []byte) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &ParseError{Op: "read", Err: fmt.Errorf("%w: %v", ErrCorrupt, r)}
		}
	}()

	if len(data) == 0 {
		return nil, &ParseError{Op: "open", Err: fmt.Errorf("%w: empty input", ErrCorrupt)}
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) || bytes.Contains(data, []byte("/Encrypt")) {
			return nil, &ParseError{Op: "open", Err: ErrEncrypted}
		}
		return nil, &ParseError{Op: "open", Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	if !r.Trailer().Key("Encrypt").IsNull() {
		return nil, &ParseError{Op: "open", Err: ErrEncrypted}
	}

	n := r.NumPage()
	if n == 0 {
		return nil, &ParseError{Op: "pages", Err: ErrNoPages}
	}

	res = &Result{Title: strings.TrimSpace(r.Trailer().Key("Info").Key("Title").Text())}
	lines := make([]pageLines, 0, n)
	var glyphCount int
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		box := mediaBox(page.V)
		res.Pages = append(res.Pages, models.Page{PageNum: i, Width: box.width, Height: box.height})

		// element boxes are relative to the lower-left corner of the page
		texts := page.Content().Text
		glyphs := make([]Glyph, 0, len(texts))
		for _, t := range texts {
			glyphs = append(glyphs, Glyph{X: t.X - box.x0, Y: t.Y - box.y0, W: t.W, Size: t.FontSize, Font: t.Font, S: t.S})
		}
		glyphCount += len(glyphs)
		pl := buildLines(glyphs)
		lines = append(lines, pageLines{page: i, lines: pl})
		p.logger.Debug("layout page read",
			zap.Int("page", i),
			zap.Int("glyphs", len(glyphs)),
			zap.Int("lines", len(pl)))
	}
	if len(res.Pages) == 0 || glyphCount == 0 {
		return nil, &ParseError{Op: "pages", Err: ErrNoPages}
	}

	res.Elements = elementsFromLines(lines)
	if len(res.Elements) == 0 {
		return nil, &ParseError{Op: "pages", Err: ErrNoPages}
	}
	return res, nil
}

type pageBox struct {
	x0, y0        float64
	width, height float64
}

// mediaBox returns the page origin and size, following Parent links for an
// inherited box. Boxes given with swapped corners are normalized.
func mediaBox(v pdf.Value) pageBox {
	for depth := 0; depth < 32 && !v.IsNull(); depth++ {
		box := v.Key("MediaBox")
		if box.Len() == 4 {
			ax, ay := box.Index(0).Float64(), box.Index(1).Float64()
			bx, by := box.Index(2).Float64(), box.Index(3).Float64()
			b := pageBox{x0: math.Min(ax, bx), y0: math.Min(ay, by), width: math.Abs(bx - ax), height: math.Abs(by - ay)}
			if b.width > 0 && b.height > 0 {
				return b
			}
			break
		}
		v = v.Key("Parent")
	}
	return pageBox{width: models.DefaultPageWidth, height: models.DefaultPageHeight}
}
