// Package pdftest writes small, valid PDFs for tests: Helvetica text placed at
// exact coordinates, with real glyph widths so extracted boxes are predictable.
package pdftest

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Line is one run of text drawn with its baseline origin at (X, Y).
type Line struct {
	X, Y float64
	Size float64
	Text string
}

// Page is one page. A zero Width/Height inherits the 612x792 MediaBox from the page tree.
// X0, Y0 move the lower-left corner of the MediaBox; line positions stay in user space.
type Page struct {
	Width, Height float64
	X0, Y0        float64
	Lines         []Line
}

// Doc describes a document to build.
type Doc struct {
	Title string
	Pages []Page
	// Encrypted adds a Standard security handler whose user password is not empty.
	Encrypted bool
}

// helveticaWidths are the AFM advance widths of Helvetica for codes 32..126.
var helveticaWidths = [95]int{
	278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278,
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 278, 278, 584, 584, 584, 556,
	1015, 667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, 722, 778,
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 278, 278, 278, 469, 556,
	333, 556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, 556, 556,
	556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, 334, 260, 334, 584,
}

// TextWidth returns the advance width of s in Helvetica at size.
func TextWidth(s string, size float64) float64 {
	var w int
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 32 && c <= 126 {
			w += helveticaWidths[c-32]
		}
	}
	return float64(w) / 1000 * size
}

// Build serializes d with a correct cross-reference table.
func Build(d Doc) []byte {
	var objects []string
	add := func(body string) int {
		objects = append(objects, body)
		return len(objects)
	}

	catalog := add("") // filled once the page tree id is known
	pagesID := add("")
	widths := make([]string, len(helveticaWidths))
	for i, w := range helveticaWidths {
		widths[i] = strconv.Itoa(w)
	}
	fontID := add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding " +
		"/FirstChar 32 /LastChar 126 /Widths [" + strings.Join(widths, " ") + "] >>")

	var kids []string
	for _, p := range d.Pages {
		var content bytes.Buffer
		for _, l := range p.Lines {
			fmt.Fprintf(&content, "BT /F1 %s Tf 1 0 0 1 %s %s Tm (%s) Tj ET\n",
				num(l.Size), num(l.X), num(l.Y), escape(l.Text))
		}
		contentID := add(fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String()))
		page := fmt.Sprintf("<< /Type /Page /Parent %d 0 R /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R",
			pagesID, fontID, contentID)
		if p.Width > 0 && p.Height > 0 {
			page += fmt.Sprintf(" /MediaBox [%s %s %s %s]", num(p.X0), num(p.Y0), num(p.X0+p.Width), num(p.Y0+p.Height))
		}
		kids = append(kids, fmt.Sprintf("%d 0 R", add(page+" >>")))
	}
	objects[catalog-1] = fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesID)
	objects[pagesID-1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] >>",
		strings.Join(kids, " "), len(kids))

	trailer := fmt.Sprintf("/Root %d 0 R", catalog)
	if d.Title != "" {
		trailer += fmt.Sprintf(" /Info %d 0 R", add(fmt.Sprintf("<< /Title (%s) >>", escape(d.Title))))
	}
	if d.Encrypted {
		pad := strings.Repeat("ab", 32)
		trailer += fmt.Sprintf(" /Encrypt %d 0 R /ID [<%s> <%s>]",
			add(fmt.Sprintf("<< /Filter /Standard /V 1 /R 2 /O <%s> /U <%s> /P -4 >>", pad, strings.Repeat("cd", 32))),
			pad, pad)
	}

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d %s >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, trailer, xref)
	return out.Bytes()
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}

// Paragraph lays text out as lines of at most maxWidth points, starting with the
// first baseline at y and moving down by 1.2*size per line.
func Paragraph(x, y, size, maxWidth float64, text string) []Line {
	var lines []Line
	var cur []string
	flush := func() {
		if len(cur) == 0 {
			return
		}
		lines = append(lines, Line{X: x, Y: y, Size: size, Text: strings.Join(cur, " ")})
		y -= 1.2 * size
		cur = nil
	}
	for _, w := range strings.Fields(text) {
		if len(cur) > 0 && TextWidth(strings.Join(append(cur, w), " "), size) > maxWidth {
			flush()
		}
		cur = append(cur, w)
	}
	flush()
	return lines
}
