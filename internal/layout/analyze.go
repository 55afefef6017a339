package layout

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/hyperjump/shiori/internal/models"
)

// Glyph is one positioned character as reported by the PDF content stream. X, Y is
// the baseline origin in page space, W the advance width.
type Glyph struct {
	X, Y, W float64
	Size    float64
	Font    string
	S       string
}

// Layout thresholds, as fractions of the font size unless noted.
const (
	baselineTolerance = 0.5
	wordGap           = 0.15
	columnGap         = 2.0
	descent           = 0.2
	ascent            = 0.8
	blockGap          = 0.6
	headingRatio      = 1.2
	maxHeadingWords   = 20
	// table rows need at least this many wide gaps (three columns)
	minTableGaps = 2
)

var listPrefix = regexp.MustCompile(`^(?:[•◦▪‣·\-–*]|\(?\d{1,3}[.)]|\(?[a-zA-Z][.)])\s`)

// Column detection. A gutter is accepted only when enough baselines hold text of
// at least minColumnWords on both sides of it; label and value rows do not.
const (
	minColumnLines = 2
	minColumnWords = 3
	// glyphs starting this close to the gutter edge belong to the right column
	gutterSlack = 0.5
)

type textLine struct {
	cells    []string
	bbox     models.BBox
	size     float64
	chars    int
	wideGaps int
	// 0 spans the page, 1 and 2 are the left and right column
	column int
}

func (l *textLine) text(sep string) string {
	return strings.Join(l.cells, sep)
}

type pageLines struct {
	page  int
	lines []*textLine
}

// buildLines clusters glyphs into baseline lines in reading order. Whitespace
// glyphs are dropped; spacing is recovered from gaps. On a two-column page the
// lines between two full-width lines are read down the left column first.
func buildLines(glyphs []Glyph) []*textLine {
	gs := make([]Glyph, 0, len(glyphs))
	for _, g := range glyphs {
		if strings.TrimSpace(g.S) == "" || g.Size <= 0 {
			continue
		}
		gs = append(gs, g)
	}
	sort.SliceStable(gs, func(i, j int) bool { return gs[i].Y > gs[j].Y })

	var clusters [][]Glyph
	var baseline, size float64
	for _, g := range gs {
		if len(clusters) > 0 && baseline-g.Y <= baselineTolerance*math.Max(size, g.Size) {
			clusters[len(clusters)-1] = append(clusters[len(clusters)-1], g)
			size = math.Max(size, g.Size)
			continue
		}
		clusters = append(clusters, []Glyph{g})
		baseline, size = g.Y, g.Size
	}
	for _, c := range clusters {
		sort.SliceStable(c, func(i, j int) bool { return c[i].X < c[j].X })
	}

	split, columns := findGutter(clusters)
	lines := make([]*textLine, 0, len(clusters))
	var left, right []*textLine
	flush := func() {
		lines = append(lines, sortLines(left)...)
		lines = append(lines, sortLines(right)...)
		left, right = nil, nil
	}
	for _, c := range clusters {
		if !columns {
			lines = append(lines, assembleLine(c))
			continue
		}
		l, r, spans := divideLine(c, split)
		if spans {
			flush()
			lines = append(lines, assembleLine(c))
			continue
		}
		if len(l) > 0 {
			line := assembleLine(l)
			line.column = 1
			left = append(left, line)
		}
		if len(r) > 0 {
			line := assembleLine(r)
			line.column = 2
			right = append(right, line)
		}
	}
	flush()
	if !columns {
		sortLines(lines)
	}
	return lines
}

// sortLines orders lines top to bottom, then left to right.
func sortLines(lines []*textLine) []*textLine {
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].bbox[3] != lines[j].bbox[3] {
			return lines[i].bbox[3] > lines[j].bbox[3]
		}
		return lines[i].bbox[0] < lines[j].bbox[0]
	})
	return lines
}

// glyphRun is a stretch of a line with no gap wider than columnGap.
type glyphRun struct {
	x0, x1 float64
	words  int
}

func lineRuns(glyphs []Glyph) []glyphRun {
	var runs []glyphRun
	for i, g := range glyphs {
		if i == 0 {
			runs = append(runs, glyphRun{x0: g.X, x1: g.X + g.W, words: 1})
			continue
		}
		cur := &runs[len(runs)-1]
		gap := g.X - cur.x1
		switch {
		case gap > columnGap*g.Size:
			runs = append(runs, glyphRun{x0: g.X, x1: g.X + g.W, words: 1})
			continue
		case gap > wordGap*g.Size:
			cur.words++
		}
		cur.x1 = math.Max(cur.x1, g.X+g.W)
	}
	return runs
}

// findGutter looks for a vertical gutter shared by baselines that carry one column
// of prose on each side. It returns the x where the right column starts.
func findGutter(clusters [][]Glyph) (float64, bool) {
	type gap struct{ lo, hi float64 }
	var gaps []gap
	for _, c := range clusters {
		runs := lineRuns(c)
		if len(runs) != 2 || runs[0].words < minColumnWords || runs[1].words < minColumnWords {
			continue
		}
		gaps = append(gaps, gap{lo: runs[0].x1, hi: runs[1].x0})
	}
	var best gap
	bestN := 0
	for _, g := range gaps {
		cur, n := g, 0
		for _, o := range gaps {
			lo, hi := math.Max(cur.lo, o.lo), math.Min(cur.hi, o.hi)
			if lo < hi {
				cur = gap{lo: lo, hi: hi}
				n++
			}
		}
		if n > bestN {
			best, bestN = cur, n
		}
	}
	if bestN < minColumnLines {
		return 0, false
	}
	return best.hi, true
}

// divideLine splits a line at the gutter. A line whose text runs across the
// gutter, or a table row with cells on both sides, spans the page.
func divideLine(glyphs []Glyph, split float64) (left, right []Glyph, spans bool) {
	runs := lineRuns(glyphs)
	for _, r := range runs {
		if r.x0 < split-gutterSlack && r.x1 > split+gutterSlack {
			return nil, nil, true
		}
	}
	for _, g := range glyphs {
		if g.X >= split-gutterSlack {
			right = append(right, g)
		} else {
			left = append(left, g)
		}
	}
	if len(left) > 0 && len(right) > 0 && len(runs)-1 >= minTableGaps {
		return nil, nil, true
	}
	return left, right, false
}

func assembleLine(glyphs []Glyph) *textLine {
	l := &textLine{}
	var cell strings.Builder
	minY, maxY := math.Inf(1), math.Inf(-1)
	x0, x1 := glyphs[0].X, glyphs[0].X
	end := glyphs[0].X
	for i, g := range glyphs {
		l.size = math.Max(l.size, g.Size)
		if i > 0 {
			gap := g.X - end
			switch {
			case gap > columnGap*g.Size:
				l.cells = append(l.cells, cell.String())
				cell.Reset()
				l.wideGaps++
			case gap > wordGap*g.Size:
				cell.WriteByte(' ')
			}
		}
		cell.WriteString(g.S)
		l.chars += len([]rune(g.S))
		end = math.Max(end, g.X+g.W)
		x0 = math.Min(x0, g.X)
		x1 = math.Max(x1, g.X+g.W)
		minY = math.Min(minY, g.Y)
		maxY = math.Max(maxY, g.Y)
	}
	l.cells = append(l.cells, cell.String())
	l.bbox = models.BBox{x0, minY - descent*l.size, x1, maxY + ascent*l.size}
	return l
}

// bodySize is the font size carrying the most characters, rounded to half points.
func bodySize(pages []pageLines) float64 {
	weight := map[float64]int{}
	for _, p := range pages {
		for _, l := range p.lines {
			weight[roundSize(l.size)] += l.chars
		}
	}
	var best float64
	bestW := -1
	for s, w := range weight {
		if w > bestW || (w == bestW && s < best) {
			best, bestW = s, w
		}
	}
	return best
}

func roundSize(s float64) float64 {
	return math.Round(s*2) / 2
}

func classifyLine(l *textLine, body float64) models.ElementKind {
	text := l.text(" ")
	switch {
	case body > 0 && l.size >= headingRatio*body && len(strings.Fields(text)) <= maxHeadingWords:
		return models.KindHeading
	case l.wideGaps >= minTableGaps:
		return models.KindTable
	case listPrefix.MatchString(text):
		return models.KindList
	default:
		return models.KindText
	}
}

type block struct {
	kind  models.ElementKind
	lines []*textLine
	bbox  models.BBox
	size  float64
}

func (b *block) accepts(l *textLine, kind models.ElementKind) bool {
	last := b.lines[len(b.lines)-1]
	if l.column != last.column {
		return false
	}
	gap := last.bbox[1] - l.bbox[3]
	if gap > blockGap*math.Max(last.size, l.size) {
		return false
	}
	switch b.kind {
	case models.KindHeading:
		return kind == models.KindHeading && roundSize(l.size) == roundSize(b.size)
	case models.KindTable:
		return kind == models.KindTable
	case models.KindList:
		// wrapped continuation of the current item
		return kind == models.KindText && l.bbox[0] > b.lines[0].bbox[0]+0.5*l.size
	default:
		return kind == models.KindText && math.Abs(l.size-b.size) < 0.5
	}
}

// elementsFromLines groups lines into blocks and turns them into elements. Heading
// levels are ranked by size over the whole document, largest first.
func elementsFromLines(pages []pageLines) []models.LayoutElement {
	body := bodySize(pages)

	type pageBlocks struct {
		page   int
		blocks []*block
	}
	all := make([]pageBlocks, 0, len(pages))
	headingSizes := map[float64]bool{}
	for _, p := range pages {
		var blocks []*block
		for _, l := range p.lines {
			kind := classifyLine(l, body)
			if n := len(blocks); n > 0 && blocks[n-1].accepts(l, kind) {
				b := blocks[n-1]
				b.lines = append(b.lines, l)
				b.bbox = b.bbox.Union(l.bbox)
				continue
			}
			blocks = append(blocks, &block{kind: kind, lines: []*textLine{l}, bbox: l.bbox, size: l.size})
			if kind == models.KindHeading {
				headingSizes[roundSize(l.size)] = true
			}
		}
		all = append(all, pageBlocks{page: p.page, blocks: blocks})
	}

	sizes := make([]float64, 0, len(headingSizes))
	for s := range headingSizes {
		sizes = append(sizes, s)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sizes)))
	level := make(map[float64]int, len(sizes))
	for i, s := range sizes {
		level[s] = i + 1
	}

	var elements []models.LayoutElement
	for _, pb := range all {
		for _, b := range pb.blocks {
			el := models.LayoutElement{
				PageNum: pb.page,
				BBox:    b.bbox,
				Kind:    b.kind,
				Text:    blockText(b),
			}
			if b.kind == models.KindHeading {
				el.Level = level[roundSize(b.size)]
			}
			if strings.TrimSpace(el.Text) == "" {
				continue
			}
			elements = append(elements, el)
		}
	}
	assignHeadingPaths(elements)
	return elements
}

func blockText(b *block) string {
	parts := make([]string, len(b.lines))
	for i, l := range b.lines {
		if b.kind == models.KindTable {
			parts[i] = l.text(" | ")
		} else {
			parts[i] = l.text(" ")
		}
	}
	switch b.kind {
	case models.KindTable:
		return strings.Join(parts, "\n")
	default:
		return joinWrapped(parts)
	}
}

// joinWrapped rejoins soft-wrapped lines, mending words hyphenated at a line end.
func joinWrapped(parts []string) string {
	var sb strings.Builder
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if i > 0 {
			prev := sb.String()
			if strings.HasSuffix(prev, "-") && len(p) > 0 && unicode.IsLower([]rune(p)[0]) {
				trimmed := strings.TrimSuffix(prev, "-")
				sb.Reset()
				sb.WriteString(trimmed)
			} else {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(p)
	}
	return sb.String()
}
