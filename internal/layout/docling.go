package layout

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// DefaultDoclingCommand is the converter binary used when none is configured.
const DefaultDoclingCommand = "docling"

// DoclingParser delegates layout analysis to the docling converter and reads its
// JSON document export.
type DoclingParser struct {
	command string
	logger  *zap.Logger
}

// NewDoclingParser creates a parser that runs command as the converter.
func NewDoclingParser(command string, opts ...Option) *DoclingParser {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if command == "" {
		command = DefaultDoclingCommand
	}
	return &DoclingParser{command: command, logger: o.logger}
}

// Parse writes data to a scratch directory, converts it and parses the export.
func (p *DoclingParser) Parse(ctx context.Context, data []byte) (*Result, error) {
	dir, err := os.MkdirTemp("", "shiori-docling-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write input: %w", err)
	}
	out := filepath.Join(dir, "out")
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.command, input, "--output", out, "--to", "json")
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(strings.ToLower(msg), "password") {
			return nil, &ParseError{Op: "convert", Err: ErrEncrypted}
		}
		return nil, &ParseError{Op: "convert", Err: fmt.Errorf("%w: %s: %v: %s", ErrCorrupt, p.command, err, msg)}
	}

	export, err := os.ReadFile(filepath.Join(out, "input.json"))
	if err != nil {
		matches, _ := filepath.Glob(filepath.Join(out, "*.json"))
		if len(matches) == 0 {
			return nil, &ParseError{Op: "convert", Err: fmt.Errorf("%w: no json export", ErrCorrupt)}
		}
		if export, err = os.ReadFile(matches[0]); err != nil {
			return nil, fmt.Errorf("failed to read export: %w", err)
		}
	}
	res, err := ParseDoclingJSON(export)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("docling conversion finished",
		zap.Int("pages", len(res.Pages)),
		zap.Int("elements", len(res.Elements)))
	return res, nil
}

// ParseDoclingJSON converts a docling document export into a Result. Element
// order follows the body tree; bounding boxes are converted to a bottom-left
// origin.
func ParseDoclingJSON(data []byte) (*Result, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ParseError{Op: "decode", Err: fmt.Errorf("%w: invalid docling json", ErrCorrupt)}
	}
	doc := gjson.ParseBytes(data)

	res := &Result{Title: strings.TrimSpace(doc.Get("name").String())}
	if t := doc.Get("title"); t.Exists() {
		res.Title = strings.TrimSpace(t.String())
	}

	heights := map[int]float64{}
	doc.Get("pages").ForEach(func(key, value gjson.Result) bool {
		n, err := strconv.Atoi(key.String())
		if err != nil {
			n = int(value.Get("page_no").Int())
		}
		if n <= 0 {
			return true
		}
		w := value.Get("size.width").Float()
		h := value.Get("size.height").Float()
		if w <= 0 || h <= 0 {
			w, h = models.DefaultPageWidth, models.DefaultPageHeight
		}
		heights[n] = h
		res.Pages = append(res.Pages, models.Page{PageNum: n, Width: w, Height: h})
		return true
	})
	sort.Slice(res.Pages, func(i, j int) bool { return res.Pages[i].PageNum < res.Pages[j].PageNum })
	if len(res.Pages) == 0 {
		return nil, &ParseError{Op: "decode", Err: ErrNoPages}
	}

	var refs []string
	var walk func(node gjson.Result, depth int)
	walk = func(node gjson.Result, depth int) {
		if depth > 64 {
			return
		}
		node.Get("children").ForEach(func(_, child gjson.Result) bool {
			ref := child.Get("$ref").String()
			if strings.HasPrefix(ref, "#/groups/") {
				walk(lookupRef(doc, ref), depth+1)
				return true
			}
			if ref != "" {
				refs = append(refs, ref)
			}
			return true
		})
	}
	walk(doc.Get("body"), 0)
	if len(refs) == 0 {
		// exports without a body tree: texts then tables
		for i := range doc.Get("texts").Array() {
			refs = append(refs, "#/texts/"+strconv.Itoa(i))
		}
		for i := range doc.Get("tables").Array() {
			refs = append(refs, "#/tables/"+strconv.Itoa(i))
		}
	}

	for _, ref := range refs {
		item := lookupRef(doc, ref)
		if !item.Exists() {
			continue
		}
		res.Elements = append(res.Elements, doclingElements(item, strings.HasPrefix(ref, "#/tables/"), heights)...)
	}
	if len(res.Elements) == 0 {
		return nil, &ParseError{Op: "decode", Err: ErrNoPages}
	}
	assignHeadingPaths(res.Elements)
	return res, nil
}

// lookupRef resolves a JSON pointer like "#/texts/3".
func lookupRef(doc gjson.Result, ref string) gjson.Result {
	path := strings.TrimPrefix(ref, "#/")
	return doc.Get(strings.ReplaceAll(path, "/", "."))
}

// provRegion is the area an item occupies on one page: the union of its
// provenance boxes there, plus their character spans when the export has them.
type provRegion struct {
	page  int
	bbox  models.BBox
	spans [][2]int
}

// doclingRegions groups an item's provenance entries by page, in order of first
// appearance.
func doclingRegions(item gjson.Result, heights map[int]float64) []provRegion {
	var regions []provRegion
	index := map[int]int{}
	item.Get("prov").ForEach(func(_, prov gjson.Result) bool {
		page := int(prov.Get("page_no").Int())
		height, ok := heights[page]
		if !ok {
			return true
		}
		l := prov.Get("bbox.l").Float()
		r := prov.Get("bbox.r").Float()
		t := prov.Get("bbox.t").Float()
		b := prov.Get("bbox.b").Float()
		if strings.EqualFold(prov.Get("bbox.coord_origin").String(), "TOPLEFT") {
			t, b = height-t, height-b
		}
		box := models.BBox{min(l, r), min(t, b), max(l, r), max(t, b)}
		i, seen := index[page]
		if !seen {
			index[page] = len(regions)
			regions = append(regions, provRegion{page: page, bbox: box})
			i = len(regions) - 1
		} else {
			regions[i].bbox = regions[i].bbox.Union(box)
		}
		if span := prov.Get("charspan").Array(); len(span) == 2 {
			regions[i].spans = append(regions[i].spans, [2]int{int(span[0].Int()), int(span[1].Int())})
		}
		return true
	})
	return regions
}

// doclingElements turns one body item into elements, one per page it covers.
func doclingElements(item gjson.Result, table bool, heights map[int]float64) []models.LayoutElement {
	regions := doclingRegions(item, heights)
	if len(regions) == 0 {
		return nil
	}
	proto := models.LayoutElement{Kind: models.KindText}
	var text, marker string
	if table {
		proto.Kind = models.KindTable
		text = tableText(item)
	} else {
		text = strings.TrimSpace(item.Get("text").String())
		switch item.Get("label").String() {
		case "page_header", "page_footer":
			return nil
		case "title":
			proto.Kind = models.KindHeading
			proto.Level = 1
		case "section_header":
			proto.Kind = models.KindHeading
			proto.Level = int(item.Get("level").Int()) + 1
		case "list_item":
			proto.Kind = models.KindList
			marker = strings.TrimSpace(item.Get("marker").String())
		}
	}
	if text == "" {
		return nil
	}

	parts := []string{text}
	if len(regions) > 1 {
		parts = splitAcrossPages(text, table, regions)
	}
	var out []models.LayoutElement
	for i, r := range regions {
		part := strings.TrimSpace(parts[i])
		if part == "" {
			continue
		}
		if marker != "" && len(out) == 0 {
			part = marker + " " + part
		}
		el := proto
		el.PageNum = r.page
		el.BBox = r.bbox
		el.Text = part
		out = append(out, el)
	}
	return out
}

// splitAcrossPages divides an item's text between its page regions. Character
// spans are used when every region has them; otherwise rows (tables) or words
// are dealt out in proportion to each region's height.
func splitAcrossPages(text string, table bool, regions []provRegion) []string {
	parts := make([]string, len(regions))
	runes := []rune(text)
	if !table && spansCover(regions, len(runes)) {
		for i, r := range regions {
			lo, hi := r.spans[0][0], r.spans[0][1]
			for _, sp := range r.spans[1:] {
				lo, hi = min(lo, sp[0]), max(hi, sp[1])
			}
			parts[i] = string(runes[lo:hi])
		}
		return parts
	}

	sep := " "
	units := strings.Fields(text)
	if table {
		sep = "\n"
		units = strings.Split(text, "\n")
	}
	var total float64
	for _, r := range regions {
		total += r.bbox.Height()
	}
	start := 0
	var acc float64
	for i, r := range regions {
		acc += r.bbox.Height()
		end := len(units)
		if i < len(regions)-1 && total > 0 {
			end = int(float64(len(units))*acc/total + 0.5)
		}
		end = min(max(end, start), len(units))
		parts[i] = strings.Join(units[start:end], sep)
		start = end
	}
	return parts
}

func spansCover(regions []provRegion, n int) bool {
	for _, r := range regions {
		if len(r.spans) == 0 {
			return false
		}
		for _, sp := range r.spans {
			if sp[0] < 0 || sp[1] > n || sp[0] >= sp[1] {
				return false
			}
		}
	}
	return true
}

func tableText(item gjson.Result) string {
	rows := map[int]map[int]string{}
	maxRow, maxCol := -1, -1
	item.Get("data.table_cells").ForEach(func(_, cell gjson.Result) bool {
		r := int(cell.Get("start_row_offset_idx").Int())
		c := int(cell.Get("start_col_offset_idx").Int())
		if rows[r] == nil {
			rows[r] = map[int]string{}
		}
		rows[r][c] = strings.TrimSpace(cell.Get("text").String())
		maxRow, maxCol = max(maxRow, r), max(maxCol, c)
		return true
	})
	lines := make([]string, 0, maxRow+1)
	for r := 0; r <= maxRow; r++ {
		cells, ok := rows[r]
		if !ok {
			continue
		}
		parts := make([]string, maxCol+1)
		for c := range parts {
			parts[c] = cells[c]
		}
		lines = append(lines, strings.Join(parts, " | "))
	}
	return strings.Join(lines, "\n")
}
