package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// BBox is an axis-aligned box [x0, y0, x1, y1] in page space (bottom-left origin,
// y0 is the bottom edge).
type BBox [4]float64

// X0 returns the left edge.
func (b BBox) X0() float64 { return b[0] }

// Y0 returns the bottom edge.
func (b BBox) Y0() float64 { return b[1] }

// X1 returns the right edge.
func (b BBox) X1() float64 { return b[2] }

// Y1 returns the top edge.
func (b BBox) Y1() float64 { return b[3] }

// Valid reports whether x0<=x1 and y0<=y1 and all coordinates are finite.
func (b BBox) Valid() bool {
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b[0] <= b[2] && b[1] <= b[3]
}

// Width returns x1-x0.
func (b BBox) Width() float64 { return b[2] - b[0] }

// Height returns y1-y0.
func (b BBox) Height() float64 { return b[3] - b[1] }

// Area returns the box area, 0 for invalid boxes.
func (b BBox) Area() float64 {
	if !b.Valid() {
		return 0
	}
	return b.Width() * b.Height()
}

// Union returns the smallest box covering both b and o.
func (b BBox) Union(o BBox) BBox {
	return BBox{
		math.Min(b[0], o[0]),
		math.Min(b[1], o[1]),
		math.Max(b[2], o[2]),
		math.Max(b[3], o[3]),
	}
}

// UnionAll returns the union of boxes. ok is false when boxes is empty.
func UnionAll(boxes []BBox) (u BBox, ok bool) {
	if len(boxes) == 0 {
		return BBox{}, false
	}
	u = boxes[0]
	for _, b := range boxes[1:] {
		u = u.Union(b)
	}
	return u, true
}

// Contains reports whether o lies entirely within b.
func (b BBox) Contains(o BBox) bool {
	return o[0] >= b[0] && o[1] >= b[1] && o[2] <= b[2] && o[3] <= b[3]
}

// Within reports whether b lies inside a page of the given size.
func (b BBox) Within(width, height float64) bool {
	return BBox{0, 0, width, height}.Contains(b)
}

// Normalized converts b to fractions of the page with a top-left origin, the
// convention most PDF viewers use for overlays: [left, top, right, bottom].
func (b BBox) Normalized(width, height float64) [4]float64 {
	if width <= 0 || height <= 0 {
		return [4]float64{}
	}
	return [4]float64{
		b[0] / width,
		(height - b[3]) / height,
		b[2] / width,
		(height - b[1]) / height,
	}
}

// String formats the box as "x0,y0,x1,y1".
func (b BBox) String() string {
	parts := make([]string, 4)
	for i, v := range b {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// ParseBBox parses "x0,y0,x1,y1".
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("bbox must have 4 comma-separated values, got %d", len(parts))
	}
	var b BBox
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("invalid bbox value %q: %w", p, err)
		}
		b[i] = v
	}
	return b, nil
}
