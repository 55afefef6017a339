package models

import (
	"encoding/json"
	"testing"
)

func TestBBox_Union(t *testing.T) {
	a := BBox{10, 20, 30, 40}
	b := BBox{5, 25, 35, 38}
	got := a.Union(b)
	want := BBox{5, 20, 35, 40}
	if got != want {
		t.Errorf("Union = %v, want %v", got, want)
	}
	if !got.Contains(a) || !got.Contains(b) {
		t.Error("union must contain both inputs")
	}
}

func TestUnionAll(t *testing.T) {
	if _, ok := UnionAll(nil); ok {
		t.Error("expected ok=false for empty input")
	}
	u, ok := UnionAll([]BBox{{1, 1, 2, 2}, {0, 3, 1, 4}, {4, 0, 5, 1}})
	if !ok || u != (BBox{0, 0, 5, 4}) {
		t.Errorf("UnionAll = %v, %v", u, ok)
	}
}

func TestBBox_Valid(t *testing.T) {
	tests := []struct {
		name string
		box  BBox
		want bool
	}{
		{"ordinary", BBox{0, 0, 10, 10}, true},
		{"degenerate point", BBox{3, 3, 3, 3}, true},
		{"x inverted", BBox{10, 0, 0, 10}, false},
		{"y inverted", BBox{0, 10, 10, 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.box.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBBox_Normalized(t *testing.T) {
	b := BBox{61.2, 396, 306, 712.8}
	n := b.Normalized(612, 792)
	want := [4]float64{0.1, 0.1, 0.5, 0.5}
	for i := range want {
		if diff := n[i] - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("Normalized = %v, want %v", n, want)
		}
	}
}

func TestParseBBox(t *testing.T) {
	b, err := ParseBBox("1, 2.5,3,4")
	if err != nil {
		t.Fatal(err)
	}
	if b != (BBox{1, 2.5, 3, 4}) {
		t.Errorf("got %v", b)
	}
	if b.String() != "1,2.5,3,4" {
		t.Errorf("String() = %q", b.String())
	}
	if _, err := ParseBBox("1,2,3"); err == nil {
		t.Error("expected error for 3 values")
	}
	if _, err := ParseBBox("1,2,x,4"); err == nil {
		t.Error("expected error for non-number")
	}
}

func TestBBox_JSONIsArray(t *testing.T) {
	data, err := json.Marshal(Chunk{ID: "c", BBox: BBox{1, 2, 3, 4}})
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	arr, ok := raw["bbox"].([]any)
	if !ok || len(arr) != 4 {
		t.Errorf("bbox should marshal as 4-element array, got %v", raw["bbox"])
	}
}
