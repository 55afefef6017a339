package layout

import (
	"fmt"
	"testing"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignHeadingPaths(t *testing.T) {
	elements := []models.LayoutElement{
		{PageNum: 1, Kind: models.KindText, Text: "preamble"},
		{PageNum: 1, Kind: models.KindHeading, Level: 1, Text: "Intro"},
		{PageNum: 1, Kind: models.KindText, Text: "a"},
		{PageNum: 1, Kind: models.KindHeading, Level: 2, Text: "Scope"},
		{PageNum: 2, Kind: models.KindText, Text: "b"},
		{PageNum: 2, Kind: models.KindHeading, Level: 2, Text: "Terms"},
		{PageNum: 2, Kind: models.KindHeading, Level: 1, Text: "Method"},
		{PageNum: 2, Kind: models.KindList, Text: "- c"},
	}
	assignHeadingPaths(elements)

	want := [][]string{
		{},
		{"Intro"},
		{"Intro"},
		{"Intro", "Scope"},
		{"Intro", "Scope"},
		{"Intro", "Terms"},
		{"Method"},
		{"Method"},
	}
	for i, w := range want {
		assert.Equal(t, w, elements[i].HeadingPath, "element %d", i)
	}
}

func TestParseError(t *testing.T) {
	err := fmt.Errorf("ingest: %w", &ParseError{Op: "open", Err: ErrEncrypted})
	assert.True(t, IsParseError(err))
	assert.ErrorIs(t, err, ErrEncrypted)
	assert.Contains(t, err.Error(), "parse error: open")
	assert.False(t, IsParseError(ErrEncrypted))
}

func TestNew(t *testing.T) {
	p, err := New(config.IngestConfig{})
	require.NoError(t, err)
	assert.IsType(t, &PDFParser{}, p)

	p, err = New(config.IngestConfig{Parser: ParserDocling})
	require.NoError(t, err)
	require.IsType(t, &DoclingParser{}, p)
	assert.Equal(t, DefaultDoclingCommand, p.(*DoclingParser).command)

	_, err = New(config.IngestConfig{Parser: "ocr"})
	assert.Error(t, err)
}
