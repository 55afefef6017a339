// Package cli renders Shiori results for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text", "json" or "" (text).
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes a query response to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteAnswer(w io.Writer, response *models.QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	writeAnswerText(w, response)
	return nil
}

func writeAnswerText(w io.Writer, response *models.QueryResponse) {
	fmt.Fprintf(w, "\n%s\n\n", response.AnswerText)
	if len(response.Citations) == 0 {
		fmt.Fprintf(w, "(no citations, %dms)\n", response.QueryTimeMS)
		return
	}
	fmt.Fprintf(w, "%d citations in %dms\n", len(response.Citations), response.QueryTimeMS)
	for _, c := range response.Citations {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "%s %s p.%d | Score: %.4f\n", c.Marker, c.DocID, c.PageNum, c.Score)
		fmt.Fprintf(w, "BBox: %s\n", c.BBox)
		if c.Snippet != "" {
			fmt.Fprintf(w, "\n%s\n", Truncate(c.Snippet, 200))
		}
		if c.ViewerURL != "" {
			fmt.Fprintf(w, "\n%s\n", c.ViewerURL)
		}
	}
	fmt.Fprintln(w)
}

// PrintAnswer prints a query response to stdout in text format.
func PrintAnswer(response *models.QueryResponse) {
	_ = WriteAnswer(os.Stdout, response, OutputText)
}

// WriteEvidence writes a resolved evidence region.
func WriteEvidence(w io.Writer, ev *models.Evidence, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, ev)
	}
	n := ev.Normalized
	fmt.Fprintf(w, "Document:   %s\n", ev.DocID)
	fmt.Fprintf(w, "Page:       %d (%gx%g pt)\n", ev.PageNum, ev.PageWidth, ev.PageHeight)
	fmt.Fprintf(w, "BBox:       %s\n", ev.BBox)
	fmt.Fprintf(w, "Normalized: %.4f,%.4f,%.4f,%.4f\n", n[0], n[1], n[2], n[3])
	if !ev.InBounds {
		fmt.Fprintln(w, "Warning:    box extends past the page")
	}
	fmt.Fprintf(w, "Source:     %s\n", ev.SourceURI)
	if ev.ViewerURL != "" {
		fmt.Fprintf(w, "Viewer:     %s\n", ev.ViewerURL)
	}
	return nil
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	return utils.Truncate(s, maxLen)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
