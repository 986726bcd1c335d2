// Package cli provides CLI output helpers for BAMI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/hyperjump/bami/internal/assistant"
	"github.com/hyperjump/bami/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// DefaultTimelineEntries is how many recent timeline entries the text view shows.
const DefaultTimelineEntries = 5

// WriteCase writes a case to w in the given format.
func WriteCase(w io.Writer, c *models.PublicCase, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	}
	writeCaseText(w, c)
	return nil
}

func writeCaseText(w io.Writer, c *models.PublicCase) {
	fmt.Fprintf(w, "\nExpediente %s · %s (%s)\n", c.ID, c.Product, c.Channel)
	fmt.Fprintf(w, "Asesor: %s | Etapa: %s | Avance: %d%%\n", c.Owner, c.Stage, c.Percent)
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintln(w, assistant.Tracker(c.Stage))
	if len(c.Missing) > 0 {
		fmt.Fprintf(w, "\nPendientes: %s\n", strings.Join(c.Missing, ", "))
	} else {
		fmt.Fprintln(w, "\nPendientes: ninguno")
	}
	if len(c.Applicant) > 0 {
		keys := make([]string, 0, len(c.Applicant))
		for k := range c.Applicant {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, "\nSolicitante:")
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %v\n", k, c.Applicant[k])
		}
	}

	entries := c.Timeline
	if len(entries) > DefaultTimelineEntries {
		entries = entries[len(entries)-DefaultTimelineEntries:]
	}
	if len(entries) > 0 {
		fmt.Fprintln(w, "\nÚltimos movimientos:")
		for _, e := range entries {
			fmt.Fprintf(w, "  %s  %-12s %s\n", e.Timestamp.Format("2006-01-02 15:04"), e.Stage, Truncate(e.Text, 80))
		}
	}
	fmt.Fprintln(w)
}

// PrintCase prints a case to stdout in text format.
func PrintCase(c *models.PublicCase) {
	_ = WriteCase(os.Stdout, c, OutputText)
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if maxLen <= 0 || len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
