package ingest

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// CleanOptions tunes the cleaning pass applied after extraction and
// before chunking.
type CleanOptions struct {
	MinLineLength int // lines shorter than this (after trim) are dropped; 0 disables
	MaxLineLength int // lines longer than this are hard-wrapped; 0 disables
}

// DefaultCleanOptions mirrors the ingestion defaults.
func DefaultCleanOptions() CleanOptions {
	return CleanOptions{MinLineLength: 2, MaxLineLength: 4000}
}

// Clean normalizes text to NFKC, strips control characters, collapses
// excess blank lines, and drops or wraps lines per opts.
func Clean(text string, opts CleanOptions) string {
	text = norm.NFKC.String(text)
	text = stripControlChars(text)

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blankRun := 0
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(trimmed) == "" {
			blankRun++
			if blankRun > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		if opts.MinLineLength > 0 && len(strings.TrimSpace(trimmed)) < opts.MinLineLength {
			continue
		}
		blankRun = 0
		if opts.MaxLineLength > 0 {
			out = append(out, wrapLine(trimmed, opts.MaxLineLength)...)
			continue
		}
		out = append(out, trimmed)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}

func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func wrapLine(line string, max int) []string {
	if len(line) <= max {
		return []string{line}
	}
	var out []string
	for len(line) > max {
		cut := max
		if idx := strings.LastIndex(line[:max], " "); idx > max/2 {
			cut = idx
		}
		out = append(out, strings.TrimRight(line[:cut], " "))
		line = strings.TrimLeft(line[cut:], " ")
	}
	if line != "" {
		out = append(out, line)
	}
	return out
}
