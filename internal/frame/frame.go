// Package frame composes display text into the fixed 6×22 character grid
// understood by the split-flap device.
package frame

import (
	"strings"

	"github.com/brodkin/clack-track-sub011/models"
)

// flapCharset is the set of characters the split-flap modules can show.
// Anything else is mapped to a space (or an ASCII fallback first).
const flapCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 .,:;!?'\"-+/$%&@#"

// Keys are uppercase because sanitize uppercases before mapping.
var asciiFallbacks = map[rune]rune{
	'É': 'E', 'È': 'E', 'Ê': 'E', 'Á': 'A', 'À': 'A', 'Â': 'A',
	'Ó': 'O', 'Ö': 'O', 'Ü': 'U', 'Ñ': 'N', 'Ç': 'C',
	'—': '-', '–': '-', '‘': '\'', '’': '\'', '“': '"', '”': '"',
	'…': '.',
}

// Compose lays text out on the grid: words are wrapped to 22 columns, each
// line is centered horizontally, and the block is centered vertically.
// Text that cannot fit in 6 rows is truncated at a word boundary.
func Compose(text string) models.Frame {
	lines := wrap(sanitize(text), models.FrameCols)
	if len(lines) > models.FrameRows {
		lines = lines[:models.FrameRows]
	}

	var f models.Frame
	top := (models.FrameRows - len(lines)) / 2
	blank := strings.Repeat(" ", models.FrameCols)
	for i := 0; i < models.FrameRows; i++ {
		f.Rows[i] = blank
	}
	for i, line := range lines {
		f.Rows[top+i] = center(line, models.FrameCols)
	}
	return f
}

// FromRows builds a frame from pre-laid-out rows, padding or truncating
// each to exactly 22 columns. Used by programmatic art generators that
// address the grid directly.
func FromRows(rows []string) models.Frame {
	var f models.Frame
	for i := 0; i < models.FrameRows; i++ {
		row := ""
		if i < len(rows) {
			row = sanitize(rows[i])
		}
		if len(row) > models.FrameCols {
			row = row[:models.FrameCols]
		}
		f.Rows[i] = row + strings.Repeat(" ", models.FrameCols-len(row))
	}
	return f
}

// Text flattens a frame back to a single trimmed string, for history and
// logs.
func Text(f models.Frame) string {
	parts := make([]string, 0, models.FrameRows)
	for _, row := range f.Rows {
		if trimmed := strings.TrimSpace(row); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}

// sanitize uppercases text and maps it onto the flap charset.
func sanitize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(text) {
		if fb, ok := asciiFallbacks[r]; ok {
			r = fb
		}
		if strings.ContainsRune(flapCharset, r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}

// wrap greedily packs words into lines of at most width columns. A word
// longer than the width is hard-split.
func wrap(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	current := ""
	for _, word := range words {
		for len(word) > width {
			if current != "" {
				lines = append(lines, current)
				current = ""
			}
			lines = append(lines, word[:width])
			word = word[width:]
		}
		if word == "" {
			continue
		}
		switch {
		case current == "":
			current = word
		case len(current)+1+len(word) <= width:
			current += " " + word
		default:
			lines = append(lines, current)
			current = word
		}
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

func center(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	left := (width - len(s)) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-left-len(s))
}
