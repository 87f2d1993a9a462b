// Package tui provides the Bubble Tea grading interface.
package tui

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// wrapText breaks text into lines no wider than width, preferring word
// boundaries. Width is measured per rune so wide characters count properly.
func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	var out strings.Builder
	for i, paragraph := range strings.Split(text, "\n") {
		if i > 0 {
			out.WriteRune('\n')
		}
		out.WriteString(wrapParagraph(paragraph, width))
	}
	return out.String()
}

func wrapParagraph(text string, width int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	var out strings.Builder
	lineWidth := 0
	for _, word := range words {
		w := runewidth.StringWidth(word)
		switch {
		case lineWidth == 0:
		case lineWidth+1+w <= width:
			out.WriteRune(' ')
			lineWidth++
		default:
			out.WriteRune('\n')
			lineWidth = 0
		}
		if w > width && lineWidth == 0 {
			lineWidth += writeBroken(&out, word, width)
			continue
		}
		out.WriteString(word)
		lineWidth += w
	}
	return out.String()
}

// writeBroken splits a single overlong word across lines and returns the
// width of the last line written.
func writeBroken(out *strings.Builder, word string, width int) int {
	lineWidth := 0
	for _, r := range word {
		w := runewidth.RuneWidth(r)
		if lineWidth+w > width {
			out.WriteRune('\n')
			lineWidth = 0
		}
		out.WriteRune(r)
		lineWidth += w
	}
	return lineWidth
}
