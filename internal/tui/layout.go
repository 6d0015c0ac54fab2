package tui

import (
	"strings"

	xansi "github.com/charmbracelet/x/ansi"
)

// normalizePane forces s to exactly width columns (ANSI-aware) and height lines so
// lipgloss.JoinHorizontal lines panes up.
func normalizePane(s string, width, height int) string {
	width = max(width, 0)
	lines := strings.Split(s, "\n")
	if height > 0 {
		if len(lines) > height {
			lines = lines[:height]
		}
		for len(lines) < height {
			lines = append(lines, "")
		}
	}
	for i, ln := range lines {
		w := xansi.StringWidth(ln)
		if w > width {
			switch width {
			case 0:
				ln = ""
			case 1:
				ln = xansi.Cut(ln, 0, 1)
			default:
				ln = xansi.Truncate(ln, width-1, "") + "…"
			}
			w = xansi.StringWidth(ln)
		}
		if w < width {
			ln += strings.Repeat(" ", width-w)
		}
		lines[i] = ln
	}
	return strings.Join(lines, "\n")
}

// splitWidths divides total columns between the list and the preview pane.
func splitWidths(total int, preview bool) (left, right int) {
	if !preview || total < 60 {
		return total, 0
	}
	left = total * 45 / 100
	right = total - left - 1 // one column for the divider
	return left, right
}
