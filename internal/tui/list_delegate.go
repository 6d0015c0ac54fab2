package tui

import (
	"fmt"
	"io"
	"strings"

	"confsite/internal/model"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"
)

// itemRow is one collection item in the reorder list.
type itemRow struct {
	item model.Item
	// moved marks rows whose position is not yet confirmed by the store.
	moved bool
}

func (r itemRow) FilterValue() string { return r.item.Title }
func (r itemRow) Title() string       { return r.item.Title }
func (r itemRow) Description() string { return r.item.Subtitle }

func rowsFor(items, confirmed []model.Item) []list.Item {
	at := make(map[string]int, len(confirmed))
	for i, it := range confirmed {
		at[it.ID] = i
	}
	out := make([]list.Item, 0, len(items))
	for i, it := range items {
		j, ok := at[it.ID]
		out = append(out, itemRow{item: it, moved: !ok || j != i})
	}
	return out
}

type rowDelegate struct {
	normal   lipgloss.Style
	selected lipgloss.Style
	pending  lipgloss.Style
	meta     lipgloss.Style
}

func newRowDelegate() rowDelegate {
	return rowDelegate{
		normal:   lipgloss.NewStyle().Foreground(colorSurfaceFg),
		selected: lipgloss.NewStyle().Foreground(colorSelectedFg).Background(colorSelectedBg).Bold(true),
		pending:  lipgloss.NewStyle().Foreground(colorPendingFg),
		meta:     styleMuted(),
	}
}

func (d rowDelegate) Height() int                             { return 1 }
func (d rowDelegate) Spacing() int                            { return 0 }
func (d rowDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

// Render draws "NN. title  meta" cut to the list width. Unconfirmed rows carry a marker.
func (d rowDelegate) Render(w io.Writer, m list.Model, index int, li list.Item) {
	width := m.Width()
	row, ok := li.(itemRow)
	if !ok || width < 4 {
		return
	}

	marker := "  "
	if row.moved {
		marker = d.pending.Render("* ")
	}
	line := fmt.Sprintf("%2d. %s", index+1, row.item.Title)
	if meta := rowMeta(row.item); meta != "" {
		line += "  " + d.meta.Render(meta)
	}
	line = marker + line

	lineW := xansi.StringWidth(line)
	if lineW > width {
		line = xansi.Truncate(line, width-1, "…")
		lineW = xansi.StringWidth(line)
	}
	if lineW < width {
		line += strings.Repeat(" ", width-lineW)
	}

	style := d.normal
	if index == m.Index() {
		style = d.selected
	}
	fmt.Fprint(w, style.Render(line))
}

func rowMeta(it model.Item) string {
	var parts []string
	if it.Starts != nil {
		parts = append(parts, it.Starts.UTC().Format("Mon 15:04"))
	}
	if it.Speaker != "" {
		parts = append(parts, it.Speaker)
	}
	if it.Group != "" {
		parts = append(parts, it.Group)
	}
	if it.Layout.Featured {
		parts = append(parts, "featured")
	}
	return strings.Join(parts, " · ")
}
