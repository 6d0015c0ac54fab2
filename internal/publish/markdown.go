package publish

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"confsite/internal/model"
)

// RenderCollectionMarkdown renders a collection as one document, items in display order.
func RenderCollectionMarkdown(c model.Collection, items []model.Item) string {
	var buf bytes.Buffer
	writeLn := func(s string) {
		buf.WriteString(s)
		buf.WriteString("\n")
	}

	writeLn("# " + strings.TrimSpace(c.Title))
	writeLn("")
	if len(items) == 0 {
		writeLn("_No entries._")
		return buf.String()
	}

	group := ""
	for i, it := range items {
		if c.Kind == model.KindCommittees {
			if g := strings.TrimSpace(it.Group); g != "" && g != group {
				group = g
				writeLn("## " + g)
				writeLn("")
			}
		}
		level := "##"
		if group != "" {
			level = "###"
		}
		writeItem(&buf, it, level, i+1)
	}
	return buf.String()
}

// RenderItemMarkdown renders a single item as a standalone page.
func RenderItemMarkdown(it model.Item) string {
	var buf bytes.Buffer
	writeItem(&buf, it, "#", 0)
	return buf.String()
}

// writeItem writes one item section. n > 0 prefixes the heading with its rank.
func writeItem(buf *bytes.Buffer, it model.Item, level string, n int) {
	writeLn := func(s string) {
		buf.WriteString(s)
		buf.WriteString("\n")
	}

	title := strings.TrimSpace(it.Title)
	if n > 0 {
		title = fmt.Sprintf("%d. %s", n, title)
	}
	writeLn(level + " " + title)
	writeLn("")
	if s := strings.TrimSpace(it.Subtitle); s != "" {
		writeLn("_" + s + "_")
		writeLn("")
	}

	var meta []string
	if when := formatRange(it.Starts, it.Ends); when != "" {
		meta = append(meta, "- When: "+when)
	}
	if s := strings.TrimSpace(it.Location); s != "" {
		meta = append(meta, "- Where: "+s)
	}
	if s := strings.TrimSpace(it.Speaker); s != "" {
		meta = append(meta, "- Speaker: "+s)
	}
	if s := strings.TrimSpace(it.Link); s != "" {
		meta = append(meta, "- Link: <"+s+">")
	}
	if s := strings.TrimSpace(it.MediaRef); s != "" {
		meta = append(meta, "- Media: "+s)
	}
	for _, m := range meta {
		writeLn(m)
	}
	if len(meta) > 0 {
		writeLn("")
	}

	if body := strings.TrimSpace(it.Body); body != "" {
		writeLn(body)
		writeLn("")
	}
}

func formatDateTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("Mon 2 Jan 2006 15:04 UTC")
}

func formatRange(start, end *time.Time) string {
	switch {
	case start == nil:
		return ""
	case end == nil:
		return formatDateTime(start)
	case start.UTC().Format(time.DateOnly) == end.UTC().Format(time.DateOnly):
		return formatDateTime(start) + "–" + end.UTC().Format("15:04")
	default:
		return formatDateTime(start) + " – " + formatDateTime(end)
	}
}
