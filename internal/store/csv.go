package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"confsite/internal/model"
	"confsite/internal/order"
)

// ItemCSVHeader is the column layout of item import/export files.
var ItemCSVHeader = []string{
	"id", "title", "subtitle", "body", "media", "link", "span", "featured",
	"starts", "ends", "location", "speaker", "group", "position",
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, ValidationError{Field: field, Msg: "must be RFC3339"}
	}
	t = t.UTC()
	return &t, nil
}

// ExportItemsCSV writes the collection in display order.
func (s *Store) ExportItemsCSV(ctx context.Context, collectionID string, w io.Writer) error {
	items, err := s.ReadAll(ctx, collectionID)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(ItemCSVHeader); err != nil {
		return err
	}
	for _, it := range items {
		span := ""
		if it.Layout.Span > 0 {
			span = strconv.Itoa(it.Layout.Span)
		}
		rec := []string{
			it.ID, it.Title, it.Subtitle, it.Body, it.MediaRef, it.Link, span,
			strconv.FormatBool(it.Layout.Featured),
			formatTime(it.Starts), formatTime(it.Ends),
			it.Location, it.Speaker, it.Group,
			strconv.FormatFloat(it.Position, 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type ImportOptions struct {
	// KeepPositions applies the position column instead of appending in file order.
	KeepPositions bool
}

type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

type csvRow struct {
	item     model.Item
	position *float64
}

// ImportItemsCSV applies a CSV file to a collection in one transaction. Rows whose id
// exists in the collection update that item; other rows create new items.
func (s *Store) ImportItemsCSV(ctx context.Context, actorID, collectionID string, r io.Reader, opts ImportOptions) (ImportResult, error) {
	rows, err := parseItemsCSV(r, collectionID)
	if err != nil {
		return ImportResult{}, err
	}
	var res ImportResult
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := readAll(ctx, tx, collectionID)
		if err != nil {
			return err
		}
		known := map[string]bool{}
		for _, it := range cur {
			known[it.ID] = true
		}
		for _, row := range rows {
			var pos *float64
			if opts.KeepPositions {
				pos = row.position
			}
			if row.item.ID != "" && known[row.item.ID] {
				if _, err := s.updateItemTx(ctx, tx, actorID, row.item, pos); err != nil {
					return fmt.Errorf("update %s: %w", row.item.ID, err)
				}
				res.Updated++
				continue
			}
			if _, err := s.createItemTx(ctx, tx, actorID, row.item, pos); err != nil {
				return fmt.Errorf("create %q: %w", row.item.Title, err)
			}
			res.Created++
		}
		if !opts.KeepPositions {
			return nil
		}
		after, err := readAll(ctx, tx, collectionID)
		if err != nil {
			return err
		}
		if order.StrictlyIncreasing(after) {
			return nil
		}
		for _, p := range order.Assign(after) {
			if _, err := tx.ExecContext(ctx, `UPDATE items SET position = ? WHERE id = ?`, p.Position, p.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

func parseItemsCSV(r io.Reader, collectionID string) ([]csvRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["title"]; !ok {
		return nil, ValidationError{Field: "csv", Msg: "missing title column"}
	}

	var out []csvRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		it := model.Item{
			ID:           get("id"),
			CollectionID: collectionID,
			Title:        get("title"),
			Subtitle:     get("subtitle"),
			Body:         get("body"),
			MediaRef:     get("media"),
			Link:         get("link"),
			Location:     get("location"),
			Speaker:      get("speaker"),
			Group:        get("group"),
		}
		if v := get("span"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, ValidationError{Field: "span", Msg: "must be an integer"})
			}
			it.Layout.Span = n
		}
		if v := get("featured"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, ValidationError{Field: "featured", Msg: "must be true or false"})
			}
			it.Layout.Featured = b
		}
		if it.Starts, err = parseTime("starts", get("starts")); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if it.Ends, err = parseTime("ends", get("ends")); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := csvRow{item: it}
		if v := get("position"); v != "" {
			p, err := strconv.ParseFloat(v, 64)
			if err != nil || math.IsInf(p, 0) || math.IsNaN(p) {
				return nil, fmt.Errorf("line %d: %w", line, ValidationError{Field: "position", Msg: "must be a finite number"})
			}
			row.position = &p
		}
		out = append(out, row)
	}
	return out, nil
}

// ExportRegistrationsCSV writes every registration, oldest first.
func (s *Store) ExportRegistrationsCSV(ctx context.Context, w io.Writer) error {
	regs, err := s.ListRegistrations(ctx)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "name", "email", "affiliation", "ticket", "notes", "created_at"}); err != nil {
		return err
	}
	for _, r := range regs {
		if err := cw.Write([]string{
			r.ID, r.Name, r.Email, r.Affiliation, string(r.Ticket), r.Notes, r.CreatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
