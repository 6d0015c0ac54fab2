package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"confsite/internal/model"
	"confsite/internal/order"
)

func (s *Store) putCollection(ctx context.Context, ex execer, c model.Collection) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `INSERT OR REPLACE INTO collections(id, kind, json, created_at_unixms) VALUES(?, ?, ?, ?)`,
		c.ID, string(c.Kind), string(raw), c.CreatedAt.UnixMilli())
	return err
}

func (s *Store) ListCollections(ctx context.Context) ([]model.Collection, error) {
	return readJSONRows[model.Collection](ctx, s.db, `SELECT json FROM collections ORDER BY created_at_unixms, id`)
}

func (s *Store) GetCollection(ctx context.Context, id string) (model.Collection, error) {
	return getCollection(ctx, s.db, id)
}

func getCollection(ctx context.Context, ex execer, id string) (model.Collection, error) {
	id = strings.TrimSpace(id)
	var js string
	err := ex.QueryRowContext(ctx, `SELECT json FROM collections WHERE id = ?`, id).Scan(&js)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Collection{}, NotFoundError{Kind: "collection", ID: id}
	}
	if err != nil {
		return model.Collection{}, err
	}
	var c model.Collection
	if err := json.Unmarshal([]byte(js), &c); err != nil {
		return model.Collection{}, err
	}
	return c, nil
}

// ReadAll returns the collection's items sorted by position ascending.
func (s *Store) ReadAll(ctx context.Context, collectionID string) ([]model.Item, error) {
	return readAll(ctx, s.db, collectionID)
}

func readAll(ctx context.Context, ex execer, collectionID string) ([]model.Item, error) {
	if _, err := getCollection(ctx, ex, collectionID); err != nil {
		return nil, err
	}
	rows, err := ex.QueryContext(ctx, `SELECT json, position FROM items WHERE collection_id = ?`, strings.TrimSpace(collectionID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	order.SortByPosition(out)
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem decodes a (json, position) row. The position column is authoritative.
func scanItem(r rowScanner) (model.Item, error) {
	var js string
	var pos float64
	if err := r.Scan(&js, &pos); err != nil {
		return model.Item{}, err
	}
	var it model.Item
	if err := json.Unmarshal([]byte(js), &it); err != nil {
		return model.Item{}, err
	}
	it.Position = pos
	return it, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (model.Item, error) {
	return getItem(ctx, s.db, id)
}

func getItem(ctx context.Context, ex execer, id string) (model.Item, error) {
	id = strings.TrimSpace(id)
	it, err := scanItem(ex.QueryRowContext(ctx, `SELECT json, position FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Item{}, NotFoundError{Kind: "item", ID: id}
	}
	return it, err
}

func putItem(ctx context.Context, ex execer, it model.Item) error {
	raw, err := json.Marshal(it)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `INSERT OR REPLACE INTO items(id, collection_id, position, title, json, created_at_unixms, updated_at_unixms)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.CollectionID, it.Position, it.Title, string(raw), it.CreatedAt.UnixMilli(), it.UpdatedAt.UnixMilli())
	return err
}

// ValidateItem checks the display attributes of an item.
func ValidateItem(it model.Item) error {
	title := strings.TrimSpace(it.Title)
	if title == "" {
		return ValidationError{Field: "title", Msg: "required"}
	}
	if len(title) > 200 {
		return ValidationError{Field: "title", Msg: "must be at most 200 characters"}
	}
	if it.Layout.Span < 0 || it.Layout.Span > 3 {
		return ValidationError{Field: "span", Msg: "must be 0 (auto) or 1..3"}
	}
	if it.Starts != nil && it.Ends != nil && !it.Ends.After(*it.Starts) {
		return ValidationError{Field: "ends", Msg: "must be after starts"}
	}
	if l := strings.TrimSpace(it.Link); l != "" {
		u, err := url.Parse(l)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ValidationError{Field: "link", Msg: "must be an http(s) URL"}
		}
	}
	return nil
}

func normalizeItem(it *model.Item) {
	it.Title = strings.TrimSpace(it.Title)
	it.Subtitle = strings.TrimSpace(it.Subtitle)
	it.Body = strings.TrimSpace(it.Body)
	it.MediaRef = strings.TrimSpace(it.MediaRef)
	it.Link = strings.TrimSpace(it.Link)
	it.Location = strings.TrimSpace(it.Location)
	it.Speaker = strings.TrimSpace(it.Speaker)
	it.Group = strings.TrimSpace(it.Group)
}

// CreateItem appends it to the end of its collection.
func (s *Store) CreateItem(ctx context.Context, actorID string, it model.Item) (model.Item, error) {
	var out model.Item
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = s.createItemTx(ctx, tx, actorID, it, nil)
		return err
	})
	if err != nil {
		return model.Item{}, err
	}
	return out, nil
}

// createItemTx inserts it at position, or after the current last item when position is nil.
func (s *Store) createItemTx(ctx context.Context, tx *sql.Tx, actorID string, it model.Item, position *float64) (model.Item, error) {
	normalizeItem(&it)
	if err := ValidateItem(it); err != nil {
		return model.Item{}, err
	}
	cur, err := readAll(ctx, tx, it.CollectionID)
	if err != nil {
		return model.Item{}, err
	}
	now := s.now()
	it.ID = newID("itm")
	if position != nil {
		it.Position = *position
	} else {
		it.Position = order.Next(cur)
	}
	it.CreatedBy = strings.TrimSpace(actorID)
	it.CreatedAt = now
	it.UpdatedAt = now
	if err := putItem(ctx, tx, it); err != nil {
		return model.Item{}, err
	}
	if err := s.appendEvent(ctx, tx, actorID, "item.create", it.ID, it); err != nil {
		return model.Item{}, err
	}
	return it, nil
}

// UpdateItem replaces the display attributes of an existing item. Position, collection
// and creation metadata are preserved.
func (s *Store) UpdateItem(ctx context.Context, actorID string, it model.Item) (model.Item, error) {
	var out model.Item
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = s.updateItemTx(ctx, tx, actorID, it, nil)
		return err
	})
	if err != nil {
		return model.Item{}, err
	}
	return out, nil
}

func (s *Store) updateItemTx(ctx context.Context, tx *sql.Tx, actorID string, it model.Item, position *float64) (model.Item, error) {
	normalizeItem(&it)
	if err := ValidateItem(it); err != nil {
		return model.Item{}, err
	}
	prev, err := getItem(ctx, tx, it.ID)
	if err != nil {
		return model.Item{}, err
	}
	it.CollectionID = prev.CollectionID
	it.Position = prev.Position
	if position != nil {
		it.Position = *position
	}
	it.CreatedBy = prev.CreatedBy
	it.CreatedAt = prev.CreatedAt
	it.UpdatedAt = s.now()
	if err := putItem(ctx, tx, it); err != nil {
		return model.Item{}, err
	}
	if err := s.appendEvent(ctx, tx, actorID, "item.update", it.ID, it); err != nil {
		return model.Item{}, err
	}
	return it, nil
}

// DeleteItem removes an item. Remaining positions are left as they are.
func (s *Store) DeleteItem(ctx context.Context, actorID, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		it, err := getItem(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, it.ID); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, actorID, "item.delete", it.ID, map[string]any{"collectionId": it.CollectionID, "title": it.Title})
	})
}

// WriteBatch persists the positions of a full ordered list of placements atomically.
// Only position fields change. Either every position is written or none is.
func (s *Store) WriteBatch(ctx context.Context, actorID, collectionID string, placements []model.Placement) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.writeBatchTx(ctx, tx, actorID, collectionID, placements)
	})
}

func (s *Store) writeBatchTx(ctx context.Context, tx *sql.Tx, actorID, collectionID string, placements []model.Placement) error {
	cur, err := readAll(ctx, tx, collectionID)
	if err != nil {
		return err
	}
	byID := make(map[string]model.Item, len(cur))
	for _, it := range cur {
		byID[it.ID] = it
	}

	seen := map[string]bool{}
	for i, p := range placements {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return ValidationError{Field: "id", Msg: "empty id in write-batch"}
		}
		// Items of other collections are not found in this one.
		if _, ok := byID[id]; !ok {
			return NotFoundError{Kind: "item", ID: id}
		}
		if seen[id] {
			return ErrIncompleteBatch
		}
		seen[id] = true
		if i > 0 && !(placements[i-1].Position < p.Position) {
			return ErrNotIncreasing
		}
	}
	if len(seen) != len(cur) {
		return ErrIncompleteBatch
	}

	now := s.now()
	changed := map[string]float64{}
	for _, p := range placements {
		id := strings.TrimSpace(p.ID)
		if byID[id].Position == p.Position {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE items SET position = ?, updated_at_unixms = ? WHERE id = ?`,
			p.Position, now.UnixMilli(), id); err != nil {
			return err
		}
		changed[id] = p.Position
	}
	ids := make([]string, 0, len(placements))
	for _, p := range placements {
		ids = append(ids, strings.TrimSpace(p.ID))
	}
	return s.appendEvent(ctx, tx, actorID, "collection.reorder", collectionID, map[string]any{
		"order":   ids,
		"changed": changed,
	})
}

// Move relocates the item at index from to index to, planning the smallest set of
// position changes, and persists the result as one write-batch.
func (s *Store) Move(ctx context.Context, actorID, collectionID string, from, to int) (order.Plan, error) {
	var plan order.Plan
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := readAll(ctx, tx, collectionID)
		if err != nil {
			return err
		}
		plan, err = planAndWrite(ctx, s, tx, actorID, collectionID, cur, from, to)
		return err
	})
	if err != nil {
		return order.Plan{}, err
	}
	return plan, nil
}

// MoveItem moves an item to index to within its collection. The item's current index is
// resolved in the same transaction as the write, so concurrent reorders cannot make it
// move a different item.
func (s *Store) MoveItem(ctx context.Context, actorID, itemID string, to int) (order.Plan, error) {
	var plan order.Plan
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		it, err := getItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		cur, err := readAll(ctx, tx, it.CollectionID)
		if err != nil {
			return err
		}
		from := order.IndexOf(cur, it.ID, func(x model.Item) string { return x.ID })
		plan, err = planAndWrite(ctx, s, tx, actorID, it.CollectionID, cur, from, to)
		return err
	})
	if err != nil {
		return order.Plan{}, err
	}
	return plan, nil
}

func planAndWrite(ctx context.Context, s *Store, tx *sql.Tx, actorID, collectionID string, cur []model.Item, from, to int) (order.Plan, error) {
	plan, err := order.PlanMove(cur, from, to)
	if err != nil {
		return order.Plan{}, ValidationError{Field: "index", Msg: err.Error()}
	}
	if err := s.writeBatchTx(ctx, tx, actorID, collectionID, plan.Placements()); err != nil {
		return order.Plan{}, err
	}
	return plan, nil
}

// SetOrder persists the given id sequence, keeping current positions where they already
// increase and re-spacing otherwise.
func (s *Store) SetOrder(ctx context.Context, actorID, collectionID string, ids []string) ([]model.Item, error) {
	cur, err := s.ReadAll(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Item, len(cur))
	for _, it := range cur {
		byID[it.ID] = it
	}
	seq := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		it, ok := byID[strings.TrimSpace(id)]
		if !ok {
			return nil, NotFoundError{Kind: "item", ID: id}
		}
		seq = append(seq, it)
	}
	if err := s.WriteBatch(ctx, actorID, collectionID, order.Assign(seq)); err != nil {
		return nil, err
	}
	return s.ReadAll(ctx, collectionID)
}

func readJSONRows[T any](ctx context.Context, ex execer, query string, args ...any) ([]T, error) {
	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var js string
		if err := rows.Scan(&js); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(js), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
