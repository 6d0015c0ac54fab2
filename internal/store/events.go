package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"confsite/internal/model"
)

// appendEvent writes one audit row. Call it with the mutation's transaction so the
// event commits or rolls back with it.
func (s *Store) appendEvent(ctx context.Context, ex execer, actorID, typ, entityID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var siteID string
	if err := ex.QueryRowContext(ctx, `SELECT v FROM meta WHERE k = 'site_id'`).Scan(&siteID); err != nil {
		return err
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		actorID = "anonymous"
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO events(event_id, site_id, entity_id, type, actor_id, payload_json, created_at_unixms)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		newID("evt"), siteID, entityID, typ, actorID, string(raw), s.now().UnixMilli())
	return err
}

// ReadEvents returns the newest events first. limit <= 0 means no limit.
func (s *Store) ReadEvents(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryEvents(ctx, `SELECT event_id, entity_id, type, actor_id, payload_json, created_at_unixms
		FROM events ORDER BY created_at_unixms DESC, rowid DESC LIMIT ?`, limit)
}

// ReadEventsForEntity returns an entity's events oldest first.
func (s *Store) ReadEventsForEntity(ctx context.Context, entityID string) ([]model.Event, error) {
	return s.queryEvents(ctx, `SELECT event_id, entity_id, type, actor_id, payload_json, created_at_unixms
		FROM events WHERE entity_id = ? ORDER BY created_at_unixms, rowid`, strings.TrimSpace(entityID))
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Event{}
	for rows.Next() {
		var (
			ev      model.Event
			payload string
			ms      int64
		)
		if err := rows.Scan(&ev.ID, &ev.EntityID, &ev.Type, &ev.ActorID, &payload, &ms); err != nil {
			return nil, err
		}
		var p any
		if err := json.Unmarshal([]byte(payload), &p); err == nil {
			ev.Payload = p
		}
		ev.TS = time.UnixMilli(ms).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
