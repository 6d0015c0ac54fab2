package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"confsite/internal/model"
)

func jsonString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// AddAdmin registers an identity allowed to sign in to the dashboard. Adding an
// existing email updates its name and returns the existing admin.
func (s *Store) AddAdmin(ctx context.Context, actorID, email, name string) (model.Admin, error) {
	e, err := normalizeEmail(email)
	if err != nil {
		return model.Admin{}, err
	}
	name = strings.TrimSpace(name)
	var out model.Admin
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		a, err := adminByEmail(ctx, tx, e)
		switch {
		case err == nil:
			if name != "" {
				a.Name = name
			}
		case IsNotFound(err):
			a = model.Admin{ID: newID("adm"), Email: e, Name: name, CreatedAt: s.now()}
		default:
			return err
		}
		raw, err := jsonString(a)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO admins(id, email, json, created_at_unixms) VALUES(?, ?, ?, ?)`,
			a.ID, a.Email, raw, a.CreatedAt.UnixMilli()); err != nil {
			return err
		}
		out = a
		return s.appendEvent(ctx, tx, actorID, "admin.add", a.ID, map[string]any{"email": a.Email})
	})
	return out, err
}

func (s *Store) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	return readJSONRows[model.Admin](ctx, s.db, `SELECT json FROM admins ORDER BY created_at_unixms, id`)
}

func (s *Store) AdminByEmail(ctx context.Context, email string) (model.Admin, error) {
	return adminByEmail(ctx, s.db, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) AdminByID(ctx context.Context, id string) (model.Admin, error) {
	id = strings.TrimSpace(id)
	as, err := readJSONRows[model.Admin](ctx, s.db, `SELECT json FROM admins WHERE id = ?`, id)
	if err != nil {
		return model.Admin{}, err
	}
	if len(as) == 0 {
		return model.Admin{}, NotFoundError{Kind: "admin", ID: id}
	}
	return as[0], nil
}

func adminByEmail(ctx context.Context, ex execer, email string) (model.Admin, error) {
	var js string
	err := ex.QueryRowContext(ctx, `SELECT json FROM admins WHERE email = ?`, email).Scan(&js)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Admin{}, NotFoundError{Kind: "admin", ID: email}
	}
	if err != nil {
		return model.Admin{}, err
	}
	var a model.Admin
	if err := json.Unmarshal([]byte(js), &a); err != nil {
		return model.Admin{}, err
	}
	return a, nil
}
