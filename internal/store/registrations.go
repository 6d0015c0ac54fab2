package store

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"strings"

	"confsite/internal/model"
)

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ValidationError{Field: "email", Msg: "required"}
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", ValidationError{Field: "email", Msg: "must be a plain email address"}
	}
	return strings.ToLower(addr.Address), nil
}

func ParseTicket(raw string) (model.TicketType, error) {
	switch t := model.TicketType(strings.ToLower(strings.TrimSpace(raw))); t {
	case "":
		return model.TicketRegular, nil
	case model.TicketRegular, model.TicketStudent, model.TicketSpeaker:
		return t, nil
	default:
		return "", ValidationError{Field: "ticket", Msg: "must be one of regular, student, speaker"}
	}
}

// CreateRegistration stores a public registration. Emails are unique, case-insensitively.
func (s *Store) CreateRegistration(ctx context.Context, r model.Registration) (model.Registration, error) {
	r.Name = strings.TrimSpace(r.Name)
	r.Affiliation = strings.TrimSpace(r.Affiliation)
	r.Notes = strings.TrimSpace(r.Notes)
	if r.Name == "" {
		return model.Registration{}, ValidationError{Field: "name", Msg: "required"}
	}
	email, err := normalizeEmail(r.Email)
	if err != nil {
		return model.Registration{}, err
	}
	r.Email = email
	ticket, err := ParseTicket(string(r.Ticket))
	if err != nil {
		return model.Registration{}, err
	}
	r.Ticket = ticket

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT id FROM registrations WHERE email = ?`, r.Email).Scan(&existing)
		if err == nil {
			return ValidationError{Field: "email", Msg: "already registered"}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		r.ID = newID("reg")
		r.CreatedAt = s.now()
		raw, err := jsonString(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO registrations(id, email, json, created_at_unixms) VALUES(?, ?, ?, ?)`,
			r.ID, r.Email, raw, r.CreatedAt.UnixMilli()); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, r.Email, "registration.create", r.ID, map[string]any{"ticket": r.Ticket})
	})
	if err != nil {
		return model.Registration{}, err
	}
	return r, nil
}

func (s *Store) ListRegistrations(ctx context.Context) ([]model.Registration, error) {
	return readJSONRows[model.Registration](ctx, s.db, `SELECT json FROM registrations ORDER BY created_at_unixms, id`)
}
