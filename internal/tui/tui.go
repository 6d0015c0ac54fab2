// Package tui is the terminal reorder view for one collection. Moves apply at once and
// are written in the background; a failed write restores the last saved order and shows
// a notice.
package tui

import (
	"context"
	"errors"
	"strings"

	"confsite/internal/store"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

type Options struct {
	Store        *store.Store
	CollectionID string
	ActorID      string
	// Logger must not write to the terminal the program draws on. Optional.
	Logger *zap.Logger
}

func Run(ctx context.Context, opts Options) error {
	if opts.Store == nil {
		return errors.New("tui: store is required")
	}
	c, err := opts.Store.GetCollection(ctx, strings.TrimSpace(opts.CollectionID))
	if err != nil {
		return err
	}
	items, err := opts.Store.ReadAll(ctx, c.ID)
	if err != nil {
		return err
	}

	applyThemePreference()
	applyColorProfilePreference()

	m := newReorderModel(ctx, opts.Store, c.Title, c.ID, opts.ActorID, items, opts.Logger)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
