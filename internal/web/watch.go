package web

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"confsite/internal/store"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	storeWatchDebounce = 200 * time.Millisecond
	// File events within ownWriteWindow of changed() are taken to be the server's
	// own writes, whose subscribers were already notified.
	ownWriteWindow = time.Second
)

// WatchStore refreshes every live view when the store file changes on disk, so writes
// made by the CLI or TUI in another process show up in open dashboards. It blocks until
// ctx is done.
func (s *Server) WatchStore(ctx context.Context) error {
	w, err := newStoreWatcher(s.cfg.Dir)
	if err != nil {
		return err
	}
	return s.runStoreWatch(ctx, w)
}

func newStoreWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Clean(dir)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func (s *Server) runStoreWatch(ctx context.Context, w *fsnotify.Watcher) error {
	defer w.Close()

	tick := time.NewTicker(storeWatchDebounce)
	defer tick.Stop()

	pending := false
	var lastEvent time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if isStoreFile(ev.Name) && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				pending = true
				lastEvent = time.Now()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("store watch", zap.Error(err))
		case <-tick.C:
			if !pending {
				continue
			}
			pending = false
			if s.ownWrite(lastEvent) {
				continue
			}
			s.log.Debug("store changed on disk")
			s.bc.publishAll()
		}
	}
}

// ownWrite reports whether a file event at t falls within ownWriteWindow of the
// latest local change. The store write lands just before changed() runs.
func (s *Server) ownWrite(t time.Time) bool {
	last := s.lastChange.Load()
	if last == 0 {
		return false
	}
	d := t.Sub(time.Unix(0, last))
	return d > -ownWriteWindow && d < ownWriteWindow
}

func isStoreFile(name string) bool {
	return strings.HasPrefix(filepath.Base(name), store.DBFileName)
}
