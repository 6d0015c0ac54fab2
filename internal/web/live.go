package web

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
)

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts requests without an Origin header (non-browser clients) and browser
// requests from this host.
func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, strings.TrimSpace(r.Host))
}

// handleAPILive streams the ordered items of a collection over a websocket: one snapshot
// on connect, then one after every change. Venue displays use it to follow the schedule.
func (s *Server) handleAPILive(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("collectionId"))
	if _, err := s.cfg.Store.GetCollection(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		s.log.Debug("live upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, cancel := s.bc.hubFor(collectionKey(id)).subscribe()
	defer cancel()

	// The read side only handles control frames; it ends when the client goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(livePongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func() error {
		items, err := s.cfg.Store.ReadAll(r.Context(), id)
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		return conn.WriteJSON(itemsResponse{CollectionID: id, Items: items})
	}
	if err := send(); err != nil {
		s.log.Warn("live send failed", zap.String("collection", id), zap.Error(err))
		return
	}

	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		case <-ch:
			if err := send(); err != nil {
				s.log.Debug("live send failed", zap.String("collection", id), zap.Error(err))
				return
			}
		}
	}
}
