package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"confsite/internal/model"

	"go.uber.org/zap"
)

type itemsResponse struct {
	CollectionID string       `json:"collectionId"`
	Items        []model.Item `json:"items"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleAPIItems(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("collectionId"))
	items, err := s.cfg.Store.ReadAll(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse{CollectionID: id, Items: items})
}

// orderRequest carries either a full write-batch or just the desired id sequence.
type orderRequest struct {
	Items []model.Placement `json:"items"`
	IDs   []string          `json:"ids"`
}

func (s *Server) handleAPIOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.PathValue("collectionId"))

	var req orderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if (req.Items == nil) == (req.IDs == nil) {
		http.Error(w, `send exactly one of "items" or "ids"`, http.StatusBadRequest)
		return
	}

	var err error
	if req.Items != nil {
		err = s.cfg.Store.WriteBatch(r.Context(), actor, id, req.Items)
	} else {
		_, err = s.cfg.Store.SetOrder(r.Context(), actor, id, req.IDs)
	}
	if err != nil {
		s.log.Warn("write-batch rejected", zap.String("collection", id), zap.String("actor", actor), zap.Error(err))
		s.writeError(w, r, err)
		return
	}
	s.changed(id, "reorder", actor)

	items, err := s.cfg.Store.ReadAll(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse{CollectionID: id, Items: items})
}
