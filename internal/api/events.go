package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/verdantgrow/irrigation-core/internal/room"
)

// SetEventRequest is the body for PUT /rooms/{id}/events/{kind}.
type SetEventRequest struct {
	Cron    string      `json:"cron"`
	Enabled *bool       `json:"enabled,omitempty"`
	Shots   []room.Shot `json:"shots"`
}

// EnableEventRequest is the body for POST /rooms/{id}/events/{kind}/enable.
type EnableEventRequest struct {
	Enabled bool `json:"enabled"`
}

// eventKindParam parses the {kind} URL parameter. Kinds are accepted
// case-insensitively and normalised to their canonical form.
func eventKindParam(r *http.Request) (room.EventKind, bool) {
	kind := room.EventKind(strings.ToUpper(chi.URLParam(r, "kind")))
	for _, k := range room.AllKinds() {
		if kind == k {
			return k, true
		}
	}
	return "", false
}

// handleSetEvent creates or replaces a watering event on a room.
//
// Fire-state bookkeeping from an existing event of the same kind is
// carried over; the schedule itself is re-seeded on the next tick.
func (s *Server) handleSetEvent(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	kind, ok := eventKindParam(r)
	if !ok {
		writeBadRequest(w, "unknown event kind")
		return
	}

	var req SetEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	event := &room.Event{
		Kind:     kind,
		CronExpr: req.Cron,
		Enabled:  enabled,
		Shots:    req.Shots,
	}

	rm, err := s.rooms.SetEvent(r.Context(), roomID, event)
	if err != nil {
		s.writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// handleRemoveEvent deletes a watering event from a room.
func (s *Server) handleRemoveEvent(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	kind, ok := eventKindParam(r)
	if !ok {
		writeBadRequest(w, "unknown event kind")
		return
	}

	rm, err := s.rooms.RemoveEvent(r.Context(), roomID, kind)
	if err != nil {
		s.writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// handleEnableEvent toggles a watering event without touching its
// schedule or shot programme.
func (s *Server) handleEnableEvent(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	kind, ok := eventKindParam(r)
	if !ok {
		writeBadRequest(w, "unknown event kind")
		return
	}

	var req EnableEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rm, err := s.rooms.EnableEvent(r.Context(), roomID, kind, req.Enabled)
	if err != nil {
		s.writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}
