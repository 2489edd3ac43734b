package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/verdantgrow/irrigation-core/internal/room"
)

// CreateRoomRequest is the body for POST /rooms.
type CreateRoomRequest struct {
	Name            string   `json:"name"`
	Enabled         *bool    `json:"enabled,omitempty"`
	PumpEntity      string   `json:"pump_entity"`
	ZoneEntities    []string `json:"zone_entities"`
	LightEntity     string   `json:"light_entity"`
	MoistureSensors []string `json:"moisture_sensors,omitempty"`
}

// handleListRooms returns all configured rooms.
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.rooms.ListRooms(r.Context())
	if err != nil {
		s.logger.Error("listing rooms failed", "error", err)
		writeInternalError(w, "failed to list rooms")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rooms": rooms,
		"count": len(rooms),
	})
}

// handleCreateRoom creates a new room.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rm := &room.Room{
		Name:            req.Name,
		Enabled:         enabled,
		PumpEntity:      req.PumpEntity,
		ZoneEntities:    req.ZoneEntities,
		LightEntity:     req.LightEntity,
		MoistureSensors: req.MoistureSensors,
		Events:          map[room.EventKind]*room.Event{},
	}

	if err := s.rooms.CreateRoom(r.Context(), rm); err != nil {
		s.writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rm)
}

// handleGetRoom returns a single room by ID.
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := s.rooms.GetRoom(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// handleUpdateRoom replaces a room's configuration. Events are managed
// through the event endpoints and survive the update untouched.
func (s *Server) handleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rm, err := s.rooms.GetRoom(r.Context(), id)
	if err != nil {
		s.writeRoomError(w, err)
		return
	}

	rm.Name = req.Name
	if req.Enabled != nil {
		rm.Enabled = *req.Enabled
	}
	rm.PumpEntity = req.PumpEntity
	rm.ZoneEntities = req.ZoneEntities
	rm.LightEntity = req.LightEntity
	rm.MoistureSensors = req.MoistureSensors

	if err := s.rooms.UpdateRoom(r.Context(), rm); err != nil {
		s.writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// handleDeleteRoom removes a room. An active run blocks deletion.
func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.engine.Status(id).Active {
		writeError(w, http.StatusConflict, ErrCodeConflict, "room has an active run")
		return
	}

	if err := s.rooms.DeleteRoom(r.Context(), id); err != nil {
		s.writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// writeRoomError maps room domain errors onto HTTP responses.
func (s *Server) writeRoomError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrNotFound):
		writeNotFound(w, "room not found")
	case errors.Is(err, room.ErrEventNotFound):
		writeNotFound(w, "event not found")
	case errors.Is(err, room.ErrExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "room already exists")
	case errors.Is(err, room.ErrInvalidRoom),
		errors.Is(err, room.ErrInvalidName),
		errors.Is(err, room.ErrInvalidEntity),
		errors.Is(err, room.ErrInvalidEvent),
		errors.Is(err, room.ErrInvalidKind),
		errors.Is(err, room.ErrInvalidShot):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		s.logger.Error("room operation failed", "error", err)
		writeInternalError(w, "internal error")
	}
}
