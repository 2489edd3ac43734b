package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// ResetUsageRequest is the optional body for POST /usage/reset. An
// empty body resets every room.
type ResetUsageRequest struct {
	RoomID string `json:"room_id,omitempty"`
}

// handleRoomUsage returns a room's watering seconds for the current
// local day, alongside the configured cap.
func (s *Server) handleRoomUsage(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	if _, err := s.rooms.GetRoom(r.Context(), roomID); err != nil {
		s.writeRoomError(w, err)
		return
	}

	now := time.Now()
	used, err := s.ledger.Used(r.Context(), roomID, now)
	if err != nil {
		s.logger.Error("reading usage failed", "room_id", roomID, "error", err)
		writeInternalError(w, "failed to read usage")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":           roomID,
		"day":               s.ledger.DayKey(now),
		"used_seconds":      used,
		"max_daily_seconds": s.engineCfg.MaxDailySeconds,
	})
}

// handleResetUsage zeroes a room's usage counter for the current local
// day. Intended for operator correction after hardware faults.
func (s *Server) handleResetUsage(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	if _, err := s.rooms.GetRoom(r.Context(), roomID); err != nil {
		s.writeRoomError(w, err)
		return
	}

	now := time.Now()
	if err := s.ledger.Reset(r.Context(), roomID, now); err != nil {
		s.logger.Error("resetting usage failed", "room_id", roomID, "error", err)
		writeInternalError(w, "failed to reset usage")
		return
	}

	s.logger.Info("usage reset", "room_id", roomID, "day", s.ledger.DayKey(now))
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":      roomID,
		"day":          s.ledger.DayKey(now),
		"used_seconds": 0,
	})
}

// handleResetAllUsage zeroes usage counters for the current local day,
// either for one room or facility-wide when no room is named.
func (s *Server) handleResetAllUsage(w http.ResponseWriter, r *http.Request) {
	var req ResetUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	now := time.Now()
	if req.RoomID != "" {
		if _, err := s.rooms.GetRoom(r.Context(), req.RoomID); err != nil {
			s.writeRoomError(w, err)
			return
		}
		if err := s.ledger.Reset(r.Context(), req.RoomID, now); err != nil {
			s.logger.Error("resetting usage failed", "room_id", req.RoomID, "error", err)
			writeInternalError(w, "failed to reset usage")
			return
		}
		s.logger.Info("usage reset", "room_id", req.RoomID, "day", s.ledger.DayKey(now))
		writeJSON(w, http.StatusOK, map[string]any{"room_id": req.RoomID, "day": s.ledger.DayKey(now)})
		return
	}

	if err := s.ledger.ResetAll(r.Context(), now); err != nil {
		s.logger.Error("resetting usage failed", "error", err)
		writeInternalError(w, "failed to reset usage")
		return
	}
	s.logger.Info("usage reset", "scope", "all", "day", s.ledger.DayKey(now))
	writeJSON(w, http.StatusOK, map[string]any{"scope": "all", "day": s.ledger.DayKey(now)})
}

// handleUsageSnapshot returns the current local day's usage for every
// room with recorded watering.
func (s *Server) handleUsageSnapshot(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	snapshot, err := s.ledger.Snapshot(r.Context(), now)
	if err != nil {
		s.logger.Error("usage snapshot failed", "error", err)
		writeInternalError(w, "failed to read usage")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"day":               s.ledger.DayKey(now),
		"usage":             snapshot,
		"max_daily_seconds": s.engineCfg.MaxDailySeconds,
	})
}
