package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/verdantgrow/irrigation-core/internal/engine"
)

// ManualRunRequest is the body for POST /rooms/{id}/run. Setting
// override_failsafe skips the environmental gate checks; the engine
// logs every use.
type ManualRunRequest struct {
	DurationSeconds  int  `json:"duration_seconds"`
	OverrideFailsafe bool `json:"override_failsafe,omitempty"`
}

// defaultHistoryWindow is how far back the history endpoint looks when
// no since parameter is supplied.
const defaultHistoryWindow = 7 * 24 * time.Hour

// handleManualRun starts an operator-triggered single-shot run.
//
// A gate denial is not an error: the attempt is recorded and the denial
// reason returned with 409 so dashboards can explain why nothing ran.
func (s *Server) handleManualRun(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	var req ManualRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	runID, denial, err := s.engine.StartManual(r.Context(), roomID, req.DurationSeconds, req.OverrideFailsafe)
	if err != nil {
		s.writeRoomError(w, err)
		return
	}
	if denial != engine.DenialNone {
		writeJSON(w, http.StatusConflict, map[string]any{
			"room_id": roomID,
			"denied":  true,
			"reason":  denial,
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"room_id":          roomID,
		"run_id":           runID,
		"duration_seconds": req.DurationSeconds,
	})
}

// handleStopRun requests an orderly stop of a room's active run.
func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	if err := s.engine.Stop(roomID); err != nil {
		if errors.Is(err, engine.ErrNoActiveRun) {
			writeError(w, http.StatusConflict, ErrCodeConflict, "no active run")
			return
		}
		s.logger.Error("stopping run failed", "room_id", roomID, "error", err)
		writeInternalError(w, "failed to stop run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping", "room_id": roomID})
}

// eventStatus summarises a watering event's schedule bookkeeping.
type eventStatus struct {
	Enabled    bool       `json:"enabled"`
	Cron       string     `json:"cron"`
	LastFired  *time.Time `json:"last_fired,omitempty"`
	NextFire   *time.Time `json:"next_fire,omitempty"`
	FiredCount int        `json:"fired_count"`
}

// roomStatusResponse is the live run state plus schedule and usage
// context for dashboards.
type roomStatusResponse struct {
	engine.RoomStatus
	UsedSeconds int                    `json:"used_seconds"`
	Events      map[string]eventStatus `json:"events"`
}

// handleRoomStatus returns a room's live run state, today's usage, and
// per-event fire bookkeeping.
func (s *Server) handleRoomStatus(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	rm, err := s.rooms.GetRoom(r.Context(), roomID)
	if err != nil {
		s.writeRoomError(w, err)
		return
	}

	used, err := s.ledger.Used(r.Context(), roomID, time.Now())
	if err != nil {
		s.logger.Error("reading usage failed", "room_id", roomID, "error", err)
		writeInternalError(w, "failed to read usage")
		return
	}

	events := make(map[string]eventStatus, len(rm.Events))
	for kind, event := range rm.Events {
		events[string(kind)] = eventStatus{
			Enabled:    event.Enabled,
			Cron:       event.CronExpr,
			LastFired:  event.LastFired,
			NextFire:   event.NextFire,
			FiredCount: event.FiredCount,
		}
	}

	writeJSON(w, http.StatusOK, roomStatusResponse{
		RoomStatus:  s.engine.Status(roomID),
		UsedSeconds: used,
		Events:      events,
	})
}

// handleRunHistory returns a room's run records, newest first.
//
// Query parameters: since (RFC 3339, default one week back) and limit.
func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	if _, err := s.rooms.GetRoom(r.Context(), roomID); err != nil {
		s.writeRoomError(w, err)
		return
	}

	since := time.Now().Add(-defaultHistoryWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "since must be RFC 3339")
			return
		}
		since = parsed
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	runs, err := s.runs.ListRuns(r.Context(), roomID, since, limit)
	if err != nil {
		s.logger.Error("listing run history failed", "room_id", roomID, "error", err)
		writeInternalError(w, "failed to list run history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"room_id": roomID,
		"runs":    runs,
		"count":   len(runs),
	})
}
