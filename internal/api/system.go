package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// handleGetSettings returns the engine's operating parameters.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tick_interval":     s.engineCfg.TickInterval,
		"pump_zone_delay":   s.engineCfg.PumpZoneDelay,
		"pump_off_settle":   s.engineCfg.PumpOffSettle,
		"actuation_timeout": s.engineCfg.ActuationTimeout,
		"max_daily_seconds": s.engineCfg.MaxDailySeconds,
		"fail_safe_enabled": s.engineCfg.FailSafeEnabled,
		"timezone":          s.loc.String(),
	})
}

// handleSystemStatus returns a facility-wide snapshot: emergency state,
// active run count, and the live status of every room.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.rooms.ListRooms(r.Context())
	if err != nil {
		s.logger.Error("listing rooms failed", "error", err)
		writeInternalError(w, "failed to list rooms")
		return
	}

	statuses := make([]any, 0, len(rooms))
	for _, rm := range rooms {
		statuses = append(statuses, s.engine.Status(rm.ID))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"emergency_stop": s.engine.EmergencyActive(),
		"active_runs":    s.engine.ActiveCount(),
		"room_count":     len(rooms),
		"rooms":          statuses,
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"version":        s.version,
	})
}

// handleEmergencyStopAll halts every active run and latches the
// facility-wide emergency stop.
func (s *Server) handleEmergencyStopAll(w http.ResponseWriter, _ *http.Request) {
	s.engine.EmergencyStopAll()
	s.logger.Warn("emergency stop engaged", "scope", "all")
	writeJSON(w, http.StatusOK, map[string]any{
		"emergency_stop": true,
		"scope":          "all",
	})
}

// handleEmergencyClearAll releases the facility-wide emergency latch.
// Per-room latches remain until cleared individually.
func (s *Server) handleEmergencyClearAll(w http.ResponseWriter, _ *http.Request) {
	s.engine.ClearEmergencyAll()
	s.logger.Info("emergency stop cleared", "scope", "all")
	writeJSON(w, http.StatusOK, map[string]any{
		"emergency_stop": false,
		"scope":          "all",
	})
}

// handleEmergencyStopRoom halts a room's active run and latches its
// emergency stop.
func (s *Server) handleEmergencyStopRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	if _, err := s.rooms.GetRoom(r.Context(), roomID); err != nil {
		s.writeRoomError(w, err)
		return
	}

	s.engine.EmergencyStopRoom(roomID)
	s.logger.Warn("emergency stop engaged", "scope", "room", "room_id", roomID)
	writeJSON(w, http.StatusOK, map[string]any{
		"emergency_stop": true,
		"room_id":        roomID,
	})
}

// handleEmergencyClearRoom releases a room's emergency latch.
func (s *Server) handleEmergencyClearRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	if _, err := s.rooms.GetRoom(r.Context(), roomID); err != nil {
		s.writeRoomError(w, err)
		return
	}

	s.engine.ClearEmergency(roomID)
	s.logger.Info("emergency stop cleared", "scope", "room", "room_id", roomID)
	writeJSON(w, http.StatusOK, map[string]any{
		"emergency_stop": false,
		"room_id":        roomID,
	})
}
