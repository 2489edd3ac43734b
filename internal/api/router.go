package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// System endpoints
		r.Route("/system", func(r chi.Router) {
			r.Get("/settings", s.handleGetSettings)
			r.Get("/status", s.handleSystemStatus)
			r.Post("/emergency-stop", s.handleEmergencyStopAll)
			r.Post("/emergency-clear", s.handleEmergencyClearAll)
		})

		// Facility-wide usage
		r.Get("/usage", s.handleUsageSnapshot)
		r.Post("/usage/reset", s.handleResetAllUsage)

		// Room endpoints
		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", s.handleListRooms)
			r.Post("/", s.handleCreateRoom)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRoom)
				r.Put("/", s.handleUpdateRoom)
				r.Delete("/", s.handleDeleteRoom)

				// Watering events
				r.Route("/events/{kind}", func(r chi.Router) {
					r.Put("/", s.handleSetEvent)
					r.Delete("/", s.handleRemoveEvent)
					r.Post("/enable", s.handleEnableEvent)
				})

				// Run control
				r.Post("/run", s.handleManualRun)
				r.Post("/stop", s.handleStopRun)
				r.Get("/status", s.handleRoomStatus)

				// Emergency stop
				r.Post("/emergency-stop", s.handleEmergencyStopRoom)
				r.Post("/emergency-clear", s.handleEmergencyClearRoom)

				// Usage and history
				r.Get("/usage", s.handleRoomUsage)
				r.Post("/usage/reset", s.handleResetUsage)
				r.Get("/history", s.handleRunHistory)
			})
		})

		// WebSocket event stream
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the server's health plus the state of its
// infrastructure connections. Degraded components don't fail the
// endpoint; dashboards read the per-component detail.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	components := map[string]string{}

	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			components["database"] = "error"
			status = "degraded"
		} else {
			components["database"] = "ok"
		}
	}
	if s.mqtt != nil {
		if s.mqtt.IsConnected() {
			components["mqtt"] = "connected"
		} else {
			components["mqtt"] = "disconnected"
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
