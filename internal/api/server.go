// Package api provides the HTTP REST API and WebSocket server for
// Irrigation Core.
//
// It exposes room and event configuration, run control, usage and
// history queries, emergency stops, and a WebSocket stream of run
// lifecycle events to dashboards.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/verdantgrow/irrigation-core/internal/bus"
	"github.com/verdantgrow/irrigation-core/internal/engine"
	"github.com/verdantgrow/irrigation-core/internal/infrastructure/config"
	"github.com/verdantgrow/irrigation-core/internal/infrastructure/logging"
	"github.com/verdantgrow/irrigation-core/internal/infrastructure/mqtt"
	"github.com/verdantgrow/irrigation-core/internal/room"
	"github.com/verdantgrow/irrigation-core/internal/usage"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	EngineCfg config.EngineConfig
	Logger    *logging.Logger
	Rooms     *room.Registry
	Runs      room.Repository
	Engine    *engine.Engine
	Ledger    *usage.Ledger
	Bus       *bus.Bus
	MQTT      *mqtt.Client // optional, surfaced in metrics only
	DB        *sql.DB      // optional, surfaced in metrics only
	Location  *time.Location
	Version   string
}

// Server is the HTTP API server for Irrigation Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	engineCfg config.EngineConfig
	logger    *logging.Logger
	rooms     *room.Registry
	runs      room.Repository
	engine    *engine.Engine
	ledger    *usage.Ledger
	bus       *bus.Bus
	mqtt      *mqtt.Client
	db        *sql.DB
	loc       *time.Location
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Rooms == nil {
		return nil, fmt.Errorf("room registry is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("usage ledger is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		engineCfg: deps.EngineCfg,
		logger:    deps.Logger,
		rooms:     deps.Rooms,
		runs:      deps.Runs,
		engine:    deps.Engine,
		ledger:    deps.Ledger,
		bus:       deps.Bus,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		loc:       loc,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, bridges the event
// bus into the hub, and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)
	go s.relayBusEvents(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// relayBusEvents forwards engine events to WebSocket subscribers. The
// bus event type doubles as the WebSocket channel name.
func (s *Server) relayBusEvents(ctx context.Context) {
	events, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			payload := map[string]any{
				"room_id": event.RoomID,
				"payload": event.Payload,
			}
			s.hub.Broadcast(string(event.Type), payload)
		case <-ctx.Done():
			return
		}
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
