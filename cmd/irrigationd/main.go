// Irrigation Core - Grow Facility Irrigation Controller
//
// This is the main entry point for the Irrigation Core service. It wires
// the cron scheduler, per-room run engine, fail-safe admission gate and
// daily usage ledger to the MQTT hardware bridges, and exposes a REST
// and WebSocket API for dashboards and operators.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/verdantgrow/irrigation-core/migrations"

	"github.com/verdantgrow/irrigation-core/internal/api"
	"github.com/verdantgrow/irrigation-core/internal/bus"
	"github.com/verdantgrow/irrigation-core/internal/engine"
	"github.com/verdantgrow/irrigation-core/internal/hardware"
	"github.com/verdantgrow/irrigation-core/internal/infrastructure/config"
	"github.com/verdantgrow/irrigation-core/internal/infrastructure/database"
	"github.com/verdantgrow/irrigation-core/internal/infrastructure/influxdb"
	"github.com/verdantgrow/irrigation-core/internal/infrastructure/logging"
	"github.com/verdantgrow/irrigation-core/internal/infrastructure/mqtt"
	"github.com/verdantgrow/irrigation-core/internal/room"
	"github.com/verdantgrow/irrigation-core/internal/usage"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error { //nolint:gocognit,cyclop // Startup wiring is inherently sequential
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Irrigation Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Resolve the site timezone. Daily usage accounting and cron
	// schedules both run on site-local days.
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("resolving site timezone: %w", err)
	}
	log.Info("site timezone resolved", "timezone", loc.String())

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise room registry
	roomRepo := room.NewSQLiteRepository(db.DB)
	roomRegistry := room.NewRegistry(roomRepo)
	roomRegistry.SetLogger(log)

	if refreshErr := roomRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading room registry: %w", refreshErr)
	}
	log.Info("room registry initialised", "rooms", roomRegistry.GetRoomCount())

	// Daily usage ledger
	ledger := usage.NewLedger(db.DB, loc)
	ledger.SetLogger(log)

	// In-process event bus for WebSocket and log fan-out
	eventBus := bus.New()
	defer eventBus.Close()

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Hardware controller: commands out, state echoes and availability in
	controller := hardware.NewController(mqttClient, cfg.Engine.GetActuationTimeout())
	controller.SetLogger(log)
	if startErr := controller.Start(); startErr != nil {
		return fmt.Errorf("starting hardware controller: %w", startErr)
	}
	log.Info("hardware controller started", "actuation_timeout", cfg.Engine.GetActuationTimeout())

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Admission gate and run engine
	gate := engine.NewGate(controller, ledger, cfg.Engine.MaxDailySeconds, cfg.Engine.FailSafeEnabled)
	engineCfg := engine.Config{
		Rooms:     roomRegistry,
		Runs:      roomRepo,
		Ledger:    ledger,
		Actuator:  controller,
		Gate:      gate,
		Bus:       eventBus,
		Publisher: mqttClient,
		Logger:    log,
		Timing: engine.Timing{
			PumpZoneDelay: cfg.Engine.GetPumpZoneDelay(),
			PumpOffSettle: cfg.Engine.GetPumpOffSettle(),
		},
		MaxDailySeconds: cfg.Engine.MaxDailySeconds,
		Location:        loc,
	}
	if influxClient != nil {
		engineCfg.Metrics = influxClient
	}
	eng := engine.New(engineCfg)
	eng.Start(ctx)
	defer func() {
		log.Info("stopping run engine")
		eng.Shutdown()
	}()
	log.Info("run engine started",
		"max_daily_seconds", cfg.Engine.MaxDailySeconds,
		"fail_safe_enabled", cfg.Engine.FailSafeEnabled,
	)

	// External emergency stop: any publication on the system topic
	// latches the facility-wide stop, no API round trip needed.
	emergencyTopic := mqtt.Topics{}.EmergencyStop()
	if subErr := mqttClient.Subscribe(emergencyTopic, 1, func(topic string, _ []byte) error {
		log.Warn("emergency stop received via MQTT", "topic", topic)
		eng.EmergencyStopAll()
		return nil
	}); subErr != nil {
		return fmt.Errorf("subscribing to emergency stop topic: %w", subErr)
	}
	log.Info("emergency stop topic subscribed", "topic", emergencyTopic)

	// Cron scheduler
	scheduler := engine.NewScheduler(eng, roomRegistry, cfg.Engine.GetTickInterval(), loc, log)
	go func() {
		if runErr := scheduler.Run(ctx); runErr != nil {
			log.Error("scheduler stopped with error", "error", runErr)
		}
	}()

	// API server
	apiServer, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		EngineCfg: cfg.Engine,
		Logger:    log,
		Rooms:     roomRegistry,
		Runs:      roomRepo,
		Engine:    eng,
		Ledger:    ledger,
		Bus:       eventBus,
		MQTT:      mqttClient,
		DB:        db.DB,
		Location:  loc,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (stops accepting requests)
	// 2. Run engine (soft-stops runs, zones close, pumps off)
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Event bus
	// 6. Database

	log.Info("Irrigation Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses IRRIGATION_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("IRRIGATION_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
