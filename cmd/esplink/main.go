// ESPLink Core - WebSocket relay for ESP32 actuators
//
// This is the main entry point for the ESPLink relay server. ESPLink sits
// between ESP32 actuator devices and browser control panels:
//   - Devices and frontends connect over a single WebSocket endpoint
//   - The connection registry is the sole source of online/offline truth
//   - Commands and state reports are forwarded live, never queued
//
// Optional integrations (MQTT bridge, InfluxDB telemetry, SQLite device
// directory) observe the relay; the relay itself works without them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mwhittle/esplink/internal/api"
	"github.com/mwhittle/esplink/internal/bridge"
	"github.com/mwhittle/esplink/internal/directory"
	"github.com/mwhittle/esplink/internal/infrastructure/config"
	"github.com/mwhittle/esplink/internal/infrastructure/database"
	"github.com/mwhittle/esplink/internal/infrastructure/influxdb"
	"github.com/mwhittle/esplink/internal/infrastructure/logging"
	"github.com/mwhittle/esplink/internal/infrastructure/mqtt"
	"github.com/mwhittle/esplink/internal/relay"
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
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting ESPLink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration. A missing config file is not an error: the relay
	// runs on built-in defaults plus environment overrides.
	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the device directory database
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

	// Initialise the device directory
	dir := directory.NewSQLiteRepository(db.DB)
	if initErr := dir.Init(ctx); initErr != nil {
		return fmt.Errorf("initialising device directory: %w", initErr)
	}
	log.Info("device directory initialised")

	// Build the relay core: registry, broadcaster, router
	registry := relay.NewRegistry()
	registry.SetLogger(log)

	broadcaster := relay.NewBroadcaster(registry)
	broadcaster.SetLogger(log)

	router := relay.NewRouter(registry, broadcaster)
	router.SetLogger(log)

	// Connect to InfluxDB (optional)
	influxClient, err := connectInflux(cfg, router, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	// Connect to the MQTT broker and start the bridge (optional)
	mqttClient, err := connectMQTT(cfg, router, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	// Start the HTTP/WebSocket server
	server, err := api.New(api.Deps{
		Config:    cfg,
		Logger:    log,
		Relay:     router,
		Registry:  registry,
		Directory: dir,
		DB:        db,
		MQTT:      mqttClient,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
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
	// 1. API server (stops accepting connections)
	// 2. MQTT (if enabled)
	// 3. InfluxDB (if enabled)
	// 4. Database

	log.Info("ESPLink Core stopped")
	return nil
}

// loadConfig reads the config file named by ESPLINK_CONFIG or the default
// path. If no file exists at the default path, built-in defaults are used.
func loadConfig(log *logging.Logger) (*config.Config, error) {
	path := os.Getenv("ESPLINK_CONFIG")
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		log.Info("configuration loaded", "path", path)
		return cfg, nil
	}

	if _, err := os.Stat(defaultConfigPath); err == nil {
		cfg, err := config.Load(defaultConfigPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		log.Info("configuration loaded", "path", defaultConfigPath)
		return cfg, nil
	}

	log.Info("no config file found, using defaults")
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// connectInflux connects to InfluxDB when enabled and wires a telemetry sink
// into the relay router. Returns nil when disabled.
func connectInflux(cfg *config.Config, router *relay.Router, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}

	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)

	router.AddSink(&telemetrySink{client: client})
	return client, nil
}

// connectMQTT connects to the MQTT broker when enabled and starts the bridge
// that mirrors relay events to MQTT and injects broker commands into the
// relay. Returns nil when disabled.
func connectMQTT(cfg *config.Config, router *relay.Router, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil, nil
	}

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	//nolint:gosec // QoS is validated to 0..2 by config.Validate
	mqttBridge := bridge.New(client, router, byte(cfg.MQTT.QoS), log)
	if startErr := mqttBridge.Start(); startErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("starting MQTT bridge: %w", startErr)
	}
	router.AddSink(mqttBridge)
	log.Info("MQTT bridge started")

	return client, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// Optional clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// telemetrySink adapts the InfluxDB client to the relay's event sink
// interface. Writes are batched and non-blocking, so sink calls never slow
// message routing.
type telemetrySink struct {
	client *influxdb.Client
}

// DeviceOnline implements relay.EventSink.
func (s *telemetrySink) DeviceOnline(id string) {
	s.client.WriteDeviceEvent(id, "online")
}

// DeviceOffline implements relay.EventSink.
func (s *telemetrySink) DeviceOffline(id string) {
	s.client.WriteDeviceEvent(id, "offline")
}

// DeviceState implements relay.EventSink.
func (s *telemetrySink) DeviceState(id string, state json.RawMessage) {
	s.client.WriteStateReport(id, len(state))
}
