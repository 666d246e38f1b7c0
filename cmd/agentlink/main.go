// AgentLink Core - AI Agent / IoT Intermediary
//
// This is the main entry point for the AgentLink Core application.
// AgentLink sits between a fleet of IoT devices publishing over MQTT and
// AI agents consuming over HTTP/WebSocket. It provides:
//   - Durable, queue-backed message routing between agents and devices
//   - Topic-pattern subscriptions with MQTT-style wildcards
//   - A latest-reading cache for device state queries
//   - Token-based agent authentication with per-type permissions
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/agentlink-core/migrations"

	"github.com/nerrad567/agentlink-core/internal/api"
	"github.com/nerrad567/agentlink-core/internal/auth"
	"github.com/nerrad567/agentlink-core/internal/devicedata"
	"github.com/nerrad567/agentlink-core/internal/infrastructure/config"
	"github.com/nerrad567/agentlink-core/internal/infrastructure/database"
	"github.com/nerrad567/agentlink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/agentlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/agentlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/agentlink-core/internal/ingest"
	"github.com/nerrad567/agentlink-core/internal/routing"
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
	log.Info("starting AgentLink Core",
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

	// Open database
	db, err := database.Open(ctx, database.Config{
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

	// Build the routing layer: subscription registry, durable delivery
	// queues, and the router that drains them.
	registry := routing.NewSubscriptionRegistry(routing.NewSQLiteSubscriptionRepository(db.DB))
	if loadErr := registry.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading subscriptions: %w", loadErr)
	}
	log.Info("subscription registry loaded", "patterns", registry.Count())

	router := routing.NewRouter(routing.Deps{
		Registry:        registry,
		Agents:          routing.NewSQLiteAgentRepository(db.DB),
		History:         routing.NewSQLiteHistoryRepository(db.DB),
		AgentQueue:      routing.NewDeliveryQueue(db.DB, routing.QueueAgentMessages),
		DeviceQueue:     routing.NewDeliveryQueue(db.DB, routing.QueueDeviceData),
		Logger:          log,
		HistoryCapacity: cfg.Routing.HistoryCapacity,
		DrainWait:       cfg.GetDrainWait(),
		PushTimeout:     cfg.GetPushTimeout(),
		ChannelBuffer:   cfg.Routing.ChannelBuffer,
	})
	defer func() {
		log.Info("stopping message router")
		router.Stop()
	}()

	// Latest-reading cache, populated by the MQTT ingest path
	cache := devicedata.NewCache()

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
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional reading archive)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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

	// Subscribe the device-data ingest path. Readings flow into the cache,
	// the device-data delivery queue, and (if enabled) the archive.
	consumerDeps := ingest.Deps{
		Broker: mqttClient,
		Cache:  cache,
		Sink:   router,
		Logger: log,
	}
	if influxClient != nil {
		consumerDeps.Archive = influxClient
	}
	consumer := ingest.New(consumerDeps)
	if startErr := consumer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting device data ingest: %w", startErr)
	}
	log.Info("device data ingest subscribed")

	// Start the HTTP/WebSocket API
	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Router:   router,
		Cache:    cache,
		Broker:   mqttClient,
		Events:   auth.NewSQLiteEventRepository(db.DB),
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// The WebSocket hub pushes queued deliveries to connected agents, so it
	// must be attached before the router starts draining.
	router.SetTransport(srv.Hub())
	router.Start(ctx)
	log.Info("message router started")

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT
	// 4. Message router
	// 5. Database

	log.Info("AgentLink Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses AGENTLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AGENTLINK_CONFIG"); path != "" {
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
