// PDM Core - power distribution module control core
//
// This is the main entry point of the module's control service. It runs the
// hardware and logic passes over the board adapters, applies the channel
// layout, and exposes the core through MQTT telemetry, the protection event
// log and the diagnostics API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/pdm-core/internal/api"
	"github.com/nerrad567/pdm-core/internal/audit"
	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/core"
	"github.com/nerrad567/pdm-core/internal/hal"
	"github.com/nerrad567/pdm-core/internal/infrastructure/config"
	"github.com/nerrad567/pdm-core/internal/infrastructure/database"
	"github.com/nerrad567/pdm-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/pdm-core/internal/infrastructure/logging"
	"github.com/nerrad567/pdm-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/pdm-core/internal/layout"
	"github.com/nerrad567/pdm-core/internal/telemetry"
	"github.com/nerrad567/pdm-core/migrations"
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

	if err := run(ctx, hal.NewSim().Adapters()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the service, separated from main for testability. Board builds
// pass their own adapters; this binary runs on the simulated board.
//
// Returns nil on clean shutdown.
func run(ctx context.Context, adapters hal.Adapters) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting PDM core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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

	health := make(map[string]api.HealthChecker)

	// Open database
	var (
		db      *database.DB
		events  audit.Repository
		history *audit.HistoryRepository
	)
	if cfg.Database.Path != "" {
		db, err = database.Open(database.Config{
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

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		history = audit.NewHistoryRepository(db.DB)
		if cfg.Telemetry.EventLog {
			events = audit.NewSQLiteRepository(db.DB)
		}
		health["database"] = db
	} else {
		log.Info("database disabled, layout history and event log unavailable")
	}

	// Create the core
	c, err := core.New(adapters, core.Options{
		HardwarePeriod: cfg.Timing.HardwarePeriod,
		LogicPeriod:    cfg.Timing.LogicPeriod,
		LogicBudget:    cfg.Timing.LogicBudget,
		VerifyEvery:    uint64(cfg.Timing.VerifyEvery), //nolint:gosec // validated non-negative
	})
	if err != nil {
		return fmt.Errorf("creating core: %w", err)
	}
	c.SetLogger(log.Component("core"))

	if err := applyLayout(ctx, cfg, c, history, log); err != nil {
		return err
	}

	// Start the tick loops. Shutdown drives every output off on cancel.
	schedCtx, stopSched := context.WithCancel(ctx)
	schedDone := make(chan error, 1)
	go func() { schedDone <- core.NewScheduler(c).Run(schedCtx) }()
	defer func() {
		stopSched()
		if schedErr := <-schedDone; schedErr != nil && !errors.Is(schedErr, context.Canceled) {
			log.Error("scheduler stopped with error", "error", schedErr)
		}
		log.Info("tick loops stopped, outputs off")
	}()
	log.Info("tick loops started",
		"hardware_period", c.HardwarePeriod(),
		"logic_period", c.LogicPeriod(),
	)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
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
		health["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
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
		health["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// Telemetry: event recorder, publisher and command ingress
	classes, err := telemetryClasses(cfg.Telemetry.Classes)
	if err != nil {
		return err
	}
	topics := mqtt.NewTopics(cfg.Site.ID)
	recOpts := telemetry.RecorderOptions{Repository: events, Topics: topics}
	pubOpts := telemetry.PublisherOptions{
		Source:   c,
		Topics:   topics,
		Interval: cfg.Telemetry.Interval,
		Classes:  classes,
	}
	// Leave interface fields nil when the client is disabled.
	if mqttClient != nil {
		recOpts.Broker = mqttClient
		pubOpts.Broker = mqttClient
	}
	if influxClient != nil {
		recOpts.Events = influxClient
		pubOpts.Samples = influxClient
	}
	recorder := telemetry.NewRecorder(recOpts)
	recorder.SetLogger(log.Component("recorder"))
	pubOpts.Recorder = recorder

	publisher, err := telemetry.NewPublisher(pubOpts)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	publisher.SetLogger(log.Component("publisher"))

	var ingress *telemetry.Ingress
	if mqttClient != nil {
		ingress = telemetry.NewIngress(c, mqttClient, topics)
		ingress.SetLogger(log.Component("ingress"))
		if err := ingress.Start(); err != nil {
			return fmt.Errorf("starting command ingress: %w", err)
		}
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected, republishing channel state")
			publisher.ClearStateCache()
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	}

	// Create the API server before starting the publisher so channel
	// change listeners see the first snapshot.
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Security:  cfg.Security,
			Logger:    log.Component("api"),
			Core:      c,
			Events:    events,
			History:   historyStore(history),
			Publisher: publisher,
			Recorder:  recorder,
			Ingress:   ingress,
			Health:    health,
			Version:   version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
	}

	publisher.Start(ctx)
	defer func() {
		log.Info("stopping telemetry publisher")
		publisher.Stop()
	}()

	if apiServer != nil {
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		if cfg.Security.JWT.Secret == "" {
			log.Warn("security.jwt.secret is empty, mutating API routes are unauthenticated")
		}
	} else {
		log.Info("API disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, publisher, InfluxDB, MQTT,
	// tick loops (outputs off), database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PDM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PDM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// applyLayout loads and commits the configured layout. Without one the
// core runs with only its system channels until a layout arrives over the
// API.
func applyLayout(ctx context.Context, cfg *config.Config, c *core.Core, history *audit.HistoryRepository, log *logging.Logger) error {
	if cfg.Layout.Path == "" {
		log.Warn("no layout configured, running with system channels only")
		return nil
	}
	l, err := layout.Load(cfg.Layout.Path)
	if err != nil {
		return fmt.Errorf("loading layout: %w", err)
	}
	mode, err := core.ParseMode(cfg.Layout.Mode)
	if err != nil {
		return fmt.Errorf("layout mode: %w", err)
	}

	res, err := layout.Apply(ctx, c, l, mode, historyStore(history))
	if err != nil && res.Generation == 0 {
		return fmt.Errorf("applying layout: %w", err)
	}
	if err != nil {
		log.Error("layout applied without history", "error", err)
	}
	log.Info("layout applied",
		"path", cfg.Layout.Path,
		"name", l.Name,
		"generation", res.Generation,
		"slots", res.Slots,
		"outputs", res.Outputs,
		"bridges", res.Bridges,
		"checksum", l.Checksum,
	)
	return nil
}

// historyStore returns h as an interface, nil when h is nil.
func historyStore(h *audit.HistoryRepository) api.HistoryStore {
	if h == nil {
		return nil
	}
	return h
}

// telemetryClasses converts configured class names.
func telemetryClasses(names []string) ([]channel.Class, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]channel.Class, 0, len(names))
	for _, n := range names {
		cl := channel.Class(n)
		if err := channel.ValidateClass(cl); err != nil {
			return nil, fmt.Errorf("telemetry.classes: %w", err)
		}
		out = append(out, cl)
	}
	return out, nil
}

// healthCheck verifies every enabled dependency is healthy.
//
// Returns the first failure, or nil if all are healthy.
func healthCheck(ctx context.Context, deps map[string]api.HealthChecker) error {
	for name, dep := range deps {
		if err := dep.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
