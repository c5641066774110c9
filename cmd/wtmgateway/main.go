// Water Treatment Monitoring gateway.
//
// The gateway keeps an MQTT session open to the telemetry platform, answers
// remote procedure calls, persists platform-pushed attributes and publishes
// periodic telemetry collected from the local devices.
//
// Usage:
//
//	wtmgateway                 run the gateway
//	wtmgateway token [flags]   mint an API bearer token
//	wtmgateway migrate <cmd>   audit schema: status, up or down
//	wtmgateway version         print build information
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/MostafaZare/Water-Treatment-Monitoring/migrations"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/api"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/audit"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/device"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/gateway"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/config"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/database"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/influxdb"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/logging"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/mqtt"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/rpc"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/state"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// stateBackupSuffix names the copy of the state taken at every start.
	stateBackupSuffix = ".bak"

	// shutdownTimeout bounds how long in-flight RPC handlers may run after a
	// shutdown signal.
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case len(os.Args) > 1 && os.Args[1] == "token":
		err = runToken(os.Args[2:], os.Stdout)
	case len(os.Args) > 1 && os.Args[1] == "migrate":
		err = runMigrate(ctx, os.Args[2:], os.Stdout)
	case len(os.Args) > 1 && os.Args[1] == "version":
		fmt.Printf("wtmgateway %s (commit %s, built %s)\n", version, commit, date)
	default:
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the gateway together and blocks until ctx is cancelled.
//
// Only an unusable configuration, state store or audit database is fatal.
// The platform connection is retried in the background, so an unreachable
// broker at startup is logged and run carries on.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting water treatment gateway",
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

	baseLog := logging.New(cfg.Logging, version)
	defer func() {
		if closeErr := baseLog.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "closing log file: %v\n", closeErr)
		}
	}()
	log = baseLog.With("site_id", cfg.Site.ID)
	mqtt.SetLibraryLogger(log.Logger)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Persisted attributes
	store, err := openState(cfg.State, log)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer func() {
		log.Info("closing state store")
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing state store", "error", closeErr)
		}
	}()
	store.SetLogger(log.With("component", "state"))
	log.Info("state store opened",
		"backend", cfg.State.Backend,
		"path", cfg.State.Path,
		"keys", store.Len(),
	)

	registry := rpc.NewRegistry(rpc.Options{
		Timeout:    cfg.RPC.Timeout(),
		PendingTTL: cfg.RPC.PendingTTL(),
	})
	registry.SetLogger(log.With("component", "rpc"))

	checks := make(map[string]api.HealthChecker)

	// Audit trail (optional)
	var (
		recorder    gateway.Recorder
		auditReader api.AuditReader
		auditRepo   audit.Repository
	)
	if cfg.Database.Enabled {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening database: %w", dbErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", cfg.Database.Path)

		repo := audit.NewSQLiteRepository(db.DB)
		rec := audit.NewRecorder(repo)
		rec.SetLogger(log.With("component", "audit"))
		// Runs after the gateway has closed, before the database does.
		defer rec.Close()
		recorder, auditReader, auditRepo = rec, repo, repo
		checks["database"] = db
	} else {
		log.Info("audit database disabled")
	}

	// Local telemetry mirror (optional)
	var mirror gateway.TelemetryMirror
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		log.Warn("InfluxDB unavailable, telemetry will not be mirrored", "error", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(writeErr error) {
			log.Error("InfluxDB write error", "error", writeErr)
		})
		mirror = influxClient
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	devices := device.NewManager()
	devices.SetLogger(log.With("component", "device"))
	if loadErr := devices.LoadConfig(cfg.Devices); loadErr != nil {
		log.Warn("some devices could not be loaded", "error", loadErr)
	}

	// Platform session
	mqttClient := mqtt.New(cfg.Gateway)
	mqttClient.SetLogger(log.With("component", "mqtt"))
	checks["mqtt"] = mqttClient

	gw, err := gateway.New(gateway.Options{
		Transport:      mqttClient,
		Registry:       registry,
		Store:          store,
		Topics:         mqtt.NewTopics(cfg.Gateway.Topics),
		QoS:            byte(cfg.Gateway.QoS), // #nosec G115 -- validated to 0..2
		DeviceName:     cfg.Site.ID,
		MinBackoff:     cfg.Gateway.MinBackoff(),
		MaxBackoff:     cfg.Gateway.MaxBackoff(),
		ConnectTimeout: cfg.Gateway.ConnectTimeoutDuration(),
		ExpireInterval: cfg.RPC.ExpireInterval(),
		AttributeSync:  cfg.Gateway.AttributeSync,
		Recorder:       recorder,
		Mirror:         mirror,
		Logger:         log.With("component", "gateway"),
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	if builtinErr := gw.RegisterBuiltins(); builtinErr != nil {
		return fmt.Errorf("registering built-in rpc methods: %w", builtinErr)
	}

	loop := telemetry.NewLoop(gw, telemetry.Options{
		Interval:       time.Duration(cfg.Telemetry.Interval) * time.Second,
		CollectTimeout: time.Duration(cfg.Telemetry.CollectTimeout) * time.Second,
		AttributeEvery: cfg.Telemetry.AttributeEvery,
		MaxConcurrent:  cfg.Telemetry.MaxConcurrent,
		Logger:         log.With("component", "telemetry"),
	})
	loop.AddSource(telemetry.NewRuntime())
	loop.AddSource(devices)
	if regErr := loop.RegisterHandlers(registry); regErr != nil {
		return fmt.Errorf("registering telemetry rpc methods: %w", regErr)
	}
	if regErr := devices.RegisterHandlers(registry); regErr != nil {
		return fmt.Errorf("registering device rpc methods: %w", regErr)
	}
	log.Info("rpc methods registered", "methods", registry.Methods())

	defer func() {
		log.Info("closing gateway session")
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := gw.Close(closeCtx); closeErr != nil {
			log.Error("error closing gateway", "error", closeErr)
		}
	}()

	if connErr := gw.Connect(ctx); connErr != nil {
		log.Warn("platform not reachable at startup, retrying in background",
			"broker", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
			"error", connErr,
		)
	}

	// Diagnostics API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:    cfg.API,
			Security:  cfg.Security,
			Logger:    log.With("component", "api"),
			Gateway:   gw,
			State:     store,
			Registry:  registry,
			Telemetry: loop,
			Audit:     auditReader,
			Checks:    checks,
			Version:   version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Run(gctx)
	})
	if auditRepo != nil {
		g.Go(func() error {
			maxAge := time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
			audit.RunRetention(gctx, auditRepo, maxAge, audit.RetentionInterval, log.With("component", "audit"))
			return nil
		})
	}

	loop.Start(gctx)
	defer loop.Stop()

	log.Info("initialisation complete, waiting for shutdown signal")

	if waitErr := g.Wait(); waitErr != nil {
		return fmt.Errorf("gateway stopped: %w", waitErr)
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// openState opens the configured backend and copies the loaded state to
// <path>.bak. When the stored content is malformed and cfg.ResetOnCorrupt is
// set, the bad file is moved aside and a fresh store is seeded from that
// backup, or left empty when there is none.
func openState(cfg config.StateConfig, log *logging.Logger) (*state.Store, error) {
	backupPath := cfg.Path + stateBackupSuffix

	store, loadErr := openStateBackend(cfg)
	if loadErr == nil {
		if backupErr := store.Backup(backupPath); backupErr != nil {
			log.Warn("state backup failed", "path", backupPath, "error", backupErr)
		}
		return store, nil
	}
	if !errors.Is(loadErr, state.ErrStateLoad) || !cfg.ResetOnCorrupt {
		return nil, loadErr
	}

	corrupt := fmt.Sprintf("%s.corrupt-%s", cfg.Path, time.Now().UTC().Format("20060102T150405Z"))
	if renameErr := os.Rename(cfg.Path, corrupt); renameErr != nil {
		return nil, fmt.Errorf("moving corrupt state aside: %w", renameErr)
	}

	store, err := openStateBackend(cfg)
	if err != nil {
		return nil, err
	}
	restored, restoreErr := restoreStateBackup(store, backupPath)
	if restoreErr != nil {
		log.Warn("state backup unusable", "path", backupPath, "error", restoreErr)
	}
	log.Warn("state was corrupt, replaced",
		"path", cfg.Path,
		"moved_to", corrupt,
		"restored_keys", restored,
		"error", loadErr,
	)
	return store, nil
}

// restoreStateBackup copies every key of the backup at path into store and
// returns how many it copied. A missing backup restores nothing.
func restoreStateBackup(store *state.Store, path string) (int, error) {
	backup, err := state.Open(state.NewFileBackend(path))
	if err != nil {
		return 0, err
	}
	defer backup.Close() //nolint:errcheck // file backend close is a no-op

	values := backup.Snapshot()
	if len(values) == 0 {
		return 0, nil
	}
	if err := store.Update(values); err != nil {
		return 0, err
	}
	return len(values), nil
}

func openStateBackend(cfg config.StateConfig) (*state.Store, error) {
	var backend state.Backend
	switch cfg.Backend {
	case "bolt":
		b, err := state.OpenBoltBackend(cfg.Path)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		backend = state.NewFileBackend(cfg.Path)
	}

	store, err := state.Open(backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return store, nil
}

// getConfigPath returns the configuration file path.
// Uses WTM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WTM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
