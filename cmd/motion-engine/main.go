package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	motionengine "github.com/snarg/motion-engine"
	"github.com/snarg/motion-engine/internal/api"
	"github.com/snarg/motion-engine/internal/broker"
	"github.com/snarg/motion-engine/internal/config"
	"github.com/snarg/motion-engine/internal/ingest"
	"github.com/snarg/motion-engine/internal/mqttclient"
	"github.com/snarg/motion-engine/internal/musicservice"
	"github.com/snarg/motion-engine/internal/provision"
	"github.com/snarg/motion-engine/internal/secrets"
	"github.com/snarg/motion-engine/internal/sensordefaults"
	"github.com/snarg/motion-engine/internal/store"
)

// version, commit, and buildTime are injected at build time via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL connection URL (overrides DATABASE_URL)")
	flag.StringVar(&overrides.MQTTBrokerURL, "mqtt-url", "", "MQTT broker URL (overrides MQTT_BROKER_URL)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", buildTime).
		Str("log_level", level.String()).
		Msg("motion-engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := store.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx, motionengine.SchemaSQL); err != nil {
		log.Fatal().Err(err).Msg("schema initialization failed")
	}
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed (run ALTER TABLE manually or grant ALTER privileges)")
	}

	// Per-user credential material (spec §3). No secret-management SDK
	// appears in the reference pack, so this is an in-process store (see
	// DESIGN.md); swap for a managed client without touching callers.
	secretStore := secrets.NewMemoryStore()

	// Music playback adapter (C2/C3/C4's collaborator).
	clientSecret := os.Getenv(cfg.MusicServiceSecretRef)
	music := musicservice.NewSpotifyClient(
		cfg.MusicServiceAuthURL,
		cfg.MusicServiceBaseURL,
		cfg.MusicServiceClientID,
		clientSecret,
		cfg.MusicServiceCallTimeout,
		log.With().Str("component", "music_service").Logger(),
	)

	// MQTT — the engine is itself a subscriber on the device-facing broker.
	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       mqttLog,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		log.Info().Str("broker", cfg.MQTTBrokerURL).Str("client_id", cfg.MQTTClientID).Msg("mqtt connected")
	} else {
		log.Fatal().Msg("MQTT_BROKER_URL is required")
	}

	// Device identity / ACL control plane (C5's collaborator).
	registry := broker.NewRegistry()
	if _, err := broker.NewServer(registry); err != nil {
		log.Fatal().Err(err).Msg("failed to wire broker identity registry")
	}

	defaultsLog := log.With().Str("component", "sensor_defaults").Logger()
	defaultsWatcher, err := sensordefaults.New(cfg.SensorDefaultsFile, defaultsLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load sensor defaults file")
	}
	if err := defaultsWatcher.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to watch sensor defaults file")
	}

	provisioner := provision.New(db, registry, defaultsWatcher, cfg.ProvisionCertTTL, log)

	// Orchestration core: C1 (router, wired below) plus C2/C3/C4.
	engine := ingest.NewEngine(ingest.Options{
		DB:          db,
		MQTT:        mqtt,
		Music:       music,
		SecretStore: secretStore,
		Config:      cfg,
		Log:         log,
	})
	engine.Start(ctx)
	engine.StartRetention(ctx, cfg.RetentionTick)

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:      cfg,
		DB:          db,
		MQTT:        mqtt,
		Provisioner: provisioner,
		Stats:       engine,
		Version:     fmt.Sprintf("%s (commit=%s, built=%s)", version, commit, buildTime),
		StartTime:   startTime,
		Log:         httpLog,
	})

	if !cfg.AuthEnabled {
		log.Warn().Msg("AUTH_ENABLED=false — API authentication is disabled, all endpoints are open")
	} else if cfg.AuthTokenGenerated {
		log.Info().Str("token", cfg.AuthToken).Msg("AUTH_TOKEN auto-generated (set AUTH_TOKEN in .env for a persistent token)")
	} else {
		log.Info().Msg("AUTH_TOKEN loaded from configuration")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("listen", cfg.HTTPAddr).
		Str("version", version).
		Dur("startup_ms", time.Since(startTime)).
		Msg("motion-engine ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("motion-engine stopped")
}
