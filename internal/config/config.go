package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the core's runtime configuration, loaded from a .env file,
// environment variables, and CLI overrides in that priority order.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	MQTTBrokerURL string `env:"MQTT_BROKER_URL,required"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"motion-engine"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`
	MQTTCAFile    string `env:"MQTT_CA_FILE"`

	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MetricsEnabled bool          `env:"METRICS_ENABLED" envDefault:"true"`

	AuthEnabled        bool   `env:"AUTH_ENABLED" envDefault:"true"`
	AuthToken          string `env:"AUTH_TOKEN"`
	AuthTokenGenerated bool
	RateLimitRPS       float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST" envDefault:"40"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// C3 Timeout Reaper
	ReaperTickInterval time.Duration `env:"REAPER_TICK_INTERVAL" envDefault:"60s"`
	ReaperWorkers      int           `env:"REAPER_WORKERS" envDefault:"10"`

	// C4 Token Warden
	WardenTickInterval time.Duration `env:"WARDEN_TICK_INTERVAL" envDefault:"30m"`
	WardenSafetyMargin time.Duration `env:"WARDEN_SAFETY_MARGIN" envDefault:"300s"`
	WardenWorkers      int           `env:"WARDEN_WORKERS" envDefault:"10"`
	WardenLeaseTTL     time.Duration `env:"WARDEN_LEASE_TTL" envDefault:"120s"`

	// Session / audit retention (spec default 30 days)
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	MotionEventTTL time.Duration `env:"MOTION_EVENT_TTL" envDefault:"720h"`
	RetentionTick  time.Duration `env:"RETENTION_TICK_INTERVAL" envDefault:"24h"`

	// Music service adapter (Spotify-shaped OAuth + playback API)
	MusicServiceBaseURL     string        `env:"MUSIC_SERVICE_BASE_URL" envDefault:"https://api.spotify.com/v1"`
	MusicServiceAuthURL     string        `env:"MUSIC_SERVICE_AUTH_URL" envDefault:"https://accounts.spotify.com/api/token"`
	MusicServiceClientID    string        `env:"MUSIC_SERVICE_CLIENT_ID"`
	MusicServiceSecretRef   string        `env:"MUSIC_SERVICE_CLIENT_SECRET_REF"`
	MusicServiceCallTimeout time.Duration `env:"MUSIC_SERVICE_CALL_TIMEOUT" envDefault:"10s"`

	// Device provisioning / broker identity control plane
	BrokerEndpoint   string        `env:"BROKER_ENDPOINT,required"`
	BrokerRegion     string        `env:"BROKER_REGION" envDefault:"local"`
	ProvisionCertTTL time.Duration `env:"PROVISION_CERT_TTL" envDefault:"87600h"` // 10y

	// Per-sensor default overrides, hot-reloaded via fsnotify (supplemental feature)
	SensorDefaultsFile string `env:"SENSOR_DEFAULTS_FILE"`

	// Per-call / per-handler deadlines (spec §5)
	ExternalCallTimeout time.Duration `env:"EXTERNAL_CALL_TIMEOUT" envDefault:"10s"`
	HandlerDeadline     time.Duration `env:"HANDLER_DEADLINE" envDefault:"30s"`
}

// Validate checks invariants that can't be expressed as struct tags.
func (c *Config) Validate() error {
	if c.ReaperTickInterval <= 0 {
		return fmt.Errorf("REAPER_TICK_INTERVAL must be positive")
	}
	if c.WardenTickInterval <= 0 {
		return fmt.Errorf("WARDEN_TICK_INTERVAL must be positive")
	}
	return nil
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile       string
	HTTPAddr      string
	LogLevel      string
	DatabaseURL   string
	MQTTBrokerURL string
}

// Load reads configuration from a .env file, environment variables, and
// CLI overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.MQTTBrokerURL != "" {
		cfg.MQTTBrokerURL = overrides.MQTTBrokerURL
	}

	if !cfg.AuthEnabled {
		cfg.AuthToken = ""
	} else if cfg.AuthToken == "" {
		tok, err := randomToken(32)
		if err == nil {
			cfg.AuthToken = tok
			cfg.AuthTokenGenerated = true
		}
	}

	return cfg, nil
}
