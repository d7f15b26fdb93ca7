package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"DATABASE_URL":    "postgres://localhost/test",
		"MQTT_BROKER_URL": "tcp://localhost:8883",
		"BROKER_ENDPOINT": "tcp://localhost:8883",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.MQTTClientID != "motion-engine" {
			t.Errorf("MQTTClientID = %q, want motion-engine", cfg.MQTTClientID)
		}
		if cfg.ReaperTickInterval.String() != "1m0s" {
			t.Errorf("ReaperTickInterval = %v, want 1m0s", cfg.ReaperTickInterval)
		}
		if cfg.WardenSafetyMargin.String() != "5m0s" {
			t.Errorf("WardenSafetyMargin = %v, want 5m0s", cfg.WardenSafetyMargin)
		}
		if !cfg.AuthEnabled {
			t.Error("AuthEnabled = false, want true")
		}
		if cfg.AuthToken == "" || !cfg.AuthTokenGenerated {
			t.Error("expected an auto-generated AuthToken")
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:       "nonexistent.env",
			HTTPAddr:      ":9090",
			LogLevel:      "debug",
			DatabaseURL:   "postgres://override/db",
			MQTTBrokerURL: "tcp://override:8883",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.DatabaseURL != "postgres://override/db" {
			t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
		}
	})

	t.Run("auth_disabled_clears_token", func(t *testing.T) {
		restore := setEnvs(t, map[string]string{"AUTH_ENABLED": "false"})
		defer restore()
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.AuthToken != "" {
			t.Errorf("AuthToken = %q, want empty when auth disabled", cfg.AuthToken)
		}
	})
}

func TestLoadMissingRequired(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{})
	defer cleanup()
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("MQTT_BROKER_URL")
	os.Unsetenv("BROKER_ENDPOINT")

	_, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err == nil {
		t.Error("expected error when required env vars are missing")
	}
}

func TestValidateRejectsNonPositiveTicks(t *testing.T) {
	cfg := &Config{ReaperTickInterval: 0, WardenTickInterval: 0}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero ReaperTickInterval")
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
