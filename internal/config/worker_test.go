package config

import (
	"os"
	"testing"
)

func TestLoadWorker(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"CELERY_BROKER_URL": "nats://localhost:4222",
		"DATABASE_URL":      "postgres://localhost/calls",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadWorker(WorkerOverrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("LoadWorker: %v", err)
		}
		if cfg.WhisperImplementation != "native" {
			t.Errorf("WhisperImplementation = %q, want native", cfg.WhisperImplementation)
		}
		if cfg.WhisperModel != "large-v3" {
			t.Errorf("WhisperModel = %q, want large-v3", cfg.WhisperModel)
		}
		if cfg.MeiliIndex != "calls" {
			t.Errorf("MeiliIndex = %q, want calls", cfg.MeiliIndex)
		}
		if cfg.CeleryQueues != "transcribe" {
			t.Errorf("CeleryQueues = %q, want transcribe", cfg.CeleryQueues)
		}
		if cfg.CeleryConcurrency != 1 {
			t.Errorf("CeleryConcurrency = %d, want 1", cfg.CeleryConcurrency)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
	})

	t.Run("env_vars_read", func(t *testing.T) {
		cfg, err := LoadWorker(WorkerOverrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("LoadWorker: %v", err)
		}
		if cfg.CeleryBrokerURL != "nats://localhost:4222" {
			t.Errorf("CeleryBrokerURL = %q, want nats://localhost:4222", cfg.CeleryBrokerURL)
		}
		if cfg.DatabaseURL != "postgres://localhost/calls" {
			t.Errorf("DatabaseURL = %q, want postgres://localhost/calls", cfg.DatabaseURL)
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := LoadWorker(WorkerOverrides{
			EnvFile:     "nonexistent.env",
			LogLevel:    "debug",
			DatabaseURL: "postgres://override/db",
			Concurrency: 8,
		})
		if err != nil {
			t.Fatalf("LoadWorker: %v", err)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.DatabaseURL != "postgres://override/db" {
			t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
		}
		if cfg.CeleryConcurrency != 8 {
			t.Errorf("CeleryConcurrency = %d, want 8", cfg.CeleryConcurrency)
		}
	})
}

func TestLoadWorkerMissingRequired(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"CELERY_BROKER_URL": "",
		"DATABASE_URL":      "",
	})
	defer cleanup()
	os.Unsetenv("CELERY_BROKER_URL")
	os.Unsetenv("DATABASE_URL")

	_, err := LoadWorker(WorkerOverrides{EnvFile: "nonexistent.env"})
	if err == nil {
		t.Error("expected error when required env vars are missing")
	}
}
