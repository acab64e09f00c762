package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// IntakeConfig configures cmd/intake: the HTTP surface that accepts
// call audio and metadata and hands them to the Queue Broker. It shares
// the queue binding vocabulary with WorkerConfig but carries none of
// the transcription-engine or search fields, since the intake surface
// never touches either.
type IntakeConfig struct {
	CeleryBrokerURL string `env:"CELERY_BROKER_URL,required"`

	BlobBucket    string `env:"BLOB_BUCKET,required"`
	BlobRegion    string `env:"BLOB_REGION" envDefault:"us-east-1"`
	BlobEndpoint  string `env:"BLOB_ENDPOINT"`
	BlobAccessKey string `env:"BLOB_ACCESS_KEY"`
	BlobSecretKey string `env:"BLOB_SECRET_KEY"`

	MinCallLength float64 `env:"MIN_CALL_LENGTH" envDefault:"0"`

	ListenAddr   string `env:"INTAKE_LISTEN_ADDR" envDefault:":8080"`
	CORSOrigins  string `env:"INTAKE_CORS_ORIGINS"`
	RateRPS      float64 `env:"INTAKE_RATE_RPS" envDefault:"20"`
	RateBurst    int     `env:"INTAKE_RATE_BURST" envDefault:"40"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// IntakeOverrides holds CLI flag values that take priority over env vars.
type IntakeOverrides struct {
	EnvFile    string
	LogLevel   string
	ListenAddr string
}

// LoadIntake reads IntakeConfig from .env, environment variables, and
// CLI overrides, following the same CLI > env > .env > defaults
// priority as LoadWorker and LoadAutoscaler.
func LoadIntake(overrides IntakeOverrides) (*IntakeConfig, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &IntakeConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse intake env: %w", err)
	}

	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.ListenAddr != "" {
		cfg.ListenAddr = overrides.ListenAddr
	}

	return cfg, nil
}
