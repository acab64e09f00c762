package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AutoscalerConfig configures cmd/autoscaler: marketplace credentials,
// fleet identity, and the sizing knobs that feed internal/autoscaler.
// Disjoint from WorkerConfig since the autoscaler never touches the
// call store, blob storage, or search indexer.
type AutoscalerConfig struct {
	// Marketplace (vast.ai-shaped GPU rental API).
	VastAPIKey  string `env:"VAST_API_KEY,required"`
	VastOnDemand bool  `env:"VAST_ONDEMAND" envDefault:"false"`
	CUDAVersion string `env:"CUDA_VERSION" envDefault:"12.1"`
	APIBaseURL  string `env:"API_BASE_URL" envDefault:"https://console.vast.ai/api/v0"`

	// Fleet identity, used to build the worker image's environment and
	// to recognize which rented instances belong to this fleet.
	CeleryBrokerURL     string `env:"CELERY_BROKER_URL,required"`
	CeleryResultBackend string `env:"CELERY_RESULT_BACKEND"`
	CeleryQueues        string `env:"CELERY_QUEUES" envDefault:"transcribe"`

	// Sizing the worker image needs to know its own concurrency, which
	// is derived from the rented GPU's VRAM and this model/implementation.
	WhisperModel          string `env:"WHISPER_MODEL" envDefault:"large-v3"`
	WhisperImplementation string `env:"WHISPER_IMPLEMENTATION" envDefault:"faster-whisper"`

	// Worker image to rent.
	WorkerImage string `env:"WORKER_IMAGE,required"`
	GitCommit   string `env:"GIT_COMMIT" envDefault:"unknown"`

	// Marketplace thresholds.
	MinInstances int           `env:"AUTOSCALER_MIN_INSTANCES" envDefault:"0"`
	MaxInstances int           `env:"AUTOSCALER_MAX_INSTANCES" envDefault:"10"`
	Interval     time.Duration `env:"AUTOSCALER_INTERVAL" envDefault:"60s"`

	// Network endpoints the rented instances need to reach back to.
	InternalBrokerHost string `env:"INTERNAL_BROKER_HOST"`
	PublicHost         string `env:"PUBLIC_HOST"`

	// ForbiddenInstanceConfig is the on-disk JSON list path of hosts the
	// autoscaler should never rent again (stuck or errored previously).
	ForbiddenInstanceConfig string `env:"FORBIDDEN_INSTANCE_CONFIG" envDefault:"./forbidden-instances.json"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9091"`
}

// AutoscalerOverrides holds CLI flag values that take priority over env vars.
type AutoscalerOverrides struct {
	EnvFile      string
	LogLevel     string
	MinInstances int
	MaxInstances int
}

// LoadAutoscaler reads AutoscalerConfig from .env, environment
// variables, and CLI overrides, in that ascending priority order.
func LoadAutoscaler(overrides AutoscalerOverrides) (*AutoscalerConfig, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &AutoscalerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse autoscaler env: %w", err)
	}

	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.MinInstances > 0 {
		cfg.MinInstances = overrides.MinInstances
	}
	if overrides.MaxInstances > 0 {
		cfg.MaxInstances = overrides.MaxInstances
	}

	return cfg, nil
}
