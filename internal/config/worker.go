package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// WorkerConfig configures cmd/worker: everything the Worker Runtime and
// its collaborators (call store, blob storage, search indexer, notify)
// need. Env var names preserve the original vocabulary (CELERY_*,
// MEILI_*, WHISPER_*) even though the underlying queue/search engines
// have changed, since operators' existing .env files use these names.
type WorkerConfig struct {
	// Queue binding and identity.
	CeleryBrokerURL     string `env:"CELERY_BROKER_URL,required"`
	CeleryResultBackend string `env:"CELERY_RESULT_BACKEND"`
	CeleryQueues        string `env:"CELERY_QUEUES" envDefault:"transcribe"`
	CeleryConcurrency   int    `env:"CELERY_CONCURRENCY" envDefault:"1"`
	CeleryHostname      string `env:"CELERY_HOSTNAME"`

	// Transcription engine. WhisperImplementation selects the registered
	// engine family; the engine-specific fields below are only consulted
	// by the matching family's factory.
	WhisperImplementation string        `env:"WHISPER_IMPLEMENTATION" envDefault:"native"`
	WhisperModel          string        `env:"WHISPER_MODEL" envDefault:"large-v3"`
	ProviderTimeout       time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"2m"`

	NativeModelPath      string `env:"NATIVE_MODEL_PATH"`
	SubprocessBinary     string `env:"SUBPROCESS_BINARY"`
	SubprocessModelPath  string `env:"SUBPROCESS_MODEL_PATH"`
	RemoteASRBaseURL     string `env:"REMOTE_ASR_BASE_URL"`
	DeepgramAPIKey       string `env:"DEEPGRAM_API_KEY"`
	OpenAIBaseURL        string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1/audio/transcriptions"`
	OpenAIAPIKey         string `env:"OPENAI_API_KEY"`

	// Radio-Type Shaper.
	VadFilterDigital bool `env:"VAD_FILTER_DIGITAL" envDefault:"false"`
	VadFilterAnalog  bool `env:"VAD_FILTER_ANALOG" envDefault:"false"`

	// Search Indexer.
	SearchEngineURL string `env:"SEARCH_ENGINE_URL"`
	SearchUsername  string `env:"SEARCH_USERNAME"`
	SearchPassword  string `env:"SEARCH_PASSWORD"`
	SearchAPIKey    string `env:"SEARCH_API_KEY"`
	MeiliIndex      string `env:"MEILI_INDEX" envDefault:"calls"`
	MeiliSplitMonth bool   `env:"MEILI_INDEX_SPLIT_BY_MONTH" envDefault:"false"`
	SearchUIURL     string `env:"SEARCH_UI_URL"`

	// Call store (relational).
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Blob storage (audio).
	BlobBucket    string `env:"BLOB_BUCKET"`
	BlobRegion    string `env:"BLOB_REGION" envDefault:"us-east-1"`
	BlobEndpoint  string `env:"BLOB_ENDPOINT"`
	BlobAccessKey string `env:"BLOB_ACCESS_KEY"`
	BlobSecretKey string `env:"BLOB_SECRET_KEY"`

	// Notification dispatch.
	NotifyRoutesConfig string        `env:"NOTIFY_ROUTES_CONFIG"`
	NotifyMaxDelay     time.Duration `env:"NOTIFY_MAX_DELAY" envDefault:"0"`

	// Post-Processor cleanup rules (read once at startup; not reloaded).
	CleanupRulesConfig string `env:"CLEANUP_RULES_CONFIG"`

	// Radio id replacement rules (hot-reloaded via fsnotify). Fed by the
	// CSV/unit-tag directory collaborator over MQTT; see MQTT_* below.
	RadioIDConfig string `env:"RADIO_ID_CONFIG"`

	// MQTT feed from the out-of-scope CSV/unit-tag directory loader: when
	// set, incoming unit-tag updates are pushed straight into the running
	// RadioIDReplacer's in-memory rule set, bypassing the filesystem.
	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"callscribe-worker"`
	MQTTTopics    string `env:"MQTT_TOPICS" envDefault:"unit-tags/#"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`

	// Audio conversion.
	ConvertBinary string `env:"CONVERT_BINARY" envDefault:"ffmpeg"`

	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// WorkerOverrides holds CLI flag values that take priority over env vars.
type WorkerOverrides struct {
	EnvFile     string
	LogLevel    string
	DatabaseURL string
	Concurrency int
}

// LoadWorker reads WorkerConfig from .env, environment variables, and
// CLI overrides. Priority: CLI flags > environment variables > .env
// file > struct defaults, matching the teacher's config.Load.
func LoadWorker(overrides WorkerOverrides) (*WorkerConfig, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &WorkerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse worker env: %w", err)
	}

	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.Concurrency > 0 {
		cfg.CeleryConcurrency = overrides.Concurrency
	}

	return cfg, nil
}
