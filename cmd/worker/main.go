package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/callscribe/internal/broker"
	"github.com/snarg/callscribe/internal/callstore"
	"github.com/snarg/callscribe/internal/config"
	"github.com/snarg/callscribe/internal/engine"
	"github.com/snarg/callscribe/internal/metadata"
	"github.com/snarg/callscribe/internal/metrics"
	"github.com/snarg/callscribe/internal/mqttclient"
	"github.com/snarg/callscribe/internal/notify"
	"github.com/snarg/callscribe/internal/postprocess"
	"github.com/snarg/callscribe/internal/search"
	"github.com/snarg/callscribe/internal/worker"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var overrides config.WorkerOverrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL connection URL (overrides DATABASE_URL)")
	flag.IntVar(&overrides.Concurrency, "concurrency", 0, "Concurrent job handlers (overrides CELERY_CONCURRENCY)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.LoadWorker(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("commit", commit).Msg("callscribe worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	calls, err := callstore.Connect(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to call store")
	}
	defer calls.Close()

	b, err := broker.Connect(broker.Options{
		URL:        cfg.CeleryBrokerURL,
		StreamName: "callscribe",
		Log:        log.With().Str("component", "broker").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to queue broker")
	}
	defer b.Close()

	var searchEngine search.Engine
	if cfg.SearchEngineURL != "" {
		osEngine, err := search.NewOpenSearchEngine(search.OpenSearchConfig{
			Addresses: []string{cfg.SearchEngineURL},
			Username:  cfg.SearchUsername,
			Password:  cfg.SearchPassword,
		}, log.With().Str("component", "search").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build search engine")
		}
		searchEngine = osEngine
	} else {
		log.Warn().Msg("SEARCH_ENGINE_URL not set, falling back to raw HTTP search engine against localhost")
		searchEngine = search.NewHTTPEngine("http://localhost:7700", cfg.SearchAPIKey, 10*time.Second)
	}
	indexer := search.New(searchEngine, search.Config{
		BaseIndex:    cfg.MeiliIndex,
		SplitByMonth: cfg.MeiliSplitMonth,
		SearchUIURL:  cfg.SearchUIURL,
	}, log)

	var notifier *notify.Notifier
	if cfg.NotifyRoutesConfig != "" {
		routesCfg, err := notify.LoadConfig(cfg.NotifyRoutesConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load notification routes")
		}
		routesCfg.MaxDelay = cfg.NotifyMaxDelay
		notifier, err = notify.New(routesCfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build notifier")
		}
	} else {
		log.Info().Msg("NOTIFY_ROUTES_CONFIG not set, notification dispatch disabled")
	}

	var cleanupRules []postprocess.Rule
	if cfg.CleanupRulesConfig != "" {
		cleanupRules, err = postprocess.LoadRules(cfg.CleanupRulesConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load cleanup rules")
		}
	}

	radioIDs, err := metadata.NewRadioIDReplacer(cfg.RadioIDConfig, log.With().Str("component", "radioid").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load radio id config")
	}
	defer radioIDs.Close()

	if cfg.MQTTBrokerURL != "" {
		dir, err := mqttclient.WatchUnitDirectory(mqttclient.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topics:    cfg.MQTTTopics,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       log.With().Str("component", "mqtt").Logger(),
		}, radioIDs)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect unit-tag directory feed")
		}
		defer dir.Close()
	}

	registry := engine.NewRegistry()
	registerEngines(registry, cfg)

	runtime := worker.New(worker.Config{
		EngineFamily:     cfg.WhisperImplementation,
		EngineModel:      cfg.WhisperModel,
		CleanupRules:     cleanupRules,
		RadioIDs:         radioIDs,
		VadFilterDigital: cfg.VadFilterDigital,
		VadFilterAnalog:  cfg.VadFilterAnalog,
		Concurrency:      cfg.CeleryConcurrency,
		ProviderTimeout:  cfg.ProviderTimeout,
		ConvertBinary:    cfg.ConvertBinary,
	}, registry, calls, indexer, notifier, log)

	go serveMetrics(cfg.MetricsAddr, b, log)

	go func() {
		select {
		case <-runtime.Terminated():
			log.Error().Msg("health thresholds crossed, requesting shutdown")
			stop()
		case <-ctx.Done():
		}
	}()

	log.Info().
		Str("engine", cfg.WhisperImplementation).
		Str("model", cfg.WhisperModel).
		Int("concurrency", cfg.CeleryConcurrency).
		Msg("callscribe worker ready")

	if err := runtime.Run(ctx, b); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("worker runtime exited with error")
	}
	log.Info().Msg("callscribe worker stopped")
}

// registerEngines wires every engine family the binary knows how to
// build. The registry is lazy: a family is instantiated only when first
// requested, either as the WHISPER_IMPLEMENTATION default or through a
// job's whisper_implementation override, so leaving unused families
// registered with empty config costs nothing until one is requested.
func registerEngines(registry *engine.Registry, cfg *config.WorkerConfig) {
	registry.Register("native", func(model string) (engine.Provider, error) {
		return engine.NewNativeProvider(cfg.NativeModelPath)
	})
	registry.Register("subprocess", func(model string) (engine.Provider, error) {
		return engine.NewSubprocessProvider(cfg.SubprocessBinary, cfg.SubprocessModelPath)
	})
	registry.Register("remote-asr", func(model string) (engine.Provider, error) {
		return engine.NewRemoteASRClient(cfg.RemoteASRBaseURL, model, cfg.ProviderTimeout), nil
	})
	registry.Register("deepgram", func(model string) (engine.Provider, error) {
		return engine.NewDeepgramClient(cfg.DeepgramAPIKey, model, cfg.ProviderTimeout), nil
	})
	registry.Register("openai", func(model string) (engine.Provider, error) {
		return engine.NewOpenAIClient(cfg.OpenAIBaseURL, model, cfg.OpenAIAPIKey, cfg.ProviderTimeout), nil
	})
}

func serveMetrics(addr string, b broker.Broker, log zerolog.Logger) {
	collector := metrics.NewQueueCollector(b, worker.SubjectTranscribe, worker.SubjectRetranscribe)
	prometheus.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}
