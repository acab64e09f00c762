package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/callscribe/internal/autoscaler"
	"github.com/snarg/callscribe/internal/broker"
	"github.com/snarg/callscribe/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var overrides config.AutoscalerOverrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.IntVar(&overrides.MinInstances, "min-instances", 0, "Minimum fleet size (overrides AUTOSCALER_MIN_INSTANCES)")
	flag.IntVar(&overrides.MaxInstances, "max-instances", 0, "Maximum fleet size (overrides AUTOSCALER_MAX_INSTANCES)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.LoadAutoscaler(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("commit", commit).Msg("callscribe autoscaler starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := broker.Connect(broker.Options{
		URL:        cfg.CeleryBrokerURL,
		StreamName: "callscribe",
		Log:        log.With().Str("component", "broker").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to queue broker")
	}
	defer b.Close()

	forbidden, err := autoscaler.LoadForbiddenSet(cfg.ForbiddenInstanceConfig, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load forbidden instance set")
	}
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := forbidden.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
			log.Warn().Err(err).Msg("forbidden instance watch stopped")
		}
	}()

	marketplace := autoscaler.NewMarketplace(cfg.APIBaseURL, cfg.VastAPIKey)

	scaler := autoscaler.New(autoscaler.Config{
		Min:                cfg.MinInstances,
		Max:                cfg.MaxInstances,
		Interval:           cfg.Interval,
		Subject:            "calls.transcribe",
		Image:              cfg.WorkerImage,
		GitCommit:          cfg.GitCommit,
		Model:              cfg.WhisperModel,
		Implementation:     cfg.WhisperImplementation,
		CUDAFloor:          cfg.CUDAVersion,
		OnDemand:           cfg.VastOnDemand,
		InternalBrokerHost: cfg.InternalBrokerHost,
		PublicHost:         cfg.PublicHost,
		BrokerURL:          cfg.CeleryBrokerURL,
		BaseEnv: map[string]string{
			"CELERY_BROKER_URL":     cfg.CeleryBrokerURL,
			"CELERY_RESULT_BACKEND": cfg.CeleryResultBackend,
			"CELERY_QUEUES":         cfg.CeleryQueues,
			"WHISPER_MODEL":         cfg.WhisperModel,
			"WHISPER_IMPLEMENTATION": cfg.WhisperImplementation,
		},
	}, b, marketplace, forbidden, log)

	go serveMetrics(cfg.MetricsAddr, log)

	log.Info().
		Int("min", cfg.MinInstances).
		Int("max", cfg.MaxInstances).
		Dur("interval", cfg.Interval).
		Msg("callscribe autoscaler ready")

	if err := scaler.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("autoscaler exited with error")
	}
	log.Info().Msg("callscribe autoscaler stopped")
}

func serveMetrics(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}
