package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/snarg/callscribe/internal/api"
	"github.com/snarg/callscribe/internal/blobstore"
	"github.com/snarg/callscribe/internal/broker"
	"github.com/snarg/callscribe/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var overrides config.IntakeOverrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.ListenAddr, "listen", "", "HTTP listen address (overrides INTAKE_LISTEN_ADDR)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.LoadIntake(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("commit", commit).Msg("callscribe intake starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	blobs, err := blobstore.NewS3Store(ctx, blobstore.Config{
		Region:    cfg.BlobRegion,
		Bucket:    cfg.BlobBucket,
		Endpoint:  cfg.BlobEndpoint,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
	}, log.With().Str("component", "blobstore").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build blob store")
	}

	b, err := broker.Connect(broker.Options{
		URL:        cfg.CeleryBrokerURL,
		StreamName: "callscribe",
		Log:        log.With().Str("component", "broker").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to queue broker")
	}
	defer b.Close()

	var origins []string
	if cfg.CORSOrigins != "" {
		origins = strings.Split(cfg.CORSOrigins, ",")
	}

	srv := api.New(api.Options{
		Blobs:         blobs,
		Broker:        b,
		MinCallLength: cfg.MinCallLength,
		CORSOrigins:   origins,
		RateRPS:       cfg.RateRPS,
		RateBurst:     cfg.RateBurst,
		Log:           log,
	})

	go func() {
		if err := srv.Run(cfg.ListenAddr); err != nil {
			log.Error().Err(err).Msg("intake HTTP server stopped")
			stop()
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("callscribe intake ready")
	<-ctx.Done()
	log.Info().Msg("callscribe intake stopped")
}
