package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/api"
	"github.com/snarg/scribe-engine/internal/config"
	"github.com/snarg/scribe-engine/internal/database"
	"github.com/snarg/scribe-engine/internal/storage"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("scribe-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Usage-log database (optional)
	var db *database.DB
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.InitSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize usage schema")
		}
	} else {
		log.Info().Msg("no DATABASE_URL set, usage log disabled")
	}

	// Audio object store (optional)
	var store transcribe.AudioStore
	if cfg.S3.Enabled() {
		s3Log := log.With().Str("component", "storage").Logger()
		s3, err := storage.NewS3Store(cfg.S3, s3Log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure audio store")
		}
		if err := s3.HeadBucket(ctx); err != nil {
			log.Fatal().Err(err).Str("bucket", cfg.S3.Bucket).Msg("audio store bucket not reachable")
		}
		store = s3
	}

	// Providers. A missing key is not fatal; the provider rejects requests
	// with a configuration error until one is set.
	if cfg.OpenAIAPIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY not set, whisper provider unavailable")
	}
	if cfg.AssemblyAIAPIKey == "" {
		log.Warn().Msg("ASSEMBLYAI_API_KEY not set, assemblyai provider unavailable")
	}

	whisper := transcribe.NewWhisperClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.WhisperTimeout,
		log.With().Str("component", "whisper").Logger())
	assembly := transcribe.NewAssemblyAIClient(cfg.AssemblyAIAPIKey, cfg.AssemblyAIURL, store,
		log.With().Str("component", "assemblyai").Logger())
	assembly.SetPollCadence(cfg.PollInterval, cfg.PollCeiling)

	providers := map[string]transcribe.Provider{
		whisper.Name():  whisper,
		assembly.Name(): assembly,
	}

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, providers, db, version, startTime, httpLog)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("scribe-engine stopped")
}
