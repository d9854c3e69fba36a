package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		stdlog.Printf("Warning: Could not load .env file: %v", err)
	}

	cfg, err := loadEnvConfig()
	if err != nil {
		stdlog.Fatalf("Failed to load config: %v", err)
	}

	setupLogging(cfg.LogLevel)

	gameCfg, err := loadGameConfig(cfg.GameConfigPath)
	if err != nil {
		stdlog.Fatalf("Failed to load game config: %v", err)
	}

	database, err := setupDatabase(cfg)
	if err != nil {
		stdlog.Fatalf("Failed to setup database: %v", err)
	}
	defer database.Close()

	services, err := setupServices(cfg, gameCfg, database)
	if err != nil {
		stdlog.Fatalf("Failed to setup services: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := services.Scheduler.Run(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler stopped with error")
		}
	}()
	go services.ConnManager.Start(ctx)
	go func() {
		if err := services.EventConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer stopped with error")
		}
	}()

	if err := services.OutboxWorker.Start(ctx); err != nil {
		stdlog.Fatalf("Failed to start outbox worker: %v", err)
	}

	// Rebuild armed callbacks from durable timers before serving traffic.
	if err := services.Recoverer.Resync(ctx); err != nil {
		stdlog.Fatalf("Failed to resync scheduler from store: %v", err)
	}

	services.Jobs.Start()

	server := setupServer(cfg, services)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("hunt server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}

	if err := services.OutboxWorker.Stop(); err != nil {
		log.Error().Err(err).Msg("outbox worker stop failed")
	}
	if err := services.Jobs.Shutdown(); err != nil {
		log.Error().Err(err).Msg("job scheduler shutdown failed")
	}
	if err := services.EventConsumer.Stop(); err != nil {
		log.Error().Err(err).Msg("event consumer stop failed")
	}
	if err := services.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("publisher close failed")
	}

	log.Info().Msg("shutdown complete")
}

func setupLogging(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
}
