package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/afroash/envmon/internal/config"
	"github.com/afroash/envmon/internal/logging"
	"github.com/afroash/envmon/internal/query"
	"github.com/afroash/envmon/internal/server"
	"github.com/afroash/envmon/internal/storage"
)

const version = "v0.3.0"

func main() {
	// Parse flags
	configPath := flag.String("config", "configs/envmon.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closeLog()

	logger = logger.With().Str("service", "server").Logger()
	logger.Info().
		Str("version", version).
		Int("port", cfg.Server.Port).
		Msg("Starting envmon server")

	engine := query.NewEngine(func(ctx context.Context) (query.Store, error) {
		conn, err := storage.Connect(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}, cfg.Database.QueryTimeout, logger)

	api := server.New(engine, cfg.Server, version, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for shutdown signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info().Msg("Shutting down server...")

	// streams are hijacked and not covered by Shutdown
	api.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	if err := engine.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close store connection")
	}

	logger.Info().Msg("Server stopped")
}
