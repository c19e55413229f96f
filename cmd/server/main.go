package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpattn/rowmap/internal/config"
	"github.com/rpattn/rowmap/internal/db"
	"github.com/rpattn/rowmap/internal/httpapi"
	"github.com/rpattn/rowmap/internal/ingestion"
	"github.com/rpattn/rowmap/internal/logging"
	"github.com/rpattn/rowmap/internal/mapping"
	"github.com/rpattn/rowmap/internal/middleware"
	"github.com/rpattn/rowmap/internal/repository"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(os.Getenv(config.EnvPrefix + "_CONFIG"))
	if err != nil {
		bootLogger := logging.New(logging.DefaultConfig(), os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := logging.New(cfg.Log, os.Stderr)
	if cfg.File != "" {
		logger.Info().Str("file", cfg.File).Msg("configuration loaded")
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()

	if err := db.RunMigrations(conn.Pool, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	mappingRepo := repository.NewMappingRepository(conn.Pool)
	logRepo := repository.NewIngestionLogRepository(conn.Pool)

	mappings := mapping.NewService(mappingRepo, logger, cfg.Fingerprint.Algorithm)
	imports := ingestion.NewService(mappings, ingestion.NewLogSink(logger), logRepo, logger)

	api := httpapi.NewServer(httpapi.Options{
		Mappings:       mappings,
		MappingRepo:    mappingRepo,
		Ingestion:      imports,
		IngestionLogs:  logRepo,
		Logger:         logger,
		MaxUploadBytes: cfg.Import.MaxUploadBytes,
		PreviewLimit:   cfg.Import.PreviewLimit,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(middleware.LoggingMiddleware(logger)(api)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("fingerprint_algorithm", mappings.Algorithm()).
			Msg("starting mapping server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(server, logger)
}

func waitForShutdown(server *http.Server, logger zerolog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server exited")
}
