package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/schemachat/schemachat/internal/api"
	catalogpostgres "github.com/schemachat/schemachat/internal/catalog/postgres"
	"github.com/schemachat/schemachat/internal/config"
	dynamicpostgres "github.com/schemachat/schemachat/internal/dynamic/postgres"
	"github.com/schemachat/schemachat/internal/executor"
	"github.com/schemachat/schemachat/internal/inference"
	"github.com/schemachat/schemachat/internal/message"
	"github.com/schemachat/schemachat/internal/observability"
	"github.com/schemachat/schemachat/internal/registry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("schemachat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	metadataDB, err := catalogpostgres.Open(context.Background(), catalogpostgres.DBConfig{
		DSN:             cfg.Metadata.DSN,
		MaxOpenConns:    cfg.Metadata.MaxOpenConns,
		MaxIdleConns:    cfg.Metadata.MaxIdleConns,
		ConnMaxIdleTime: cfg.Metadata.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Metadata.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open metadata db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = metadataDB.Close() }()

	catalogRepo := catalogpostgres.NewRepository(metadataDB)
	provisioner := catalogpostgres.NewProvisioner(metadataDB)
	tableRegistry := registry.New()
	rowStore := dynamicpostgres.NewStore(metadataDB, cfg.Executor.SelectBatchSize)

	inferenceClient, err := inference.NewHTTPClient(inference.HTTPConfig{
		BaseURL: cfg.Inference.BaseURL,
		Timeout: cfg.Inference.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize inference client", slog.Any("error", err))
		os.Exit(1)
	}

	commandExecutor := executor.New(tableRegistry, rowStore, logger)
	messageService := message.NewService(catalogRepo, inferenceClient, commandExecutor, logger)

	deps := api.Dependencies{
		Logger:      logger,
		Catalog:     catalogRepo,
		Provisioner: provisioner,
		Registry:    tableRegistry,
		Messages:    messageService,
		Readiness: api.CombineReadinessChecks(
			catalogRepo.HealthCheck,
			api.CheckInferenceConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
