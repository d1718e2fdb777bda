package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgermatch/recon-backend/internal/adapters/ledger"
	"github.com/ledgermatch/recon-backend/internal/adapters/providers"
	"github.com/ledgermatch/recon-backend/internal/api"
	"github.com/ledgermatch/recon-backend/internal/application/recon"
	"github.com/ledgermatch/recon-backend/internal/infrastructure/config"
	"github.com/ledgermatch/recon-backend/internal/infrastructure/logging"
	"github.com/ledgermatch/recon-backend/internal/infrastructure/storage"
	"github.com/ledgermatch/recon-backend/internal/pkg/retry"
)

func main() {
	cfg := config.LoadOrEnv()
	logger := logging.NewLoggerWithSystem(cfg.Observability.Logging, "api")

	repo, err := storage.NewStorage(cfg.Storage.DatabasePath, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer repo.Close()

	policy := retry.DefaultPolicy()
	ledgerClient := ledger.NewClient(cfg.Ledger.BaseURL, cfg.Ledger.APIKey, cfg.Ledger.AccountTypes, policy, logger)

	registry := providers.NewRegistry(logger)
	if cfg.Providers.Folder.Enabled {
		if err := registry.Register(providers.NewFolderProvider(cfg.Providers.Folder.Path, cfg.Providers.Folder.AllowEmpty, logger)); err != nil {
			logger.Error("Failed to register folder provider", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	if cfg.Providers.Manual.Enabled {
		if err := registry.Register(providers.NewManualProvider(cfg.Providers.Manual.Path, logger)); err != nil {
			logger.Error("Failed to register manual provider", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	if cfg.Providers.Remote.Enabled {
		if err := registry.Register(providers.NewRemoteProvider(cfg.Providers.Remote.BaseURL, cfg.Providers.Remote.APIKey,
			cfg.Providers.Remote.AllowEmpty, policy, logger)); err != nil {
			logger.Error("Failed to register remote provider", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	orchestrator, err := recon.New(cfg, registry, ledgerClient, repo, logger)
	if err != nil {
		logger.Error("Failed to initialize orchestrator", slog.String("error", err.Error()))
		os.Exit(1)
	}

	server := api.NewServer(repo, orchestrator, logger)
	router := server.Router(cfg.API.AllowedOrigins)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.API.Port),
		Handler: router,
	}

	go func() {
		logger.Info("API server listening", slog.Int("port", cfg.API.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", slog.String("error", err.Error()))
	}
}
