package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arbor/internal/api"
	"arbor/internal/branch"
	"arbor/internal/config"
	arborerrors "arbor/internal/errors"
	"arbor/internal/logging"
	"arbor/internal/repository"

	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadOrDefault(config.ConfigPath())
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	opts, err := repository.OptionsFromConfig(cfg, logger.Logger)
	if err != nil {
		logger.Fatal("invalid repository settings", zap.Error(err))
	}

	// Open the served repository, creating it on first start
	repo, err := repository.Open(cfg.Database.Path, opts)
	if arborerrors.IsType(err, arborerrors.ErrorTypeNotFound) {
		logger.Info("creating repository", zap.String("path", cfg.Database.Path))
		repo, err = repository.Init(cfg.Database.Path, opts)
	}
	if err != nil {
		logger.Fatal("failed to open repository", zap.Error(err))
	}
	defer repo.Close()

	br := branch.Open(repo, "", branch.WithLogger(logger.Logger))
	handler, err := api.NewServer(repo, br, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("address", addr),
		zap.String("repository", repo.Location()),
		zap.String("format", string(repo.Format())))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("server stopped")
}
