package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	appcfg "github.com/thamizh-labs/palmscribe/internal/config"
	"github.com/thamizh-labs/palmscribe/internal/inference"
	"github.com/thamizh-labs/palmscribe/internal/inference/gemini"
	"github.com/thamizh-labs/palmscribe/internal/inference/mock"
	"github.com/thamizh-labs/palmscribe/internal/manuscript"
	"github.com/thamizh-labs/palmscribe/internal/orchestrator"
	"github.com/thamizh-labs/palmscribe/internal/server"
	"github.com/thamizh-labs/palmscribe/internal/storage"
)

func main() {
	// Load config
	cfg, err := appcfg.Load("")
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	// Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	// Store (SQLite)
	store, err := manuscript.NewSQLiteStore(cfg.Server.DatabasePath)
	if err != nil {
		logger.Error("sqlite open", "err", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	// Inference provider
	var restorer inference.Restorer
	var analyzer inference.Analyzer
	switch strings.ToLower(cfg.Inference.Provider) {
	case "mock":
		c := mock.New(cfg.Inference.Mock)
		restorer, analyzer = c, c
	case "gemini":
		c := gemini.New(cfg.Inference.Gemini)
		restorer, analyzer = c, c
	default:
		logger.Error("unsupported inference provider", "provider", cfg.Inference.Provider)
		os.Exit(1)
	}

	// Orchestrator
	orch := orchestrator.New(logger, store, restorer, analyzer)
	if err := orch.RefreshHistory(); err != nil {
		logger.Warn("load history", "err", err)
	}

	// HTTP server
	svc := &server.Service{
		Log:    logger,
		Cfg:    cfg,
		Orch:   orch,
		Intake: storage.NewIntake(int64(cfg.Server.MaxUploadSize)),
	}
	httpSrv := server.NewHTTPServer(svc)

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	logger.Info("server stopped")
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
