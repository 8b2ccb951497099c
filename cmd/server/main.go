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

	"tokenverif/internal/platform/config"
	"tokenverif/internal/platform/httpserver"
	"tokenverif/internal/platform/logger"
	"tokenverif/internal/platform/metrics"
)

// main wires the verification engine, starts the re-verification scheduler
// and serves health and metrics until SIGINT or SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, log, metrics.New())
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}

	srv := httpserver.New(cfg.Server.Addr, httpserver.NewOpsRouter(app.checks))
	go func() {
		log.Info("ops server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ops server error", "error", err)
			stop()
		}
	}()

	app.runner.Start()
	log.Info("re-verification scheduler started", "schedule", cfg.Reverify.Cron, "store", cfg.Store.Driver)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.runner.Stop(shutdownCtx); err != nil {
		log.Warn("re-verification run still in progress at shutdown", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	app.close(shutdownCtx)
}
