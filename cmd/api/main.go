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

	httpadapter "github.com/kirillkom/corpus-router/internal/adapters/http"
	"github.com/kirillkom/corpus-router/internal/bootstrap"
	"github.com/kirillkom/corpus-router/internal/config"
	"github.com/kirillkom/corpus-router/internal/core/usecase"
	"github.com/kirillkom/corpus-router/internal/observability/logging"
	"github.com/kirillkom/corpus-router/internal/observability/metrics"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	sessions, err := app.NewSessionManager(ctx, usecase.WithSessionObserver(httpMetrics))
	if err != nil {
		logger.Error("corpus_unavailable", "data_path", cfg.DataPath, "error", err)
		os.Exit(1)
	}
	defer sessions.CloseAll()

	go func() {
		if err := app.FollowPersistedCorpus(ctx, sessions); err != nil {
			logger.Error("corpus_follow_failed", "error", err)
		}
	}()

	// Answers stream for as long as generation runs, so there is no write timeout.
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           httpadapter.NewRouter(cfg, sessions, httpMetrics).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
