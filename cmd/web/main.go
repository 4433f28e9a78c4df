package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"lynchvision/internal/config"
	"lynchvision/internal/httpclient"
	"lynchvision/internal/logging"
	"lynchvision/internal/metrics"
	"lynchvision/internal/session"
	"lynchvision/internal/studio"
	"lynchvision/internal/web"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, os.Stdout)

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	st, err := studio.FromConfig(ctx, cfg, httpClient, m, logger)
	if err != nil {
		logger.Error("studio init failed", "err", err)
		os.Exit(1)
	}

	app := web.New(web.Options{
		Studio:         st,
		Sessions:       session.NewStore(session.Options{TTL: cfg.SessionTTL}),
		Metrics:        m,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RunTimeout:     cfg.RunTimeout,
		SessionTTL:     cfg.SessionTTL,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("web started", "addr", cfg.WebAddr, "backend", cfg.GeminiBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
	app.Close()
}
