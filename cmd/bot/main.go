package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"lynchvision/internal/config"
	"lynchvision/internal/handlers"
	"lynchvision/internal/httpclient"
	"lynchvision/internal/logging"
	"lynchvision/internal/mediagroup"
	"lynchvision/internal/metrics"
	"lynchvision/internal/session"
	"lynchvision/internal/studio"
	"lynchvision/internal/telegram"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.RequireTelegram(); err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, os.Stdout)

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4:      cfg.PreferIPv4,
		Timeout:         cfg.HTTPTimeout,
		MaxConnsPerHost: cfg.RenderWorkers * cfg.MaxConcurrent,
	})

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: httpClient,
		Logger:     logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		logger.Error("telegram init failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := studio.FromConfig(ctx, cfg, httpClient, metrics.New(), logger)
	if err != nil {
		logger.Error("studio init failed", "err", err)
		os.Exit(1)
	}

	handler := handlers.New(handlers.Options{
		Messenger: tg,
		Studio:    st,
		Sessions:  session.NewStore(session.Options{TTL: cfg.SessionTTL}),
		Logger:    logger,
	})

	// A grid production spans several model calls, so each job gets the
	// whole run budget rather than a single request timeout.
	jobs := newLimiter(ctx, cfg.MaxConcurrent, cfg.RunTimeout)
	defer jobs.wait()

	albums := mediagroup.New(mediagroup.Options{
		OnFlush: func(album mediagroup.Album) {
			if !jobs.spawn(func(runCtx context.Context) { handler.HandleAlbum(runCtx, album) }) {
				handler.RejectAlbum(album)
			}
		},
	})
	// Runs before jobs.wait. Albums still buffered at shutdown are rejected
	// with a notice to the chat rather than started on a dead context.
	defer albums.Close()
	handler.SetAlbumAggregator(albums)

	logger.Info("bot started", "username", tg.Username(), "backend", cfg.GeminiBackend)

	updates := tg.Updates(telegram.UpdatesOptions{Timeout: 30 * time.Second})
	defer tg.StopUpdates()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case update, ok := <-updates:
			if !ok {
				logger.Info("updates channel closed")
				return
			}
			jobs.spawn(func(runCtx context.Context) {
				if err := handler.HandleUpdate(runCtx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle update failed", "update_id", update.UpdateID, "err", err)
				}
			})
		}
	}
}

// limiter runs jobs on their own goroutine, at most n at a time.
type limiter struct {
	ctx     context.Context
	sem     chan struct{}
	timeout time.Duration
	wg      sync.WaitGroup
}

func newLimiter(ctx context.Context, n int, timeout time.Duration) *limiter {
	return &limiter{ctx: ctx, sem: make(chan struct{}, max(n, 1)), timeout: timeout}
}

// spawn blocks until a slot frees up. It reports false and drops the job
// once shutdown has begun.
func (l *limiter) spawn(job func(ctx context.Context)) bool {
	if l.ctx.Err() != nil {
		return false
	}
	select {
	case l.sem <- struct{}{}:
	case <-l.ctx.Done():
		return false
	}

	l.wg.Add(1)
	go func() {
		defer func() {
			<-l.sem
			l.wg.Done()
		}()

		runCtx, cancel := context.WithTimeout(l.ctx, l.timeout)
		defer cancel()
		job(runCtx)
	}()
	return true
}

func (l *limiter) wait() {
	l.wg.Wait()
}
