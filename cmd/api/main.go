package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/art-gallery/api-go/internal/blob"
	"github.com/example/art-gallery/api-go/internal/compositor"
	"github.com/example/art-gallery/api-go/internal/config"
	"github.com/example/art-gallery/api-go/internal/export"
	"github.com/example/art-gallery/api-go/internal/httpapi"
	"github.com/example/art-gallery/api-go/internal/lock"
	"github.com/example/art-gallery/api-go/internal/logging"
	"github.com/example/art-gallery/api-go/internal/metrics"
	"github.com/example/art-gallery/api-go/internal/relay"
	"github.com/example/art-gallery/api-go/internal/resolver"
	"github.com/example/art-gallery/api-go/internal/store"
)

func main() {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api exited", logging.Err(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	jobStore, err := store.Open(filepath.Join(cfg.DataDir, "exports.db"))
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer jobStore.Close()
	if n, err := jobStore.FailInterrupted(ctx, "interrupted by restart"); err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	} else if n > 0 {
		logger.Warn("marked interrupted exports as failed", zap.Int64("count", n))
	}

	locks, closeLocks, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocks()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		addr := cfg.Addr
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		baseURL = fmt.Sprintf("http://%s", addr)
	}
	relayURL := cfg.RelayURL
	if relayURL == "" {
		relayURL = baseURL
	}

	periodMode, err := compositor.ParsePeriodMode(cfg.PeriodMode)
	if err != nil {
		return err
	}
	exportLog := logger.Named("export")
	newExporter := func() *export.Coordinator {
		res := resolver.New(relayURL,
			resolver.WithMaxAttempts(cfg.MaxAttempts),
			resolver.WithBackoff(cfg.Backoff),
			resolver.WithLogger(logger.Named("resolver")),
			resolver.WithMetrics(m),
		)
		newDoc := func() (compositor.Compositor, error) {
			return compositor.New(compositor.Options{
				PeriodMode:  periodMode,
				ImageHeight: cfg.ImageHeightMM,
				Locale:      cfg.Locale,
				Currency:    cfg.Currency,
			})
		}
		return export.New(res, newDoc, export.WithLogger(exportLog), export.WithMetrics(m))
	}

	fetcher := relay.NewFetcher(cfg.RelayTimeout, m)
	fetcher.AllowPrivate = cfg.RelayAllowPrivate
	if fetcher.AllowPrivate {
		logger.Warn("relay may fetch loopback and private-network hosts")
	}

	server := &httpapi.Server{
		Blobs:          blob.LocalFS{Root: cfg.DataDir},
		Jobs:           jobStore,
		BaseURL:        baseURL,
		Relay:          fetcher,
		NewExporter:    newExporter,
		Locks:          locks,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger.Named("http"),
		BaseContext:    ctx,
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", cfg.Addr), zap.String("baseURL", baseURL), zap.String("relay", relayURL))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		server.Wait()
		logger.Info("api stopped")
		return err
	})
	return g.Wait()
}

func newLocker(ctx context.Context, cfg config.Config, logger *zap.Logger) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-process export locks")
		return lock.NewMemory(), func() {}, nil
	}
	r := lock.NewRedis(cfg.RedisAddr, os.Getenv("ART_REDIS_PASSWORD"), 0)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.Ping(pingCtx); err != nil {
		_ = r.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("using redis export locks", zap.String("addr", cfg.RedisAddr))
	return r, func() { _ = r.Close() }, nil
}
