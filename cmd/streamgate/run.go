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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/dnscache"

	"github.com/nextpulse/streamgate/internal/cache"
	"github.com/nextpulse/streamgate/internal/config"
	"github.com/nextpulse/streamgate/internal/linkstore"
	"github.com/nextpulse/streamgate/internal/linkstore/sqlite"
	"github.com/nextpulse/streamgate/internal/pool"
	"github.com/nextpulse/streamgate/internal/ratelimit"
	"github.com/nextpulse/streamgate/internal/server"
	"github.com/nextpulse/streamgate/internal/telemetry"
	"github.com/nextpulse/streamgate/internal/upstream"
	"github.com/nextpulse/streamgate/internal/upstream/storeapi"
	"github.com/nextpulse/streamgate/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting streamgate", "version", version, "addr", cfg.Server.Addr())

	ctx := context.Background()

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	// Metrics
	var (
		registry *prometheus.Registry
		metrics  *telemetry.Metrics
	)
	if cfg.Telemetry.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(registry)
	}

	// Link store. Empty DSN selects the in-process fallback.
	var links linkstore.Store
	if cfg.Database.DSN != "" {
		store, err := sqlite.New(cfg.Database.DSN)
		if err != nil {
			return err
		}
		links = store
	} else {
		slog.Warn("no database configured, links will not survive restarts")
		links = linkstore.NewMemory()
	}
	defer links.Close()

	// Identity pool: one upstream client per bot token.
	resolver := &dnscache.Resolver{}
	tokens := cfg.Upstream.BotTokens()
	clients := make([]upstream.Capability, 0, len(tokens))
	for _, token := range tokens {
		clients = append(clients, storeapi.New(storeapi.Config{
			APIID:            cfg.Upstream.APIID,
			APIHash:          cfg.Upstream.APIHash,
			BotToken:         token,
			ArchiveChannel:   cfg.Upstream.ArchiveChannel,
			EndpointTemplate: cfg.Upstream.EndpointTemplate,
		}, resolver))
	}
	clientPool := pool.New(clients...)
	defer clientPool.Close()
	slog.Info("identity pool ready", "size", clientPool.Size())

	descriptors, err := cache.New(clientPool, cfg.Cache.MaxSize, metrics)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(ratelimit.Config{
		MaxConcurrent: cfg.RateLimit.MaxConcurrentPerIP,
		Window:        cfg.RateLimit.Window,
		MinGap:        cfg.RateLimit.MinGap,
	})

	handler := server.New(server.Deps{
		Links:       links,
		Pool:        clientPool,
		Descriptors: descriptors,
		Limiter:     limiter,
		Metrics:     metrics,
		Registry:    registry,
		Domains:     cfg.Domains,
		Version:     version,
		StartTime:   time.Now(),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// DNS refresh keeps the cached resolver entries from going stale.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	runner := worker.NewRunner(
		&worker.CacheFlusher{Cache: descriptors, Interval: cfg.Cache.FlushInterval},
		&worker.LimiterSweeper{Limiter: limiter, Interval: cfg.RateLimit.Window},
		&worker.DNSRefresher{Resolver: resolver, Interval: 5 * time.Minute},
	)
	workersDone := make(chan error, 1)
	go func() {
		workersDone <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("streamgate ready", "addr", cfg.Server.Addr(), "domain", cfg.Domains.Host())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	stopWorkers()
	<-workersDone

	slog.Info("streamgate stopped")
	return nil
}
