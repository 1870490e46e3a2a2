// Package main is the entrypoint for the fleetsignal API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/fleetsignal/internal/api"
	"github.com/kiranshivaraju/fleetsignal/internal/api/handler"
	"github.com/kiranshivaraju/fleetsignal/internal/cache"
	"github.com/kiranshivaraju/fleetsignal/internal/candidates"
	"github.com/kiranshivaraju/fleetsignal/internal/config"
	"github.com/kiranshivaraju/fleetsignal/internal/jobs"
	"github.com/kiranshivaraju/fleetsignal/internal/metrics"
	"github.com/kiranshivaraju/fleetsignal/internal/store"
	"github.com/kiranshivaraju/fleetsignal/internal/tsreader"
	"github.com/kiranshivaraju/fleetsignal/internal/vectorindex"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config and analysis policy, fail fast on either
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	policy, err := config.LoadPolicy(cfg.Jobs.PolicyFile)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"vector_index", cfg.VectorIndex.Provider,
		"workers", cfg.Jobs.Workers,
		"max_buckets", policy.MaxBuckets,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// 6. Time-series reader: HTTP, throttled, retried, cached
	readerClient := tsreader.NewHTTPClient(cfg.Reader.BaseURL, cfg.Reader.Token, cfg.Reader.Timeout)
	reader, err := newReader(readerClient, cfg.Reader)
	if err != nil {
		return fmt.Errorf("create reader: %w", err)
	}
	slog.Info("time-series reader initialized", "base_url", cfg.Reader.BaseURL)

	index, err := vectorindex.New(cfg.VectorIndex)
	if err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}

	// 7. Create store and job engine
	pgStore := store.NewPostgresStore(pool)

	if raw, err := bootstrapAdminKey(ctx, pgStore, cfg.Server.BootstrapAdminKey); err != nil {
		return fmt.Errorf("bootstrap admin key: %w", err)
	} else if raw != "" {
		announceBootstrapKey(os.Stderr, cfg.Server.BootstrapAdminKey, raw)
	}

	engine := jobs.NewEngine(jobs.Deps{
		Store:      pgStore,
		Reader:     reader,
		Candidates: candidates.NewGenerator(pgStore, reader, index, policy),
		Policy:     policy,
	}, redisCache, jobs.Config{
		Workers:         cfg.Jobs.Workers,
		StatusTTL:       cfg.Jobs.StatusTTL,
		PreviewTimeout:  cfg.Jobs.PreviewTimeout,
		PreviewCacheTTL: cfg.Jobs.PreviewCacheTTL,
	})

	if _, err := engine.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile jobs: %w", err)
	}
	go engine.RunJanitor(ctx, cfg.Jobs.GCInterval, cfg.Jobs.Retention)

	// 8. Build router with dependencies
	health := handler.NewHealthHandler(healthChecks(pgStore, redisCache, readerClient))
	router := api.NewRouter(api.NewDependencies(pgStore, redisCache, engine, health, cfg.Server.RateLimitPerMinute))

	// 9. Start HTTP and metrics servers
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	for _, s := range []*http.Server{srv, metricsSrv} {
		go func(s *http.Server) {
			slog.Info("server listening", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(s)
	}

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown: stop taking requests, then let running jobs finish
	// or mark them failed.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown", "error", err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("engine shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newReader stacks the read-path decorators around the HTTP client. The
// cache sits outermost so hits skip the limiter.
func newReader(client tsreader.Reader, cfg config.ReaderConfig) (tsreader.Reader, error) {
	var r tsreader.Reader = tsreader.NewThrottledReader(client, cfg.RPS, cfg.Burst)
	r = tsreader.NewRetryingReader(r, uint(cfg.RetryAttempts), cfg.RetryDelay)
	return tsreader.NewCachingReader(r, cfg.CacheSize)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type readier interface {
	Ready(ctx context.Context) error
}

func healthChecks(db, c pinger, reader readier) map[string]handler.Check {
	return map[string]handler.Check{
		"database": db.Ping,
		"cache":    c.Ping,
		"reader":   reader.Ready,
	}
}

// bootstrapAdminKey mints an admin key named name when the key table is
// empty, returning the raw key. It returns "" when name is unset or keys
// already exist.
func bootstrapAdminKey(ctx context.Context, st store.Store, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	existing, err := st.ListAPIKeys(ctx)
	if err != nil {
		return "", fmt.Errorf("list api keys: %w", err)
	}
	if len(existing) > 0 {
		return "", nil
	}
	raw, key, err := handler.NewAPIKey(name, []string{models.ScopeAdmin})
	if err != nil {
		return "", err
	}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		return "", fmt.Errorf("create api key: %w", err)
	}
	return raw, nil
}

// announceBootstrapKey prints the raw key once to w, outside the structured
// log. Only the bcrypt hash is stored, and the log carries the prefix alone.
func announceBootstrapKey(w io.Writer, name, raw string) {
	fmt.Fprintf(w, "bootstrap admin key %q: %s\nstore it now; it will not be shown again\n", name, raw)
	slog.Warn("bootstrap admin key created", "name", name, "key_prefix", raw[:8])
}
