// Command server runs the dashboard API on top of the extraction
// pipeline's store and cache.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/enersight/ga4-monitor/internal/api"
	"github.com/enersight/ga4-monitor/internal/cache"
	"github.com/enersight/ga4-monitor/internal/config"
	"github.com/enersight/ga4-monitor/internal/ga4"
	"github.com/enersight/ga4-monitor/internal/ingest"
	"github.com/enersight/ga4-monitor/internal/pkg/logger"
	"github.com/enersight/ga4-monitor/internal/query"
	"github.com/enersight/ga4-monitor/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialect, err := store.DialectFor(cfg.Database.Engine)
	if err != nil {
		logger.Error("database setup failed", "error", err)
		os.Exit(1)
	}
	dsn := cfg.Database.URL
	if dialect.Name() == "sqlite" {
		dsn = cfg.Database.Path
	}
	st, err := store.Open(ctx, dialect, dsn, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.Error("database connection failed", "engine", cfg.Database.Engine, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("schema setup failed", "error", err)
		os.Exit(1)
	}
	logger.Info("database ready", "engine", dialect.Name())

	c := cache.New(cache.Options{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
		TTL:       cfg.Redis.TTL(),
	}, logger.New("cache"))
	defer c.Close()

	if err := c.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, serving store-only", "addr", cfg.Redis.Addr, "error", err)
	} else if loaded, err := c.SyncFromStore(ctx, st); err != nil {
		logger.Warn("cache warm-up failed", "error", err)
	} else {
		logger.Info("cache warmed", "entries", loaded)
	}

	source := ga4.NewClient(cfg.GA4)
	orch := ingest.New(source, st, c, cfg.Extraction.DelayDays())
	queries := query.New(st, c)

	srv := api.NewServer(queries, orch, c, api.Options{
		MaxBackfillDays: cfg.Extraction.MaxBackfillDays,
		HealthChecks: map[string]api.HealthCheck{
			"database": func(ctx context.Context) error { return st.DB().PingContext(ctx) },
			"redis":    c.Ping,
		},
	})

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
