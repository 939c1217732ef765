// Command extract runs one extraction pass from the command line,
// intended for cron. Exit status is non-zero when any date failed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/enersight/ga4-monitor/internal/cache"
	"github.com/enersight/ga4-monitor/internal/config"
	"github.com/enersight/ga4-monitor/internal/domain"
	"github.com/enersight/ga4-monitor/internal/ga4"
	"github.com/enersight/ga4-monitor/internal/ingest"
	"github.com/enersight/ga4-monitor/internal/pkg/logger"
	"github.com/enersight/ga4-monitor/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	date := flag.String("date", "", "single date to extract (YYYY-MM-DD, default yesterday)")
	start := flag.String("start", "", "backfill range start (YYYY-MM-DD)")
	end := flag.String("end", "", "backfill range end (YYYY-MM-DD)")
	force := flag.Bool("force", false, "re-extract dates already stored")
	delayed := flag.Bool("delayed", false, "extract the delayed channel/campaign splits instead")
	sync := flag.Bool("sync", false, "fill store gaps: in [start, end] when given, else catch up from the latest stored date")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := buildPipeline(ctx, cfg)
	if err != nil {
		logger.Error("pipeline setup failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	switch {
	case *delayed:
		res, err := orch.RunDelayed(ctx)
		if err != nil {
			logger.Error("delayed extraction failed", "error", err)
			os.Exit(1)
		}
		emit(res)

	case *sync:
		var sum ingest.Summary
		switch {
		case *start == "" && *end == "":
			// no range given, resume from the last stored date
			sum, err = orch.CatchUp(ctx, ingest.RangeOptions{IncludeChannels: true})
		case *start != "" && *end != "":
			sum, err = orch.SyncMissing(ctx, *start, *end)
		default:
			fmt.Fprintln(os.Stderr, "-sync takes either both -start and -end or neither")
			os.Exit(2)
		}
		if err != nil {
			logger.Error("sync failed", "error", err)
			os.Exit(1)
		}
		emit(sum)
		if sum.Failed > 0 {
			os.Exit(1)
		}

	case *start != "" || *end != "":
		if *start == "" || *end == "" {
			fmt.Fprintln(os.Stderr, "backfill requires both -start and -end")
			os.Exit(2)
		}
		sum, err := orch.RunRange(ctx, *start, *end, *force)
		if err != nil {
			logger.Error("backfill failed", "error", err)
			os.Exit(1)
		}
		emit(sum)
		if sum.Failed > 0 {
			os.Exit(1)
		}

	default:
		target := *date
		if target == "" {
			target = domain.Yesterday()
		}
		res := orch.RunDate(ctx, target, *force)
		emit(res)
		if res.Outcome == ingest.OutcomeFailed {
			os.Exit(1)
		}
	}
}

func buildPipeline(ctx context.Context, cfg *config.Config) (*ingest.Orchestrator, func(), error) {
	dialect, err := store.DialectFor(cfg.Database.Engine)
	if err != nil {
		return nil, nil, err
	}
	dsn := cfg.Database.URL
	if dialect.Name() == "sqlite" {
		dsn = cfg.Database.Path
	}
	st, err := store.Open(ctx, dialect, dsn, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}

	c := cache.New(cache.Options{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
		TTL:       cfg.Redis.TTL(),
	}, logger.New("cache"))
	if err := c.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, extraction will be store-only", "error", err)
	}

	source := ga4.NewClient(cfg.GA4)
	orch := ingest.New(source, st, c, cfg.Extraction.DelayDays())

	cleanup := func() {
		c.Close()
		st.Close()
	}
	return orch, cleanup, nil
}

func emit(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
