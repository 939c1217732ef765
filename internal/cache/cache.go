// Package cache implements the Redis recency layer in front of the
// durable store. The cache is an accelerator only: every write goes to
// the store first, and any Redis failure degrades to a miss rather
// than an error.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/enersight/ga4-monitor/internal/domain"
	"github.com/enersight/ga4-monitor/internal/pkg/logger"
)

// ErrMiss is returned when a date is not cached. Callers fall back to
// the durable store.
var ErrMiss = errors.New("cache miss")

// DefaultKeyPrefix namespaces cache entries in a shared Redis.
const DefaultKeyPrefix = "ga4:metrics:"

// Cache caches recent DailyMetrics entries with a per-entry TTL.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

// Options configures a Cache.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// New connects to Redis. Connection problems are reported, not fatal;
// the pipeline still works store-only.
func New(opts Options, log *logger.Logger) *Cache {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Cache{client: client, prefix: prefix, ttl: ttl, log: log}
}

// NewWithClient wraps an existing client, used by tests.
func NewWithClient(client *redis.Client, prefix string, ttl time.Duration, log *logger.Logger) *Cache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl, log: log}
}

// Close releases the Redis connection.
func (c *Cache) Close() error { return c.client.Close() }

// Ping verifies Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) key(date string) string { return c.prefix + date }

// Get returns the cached metrics for date, or ErrMiss. Redis errors
// and corrupt entries are logged and reported as misses.
func (c *Cache) Get(ctx context.Context, date string) (domain.DailyMetrics, error) {
	raw, err := c.client.Get(ctx, c.key(date)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.DailyMetrics{}, ErrMiss
	}
	if err != nil {
		c.log.Warn("cache read failed, treating as miss", "date", date, "error", err)
		return domain.DailyMetrics{}, ErrMiss
	}
	var m domain.DailyMetrics
	if err := json.Unmarshal(raw, &m); err != nil {
		c.log.Warn("corrupt cache entry, treating as miss", "date", date, "error", err)
		return domain.DailyMetrics{}, ErrMiss
	}
	return m, nil
}

// Put stores the metrics for m.Date with the configured TTL. The TTL
// is set on every write, so refreshed entries slide forward. The
// extraction timestamp is not cached; it only matters in the store.
func (c *Cache) Put(ctx context.Context, m domain.DailyMetrics) error {
	m.ExtractedAt = time.Time{}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding cache entry for %s: %w", m.Date, err)
	}
	if err := c.client.Set(ctx, c.key(m.Date), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing cache entry for %s: %w", m.Date, err)
	}
	return nil
}

// Invalidate removes the cached entry for date, if any.
func (c *Cache) Invalidate(ctx context.Context, date string) error {
	if err := c.client.Del(ctx, c.key(date)).Err(); err != nil {
		return fmt.Errorf("invalidating cache entry for %s: %w", date, err)
	}
	return nil
}

// Info describes current cache contents for the diagnostics endpoint.
type Info struct {
	Available  bool     `json:"available"`
	KeyPrefix  string   `json:"key_prefix"`
	TTLDays    float64  `json:"ttl_days"`
	EntryCount int      `json:"entry_count"`
	Oldest     string   `json:"oldest_date,omitempty"`
	Newest     string   `json:"newest_date,omitempty"`
	Dates      []string `json:"dates,omitempty"`
}

// Stats scans the keyspace under the prefix and reports what is
// cached. An unreachable Redis yields Available=false.
func (c *Cache) Stats(ctx context.Context) Info {
	info := Info{KeyPrefix: c.prefix, TTLDays: c.ttl.Hours() / 24}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 100).Result()
		if err != nil {
			c.log.Warn("cache scan failed", "error", err)
			return info
		}
		for _, k := range keys {
			info.Dates = append(info.Dates, k[len(c.prefix):])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(info.Dates)
	info.Available = true
	info.EntryCount = len(info.Dates)
	if len(info.Dates) > 0 {
		info.Oldest = info.Dates[0]
		info.Newest = info.Dates[len(info.Dates)-1]
	}
	return info
}

// RangeReader is the slice of the durable store the warm-up needs.
type RangeReader interface {
	GetRange(ctx context.Context, start, end string) ([]domain.DailyMetrics, error)
}

// SyncFromStore warms the cache with the store's rows for the trailing
// TTL window. Used at startup after restarts wiped Redis.
func (c *Cache) SyncFromStore(ctx context.Context, src RangeReader) (int, error) {
	days := int(c.ttl.Hours() / 24)
	if days < 1 {
		days = 1
	}
	start := domain.DaysAgo(days)
	end := domain.Yesterday()

	rows, err := src.GetRange(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("reading store for cache sync: %w", err)
	}
	loaded := 0
	for _, m := range rows {
		if err := c.Put(ctx, m); err != nil {
			c.log.Warn("cache sync write failed", "date", m.Date, "error", err)
			continue
		}
		loaded++
	}
	c.log.Info("cache synced from store", "loaded", loaded, "window_start", start, "window_end", end)
	return loaded, nil
}
