package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/velzox/apimon/core"
)

// StatsCache serves dashboard aggregates from Redis with a short TTL, falling
// back to the store on miss or on any Redis failure. Aggregate queries scan
// the check_results table, so the admin API should not hit PostgreSQL on
// every dashboard refresh.
//
// Cache failures are never surfaced to callers. A broken Redis degrades to
// direct store reads.
type StatsCache struct {
	store  Store
	client *redis.Client
	ttl    time.Duration
	logger core.Logger
}

// StatsCacheOptions configures the stats cache.
type StatsCacheOptions struct {
	Store  Store
	Config core.CacheConfig
	Logger core.Logger
}

// NewStatsCache connects to Redis and verifies the connection. When caching
// is disabled the returned cache passes every read straight through to the
// store, so callers never need to branch on whether caching is on.
func NewStatsCache(opts StatsCacheOptions) (*StatsCache, error) {
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	sc := &StatsCache{
		store:  opts.Store,
		ttl:    opts.Config.TTL,
		logger: opts.Logger,
	}
	if !opts.Config.Enabled || opts.Config.RedisURL == "" {
		opts.Logger.Info("Stats cache disabled, reads go straight to the store", nil)
		return sc, nil
	}

	redisOpt, err := redis.ParseURL(opts.Config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("store: invalid Redis URL: %w", core.ErrInvalidConfiguration)
	}
	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: connect to Redis: %w", err)
	}

	sc.client = client
	opts.Logger.Info("Stats cache connected", map[string]interface{}{
		"ttl": opts.Config.TTL.String(),
	})
	return sc, nil
}

func statsKey(endpointID int64, window time.Duration) string {
	return fmt.Sprintf("apimon:stats:%d:%s", endpointID, window)
}

func hourlyKey(endpointID int64, window time.Duration) string {
	return fmt.Sprintf("apimon:hourly:%d:%s", endpointID, window)
}

// EndpointStats returns the dashboard aggregates for one endpoint over the
// trailing window, cached.
func (sc *StatsCache) EndpointStats(ctx context.Context, endpointID int64, window time.Duration) (*EndpointStats, error) {
	key := statsKey(endpointID, window)
	if cached, ok := sc.lookup(ctx, key); ok {
		var stats EndpointStats
		if err := json.Unmarshal(cached, &stats); err == nil {
			return &stats, nil
		}
	}

	since := time.Now().Add(-window)
	uptime, err := sc.store.UptimePct(ctx, endpointID, since)
	if err != nil {
		return nil, err
	}
	avg, err := sc.store.AvgLatency(ctx, endpointID, since)
	if err != nil {
		return nil, err
	}
	breakdown, err := sc.store.FailureBreakdown(ctx, endpointID, since)
	if err != nil {
		return nil, err
	}
	downtime, err := sc.store.DowntimeMinutes(ctx, endpointID, since)
	if err != nil {
		return nil, err
	}
	lastFailure, err := sc.store.LastFailureAt(ctx, endpointID)
	if err != nil {
		return nil, err
	}

	stats := &EndpointStats{
		UptimePct:       uptime,
		AvgLatencyMs:    avg,
		Breakdown:       breakdown,
		DowntimeMinutes: downtime,
		LastFailureAt:   lastFailure,
	}
	sc.fill(ctx, key, stats)
	return stats, nil
}

// HourlyStats returns the hourly rollup for one endpoint, cached.
func (sc *StatsCache) HourlyStats(ctx context.Context, endpointID int64, window time.Duration) ([]HourlyStat, error) {
	key := hourlyKey(endpointID, window)
	if cached, ok := sc.lookup(ctx, key); ok {
		var buckets []HourlyStat
		if err := json.Unmarshal(cached, &buckets); err == nil {
			return buckets, nil
		}
	}

	buckets, err := sc.store.HourlyStats(ctx, endpointID, time.Now().Add(-window))
	if err != nil {
		return nil, err
	}
	sc.fill(ctx, key, buckets)
	return buckets, nil
}

// Invalidate drops all cached aggregates for an endpoint. Called after
// endpoint deletion so dashboards do not show a ghost.
func (sc *StatsCache) Invalidate(ctx context.Context, endpointID int64) {
	if sc.client == nil {
		return
	}
	patterns := []string{
		fmt.Sprintf("apimon:stats:%d:*", endpointID),
		fmt.Sprintf("apimon:hourly:%d:*", endpointID),
	}
	for _, pattern := range patterns {
		keys, err := sc.client.Keys(ctx, pattern).Result()
		if err != nil {
			sc.logger.Warn("Stats cache invalidation failed", map[string]interface{}{
				"endpoint_id": endpointID,
				"error":       err.Error(),
			})
			return
		}
		if len(keys) > 0 {
			_ = sc.client.Del(ctx, keys...).Err()
		}
	}
}

func (sc *StatsCache) lookup(ctx context.Context, key string) ([]byte, bool) {
	if sc.client == nil {
		return nil, false
	}
	raw, err := sc.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		sc.logger.Warn("Stats cache read failed, falling back to store", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return nil, false
	}
	return raw, true
}

func (sc *StatsCache) fill(ctx context.Context, key string, value interface{}) {
	if sc.client == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := sc.client.Set(ctx, key, raw, sc.ttl).Err(); err != nil {
		sc.logger.Warn("Stats cache write failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

// Close releases the Redis connection if one was opened.
func (sc *StatsCache) Close() error {
	if sc.client == nil {
		return nil
	}
	return sc.client.Close()
}
