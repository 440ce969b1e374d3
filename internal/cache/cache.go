package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Reports are stored as JSON under a typed key prefix so raw Get/Set
// traffic and report traffic never collide.
const reportKeyPrefix = "report:"

func reportKey(reportID string) string {
	return reportKeyPrefix + reportID
}

func encodeReport(report *domain.AnomalyReport) ([]byte, error) {
	return json.Marshal(report)
}

func decodeReport(data []byte) (*domain.AnomalyReport, error) {
	if data == nil {
		return nil, nil
	}
	var report domain.AnomalyReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// New selects a cache implementation from configuration.
// Community tier runs on the in-process LRU; Pro runs on Redis, with
// the optional two-phase mode layering the LRU in front of it.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache layers a local LRU (L1) in front of Redis (L2).
// Reads hit L1 first and backfill it on an L2 hit; writes go to both,
// with L1 held to a short TTL so instances converge quickly.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache builds the L1+L2 pair from one config.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  NewLRUCache(cfg.LocalMaxSize),
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get reads L1, falls back to L2, and backfills L1 on an L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes both layers. L1 never holds an entry longer than l1TTL
// even when the caller asks for more.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	localTTL := c.l1TTL
	if ttl < localTTL {
		localTTL = ttl
	}
	if err := c.local.Set(ctx, tenantID, key, value, localTTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes the entry from both layers.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetReport reads a cached anomaly report through both layers.
func (c *TwoPhaseCache) GetReport(ctx context.Context, tenantID string, reportID string) (*domain.AnomalyReport, error) {
	data, err := c.Get(ctx, tenantID, reportKey(reportID))
	if err != nil {
		return nil, err
	}
	return decodeReport(data)
}

// SetReport caches a computed anomaly report in both layers.
func (c *TwoPhaseCache) SetReport(ctx context.Context, tenantID string, reportID string, report *domain.AnomalyReport, ttl time.Duration) error {
	data, err := encodeReport(report)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, reportKey(reportID), data, ttl)
}

// IncrementCounter always goes to Redis. A local counter would drift
// between instances.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, tenantID, key, window)
}

// Ping checks both layers.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both layers.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats reports the L1 fill level.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
