package domain

import (
	"context"
	"time"
)

// Cache is the report and rate-accounting cache. The Community tier
// backs it with a local LRU, Pro with Redis (optionally fronted by the
// LRU). Every method takes a tenantID; implementations must keep
// tenants fully isolated.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetReport retrieves a cached anomaly report.
	GetReport(ctx context.Context, tenantID string, reportID string) (*AnomalyReport, error)

	// SetReport caches a computed anomaly report.
	SetReport(ctx context.Context, tenantID string, reportID string, report *AnomalyReport, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for per-tenant analysis rate accounting.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
