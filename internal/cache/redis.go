package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RedisCache serves the Pro tier and acts as L2 inside
// TwoPhaseCache. Keys carry a service and tenant prefix so multiple
// Kestrel deployments can share one Redis.
type RedisCache struct {
	client *redis.Client
}

// incrScript bumps a counter and arms its expiry only on the first
// increment of a window, atomically.
var incrScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func redisKey(tenantID, key string) string {
	return "kestrel:" + tenantID + ":" + key
}

// Get returns the cached value, or (nil, nil) on a miss.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	val, err := c.client.Get(ctx, redisKey(tenantID, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value with a TTL.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Set(ctx, redisKey(tenantID, key), value, ttl).Err()
}

// Delete removes a value.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Del(ctx, redisKey(tenantID, key)).Err()
}

// GetReport returns a cached anomaly report, or (nil, nil) on a miss.
func (c *RedisCache) GetReport(ctx context.Context, tenantID string, reportID string) (*domain.AnomalyReport, error) {
	data, err := c.Get(ctx, tenantID, reportKey(reportID))
	if err != nil {
		return nil, err
	}
	return decodeReport(data)
}

// SetReport caches a computed anomaly report.
func (c *RedisCache) SetReport(ctx context.Context, tenantID string, reportID string, report *domain.AnomalyReport, ttl time.Duration) error {
	data, err := encodeReport(report)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, reportKey(reportID), data, ttl)
}

// IncrementCounter bumps a windowed counter shared across instances.
func (c *RedisCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	full := redisKey(tenantID, "counter:"+key)
	return incrScript.Run(ctx, c.client, []string{full}, window.Milliseconds()).Int64()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
