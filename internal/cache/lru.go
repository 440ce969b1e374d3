// Package cache provides caching implementations for Kestrel.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LRUCache is an in-process cache with per-entry TTL and
// least-recently-used eviction. It serves the Community tier on its
// own and acts as L1 inside TwoPhaseCache.
type LRUCache struct {
	mu      sync.RWMutex
	cap     int
	index   map[string]*list.Element
	lru     *list.List // front = most recently used
	windows map[string]*windowCounter
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type windowCounter struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a cache holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		cap:     maxSize,
		index:   make(map[string]*list.Element),
		lru:     list.New(),
		windows: make(map[string]*windowCounter),
	}
}

func lruKey(tenantID, key string) string {
	return tenantID + ":" + key
}

// Get returns the cached value, or (nil, nil) on a miss. Expired
// entries are evicted on read.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[lruKey(tenantID, key)]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.evict(elem)
		return nil, nil
	}

	c.lru.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value with a TTL, evicting the coldest entries when
// the cache is over capacity.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	full := lruKey(tenantID, key)
	deadline := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[full]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = deadline
		c.lru.MoveToFront(elem)
		return nil
	}

	c.index[full] = c.lru.PushFront(&lruEntry{key: full, value: value, expiresAt: deadline})
	for c.lru.Len() > c.cap {
		if oldest := c.lru.Back(); oldest != nil {
			c.evict(oldest)
		}
	}
	return nil
}

// Delete removes an entry if present.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[lruKey(tenantID, key)]; ok {
		c.evict(elem)
	}
	return nil
}

// GetReport returns a cached anomaly report, or (nil, nil) on a miss.
func (c *LRUCache) GetReport(ctx context.Context, tenantID string, reportID string) (*domain.AnomalyReport, error) {
	data, err := c.Get(ctx, tenantID, reportKey(reportID))
	if err != nil {
		return nil, err
	}
	return decodeReport(data)
}

// SetReport caches a computed anomaly report.
func (c *LRUCache) SetReport(ctx context.Context, tenantID string, reportID string, report *domain.AnomalyReport, ttl time.Duration) error {
	data, err := encodeReport(report)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, reportKey(reportID), data, ttl)
}

// IncrementCounter bumps a windowed counter, starting a fresh window
// when the previous one has expired.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	full := lruKey(tenantID, "counter:"+key)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[full]
	if !ok || now.After(w.expiresAt) {
		c.windows[full] = &windowCounter{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}

	w.count++
	return w.count, nil
}

// Ping always succeeds for the in-process cache.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops all entries and counters.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]*list.Element)
	c.lru = list.New()
	c.windows = make(map[string]*windowCounter)
	return nil
}

// Stats reports current fill and capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len(), c.cap
}

// evict removes the element; caller holds the lock.
func (c *LRUCache) evict(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.index, elem.Value.(*lruEntry).key)
}
