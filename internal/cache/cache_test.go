package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "household-a"

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, tenantID, "forecast:2026-09", []byte(`{"amount":128000}`), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "forecast:2026-09")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != `{"amount":128000}` {
			t.Errorf("unexpected value: %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "forecast:1999-01")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil on miss, got %q", val)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "balance", []byte("100"), time.Minute)
		_ = cache.Set(ctx, tenantID, "balance", []byte("250"), time.Minute)

		val, _ := cache.Get(ctx, tenantID, "balance")
		if string(val) != "250" {
			t.Errorf("expected overwritten value 250, got %s", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "doomed", []byte("x"), time.Minute)

		if err := cache.Delete(ctx, tenantID, "doomed"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := cache.Get(ctx, tenantID, "doomed"); val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "short-lived", []byte("temp"), 10*time.Millisecond)

		if val, _ := cache.Get(ctx, tenantID, "short-lived"); val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		if val, _ := cache.Get(ctx, tenantID, "short-lived"); val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)

		_ = small.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		// Touch "a" so "b" becomes the coldest entry.
		_, _ = small.Get(ctx, tenantID, "a")

		_ = small.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, tenantID, "b"); val != nil {
			t.Error("expected coldest entry 'b' to be evicted")
		}
		if val, _ := small.Get(ctx, tenantID, "a"); val == nil {
			t.Error("expected recently used 'a' to survive")
		}
		if val, _ := small.Get(ctx, tenantID, "d"); val == nil {
			t.Error("expected newest entry 'd' to exist")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "household-a", "balance", []byte("a-balance"), time.Minute)
		_ = cache.Set(ctx, "household-b", "balance", []byte("b-balance"), time.Minute)

		valA, _ := cache.Get(ctx, "household-a", "balance")
		valB, _ := cache.Get(ctx, "household-b", "balance")

		if string(valA) != "a-balance" {
			t.Errorf("household-a read %q", valA)
		}
		if string(valB) != "b-balance" {
			t.Errorf("household-b read %q", valB)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := cache.Set(ctx, "", "key", []byte("value"), time.Minute); err == nil {
			t.Error("expected Set error for empty tenantID")
		}
		if _, err := cache.Get(ctx, "", "key"); err == nil {
			t.Error("expected Get error for empty tenantID")
		}
		if _, err := cache.IncrementCounter(ctx, "", "key", time.Minute); err == nil {
			t.Error("expected IncrementCounter error for empty tenantID")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		window := 100 * time.Millisecond

		count, err := cache.IncrementCounter(ctx, tenantID, "analysis-rate", window)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected count 1, got %d", count)
		}

		if count, _ = cache.IncrementCounter(ctx, tenantID, "analysis-rate", window); count != 2 {
			t.Errorf("expected count 2, got %d", count)
		}

		time.Sleep(150 * time.Millisecond)

		if count, _ = cache.IncrementCounter(ctx, tenantID, "analysis-rate", window); count != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count)
		}
	})

	t.Run("ReportCache", func(t *testing.T) {
		report := &domain.AnomalyReport{
			ID:            "report-001",
			RiskScore:     77,
			CriticalCount: 1,
			Summary:       "High risk: 3 anomalies detected, 1 flagged as possible fraud",
		}

		if err := cache.SetReport(ctx, tenantID, report.ID, report, time.Minute); err != nil {
			t.Fatalf("SetReport failed: %v", err)
		}

		got, err := cache.GetReport(ctx, tenantID, report.ID)
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}
		if got.RiskScore != report.RiskScore {
			t.Errorf("expected RiskScore %d, got %d", report.RiskScore, got.RiskScore)
		}
		if got.Summary != report.Summary {
			t.Errorf("expected Summary %q, got %q", report.Summary, got.Summary)
		}
	})

	t.Run("ReportCacheMiss", func(t *testing.T) {
		got, err := cache.GetReport(ctx, tenantID, "no-such-report")
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil for uncached report, got %+v", got)
		}
	})

	t.Run("ReportKeyDoesNotCollide", func(t *testing.T) {
		// A raw entry named like a report ID lives under a different
		// key space than the report itself.
		_ = cache.Set(ctx, tenantID, "report-002", []byte("raw"), time.Minute)

		got, err := cache.GetReport(ctx, tenantID, "report-002")
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}
		if got != nil {
			t.Error("raw entry leaked into the report key space")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		stats := NewLRUCache(50)
		_ = stats.Set(ctx, tenantID, "k1", []byte("v1"), time.Minute)
		_ = stats.Set(ctx, tenantID, "k2", []byte("v2"), time.Minute)

		size, capacity := stats.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		c := NewLRUCache(10)
		_ = c.Set(ctx, tenantID, "k", []byte("v"), time.Minute)

		if err := c.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if val, _ := c.Get(ctx, tenantID, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
