package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "household-a"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var got *domain.Message
		ready := make(chan struct{})

		_, err := bus.Subscribe(ctx, tenantID, domain.TopicLedgerUpdated, func(ctx context.Context, msg *domain.Message) error {
			got = msg
			close(ready)
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		time.Sleep(10 * time.Millisecond)

		if err := bus.Publish(ctx, tenantID, domain.TopicLedgerUpdated, []byte(`{"reason":"batch"}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case <-ready:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}

		if string(got.Payload) != `{"reason":"batch"}` {
			t.Errorf("unexpected payload: %s", got.Payload)
		}
		if got.TenantID != tenantID {
			t.Errorf("expected tenantID %q, got %q", tenantID, got.TenantID)
		}
		if got.Topic != domain.TopicLedgerUpdated {
			t.Errorf("expected topic %q, got %q", domain.TopicLedgerUpdated, got.Topic)
		}
		if got.ID == "" {
			t.Error("message ID not assigned")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var countA, countB atomic.Int32

		bus.Subscribe(ctx, "household-a", domain.TopicReportReady, func(ctx context.Context, msg *domain.Message) error {
			countA.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "household-b", domain.TopicReportReady, func(ctx context.Context, msg *domain.Message) error {
			countB.Add(1)
			return nil
		})

		time.Sleep(10 * time.Millisecond)

		bus.Publish(ctx, "household-a", domain.TopicReportReady, []byte("report"))
		time.Sleep(50 * time.Millisecond)

		if countA.Load() != 1 {
			t.Errorf("household-a should receive 1 message, got %d", countA.Load())
		}
		if countB.Load() != 0 {
			t.Errorf("household-b should receive 0 messages, got %d", countB.Load())
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", domain.TopicAlert, []byte("data")); err == nil {
			t.Error("expected publish error for empty tenantID")
		}
		if _, err := bus.Subscribe(ctx, "", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			return nil
		}); err == nil {
			t.Error("expected subscribe error for empty tenantID")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, tenantID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		time.Sleep(10 * time.Millisecond)
		bus.Publish(ctx, tenantID, "unsub.topic", []byte("first"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		sub.Unsubscribe()
		time.Sleep(10 * time.Millisecond)

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("second"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected no delivery after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, tenantID, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, tenantID, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		time.Sleep(10 * time.Millisecond)
		bus.Publish(ctx, tenantID, domain.TopicAlert, []byte("fanout"))
		time.Sleep(50 * time.Millisecond)

		if count1.Load() != 1 || count2.Load() != 1 {
			t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
		}
	})

	t.Run("RequestTimeout", func(t *testing.T) {
		shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		if _, err := bus.Request(shortCtx, tenantID, "no.responder", []byte("ping")); err == nil {
			t.Error("expected timeout error when nothing responds")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, tenantID, domain.TopicReportReady, func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if sub.Topic() != domain.TopicReportReady {
			t.Errorf("expected topic %q, got %q", domain.TopicReportReady, sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()
	tenantID := "household-a"

	bus.Subscribe(ctx, tenantID, domain.TopicLedgerUpdated, func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := bus.Publish(ctx, tenantID, domain.TopicLedgerUpdated, []byte("data")); err == nil {
		t.Error("expected publish error after close")
	}
	if _, err := bus.Subscribe(ctx, tenantID, domain.TopicLedgerUpdated, func(ctx context.Context, msg *domain.Message) error {
		return nil
	}); err == nil {
		t.Error("expected subscribe error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "household-load"

	const messageCount = 100
	var received atomic.Int32
	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, tenantID, domain.TopicLedgerUpdated, func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	time.Sleep(10 * time.Millisecond)

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, tenantID, domain.TopicLedgerUpdated, []byte("update"))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != messageCount {
			t.Errorf("expected %d messages, got %d", messageCount, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}
