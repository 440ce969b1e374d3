// Package bus provides event bus implementations for Kestrel.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const requestTimeout = 30 * time.Second

// ChannelBus is the Community tier event bus. Everything stays
// in-process: each subscription owns a buffered channel and a
// goroutine draining it, so a slow handler never blocks publishers.
type ChannelBus struct {
	mu     sync.RWMutex
	buffer int
	// subs is keyed by "<tenant>:<topic>", then by subscription ID so
	// Unsubscribe can remove a single entry.
	subs   map[string]map[string]*chanSub
	closed bool
}

type chanSub struct {
	bus    *ChannelBus
	id     string
	key    string
	topic  string
	inbox  chan *domain.Message
	cancel context.CancelFunc
}

// NewChannelBus creates an in-process event bus. bufferSize is the
// per-subscription inbox depth.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		buffer: bufferSize,
		subs:   make(map[string]map[string]*chanSub),
	}
}

// Publish delivers a message to every subscriber of the tenant's
// topic. Delivery is best-effort: a subscriber with a full inbox
// misses the message rather than stalling the publisher.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	targets := make([]*chanSub, 0, len(b.subs[subKey(tenantID, topic)]))
	for _, sub := range b.subs[subKey(tenantID, topic)] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.inbox <- msg:
		default:
			// inbox full, drop for this subscriber
		}
	}

	return nil
}

// Subscribe registers a handler for a tenant's topic. The handler runs
// on a dedicated goroutine until Unsubscribe or Close.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.BusSubscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &chanSub{
		bus:    b,
		id:     uuid.New().String(),
		key:    subKey(tenantID, topic),
		topic:  topic,
		inbox:  make(chan *domain.Message, b.buffer),
		cancel: cancel,
	}

	if b.subs[sub.key] == nil {
		b.subs[sub.key] = make(map[string]*chanSub)
	}
	b.subs[sub.key][sub.id] = sub

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case msg := <-sub.inbox:
				if msg != nil {
					_ = handler(subCtx, msg)
				}
			}
		}
	}()

	return sub, nil
}

// Request publishes a message and waits for a single reply on a
// throwaway reply topic.
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, tenantID, topic, payload); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("request timeout")
	}
}

// Ping reports whether the bus is accepting messages.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close cancels every subscription and rejects further publishes.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, byID := range b.subs {
		for _, sub := range byID {
			sub.cancel()
		}
	}
	b.subs = make(map[string]map[string]*chanSub)
	return nil
}

func subKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}

// Unsubscribe stops the handler and removes the subscription from the
// bus so its inbox can be collected.
func (s *chanSub) Unsubscribe() error {
	s.cancel()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if byID, ok := s.bus.subs[s.key]; ok {
		delete(byID, s.id)
		if len(byID) == 0 {
			delete(s.bus.subs, s.key)
		}
	}
	return nil
}

// Topic returns the subscribed topic.
func (s *chanSub) Topic() string {
	return s.topic
}
