// Package bus moves alerts and investigation outcomes between intake,
// the async workers, and downstream consumers.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrClosed         = errors.New("bus: closed")
	ErrTenantRequired = errors.New("bus: a concrete tenant id is required")
)

// ChannelBus is the in-process bus. Each subscriber owns a buffered
// inbox drained by its own goroutine; a full inbox drops the message
// for that subscriber instead of stalling the publisher.
//
// A subscription under domain.GlobalTenantID receives every tenant's
// messages on its topic.
type ChannelBus struct {
	buffer int

	mu     sync.Mutex
	closed bool
	lastID uint64
	routes map[string]map[uint64]*channelSub
}

type channelSub struct {
	id      uint64
	topic   string
	inbox   chan *domain.Message
	cancel  context.CancelFunc
	detach  func()
	once    sync.Once
	dropped atomic.Int64
}

// NewChannelBus creates an in-process bus with the given per-subscriber
// inbox size.
func NewChannelBus(buffer int) *ChannelBus {
	if buffer <= 0 {
		buffer = 1000
	}
	return &ChannelBus{
		buffer: buffer,
		routes: make(map[string]map[uint64]*channelSub),
	}
}

// Publish fans the message out to the tenant's subscribers and to
// global-tenant subscribers of the topic.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" || tenantID == domain.GlobalTenantID {
		return ErrTenantRequired
	}

	msg := &domain.Message{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Topic:    topic,
		Payload:  payload,
		SentAt:   time.Now().UTC(),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	targets := make([]*channelSub, 0, 4)
	for _, s := range b.routes[route(tenantID, topic)] {
		targets = append(targets, s)
	}
	for _, s := range b.routes[route(domain.GlobalTenantID, topic)] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.deliver(msg)
	}
	return nil
}

// Subscribe binds handler to the tenant's topic. The handler runs on a
// dedicated goroutine until Unsubscribe, context cancellation, or bus
// close.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	b.lastID++
	s := &channelSub{
		id:     b.lastID,
		topic:  topic,
		inbox:  make(chan *domain.Message, b.buffer),
		cancel: cancel,
	}

	key := route(tenantID, topic)
	if b.routes[key] == nil {
		b.routes[key] = make(map[uint64]*channelSub)
	}
	b.routes[key][s.id] = s
	s.detach = func() { b.remove(key, s.id) }

	go s.pump(subCtx, handler)
	return s, nil
}

func (b *ChannelBus) remove(key string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set := b.routes[key]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(b.routes, key)
		}
	}
}

func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close detaches every subscriber and stops their pumps. Inboxes are
// left to the garbage collector; closing them could panic a racing
// deliver.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, set := range b.routes {
		for _, s := range set {
			s.cancel()
		}
	}
	b.routes = make(map[string]map[uint64]*channelSub)
	return nil
}

func route(tenantID, topic string) string {
	return tenantID + "." + topic
}

func (s *channelSub) deliver(msg *domain.Message) {
	select {
	case s.inbox <- msg:
	default:
		if s.dropped.Add(1) == 1 {
			slog.Warn("bus subscriber backlogged, dropping messages", "topic", s.topic)
		}
	}
}

func (s *channelSub) pump(ctx context.Context, handler domain.MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.inbox:
			if err := handler(ctx, msg); err != nil {
				slog.Error("bus handler failed",
					"topic", s.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Unsubscribe detaches from the bus and stops the pump. Safe to call
// more than once.
func (s *channelSub) Unsubscribe() error {
	s.once.Do(func() {
		s.detach()
		s.cancel()
	})
	return nil
}

func (s *channelSub) Topic() string {
	return s.topic
}
