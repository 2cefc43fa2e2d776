// Package bus is the in-process publish/subscribe channel crew steps use
// to exchange events within one request. Delivery is synchronous and
// at-most-once per subscriber; there is no persistence and no redelivery.
// A capped ring buffer keeps recent events readable for cross-step
// context checks.
package bus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"crewhq/internal/types"
)

// DefaultHistorySize bounds the ring buffer.
const DefaultHistorySize = 1000

// Handler consumes one event. Handlers run on the publisher's goroutine;
// they must be fast and must not publish recursively to their own topic.
type Handler func(event types.BusEvent)

// Bus is a topic-keyed in-process event bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler

	histMu  sync.Mutex
	history []types.BusEvent
	next    int
	filled  bool

	logger *zap.Logger
}

// New creates a bus with the given history capacity (DefaultHistorySize
// if size <= 0).
func New(size int, logger *zap.Logger) *Bus {
	if size <= 0 {
		size = DefaultHistorySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers: make(map[string][]Handler),
		history:     make([]types.BusEvent, size),
		logger:      logger.Named("bus"),
	}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

// Publish delivers an event to all current subscribers of the topic and
// records it in the history ring.
func (b *Bus) Publish(topic string, payload map[string]interface{}) {
	event := types.BusEvent{
		Topic:     topic,
		Payload:   payload,
		EmittedAt: time.Now(),
	}

	b.record(event)

	b.mu.RLock()
	handlers := b.subscribers[topic]
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}

	b.logger.Debug("event published",
		zap.String("topic", topic),
		zap.Int("subscribers", len(handlers)))
}

// record appends to the ring buffer, evicting the oldest entry once full.
func (b *Bus) record(event types.BusEvent) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.history[b.next] = event
	b.next++
	if b.next == len(b.history) {
		b.next = 0
		b.filled = true
	}
}

// History returns the retained events, oldest first.
func (b *Bus) History() []types.BusEvent {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	if !b.filled {
		out := make([]types.BusEvent, b.next)
		copy(out, b.history[:b.next])
		return out
	}
	out := make([]types.BusEvent, 0, len(b.history))
	out = append(out, b.history[b.next:]...)
	out = append(out, b.history[:b.next]...)
	return out
}

// RecentByTopic returns up to n most recent events for a topic, newest
// first. Crew steps use this to skip work that already ran this request.
func (b *Bus) RecentByTopic(topic string, n int) []types.BusEvent {
	all := b.History()
	out := make([]types.BusEvent, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		if all[i].Topic == topic {
			out = append(out, all[i])
		}
	}
	return out
}
