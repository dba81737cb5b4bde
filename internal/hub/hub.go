// Package hub fans out live conversation and summary updates to
// subscribers. Delivery is best effort: every subscriber has its own bounded
// queue and delivery goroutine, so a slow subscriber loses events instead of
// slowing down publishers. Subscribers that miss events reconcile by listing.
package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultQueueSize is the per-subscriber buffer used when none is given.
const DefaultQueueSize = 256

// Hub routes events to subscriptions by topic.
type Hub struct {
	mu        sync.RWMutex
	topics    map[string]map[string]*Subscription
	queueSize int
	closed    bool
	logger    *zap.Logger

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// Stats is a snapshot of hub activity.
type Stats struct {
	Subscriptions int
	Published     uint64
	Dropped       uint64
	Failed        uint64
}

// New creates a hub. queueSize <= 0 selects DefaultQueueSize.
func New(queueSize int, logger *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		topics:    make(map[string]map[string]*Subscription),
		queueSize: queueSize,
		logger:    logger,
	}
}

// SubscribeConversation delivers every MessageAppended event of
// conversationID to handler, in append order.
func (h *Hub) SubscribeConversation(conversationID string, handler MessageHandler) *Subscription {
	return h.subscribe(conversationTopic(conversationID), func(evt Event) error {
		ma, ok := evt.Payload.(MessageAppended)
		if !ok {
			return nil
		}
		return handler(ma)
	})
}

// SubscribeUserSummaries delivers SummaryChanged events for any conversation
// userID takes part in.
func (h *Hub) SubscribeUserSummaries(userID string, handler SummaryHandler) *Subscription {
	return h.subscribe(userTopic(userID), func(evt Event) error {
		sc, ok := evt.Payload.(SummaryChanged)
		if !ok {
			return nil
		}
		return handler(sc)
	})
}

// PublishMessage queues a MessageAppended event for the conversation's
// subscribers. It never blocks.
func (h *Hub) PublishMessage(evt MessageAppended) {
	h.publish(conversationTopic(evt.ConversationID), Event{
		Kind:      KindMessageAppended,
		Timestamp: time.Now(),
		Payload:   evt,
	})
}

// PublishSummary queues a SummaryChanged event for the user's subscribers.
// It never blocks.
func (h *Hub) PublishSummary(evt SummaryChanged) {
	h.publish(userTopic(evt.UserID), Event{
		Kind:      KindSummaryChanged,
		Timestamp: time.Now(),
		Payload:   evt,
	})
}

// Unsubscribe stops delivery to sub. Once it returns no further events are
// queued or dequeued for sub; an event the delivery goroutine had already
// dequeued may still reach the handler, and a running handler may finish.
// Safe to call more than once and from inside the subscription's own
// handler.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.closeOnce.Do(func() {
		sub.closed.Store(true)
		close(sub.done)

		h.mu.Lock()
		if subs, ok := h.topics[sub.topic]; ok {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(h.topics, sub.topic)
			}
		}
		h.mu.Unlock()
	})
}

// Close unsubscribes everyone and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, subs := range h.topics {
		for _, s := range subs {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		h.Unsubscribe(s)
	}
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := 0
	for _, subs := range h.topics {
		n += len(subs)
	}
	h.mu.RUnlock()
	return Stats{
		Subscriptions: n,
		Published:     h.published.Load(),
		Dropped:       h.dropped.Load(),
		Failed:        h.failed.Load(),
	}
}

func (h *Hub) subscribe(topic string, deliver func(Event) error) *Subscription {
	sub := &Subscription{
		id:      uuid.NewString(),
		topic:   topic,
		hub:     h,
		ch:      make(chan Event, h.queueSize),
		done:    make(chan struct{}),
		deliver: deliver,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.closed.Store(true)
		close(sub.done)
		sub.closeOnce.Do(func() {})
		return sub
	}
	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[string]*Subscription)
		h.topics[topic] = subs
	}
	subs[sub.id] = sub
	h.mu.Unlock()

	go sub.run()
	return sub
}

func (h *Hub) publish(topic string, evt Event) {
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.topics[topic] {
		if sub.closed.Load() {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			h.dropped.Add(1)
			h.logger.Warn("subscriber queue full, dropping event",
				zap.String("subscription", sub.id),
				zap.String("topic", topic),
				zap.String("kind", evt.Kind))
		}
	}
}
