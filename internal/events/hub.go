package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helpdesk-mini/helpdesk/internal/observability"
)

// Subscriber is one consumer connection. Events are delivered on a
// bounded channel; when the buffer is full the delivery is dropped and
// the subscriber is marked stale, so a dead consumer can never stall a
// ticket mutation. A stale subscriber should resync by re-fetching state.
type Subscriber struct {
	id    string
	ch    chan Event
	stale atomic.Bool
}

// ID returns the subscriber's identifier.
func (s *Subscriber) ID() string { return s.id }

// Events is the delivery channel. It is closed when the subscriber is
// dropped from the hub.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Stale reports whether at least one delivery was dropped.
func (s *Subscriber) Stale() bool { return s.stale.Load() }

// Hub fans events out to subscribers grouped by ticket topic. Membership
// has no persistence; it lives and dies with the subscriber.
type Hub struct {
	mu         sync.RWMutex
	topics     map[string]map[*Subscriber]struct{}
	membership map[*Subscriber]map[string]struct{}
	firehose   map[*Subscriber]struct{}
	buffer     int
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewHub constructs a hub with the given per-subscriber buffer size.
func NewHub(buffer int, logger *zap.Logger, metrics *observability.Metrics) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		topics:     make(map[string]map[*Subscriber]struct{}),
		membership: make(map[*Subscriber]map[string]struct{}),
		firehose:   make(map[*Subscriber]struct{}),
		buffer:     buffer,
		logger:     logger,
		metrics:    metrics,
	}
}

// NewSubscriber registers a fresh subscriber with no topic memberships.
func (h *Hub) NewSubscriber() *Subscriber {
	sub := &Subscriber{
		id: uuid.NewString(),
		ch: make(chan Event, h.buffer),
	}
	h.mu.Lock()
	h.membership[sub] = make(map[string]struct{})
	h.mu.Unlock()
	return sub
}

// Subscribe joins the subscriber to a ticket topic. Idempotent.
func (h *Hub) Subscribe(ticketID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, known := h.membership[sub]; !known {
		return
	}
	topic, ok := h.topics[ticketID]
	if !ok {
		topic = make(map[*Subscriber]struct{})
		h.topics[ticketID] = topic
	}
	topic[sub] = struct{}{}
	h.membership[sub][ticketID] = struct{}{}
}

// Unsubscribe leaves a ticket topic. Idempotent.
func (h *Hub) Unsubscribe(ticketID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromTopic(ticketID, sub)
	if members, ok := h.membership[sub]; ok {
		delete(members, ticketID)
	}
}

// SubscribeAll joins the firehose: every event regardless of ticket.
// Used by system observers such as the notification worker.
func (h *Hub) SubscribeAll(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, known := h.membership[sub]; !known {
		return
	}
	h.firehose[sub] = struct{}{}
}

// Drop removes the subscriber from every topic and closes its channel.
// Safe to call once per subscriber, typically deferred on disconnect.
func (h *Hub) Drop(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.membership[sub]
	if !ok {
		return
	}
	for ticketID := range members {
		h.removeFromTopic(ticketID, sub)
	}
	delete(h.membership, sub)
	delete(h.firehose, sub)
	close(sub.ch)
}

// removeFromTopic must be called with the lock held.
func (h *Hub) removeFromTopic(ticketID string, sub *Subscriber) {
	topic, ok := h.topics[ticketID]
	if !ok {
		return
	}
	delete(topic, sub)
	if len(topic) == 0 {
		delete(h.topics, ticketID)
	}
}

// Publish fans the event out to the ticket's topic and the firehose.
// Delivery is best-effort and at-most-once per subscriber: a full buffer
// drops the event for that subscriber and marks it stale. Publish never
// blocks.
func (h *Hub) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.metrics.RecordEventPublished(string(event.Type))

	// Sends happen under the read lock. Drop closes channels under the
	// write lock, so a close can never interleave with a send; the sends
	// are non-blocking, so holding the lock here is bounded.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.topics[event.TicketID] {
		h.deliver(sub, event)
	}
	for sub := range h.firehose {
		if _, already := h.topics[event.TicketID][sub]; !already {
			h.deliver(sub, event)
		}
	}
}

func (h *Hub) deliver(sub *Subscriber, event Event) {
	select {
	case sub.ch <- event:
	default:
		sub.stale.Store(true)
		h.metrics.RecordEventDropped()
		h.logger.Warn("subscriber buffer full, event dropped",
			zap.String("subscriber", sub.id),
			zap.String("ticket_id", event.TicketID),
			zap.String("event_type", string(event.Type)),
		)
	}
}
