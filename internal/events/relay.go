package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Relay mirrors hub events across service instances over Redis Pub/Sub.
// It wraps the local hub as a Publisher: every published event is fanned
// out locally and broadcast on the relay channel; events received from
// other instances are injected into the local hub only, so they never
// bounce back onto the wire.
type Relay struct {
	client     *redis.Client
	hub        *Hub
	logger     *zap.Logger
	channel    string
	instanceID string
	outbox     chan relayEnvelope
}

// outboxSize bounds the broadcast backlog a slow Redis can accumulate
// before envelopes are shed.
const outboxSize = 256

type relayEnvelope struct {
	InstanceID string `json:"instance_id"`
	Event      Event  `json:"event"`
}

// NewRelay constructs a relay over the given hub and Redis client.
func NewRelay(client *redis.Client, hub *Hub, channel string, logger *zap.Logger) *Relay {
	return &Relay{
		client:     client,
		hub:        hub,
		logger:     logger,
		channel:    channel,
		instanceID: uuid.NewString(),
		outbox:     make(chan relayEnvelope, outboxSize),
	}
}

// Publish delivers locally and hands the envelope to the broadcast
// goroutine. The mutating caller never waits on Redis: a relay outage or
// a full outbox degrades to local-only delivery.
func (r *Relay) Publish(event Event) {
	r.hub.Publish(event)

	select {
	case r.outbox <- relayEnvelope{InstanceID: r.instanceID, Event: event}:
	default:
		r.logger.Warn("relay outbox full, event not broadcast",
			zap.String("event_id", event.ID),
			zap.String("ticket_id", event.TicketID),
		)
	}
}

// Run consumes the relay channel until ctx is cancelled, reconnecting
// with exponential backoff on subscription failures. It also drains the
// outbox onto the wire.
func (r *Relay) Run(ctx context.Context) error {
	go r.broadcast(ctx)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		err := r.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.logger.Warn("relay subscription disconnected, reconnecting",
			zap.String("channel", r.channel),
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

func (r *Relay) broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case envelope := <-r.outbox:
			data, err := json.Marshal(envelope)
			if err != nil {
				r.logger.Error("failed to marshal relay envelope", zap.Error(err))
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := r.client.Publish(sendCtx, r.channel, data).Err(); err != nil {
				r.logger.Warn("failed to relay event",
					zap.String("event_id", envelope.Event.ID),
					zap.Error(err),
				)
			}
			cancel()
		}
	}
}

func (r *Relay) consume(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to channel %s: %w", r.channel, err)
	}

	r.logger.Info("subscribed to relay channel", zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var envelope relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				r.logger.Warn("failed to unmarshal relay envelope", zap.Error(err))
				continue
			}
			// Skip our own broadcasts; they were already delivered locally.
			if envelope.InstanceID == r.instanceID {
				continue
			}
			r.hub.Publish(envelope.Event)
		}
	}
}
