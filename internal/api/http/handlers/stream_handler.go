package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/helpdesk-mini/helpdesk/internal/domain"
	"github.com/helpdesk-mini/helpdesk/internal/events"
	"github.com/helpdesk-mini/helpdesk/internal/service"
)

const streamActorKey = "stream_actor"

// streamFrame is the client-to-server control message.
type streamFrame struct {
	Action   string `json:"action"`
	TicketID string `json:"ticket_id,omitempty"`
}

// streamAck is the server-to-client control reply.
type streamAck struct {
	Type     string `json:"type"`
	TicketID string `json:"ticket_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// StreamHandler serves the realtime event stream over websocket. Clients
// join and leave per-ticket rooms; agents and admins may also tail the
// firehose.
type StreamHandler struct {
	hub     *events.Hub
	tickets *service.TicketService
	logger  *zap.Logger
}

// NewStreamHandler constructs handler.
func NewStreamHandler(hub *events.Hub, tickets *service.TicketService, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, tickets: tickets, logger: logger}
}

// Upgrade gates the upgrade request. Runs after auth middleware so the
// actor travels into the websocket handler via locals.
func (h *StreamHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	c.Locals(streamActorKey, actor)
	return c.Next()
}

// Handle returns the websocket connection handler.
func (h *StreamHandler) Handle() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		h.serve(conn)
	})
}

func (h *StreamHandler) serve(conn *websocket.Conn) {
	actor, ok := conn.Locals(streamActorKey).(domain.Actor)
	if !ok {
		_ = conn.Close()
		return
	}

	sub := h.hub.NewSubscriber()
	defer h.hub.Drop(sub)

	// Writes come from the event pump and from control acks; the conn is
	// not safe for concurrent writers.
	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case event, chOpen := <-sub.Events():
				if !chOpen {
					return
				}
				if err := writeJSON(event); err != nil {
					return
				}
			}
		}
	}()

	h.logger.Debug("stream connected",
		zap.String("subscriber_id", sub.ID()),
		zap.String("actor_id", actor.ID))

	for {
		var frame streamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		h.handleFrame(actor, sub, frame, writeJSON)
	}
	close(done)

	if sub.Stale() {
		h.logger.Warn("stream subscriber fell behind and was marked stale",
			zap.String("subscriber_id", sub.ID()))
	}
}

func (h *StreamHandler) handleFrame(actor domain.Actor, sub *events.Subscriber, frame streamFrame, writeJSON func(any) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch frame.Action {
	case "join_ticket":
		// Joining reuses the read access rule: requesters only follow
		// their own tickets.
		ticket, _, err := h.tickets.Get(ctx, actor, frame.TicketID)
		if err != nil {
			_ = writeJSON(streamAck{Type: "error", TicketID: frame.TicketID, Message: "access denied"})
			return
		}
		// Events are published under the ticket id, so a number
		// reference must be resolved before it reaches the hub.
		h.hub.Subscribe(ticket.ID, sub)
		_ = writeJSON(streamAck{Type: "joined", TicketID: ticket.ID})
	case "leave_ticket":
		ticketID := frame.TicketID
		if ticket, _, err := h.tickets.Get(ctx, actor, frame.TicketID); err == nil {
			ticketID = ticket.ID
		}
		h.hub.Unsubscribe(ticketID, sub)
		_ = writeJSON(streamAck{Type: "left", TicketID: ticketID})
	case "subscribe_all":
		if !actor.Role.CanManageTickets() {
			_ = writeJSON(streamAck{Type: "error", Message: "access denied"})
			return
		}
		h.hub.SubscribeAll(sub)
		_ = writeJSON(streamAck{Type: "subscribed_all"})
	default:
		_ = writeJSON(streamAck{Type: "error", Message: "unknown action"})
	}
}
