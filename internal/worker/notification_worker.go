package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/helpdesk-mini/helpdesk/internal/events"
)

// NotificationWorker tails the event firehose and emits notification
// stubs. It is a plain hub subscriber so a slow notification path can
// never block ticket mutations; at worst its own channel overflows.
type NotificationWorker struct {
	hub    *events.Hub
	logger *zap.Logger
}

// NewNotificationWorker builds the worker.
func NewNotificationWorker(hub *events.Hub, logger *zap.Logger) *NotificationWorker {
	return &NotificationWorker{hub: hub, logger: logger}
}

// Run consumes events until the context is cancelled. Call in its own
// goroutine.
func (w *NotificationWorker) Run(ctx context.Context) {
	sub := w.hub.NewSubscriber()
	w.hub.SubscribeAll(sub)
	defer w.hub.Drop(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			w.handle(event)
		}
	}
}

func (w *NotificationWorker) handle(event events.Event) {
	switch event.Type {
	case events.TypeTicketCreated:
		w.logger.Info("notify: ticket created",
			zap.String("ticket_id", event.TicketID),
			zap.String("actor_id", event.ActorID))
	case events.TypeTicketUpdated:
		fields := []zap.Field{zap.String("ticket_id", event.TicketID)}
		if event.Ticket != nil {
			fields = append(fields,
				zap.String("status", string(event.Ticket.Status)),
				zap.String("sla_status", string(event.Ticket.SLAStatus)))
		}
		w.logger.Info("notify: ticket updated", fields...)
	case events.TypeCommentAdded:
		w.logger.Info("notify: comment added",
			zap.String("ticket_id", event.TicketID),
			zap.String("actor_id", event.ActorID))
	default:
		w.logger.Debug("notify: unhandled event type", zap.String("type", string(event.Type)))
	}
}
