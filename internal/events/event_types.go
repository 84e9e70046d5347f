package events

import (
	"time"

	"github.com/helpdesk-mini/helpdesk/internal/domain"
)

// Type enumerates supported event identifiers.
type Type string

const (
	TypeTicketCreated Type = "ticket_created"
	TypeTicketUpdated Type = "ticket_updated"
	TypeCommentAdded  Type = "comment_added"
)

// Event is one lifecycle or comment notification, scoped to a ticket
// topic. Created and updated events carry the full ticket snapshot so a
// subscriber never needs a follow-up read; comment events carry the new
// comment.
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	TicketID  string          `json:"ticket_id"`
	ActorID   string          `json:"actor_id,omitempty"`
	Ticket    *domain.Ticket  `json:"ticket,omitempty"`
	Comment   *domain.Comment `json:"comment,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher hands an event to the delivery path. Implementations must not
// block the caller on slow consumers.
type Publisher interface {
	Publish(event Event)
}
