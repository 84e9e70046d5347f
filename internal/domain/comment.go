package domain

import "time"

// Comment is one entry in a ticket's append-only conversation thread.
// Comments are immutable once stored.
type Comment struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
