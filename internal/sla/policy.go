// Package sla owns the response-time policy and the status evaluator.
// Both are pure functions; every stored sla_status value in the system is
// an output of Evaluate and nothing else.
package sla

import (
	"time"

	"github.com/helpdesk-mini/helpdesk/internal/domain"
)

const (
	// CriticalWindow is the response budget for critical tickets.
	CriticalWindow = 2 * time.Hour
	// DefaultWindow is the response budget for every other priority.
	DefaultWindow = 4 * time.Hour
	// AtRiskWindow is how close to the deadline an open ticket may get
	// before it is flagged at-risk.
	AtRiskWindow = time.Hour
)

// ResolveDeadline computes the SLA deadline for a ticket created at
// createdAt. The deadline is fixed at creation; later priority changes do
// not move it.
func ResolveDeadline(priority domain.TicketPriority, createdAt time.Time) time.Time {
	if priority == domain.TicketPriorityCritical {
		return createdAt.Add(CriticalWindow)
	}
	return createdAt.Add(DefaultWindow)
}
