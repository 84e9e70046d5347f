package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusOnHold     TicketStatus = "ON_HOLD"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "LOW"
	TicketPriorityMedium   TicketPriority = "MEDIUM"
	TicketPriorityHigh     TicketPriority = "HIGH"
	TicketPriorityCritical TicketPriority = "CRITICAL"
)

// TicketCategory classifies the subject of a ticket.
type TicketCategory string

const (
	TicketCategoryTechnical TicketCategory = "TECHNICAL"
	TicketCategoryBilling   TicketCategory = "BILLING"
	TicketCategoryGeneral   TicketCategory = "GENERAL"
	TicketCategoryNetwork   TicketCategory = "NETWORK"
	TicketCategoryHardware  TicketCategory = "HARDWARE"
	TicketCategorySoftware  TicketCategory = "SOFTWARE"
	TicketCategoryAccount   TicketCategory = "ACCOUNT"
)

// SLAStatus is derived from deadline, clock and resolution time. It is never
// assigned by callers directly; the evaluator owns it.
type SLAStatus string

const (
	SLAStatusOnTime   SLAStatus = "ON_TIME"
	SLAStatusAtRisk   SLAStatus = "AT_RISK"
	SLAStatusBreached SLAStatus = "BREACHED"
)

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID          string         `json:"id"`
	Number      string         `json:"number"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Category    TicketCategory `json:"category"`
	Priority    TicketPriority `json:"priority"`
	Status      TicketStatus   `json:"status"`
	CreatedBy   string         `json:"created_by"`
	AssignedTo  *string        `json:"assigned_to,omitempty"`
	SLADeadline time.Time      `json:"sla_deadline"`
	SLAStatus   SLAStatus      `json:"sla_status"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	Tags        []string       `json:"tags"`
	Version     int64          `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsTerminal reports whether the status accepts no further lifecycle work.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// Valid reports whether the status is a known lifecycle state.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusOnHold,
		TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// Valid reports whether the priority is a known level.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityCritical:
		return true
	}
	return false
}

// Valid reports whether the category is known.
func (c TicketCategory) Valid() bool {
	switch c {
	case TicketCategoryTechnical, TicketCategoryBilling, TicketCategoryGeneral,
		TicketCategoryNetwork, TicketCategoryHardware, TicketCategorySoftware,
		TicketCategoryAccount:
		return true
	}
	return false
}
