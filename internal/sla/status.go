package sla

import (
	"time"

	"github.com/helpdesk-mini/helpdesk/internal/domain"
	apperrors "github.com/helpdesk-mini/helpdesk/pkg/util"
)

// Evaluate derives the SLA status of a ticket from its deadline, the
// current time, its resolution time and its lifecycle status.
//
// For resolved/closed tickets the verdict depends only on whether the
// ticket was resolved before its deadline. A resolved/closed ticket with
// no resolution timestamp violates the model; it is reported and treated
// as breached rather than guessed into a passing state.
func Evaluate(deadline, now time.Time, resolvedAt *time.Time, status domain.TicketStatus) (domain.SLAStatus, error) {
	if status.IsTerminal() {
		if resolvedAt == nil {
			return domain.SLAStatusBreached, apperrors.NewInvariantViolation(
				"ticket is resolved or closed without a resolution timestamp",
				map[string]any{"status": string(status)})
		}
		if resolvedAt.After(deadline) {
			return domain.SLAStatusBreached, nil
		}
		return domain.SLAStatusOnTime, nil
	}

	remaining := deadline.Sub(now)
	switch {
	case remaining < 0:
		return domain.SLAStatusBreached, nil
	case remaining < AtRiskWindow:
		return domain.SLAStatusAtRisk, nil
	default:
		return domain.SLAStatusOnTime, nil
	}
}
