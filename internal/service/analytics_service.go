package service

import (
	"context"

	"github.com/helpdesk-mini/helpdesk/internal/domain"
	"github.com/helpdesk-mini/helpdesk/internal/repository"
	apperrors "github.com/helpdesk-mini/helpdesk/pkg/util"
)

// AnalyticsService exposes aggregate ticket statistics to staff.
type AnalyticsService struct {
	tickets repository.TicketRepository
}

// NewAnalyticsService builds the service.
func NewAnalyticsService(tickets repository.TicketRepository) *AnalyticsService {
	return &AnalyticsService{tickets: tickets}
}

// Stats returns the aggregate view. Requesters have no access.
func (s *AnalyticsService) Stats(ctx context.Context, actor domain.Actor) (*repository.TicketStats, error) {
	if !actor.Role.CanManageTickets() {
		return nil, apperrors.NewForbidden("only agents and admins may view analytics")
	}
	stats, err := s.tickets.Stats(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return stats, nil
}
