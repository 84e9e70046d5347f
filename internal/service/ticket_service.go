package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helpdesk-mini/helpdesk/internal/domain"
	"github.com/helpdesk-mini/helpdesk/internal/events"
	"github.com/helpdesk-mini/helpdesk/internal/observability"
	"github.com/helpdesk-mini/helpdesk/internal/repository"
	"github.com/helpdesk-mini/helpdesk/internal/sla"
	"github.com/helpdesk-mini/helpdesk/internal/ticketnum"
	apperrors "github.com/helpdesk-mini/helpdesk/pkg/util"
)

const (
	// allocateAttempts bounds the insert-with-retry loop around number
	// allocation before surfacing ALLOCATION_EXHAUSTED.
	allocateAttempts = 3
	// updateAttempts bounds the re-read/re-apply loop around version
	// conflicts on a single ticket.
	updateAttempts = 3
)

// TicketService owns the ticket lifecycle: it is the only component that
// constructs tickets, moves them between states and derives their SLA
// status. Callers never touch those fields directly.
type TicketService struct {
	tickets   repository.TicketRepository
	comments  repository.CommentRepository
	users     repository.UserRepository
	allocator *ticketnum.Allocator
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	CommentRepo repository.CommentRepository
	UserRepo    repository.UserRepository
	Allocator   *ticketnum.Allocator
	Publisher   events.Publisher
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Now         func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
	Category    domain.TicketCategory
	Priority    domain.TicketPriority
	Tags        []string
}

// TicketListFilter describes listing parameters at the service boundary.
type TicketListFilter struct {
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	Categories []domain.TicketCategory
	SearchTerm *string
	Limit      int
	Offset     int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &TicketService{
		tickets:   deps.TicketRepo,
		comments:  deps.CommentRepo,
		users:     deps.UserRepo,
		allocator: deps.Allocator,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		now:       now,
	}
}

// allowedTransitions is the full lifecycle graph. Resolved and Closed are
// terminal apart from the Resolved -> Closed confirmation; there is no
// reopen path.
var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:       {domain.TicketStatusInProgress, domain.TicketStatusOnHold},
	domain.TicketStatusInProgress: {domain.TicketStatusResolved, domain.TicketStatusOnHold, domain.TicketStatusClosed},
	domain.TicketStatusOnHold:     {domain.TicketStatusInProgress},
	domain.TicketStatusResolved:   {domain.TicketStatusClosed},
	domain.TicketStatusClosed:     {},
}

func isValidTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Create validates input, allocates a number, resolves the SLA deadline
// and persists the new ticket before announcing it. The insert is retried
// with a fresh number on a uniqueness collision, bounded by
// allocateAttempts.
func (s *TicketService) Create(ctx context.Context, actor domain.Actor, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return nil, apperrors.NewValidationError("title and description are required", nil)
	}
	category := input.Category
	if category == "" {
		category = domain.TicketCategoryGeneral
	}
	if !category.Valid() {
		return nil, apperrors.NewValidationError("unknown category", map[string]any{"category": string(category)})
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": string(priority)})
	}
	tags := input.Tags
	if tags == nil {
		tags = []string{}
	}

	createdAt := s.now()
	deadline := sla.ResolveDeadline(priority, createdAt)
	slaStatus, _ := sla.Evaluate(deadline, createdAt, nil, domain.TicketStatusOpen)

	for attempt := 0; attempt < allocateAttempts; attempt++ {
		number, err := s.allocator.Allocate(ctx)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		ticket := &domain.Ticket{
			ID:          uuid.NewString(),
			Number:      number,
			Title:       title,
			Description: description,
			Category:    category,
			Priority:    priority,
			Status:      domain.TicketStatusOpen,
			CreatedBy:   actor.ID,
			SLADeadline: deadline,
			SLAStatus:   slaStatus,
			Tags:        tags,
			Version:     1,
			CreatedAt:   createdAt,
			UpdatedAt:   createdAt,
		}
		err = s.tickets.Insert(ctx, ticket)
		if err == nil {
			s.publishTicket(events.TypeTicketCreated, actor, ticket)
			return ticket, nil
		}
		if errors.Is(err, repository.ErrNumberTaken) {
			s.logger.Warn("ticket number collision, reallocating",
				zap.String("number", number), zap.Int("attempt", attempt+1))
			continue
		}
		return nil, apperrors.MapError(err)
	}
	return nil, apperrors.NewAllocationExhausted()
}

// UpdateStatus moves a ticket along the lifecycle graph. First entry into
// Resolved or Closed stamps resolvedAt; it is never overwritten. The SLA
// status is re-derived against the unchanged deadline.
func (s *TicketService) UpdateStatus(ctx context.Context, actor domain.Actor, ticketID string, newStatus domain.TicketStatus) (*domain.Ticket, error) {
	if !actor.Role.CanManageTickets() {
		return nil, apperrors.NewForbidden("only agents and admins may change ticket status")
	}
	if !newStatus.Valid() {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": string(newStatus)})
	}

	ticket, err := s.mutateTicket(ctx, ticketID, func(t *domain.Ticket) error {
		if !isValidTransition(t.Status, newStatus) {
			return apperrors.NewInvalidTransition(string(t.Status), string(newStatus))
		}
		t.Status = newStatus
		if newStatus.IsTerminal() && t.ResolvedAt == nil {
			resolvedAt := s.now()
			t.ResolvedAt = &resolvedAt
		}
		s.refreshSLA(t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishTicket(events.TypeTicketUpdated, actor, ticket)
	return ticket, nil
}

// UpdatePriority changes the priority without touching the SLA deadline:
// the deadline committed at creation keeps governing the ticket. Only the
// derived status is re-evaluated.
func (s *TicketService) UpdatePriority(ctx context.Context, actor domain.Actor, ticketID string, newPriority domain.TicketPriority) (*domain.Ticket, error) {
	if !actor.Role.CanManageTickets() {
		return nil, apperrors.NewForbidden("only agents and admins may change ticket priority")
	}
	if !newPriority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": string(newPriority)})
	}

	ticket, err := s.mutateTicket(ctx, ticketID, func(t *domain.Ticket) error {
		t.Priority = newPriority
		s.refreshSLA(t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishTicket(events.TypeTicketUpdated, actor, ticket)
	return ticket, nil
}

// Assign sets the ticket's assignee. The assignee must hold agent or
// admin capability. No SLA effect.
func (s *TicketService) Assign(ctx context.Context, actor domain.Actor, ticketID, assigneeID string) (*domain.Ticket, error) {
	if !actor.Role.CanManageTickets() {
		return nil, apperrors.NewForbidden("only agents and admins may assign tickets")
	}
	assignee, err := s.users.GetByID(ctx, assigneeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("assignee", map[string]any{"assignee_id": assigneeID})
		}
		return nil, apperrors.MapError(err)
	}
	if !assignee.Role.CanManageTickets() {
		return nil, apperrors.NewValidationError("assignee must be an agent or admin", nil)
	}

	ticket, err := s.mutateTicket(ctx, ticketID, func(t *domain.Ticket) error {
		t.AssignedTo = &assignee.ID
		s.refreshSLA(t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishTicket(events.TypeTicketUpdated, actor, ticket)
	return ticket, nil
}

// AddComment appends to the ticket's immutable comment thread. Requesters
// may comment only on their own tickets. The comment never alters status
// or SLA state.
func (s *TicketService) AddComment(ctx context.Context, actor domain.Actor, ticketID, body string) (*domain.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("comment body is required", nil)
	}
	ticket, err := s.getAccessible(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}

	comment := &domain.Comment{
		ID:        uuid.NewString(),
		TicketID:  ticket.ID,
		AuthorID:  actor.ID,
		Body:      body,
		CreatedAt: s.now(),
	}
	if err := s.comments.Insert(ctx, comment); err != nil {
		return nil, apperrors.MapError(err)
	}

	// Touch the ticket so updatedAt reflects the thread. The comment is
	// already durable; bookkeeping contention is logged, not surfaced.
	if _, err := s.mutateTicket(ctx, ticket.ID, func(t *domain.Ticket) error {
		s.refreshSLA(t)
		return nil
	}); err != nil {
		s.logger.Warn("failed to touch ticket after comment",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
	}

	s.publisher.Publish(events.Event{
		Type:     events.TypeCommentAdded,
		TicketID: ticket.ID,
		ActorID:  actor.ID,
		Comment:  comment,
	})
	return comment, nil
}

// Get returns a ticket with its comment thread, enforcing the read access
// rule. The SLA status in the returned snapshot is freshly derived.
func (s *TicketService) Get(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, []domain.Comment, error) {
	ticket, err := s.getAccessible(ctx, actor, ticketID)
	if err != nil {
		return nil, nil, err
	}
	s.refreshSLA(ticket)
	comments, err := s.comments.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, nil, apperrors.MapError(err)
	}
	return ticket, comments, nil
}

// List returns tickets visible to the actor. Requesters only ever see
// tickets they created; agents and admins see everything.
func (s *TicketService) List(ctx context.Context, actor domain.Actor, filter TicketListFilter) ([]domain.Ticket, error) {
	repoFilter := repository.TicketFilter{
		Statuses:   filter.Statuses,
		Priorities: filter.Priorities,
		Categories: filter.Categories,
		SearchTerm: filter.SearchTerm,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}
	if !actor.Role.CanManageTickets() {
		createdBy := actor.ID
		repoFilter.CreatedBy = &createdBy
	}
	tickets, err := s.tickets.List(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	for i := range tickets {
		s.refreshSLA(&tickets[i])
	}
	return tickets, nil
}

// Delete removes a ticket entirely. Admin only; this is an administrative
// escape hatch that bypasses the state machine.
func (s *TicketService) Delete(ctx context.Context, actor domain.Actor, ticketID string) error {
	if actor.Role != domain.RoleAdmin {
		return apperrors.NewForbidden("only admins may delete tickets")
	}
	if err := s.tickets.Delete(ctx, ticketID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return apperrors.MapError(err)
	}
	return nil
}

// getAccessible loads a ticket and enforces the read access rule. The
// reference may be either the ticket ID or its human-facing number.
func (s *TicketService) getAccessible(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.lookup(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	if !actor.Role.CanManageTickets() && ticket.CreatedBy != actor.ID {
		return nil, apperrors.NewForbidden("access denied")
	}
	return ticket, nil
}

func (s *TicketService) lookup(ctx context.Context, ref string) (*domain.Ticket, error) {
	if strings.HasPrefix(ref, ticketnum.Prefix) {
		return s.tickets.GetByNumber(ctx, ref)
	}
	return s.tickets.GetByID(ctx, ref)
}

// mutateTicket serializes a mutation against concurrent writers: read,
// apply, version-checked write, retried on conflict up to updateAttempts.
func (s *TicketService) mutateTicket(ctx context.Context, ticketID string, mutate func(*domain.Ticket) error) (*domain.Ticket, error) {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		ticket, err := s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
			}
			return nil, apperrors.MapError(err)
		}
		if err := mutate(ticket); err != nil {
			return nil, err
		}
		err = s.tickets.Update(ctx, ticket)
		if err == nil {
			return ticket, nil
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return nil, apperrors.NewVersionConflict("ticket is being modified concurrently, try again")
}

// refreshSLA re-derives the SLA status in place. Invariant violations are
// logged and the evaluator's verdict kept as is.
func (s *TicketService) refreshSLA(t *domain.Ticket) {
	status, err := sla.Evaluate(t.SLADeadline, s.now(), t.ResolvedAt, t.Status)
	if err != nil {
		s.logger.Error("sla invariant violation",
			zap.String("ticket_id", t.ID),
			zap.String("number", t.Number),
			zap.Error(err),
		)
	}
	if status != t.SLAStatus {
		s.metrics.RecordSLATransition(string(t.SLAStatus), string(status))
	}
	t.SLAStatus = status
}

func (s *TicketService) publishTicket(eventType events.Type, actor domain.Actor, ticket *domain.Ticket) {
	snapshot := *ticket
	s.publisher.Publish(events.Event{
		Type:     eventType,
		TicketID: ticket.ID,
		ActorID:  actor.ID,
		Ticket:   &snapshot,
	})
}
