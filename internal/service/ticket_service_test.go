package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helpdesk-mini/helpdesk/internal/domain"
	"github.com/helpdesk-mini/helpdesk/internal/events"
	"github.com/helpdesk-mini/helpdesk/internal/observability"
	"github.com/helpdesk-mini/helpdesk/internal/repository"
	"github.com/helpdesk-mini/helpdesk/internal/ticketnum"
	apperrors "github.com/helpdesk-mini/helpdesk/pkg/util"
)

var (
	requester      = domain.Actor{ID: "user-requester", Role: domain.RoleRequester}
	otherRequester = domain.Actor{ID: "user-other", Role: domain.RoleRequester}
	agent          = domain.Actor{ID: "user-agent", Role: domain.RoleAgent}
	admin          = domain.Actor{ID: "user-admin", Role: domain.RoleAdmin}
)

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) byType(eventType events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, event := range p.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type serviceFixture struct {
	service   *TicketService
	tickets   *repository.MemoryTicketRepository
	comments  *repository.MemoryCommentRepository
	users     *repository.MemoryUserRepository
	publisher *capturePublisher
	clock     *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()

	ticketRepo := repository.NewMemoryTicketRepository()
	commentRepo := repository.NewMemoryCommentRepository()
	userRepo := repository.NewMemoryUserRepository()
	publisher := &capturePublisher{}
	clock := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}

	seed := []domain.User{
		{ID: requester.ID, Name: "Req", Email: "req@example.com", Role: domain.RoleRequester, IsActive: true},
		{ID: otherRequester.ID, Name: "Other", Email: "other@example.com", Role: domain.RoleRequester, IsActive: true},
		{ID: agent.ID, Name: "Agent", Email: "agent@example.com", Role: domain.RoleAgent, IsActive: true},
		{ID: admin.ID, Name: "Admin", Email: "admin@example.com", Role: domain.RoleAdmin, IsActive: true},
	}
	for i := range seed {
		require.NoError(t, userRepo.Create(context.Background(), &seed[i]))
	}

	svc := NewTicketService(TicketDependencies{
		TicketRepo:  ticketRepo,
		CommentRepo: commentRepo,
		UserRepo:    userRepo,
		Allocator:   ticketnum.NewAllocator(ticketnum.NewMemoryCounter(0)),
		Publisher:   publisher,
		Logger:      zap.NewNop(),
		Metrics:     observability.NewMetrics(),
		Now:         clock.Now,
	})

	return &serviceFixture{
		service:   svc,
		tickets:   ticketRepo,
		comments:  commentRepo,
		users:     userRepo,
		publisher: publisher,
		clock:     clock,
	}
}

func (f *serviceFixture) createTicket(t *testing.T, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket, err := f.service.Create(context.Background(), requester, TicketCreateInput{
		Title:       "printer on fire",
		Description: "the office printer is literally on fire",
		Priority:    priority,
	})
	require.NoError(t, err)
	return ticket
}

func errorCode(t *testing.T, err error) string {
	t.Helper()
	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	return domainErr.Code
}

func TestCreateTicketDefaultsAndSLA(t *testing.T) {
	f := newFixture(t)

	ticket := f.createTicket(t, "")

	assert.Equal(t, "TKT-000001", ticket.Number)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, domain.TicketPriorityMedium, ticket.Priority)
	assert.Equal(t, domain.TicketCategoryGeneral, ticket.Category)
	assert.Equal(t, requester.ID, ticket.CreatedBy)
	assert.Equal(t, f.clock.Now().Add(4*time.Hour), ticket.SLADeadline)
	assert.Equal(t, domain.SLAStatusOnTime, ticket.SLAStatus)
	assert.Nil(t, ticket.ResolvedAt)
	assert.EqualValues(t, 1, ticket.Version)

	created := f.publisher.byType(events.TypeTicketCreated)
	require.Len(t, created, 1)
	assert.Equal(t, ticket.ID, created[0].TicketID)
	assert.Equal(t, requester.ID, created[0].ActorID)
}

func TestCreateTicketCriticalDeadline(t *testing.T) {
	f := newFixture(t)

	ticket := f.createTicket(t, domain.TicketPriorityCritical)

	assert.Equal(t, f.clock.Now().Add(2*time.Hour), ticket.SLADeadline)
}

func TestCreateTicketValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		input TicketCreateInput
	}{
		{name: "missing title", input: TicketCreateInput{Description: "desc"}},
		{name: "missing description", input: TicketCreateInput{Title: "title"}},
		{name: "blank title", input: TicketCreateInput{Title: "   ", Description: "desc"}},
		{name: "unknown priority", input: TicketCreateInput{Title: "t", Description: "d", Priority: "URGENT"}},
		{name: "unknown category", input: TicketCreateInput{Title: "t", Description: "d", Category: "LEGAL"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Create(context.Background(), requester, tt.input)
			require.Error(t, err)
			assert.Equal(t, "VALIDATION_FAILED", errorCode(t, err))
		})
	}
}

func TestCreateTicketNumbersAreSequential(t *testing.T) {
	f := newFixture(t)

	first := f.createTicket(t, "")
	second := f.createTicket(t, "")

	assert.Equal(t, "TKT-000001", first.Number)
	assert.Equal(t, "TKT-000002", second.Number)
}

func TestCreateTicketRetriesOnNumberCollision(t *testing.T) {
	f := newFixture(t)

	// Occupy the number the counter will hand out first.
	squatter := &domain.Ticket{
		ID:          "squatter",
		Number:      "TKT-000001",
		Title:       "x",
		Description: "x",
		Category:    domain.TicketCategoryGeneral,
		Priority:    domain.TicketPriorityLow,
		Status:      domain.TicketStatusOpen,
		CreatedBy:   otherRequester.ID,
		SLADeadline: f.clock.Now().Add(4 * time.Hour),
		SLAStatus:   domain.SLAStatusOnTime,
		Version:     1,
	}
	require.NoError(t, f.tickets.Insert(context.Background(), squatter))

	ticket := f.createTicket(t, "")
	assert.Equal(t, "TKT-000002", ticket.Number)
}

func TestCreateTicketAllocationExhausted(t *testing.T) {
	f := newFixture(t)

	for i, number := range []string{"TKT-000001", "TKT-000002", "TKT-000003"} {
		squatter := &domain.Ticket{
			ID:          number,
			Number:      number,
			Title:       "x",
			Description: "x",
			Category:    domain.TicketCategoryGeneral,
			Priority:    domain.TicketPriorityLow,
			Status:      domain.TicketStatusOpen,
			CreatedBy:   otherRequester.ID,
			SLADeadline: f.clock.Now().Add(4 * time.Hour),
			SLAStatus:   domain.SLAStatusOnTime,
			Version:     int64(i + 1),
		}
		require.NoError(t, f.tickets.Insert(context.Background(), squatter))
	}

	_, err := f.service.Create(context.Background(), requester, TicketCreateInput{Title: "t", Description: "d"})
	require.Error(t, err)
	assert.Equal(t, "ALLOCATION_EXHAUSTED", errorCode(t, err))
}

func TestUpdateStatusLifecycle(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	inProgress, err := f.service.UpdateStatus(context.Background(), agent, ticket.ID, domain.TicketStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, inProgress.Status)
	assert.Nil(t, inProgress.ResolvedAt)

	f.clock.Advance(time.Hour)
	resolved, err := f.service.UpdateStatus(context.Background(), agent, ticket.ID, domain.TicketStatusResolved)
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, f.clock.Now(), *resolved.ResolvedAt)
	assert.Equal(t, domain.SLAStatusOnTime, resolved.SLAStatus)

	firstResolvedAt := *resolved.ResolvedAt

	f.clock.Advance(time.Hour)
	closed, err := f.service.UpdateStatus(context.Background(), agent, ticket.ID, domain.TicketStatusClosed)
	require.NoError(t, err)
	require.NotNil(t, closed.ResolvedAt)
	assert.Equal(t, firstResolvedAt, *closed.ResolvedAt, "resolution timestamp is written once")
}

func TestUpdateStatusInvalidTransitions(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		path []domain.TicketStatus
		next domain.TicketStatus
	}{
		{name: "open cannot resolve directly", path: nil, next: domain.TicketStatusResolved},
		{name: "open cannot close directly", path: nil, next: domain.TicketStatusClosed},
		{name: "on hold cannot resolve", path: []domain.TicketStatus{domain.TicketStatusOnHold}, next: domain.TicketStatusResolved},
		{name: "resolved cannot reopen", path: []domain.TicketStatus{domain.TicketStatusInProgress, domain.TicketStatusResolved}, next: domain.TicketStatusInProgress},
		{name: "closed is terminal", path: []domain.TicketStatus{domain.TicketStatusInProgress, domain.TicketStatusClosed}, next: domain.TicketStatusInProgress},
		{name: "same status is not a transition", path: []domain.TicketStatus{domain.TicketStatusInProgress}, next: domain.TicketStatusInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ticket := f.createTicket(t, "")
			for _, step := range tt.path {
				_, err := f.service.UpdateStatus(context.Background(), agent, ticket.ID, step)
				require.NoError(t, err)
			}
			_, err := f.service.UpdateStatus(context.Background(), agent, ticket.ID, tt.next)
			require.Error(t, err)
			assert.Equal(t, "INVALID_TRANSITION", errorCode(t, err))
		})
	}
}

func TestUpdateStatusInProgressToClosedStampsResolution(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	_, err := f.service.UpdateStatus(context.Background(), agent, ticket.ID, domain.TicketStatusInProgress)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	closed, err := f.service.UpdateStatus(context.Background(), agent, ticket.ID, domain.TicketStatusClosed)
	require.NoError(t, err)
	require.NotNil(t, closed.ResolvedAt)
	assert.Equal(t, f.clock.Now(), *closed.ResolvedAt)
}

func TestUpdateStatusForbiddenForRequester(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	_, err := f.service.UpdateStatus(context.Background(), requester, ticket.ID, domain.TicketStatusInProgress)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", errorCode(t, err))
}

func TestResolvedBeforeDeadlineStaysOnTimeForever(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	_, err := f.service.UpdateStatus(context.Background(), agent, ticket.ID, domain.TicketStatusInProgress)
	require.NoError(t, err)

	f.clock.Advance(3 * time.Hour)
	_, err = f.service.UpdateStatus(context.Background(), agent, ticket.ID, domain.TicketStatusResolved)
	require.NoError(t, err)

	// Long after the deadline the verdict must not drift to breached.
	f.clock.Advance(72 * time.Hour)
	got, _, err := f.service.Get(context.Background(), agent, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SLAStatusOnTime, got.SLAStatus)
}

func TestResolvedAfterDeadlineIsBreached(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	_, err := f.service.UpdateStatus(context.Background(), agent, ticket.ID, domain.TicketStatusInProgress)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Hour)
	resolved, err := f.service.UpdateStatus(context.Background(), agent, ticket.ID, domain.TicketStatusResolved)
	require.NoError(t, err)
	assert.Equal(t, domain.SLAStatusBreached, resolved.SLAStatus)
}

func TestUpdatePriorityKeepsDeadline(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, domain.TicketPriorityLow)
	originalDeadline := ticket.SLADeadline

	updated, err := f.service.UpdatePriority(context.Background(), agent, ticket.ID, domain.TicketPriorityCritical)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityCritical, updated.Priority)
	assert.Equal(t, originalDeadline, updated.SLADeadline, "deadline committed at creation does not move")
}

func TestAssign(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	assigned, err := f.service.Assign(context.Background(), admin, ticket.ID, agent.ID)
	require.NoError(t, err)
	require.NotNil(t, assigned.AssignedTo)
	assert.Equal(t, agent.ID, *assigned.AssignedTo)
}

func TestAssignRejectsRequesterAssignee(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	_, err := f.service.Assign(context.Background(), agent, ticket.ID, otherRequester.ID)
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, err))
}

func TestAssignUnknownAssignee(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	_, err := f.service.Assign(context.Background(), agent, ticket.ID, "nobody")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", errorCode(t, err))
}

func TestAddComment(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	comment, err := f.service.AddComment(context.Background(), requester, ticket.ID, "any update?")
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, comment.TicketID)
	assert.Equal(t, requester.ID, comment.AuthorID)

	added := f.publisher.byType(events.TypeCommentAdded)
	require.Len(t, added, 1)
	require.NotNil(t, added[0].Comment)
	assert.Equal(t, comment.ID, added[0].Comment.ID)
}

func TestAddCommentByNumberTouchesTicket(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	comment, err := f.service.AddComment(context.Background(), requester, ticket.Number, "following up")
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, comment.TicketID)

	// The bookkeeping touch must land on the resolved ticket, not the
	// raw number reference.
	stored, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.Version+1, stored.Version)
}

func TestAddCommentDoesNotChangeStatus(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	_, err := f.service.AddComment(context.Background(), agent, ticket.ID, "looking into it")
	require.NoError(t, err)

	got, _, err := f.service.Get(context.Background(), agent, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, got.Status)
	assert.Nil(t, got.ResolvedAt)
}

func TestAddCommentAccess(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	_, err := f.service.AddComment(context.Background(), otherRequester, ticket.ID, "me too")
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", errorCode(t, err))

	_, err = f.service.AddComment(context.Background(), agent, ticket.ID, "on it")
	require.NoError(t, err)
}

func TestAddCommentValidatesBody(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	_, err := f.service.AddComment(context.Background(), requester, ticket.ID, "   ")
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, err))
}

func TestConcurrentCommentsAllSurvive(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.AddComment(context.Background(), agent, ticket.ID, "concurrent note")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, comments, err := f.service.Get(context.Background(), agent, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, comments, writers)
}

func TestGetEnforcesReadAccess(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	_, _, err := f.service.Get(context.Background(), otherRequester, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", errorCode(t, err))

	_, _, err = f.service.Get(context.Background(), agent, ticket.ID)
	require.NoError(t, err)
}

func TestGetResolvesTicketNumberReferences(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	got, _, err := f.service.Get(context.Background(), requester, ticket.Number)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, got.ID)

	_, _, err = f.service.Get(context.Background(), requester, "TKT-999999")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", errorCode(t, err))
}

func TestGetRecomputesSLAStatus(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")
	assert.Equal(t, domain.SLAStatusOnTime, ticket.SLAStatus)

	// Inside the final hour the stored status is outdated until a sweep
	// runs; reads must still report the derived truth.
	f.clock.Advance(3*time.Hour + 30*time.Minute)
	got, _, err := f.service.Get(context.Background(), requester, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SLAStatusAtRisk, got.SLAStatus)

	f.clock.Advance(time.Hour)
	got, _, err = f.service.Get(context.Background(), requester, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SLAStatusBreached, got.SLAStatus)
}

func TestListScopesRequestersToOwnTickets(t *testing.T) {
	f := newFixture(t)
	mine := f.createTicket(t, "")

	theirs, err := f.service.Create(context.Background(), otherRequester, TicketCreateInput{
		Title:       "vpn down",
		Description: "cannot connect",
	})
	require.NoError(t, err)

	visible, err := f.service.List(context.Background(), requester, TicketListFilter{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, mine.ID, visible[0].ID)

	all, err := f.service.List(context.Background(), agent, TicketListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	ids := map[string]bool{}
	for _, tk := range all {
		ids[tk.ID] = true
	}
	assert.True(t, ids[theirs.ID])
}

func TestListFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")
	f.createTicket(t, "")

	_, err := f.service.UpdateStatus(context.Background(), agent, ticket.ID, domain.TicketStatusInProgress)
	require.NoError(t, err)

	inProgress, err := f.service.List(context.Background(), agent, TicketListFilter{
		Statuses: []domain.TicketStatus{domain.TicketStatusInProgress},
	})
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	assert.Equal(t, ticket.ID, inProgress[0].ID)
}

func TestDeleteIsAdminOnly(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")

	err := f.service.Delete(context.Background(), agent, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", errorCode(t, err))

	require.NoError(t, f.service.Delete(context.Background(), admin, ticket.ID))

	_, _, err = f.service.Get(context.Background(), admin, ticket.ID)
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", errorCode(t, err))
}

func TestMutationsBumpVersion(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "")
	assert.EqualValues(t, 1, ticket.Version)

	updated, err := f.service.UpdateStatus(context.Background(), agent, ticket.ID, domain.TicketStatusInProgress)
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated.Version)

	updated, err = f.service.UpdatePriority(context.Background(), agent, ticket.ID, domain.TicketPriorityHigh)
	require.NoError(t, err)
	assert.EqualValues(t, 3, updated.Version)
}
