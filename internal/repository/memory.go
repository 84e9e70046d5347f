package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/helpdesk-mini/helpdesk/internal/domain"
)

// In-memory implementations of the repository contracts. They back the
// service-level tests and DB-less development runs; the engine only ever
// sees the interfaces.

// MemoryTicketRepository stores tickets in a mutex-guarded map and
// enforces the same version-check semantics as the Postgres repository.
type MemoryTicketRepository struct {
	mu      sync.RWMutex
	tickets map[string]domain.Ticket
	numbers map[string]string
}

// NewMemoryTicketRepository returns an empty in-memory repository.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{
		tickets: make(map[string]domain.Ticket),
		numbers: make(map[string]string),
	}
}

func cloneTicket(t domain.Ticket) domain.Ticket {
	if t.AssignedTo != nil {
		assigned := *t.AssignedTo
		t.AssignedTo = &assigned
	}
	if t.ResolvedAt != nil {
		resolved := *t.ResolvedAt
		t.ResolvedAt = &resolved
	}
	t.Tags = append([]string(nil), t.Tags...)
	return t
}

func (r *MemoryTicketRepository) Insert(ctx context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.numbers[ticket.Number]; taken {
		return ErrNumberTaken
	}
	r.numbers[ticket.Number] = ticket.ID
	r.tickets[ticket.ID] = cloneTicket(*ticket)
	return nil
}

func (r *MemoryTicketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[ticket.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != ticket.Version {
		return ErrVersionConflict
	}
	ticket.Version++
	ticket.UpdatedAt = time.Now()
	r.tickets[ticket.ID] = cloneTicket(*ticket)
	return nil
}

func (r *MemoryTicketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	ticket := cloneTicket(stored)
	return &ticket, nil
}

func (r *MemoryTicketRepository) GetByNumber(ctx context.Context, number string) (*domain.Ticket, error) {
	r.mu.RLock()
	id, ok := r.numbers[number]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryTicketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.Ticket
	for _, stored := range r.tickets {
		if !matchesFilter(stored, filter) {
			continue
		}
		result = append(result, cloneTicket(stored))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset > len(result) {
		offset = len(result)
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func matchesFilter(t domain.Ticket, filter TicketFilter) bool {
	if filter.CreatedBy != nil && t.CreatedBy != *filter.CreatedBy {
		return false
	}
	if filter.AssignedTo != nil && (t.AssignedTo == nil || *t.AssignedTo != *filter.AssignedTo) {
		return false
	}
	if filter.OpenOnly && t.Status.IsTerminal() {
		return false
	}
	if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, t.Status) {
		return false
	}
	if len(filter.Priorities) > 0 && !containsPriority(filter.Priorities, t.Priority) {
		return false
	}
	if len(filter.Categories) > 0 && !containsCategory(filter.Categories, t.Category) {
		return false
	}
	if filter.SearchTerm != nil {
		term := strings.ToLower(strings.TrimSpace(*filter.SearchTerm))
		if term != "" &&
			!strings.Contains(strings.ToLower(t.Title), term) &&
			!strings.Contains(strings.ToLower(t.Description), term) &&
			!strings.Contains(strings.ToLower(t.Number), term) {
			return false
		}
	}
	return true
}

func containsStatus(list []domain.TicketStatus, v domain.TicketStatus) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsPriority(list []domain.TicketPriority, v domain.TicketPriority) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsCategory(list []domain.TicketCategory, v domain.TicketCategory) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func (r *MemoryTicketRepository) ListOpen(ctx context.Context) ([]domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Ticket
	for _, stored := range r.tickets {
		if stored.Status.IsTerminal() {
			continue
		}
		result = append(result, cloneTicket(stored))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SLADeadline.Before(result[j].SLADeadline)
	})
	return result, nil
}

func (r *MemoryTicketRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.numbers, stored.Number)
	delete(r.tickets, id)
	return nil
}

func (r *MemoryTicketRepository) Stats(ctx context.Context) (*TicketStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &TicketStats{
		ByCategory: map[string]int64{},
		ByPriority: map[string]int64{},
		ByStatus:   map[string]int64{},
	}
	var resolvedCount int64
	var totalResolutionHours float64
	for _, t := range r.tickets {
		stats.Total++
		switch t.Status {
		case domain.TicketStatusOpen:
			stats.Open++
		case domain.TicketStatusInProgress:
			stats.InProgress++
		case domain.TicketStatusOnHold:
			stats.OnHold++
		case domain.TicketStatusResolved:
			stats.Resolved++
		case domain.TicketStatusClosed:
			stats.Closed++
		}
		switch t.SLAStatus {
		case domain.SLAStatusBreached:
			stats.BreachedSLA++
		case domain.SLAStatusAtRisk:
			stats.AtRiskSLA++
		}
		stats.ByCategory[string(t.Category)]++
		stats.ByPriority[string(t.Priority)]++
		stats.ByStatus[string(t.Status)]++
		if t.ResolvedAt != nil {
			resolvedCount++
			totalResolutionHours += t.ResolvedAt.Sub(t.CreatedAt).Hours()
		}
	}
	if resolvedCount > 0 {
		stats.AvgResolutionHours = totalResolutionHours / float64(resolvedCount)
	}
	return stats, nil
}

// MemoryCommentRepository is the in-memory comment store.
type MemoryCommentRepository struct {
	mu       sync.RWMutex
	comments map[string][]domain.Comment
}

// NewMemoryCommentRepository returns an empty in-memory repository.
func NewMemoryCommentRepository() *MemoryCommentRepository {
	return &MemoryCommentRepository{comments: make(map[string][]domain.Comment)}
}

func (r *MemoryCommentRepository) Insert(ctx context.Context, comment *domain.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comments[comment.TicketID] = append(r.comments[comment.TicketID], *comment)
	return nil
}

func (r *MemoryCommentRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Comment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Comment(nil), r.comments[ticketID]...), nil
}

// MemoryUserRepository is the in-memory account store.
type MemoryUserRepository struct {
	mu     sync.RWMutex
	users  map[string]domain.User
	emails map[string]string
}

// NewMemoryUserRepository returns an empty in-memory repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users:  make(map[string]domain.User),
		emails: make(map[string]string),
	}
}

func (r *MemoryUserRepository) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.emails[user.Email]; taken {
		return ErrEmailTaken
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	r.emails[user.Email] = user.ID
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryUserRepository) Update(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return ErrNotFound
	}
	user.UpdatedAt = time.Now()
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.emails[email]
	if !ok {
		return nil, ErrNotFound
	}
	user := r.users[id]
	return &user, nil
}

func (r *MemoryUserRepository) ListByRoles(ctx context.Context, roles ...domain.Role) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var users []domain.User
	for _, user := range r.users {
		if !user.IsActive {
			continue
		}
		for _, role := range roles {
			if user.Role == role {
				users = append(users, user)
				break
			}
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}
