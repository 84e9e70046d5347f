package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdesk-mini/helpdesk/internal/domain"
)

// Sentinel errors surfaced by repositories. The service layer translates
// them into the caller-facing error taxonomy.
var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("record version conflict")
	ErrNumberTaken     = errors.New("ticket number already taken")
	ErrEmailTaken      = errors.New("email already registered")
)

const pgUniqueViolation = "23505"

// TicketFilter captures listing parameters.
type TicketFilter struct {
	CreatedBy  *string
	AssignedTo *string
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	Categories []domain.TicketCategory
	SearchTerm *string
	OpenOnly   bool
	Limit      int
	Offset     int
}

// TicketStats aggregates counts for the analytics endpoint.
type TicketStats struct {
	Total              int64            `json:"total_tickets"`
	Open               int64            `json:"open_tickets"`
	InProgress         int64            `json:"in_progress_tickets"`
	OnHold             int64            `json:"on_hold_tickets"`
	Resolved           int64            `json:"resolved_tickets"`
	Closed             int64            `json:"closed_tickets"`
	BreachedSLA        int64            `json:"breached_sla"`
	AtRiskSLA          int64            `json:"at_risk_sla"`
	AvgResolutionHours float64          `json:"avg_resolution_hours"`
	ByCategory         map[string]int64 `json:"tickets_by_category"`
	ByPriority         map[string]int64 `json:"tickets_by_priority"`
	ByStatus           map[string]int64 `json:"tickets_by_status"`
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	// Insert persists a new ticket verbatim. Returns ErrNumberTaken when
	// the ticket number collides with an existing row.
	Insert(ctx context.Context, ticket *domain.Ticket) error
	// Update persists a mutation guarded by the ticket's version and bumps
	// it. Returns ErrVersionConflict when another writer got there first.
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByNumber(ctx context.Context, number string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// ListOpen returns every ticket not in a terminal state, for sweeping.
	ListOpen(ctx context.Context) ([]domain.Ticket, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (*TicketStats, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates a Postgres-backed repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, number, title, description, category, priority, status,
               created_by, assigned_to, sla_deadline, sla_status, resolved_at,
               tags, version, created_at, updated_at`

func (r *ticketRepository) Insert(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, number, title, description, category, priority, status,
                             created_by, assigned_to, sla_deadline, sla_status, resolved_at,
                             tags, version, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err := r.pool.Exec(ctx, query,
		ticket.ID,
		ticket.Number,
		ticket.Title,
		ticket.Description,
		ticket.Category,
		ticket.Priority,
		ticket.Status,
		ticket.CreatedBy,
		ticket.AssignedTo,
		ticket.SLADeadline,
		ticket.SLAStatus,
		ticket.ResolvedAt,
		ticket.Tags,
		ticket.Version,
		ticket.CreatedAt,
		ticket.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrNumberTaken
		}
		return err
	}
	return nil
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET title=$1, description=$2, category=$3, priority=$4, status=$5,
            assigned_to=$6, sla_status=$7, resolved_at=$8, tags=$9,
            version=version+1, updated_at=NOW()
        WHERE id=$10 AND version=$11
        RETURNING version, updated_at`
	err := r.pool.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Category,
		ticket.Priority,
		ticket.Status,
		ticket.AssignedTo,
		ticket.SLAStatus,
		ticket.ResolvedAt,
		ticket.Tags,
		ticket.ID,
		ticket.Version,
	).Scan(&ticket.Version, &ticket.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	// Row missing or version mismatch; disambiguate.
	var exists bool
	if probeErr := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)`, ticket.ID).Scan(&exists); probeErr != nil {
		return probeErr
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE id=$1`, ticketColumns)
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetByNumber(ctx context.Context, number string) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE number=$1`, ticketColumns)
	return r.fetchSingle(ctx, query, number)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&ticket.ID,
		&ticket.Number,
		&ticket.Title,
		&ticket.Description,
		&ticket.Category,
		&ticket.Priority,
		&ticket.Status,
		&ticket.CreatedBy,
		&ticket.AssignedTo,
		&ticket.SLADeadline,
		&ticket.SLAStatus,
		&ticket.ResolvedAt,
		&ticket.Tags,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := fmt.Sprintf(`SELECT %s FROM tickets`, ticketColumns)
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatedBy != nil {
		args = append(args, *filter.CreatedBy)
		clauses = append(clauses, fmt.Sprintf("created_by=$%d", len(args)))
	}
	if filter.AssignedTo != nil {
		args = append(args, *filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("assigned_to=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Categories) > 0 {
		placeholders := make([]string, len(filter.Categories))
		for i, cat := range filter.Categories {
			args = append(args, cat)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("category IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.OpenOnly {
		args = append(args, domain.TicketStatusResolved, domain.TicketStatusClosed)
		clauses = append(clauses, fmt.Sprintf("status NOT IN ($%d,$%d)", len(args)-1, len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf(
			"(LOWER(title) LIKE %s OR LOWER(description) LIKE %s OR LOWER(number) LIKE %s)",
			placeholder, placeholder, placeholder))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListOpen(ctx context.Context) ([]domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE status NOT IN ($1,$2) ORDER BY sla_deadline ASC`, ticketColumns)
	rows, err := r.pool.Query(ctx, query, domain.TicketStatusResolved, domain.TicketStatusClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) Stats(ctx context.Context) (*TicketStats, error) {
	stats := &TicketStats{
		ByCategory: map[string]int64{},
		ByPriority: map[string]int64{},
		ByStatus:   map[string]int64{},
	}

	const totalsQuery = `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE status='OPEN'),
               COUNT(*) FILTER (WHERE status='IN_PROGRESS'),
               COUNT(*) FILTER (WHERE status='ON_HOLD'),
               COUNT(*) FILTER (WHERE status='RESOLVED'),
               COUNT(*) FILTER (WHERE status='CLOSED'),
               COUNT(*) FILTER (WHERE sla_status='BREACHED'),
               COUNT(*) FILTER (WHERE sla_status='AT_RISK'),
               COALESCE(AVG(EXTRACT(EPOCH FROM (resolved_at - created_at)) / 3600.0)
                        FILTER (WHERE resolved_at IS NOT NULL), 0)
        FROM tickets`
	if err := r.pool.QueryRow(ctx, totalsQuery).Scan(
		&stats.Total,
		&stats.Open,
		&stats.InProgress,
		&stats.OnHold,
		&stats.Resolved,
		&stats.Closed,
		&stats.BreachedSLA,
		&stats.AtRiskSLA,
		&stats.AvgResolutionHours,
	); err != nil {
		return nil, err
	}

	groupings := []struct {
		column string
		dest   map[string]int64
	}{
		{"category", stats.ByCategory},
		{"priority", stats.ByPriority},
		{"status", stats.ByStatus},
	}
	for _, g := range groupings {
		query := fmt.Sprintf(`SELECT %s, COUNT(*) FROM tickets GROUP BY %s`, g.column, g.column)
		rows, err := r.pool.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var key string
			var count int64
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return nil, err
			}
			g.dest[key] = count
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.Number,
			&ticket.Title,
			&ticket.Description,
			&ticket.Category,
			&ticket.Priority,
			&ticket.Status,
			&ticket.CreatedBy,
			&ticket.AssignedTo,
			&ticket.SLADeadline,
			&ticket.SLAStatus,
			&ticket.ResolvedAt,
			&ticket.Tags,
			&ticket.Version,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
