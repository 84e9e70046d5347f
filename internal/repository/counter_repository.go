package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TicketNumberCounter is the name of the durable counter backing ticket
// number allocation.
const TicketNumberCounter = "ticket_number"

// CounterRepository exposes the atomic increment-and-fetch primitive used
// by the ticket number allocator. The single-statement upsert makes the
// increment atomic at the storage level; concurrent callers serialize on
// the counter row and each observe a distinct value.
type CounterRepository struct {
	pool *pgxpool.Pool
	name string
}

// NewCounterRepository instantiates a Postgres-backed counter.
func NewCounterRepository(pool *pgxpool.Pool, name string) *CounterRepository {
	return &CounterRepository{pool: pool, name: name}
}

// Next atomically increments the counter and returns the new value.
func (r *CounterRepository) Next(ctx context.Context) (int64, error) {
	const query = `
        INSERT INTO counters (name, value) VALUES ($1, 1)
        ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
        RETURNING value`
	var value int64
	if err := r.pool.QueryRow(ctx, query, r.name).Scan(&value); err != nil {
		return 0, err
	}
	return value, nil
}
