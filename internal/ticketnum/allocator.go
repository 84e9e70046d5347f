// Package ticketnum allocates the human-readable ticket numbers
// (TKT-000042). Numbers come from an atomically incremented durable
// counter, never from counting existing rows, so concurrent creations can
// never be handed the same value.
package ticketnum

import (
	"context"
	"fmt"
	"sync"
)

// Prefix is the fixed ticket number prefix.
const Prefix = "TKT-"

// Counter is the increment-and-fetch primitive backing the allocator.
// Next must be atomic with respect to concurrent callers.
type Counter interface {
	Next(ctx context.Context) (int64, error)
}

// Allocator turns counter values into formatted ticket numbers.
type Allocator struct {
	counter Counter
}

// NewAllocator constructs an allocator over the given counter.
func NewAllocator(counter Counter) *Allocator {
	return &Allocator{counter: counter}
}

// Allocate returns the next ticket number. Two concurrent calls never
// return the same value.
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	seq, err := a.counter.Next(ctx)
	if err != nil {
		return "", fmt.Errorf("allocate ticket number: %w", err)
	}
	return Format(seq), nil
}

// Format renders a counter value as a ticket number.
func Format(seq int64) string {
	return fmt.Sprintf("%s%06d", Prefix, seq)
}

// MemoryCounter is a process-local Counter for tests and DB-less runs.
type MemoryCounter struct {
	mu   sync.Mutex
	last int64
}

// NewMemoryCounter returns a counter starting after start.
func NewMemoryCounter(start int64) *MemoryCounter {
	return &MemoryCounter{last: start}
}

// Next returns the next counter value.
func (c *MemoryCounter) Next(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last++
	return c.last, nil
}
