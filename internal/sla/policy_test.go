package sla

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/helpdesk-mini/helpdesk/internal/domain"
)

func TestResolveDeadline(t *testing.T) {
	createdAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		priority domain.TicketPriority
		want     time.Time
	}{
		{name: "critical gets two hours", priority: domain.TicketPriorityCritical, want: createdAt.Add(2 * time.Hour)},
		{name: "high gets four hours", priority: domain.TicketPriorityHigh, want: createdAt.Add(4 * time.Hour)},
		{name: "medium gets four hours", priority: domain.TicketPriorityMedium, want: createdAt.Add(4 * time.Hour)},
		{name: "low gets four hours", priority: domain.TicketPriorityLow, want: createdAt.Add(4 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveDeadline(tt.priority, createdAt))
		})
	}
}
