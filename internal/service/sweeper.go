package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/helpdesk-mini/helpdesk/internal/events"
	"github.com/helpdesk-mini/helpdesk/internal/observability"
	"github.com/helpdesk-mini/helpdesk/internal/repository"
	"github.com/helpdesk-mini/helpdesk/internal/sla"
)

// Sweeper periodically re-derives the SLA status of every non-terminal
// ticket so transitions surface without waiting for a write. It persists
// and announces only tickets whose status actually changed.
type Sweeper struct {
	tickets   repository.TicketRepository
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	timeout   time.Duration
	now       func() time.Time
}

// SweeperDependencies bundles collaborators for the sweeper.
type SweeperDependencies struct {
	TicketRepo repository.TicketRepository
	Publisher  events.Publisher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Interval   time.Duration
	Timeout    time.Duration
	Now        func() time.Time
}

// NewSweeper constructs the sweeper.
func NewSweeper(deps SweeperDependencies) *Sweeper {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		tickets:   deps.TicketRepo,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		interval:  deps.Interval,
		timeout:   deps.Timeout,
		now:       now,
	}
}

// Register schedules the sweep on the given scheduler. The job is
// singleton so a slow cycle never overlaps the next one.
func (s *Sweeper) Register(scheduler gocron.Scheduler) error {
	_, err := scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.run),
		gocron.WithName("sla-sweeper"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	return err
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	changed, err := s.SweepOnce(ctx)
	if err != nil {
		s.logger.Error("sla sweep failed", zap.Error(err))
		return
	}
	if changed > 0 {
		s.logger.Info("sla sweep complete", zap.Int("transitions", changed))
	}
}

// SweepOnce evaluates every non-terminal ticket once and returns how many
// transitions it persisted. Per-ticket failures are logged and skipped so
// one bad row never stalls the cycle; a ticket that loses its version
// race was just updated by someone who already derived a fresh status.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	s.metrics.RecordSweep()

	tickets, err := s.tickets.ListOpen(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	changed := 0
	for i := range tickets {
		ticket := &tickets[i]
		status, err := sla.Evaluate(ticket.SLADeadline, now, ticket.ResolvedAt, ticket.Status)
		if err != nil {
			s.logger.Error("sla invariant violation during sweep",
				zap.String("ticket_id", ticket.ID),
				zap.String("number", ticket.Number),
				zap.Error(err),
			)
		}
		if status == ticket.SLAStatus {
			continue
		}
		previous := ticket.SLAStatus
		ticket.SLAStatus = status

		if err := s.tickets.Update(ctx, ticket); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, repository.ErrNotFound) {
				continue
			}
			s.logger.Error("failed to persist sla transition",
				zap.String("ticket_id", ticket.ID), zap.Error(err))
			continue
		}

		changed++
		s.metrics.RecordSLATransition(string(previous), string(status))
		s.logger.Info("sla transition",
			zap.String("ticket_id", ticket.ID),
			zap.String("number", ticket.Number),
			zap.String("from", string(previous)),
			zap.String("to", string(status)),
		)

		snapshot := *ticket
		s.publisher.Publish(events.Event{
			Type:     events.TypeTicketUpdated,
			TicketID: ticket.ID,
			Ticket:   &snapshot,
		})
	}
	return changed, nil
}
