package tickets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/vserve/internal/identity"
	"github.com/raphaelgruber/vserve/internal/models"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the expiry sweep once a minute.
const DefaultSweepSchedule = "@every 60s"

// Sweeper periodically deletes tickets whose deadline has passed.
type Sweeper struct {
	manager  *Manager
	scope    *identity.Scope
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewSweeper creates a sweeper acting as the principal signed into sc,
// which must be allowed to list and delete every ticket.
func NewSweeper(m *Manager, sc *identity.Scope, schedule string, logger *slog.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{manager: m, scope: sc, schedule: schedule, logger: logger}
}

// Start schedules the sweep. It returns an error for an invalid schedule.
func (s *Sweeper) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.SweepOnce(ctx); err != nil {
			s.logger.Error("expired ticket sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("expired ticket sweeper started", "schedule", s.schedule)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// SweepOnce deletes every ticket whose deadline is before now and returns
// how many were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	tickets, err := s.manager.List(ctx, s.scope)
	if err != nil {
		return 0, err
	}
	now := s.manager.now()
	deleted := 0
	for _, t := range tickets {
		if !expired(t, now) {
			continue
		}
		if err := s.manager.Disapprove(ctx, s.scope, t.ID); err != nil {
			return deleted, err
		}
		deleted++
		s.logger.Info("deleted expired ticket", "ticket_id", t.ID, "user_id", t.OwnerRef)
	}
	return deleted, nil
}

func expired(t models.Ticket, now time.Time) bool {
	return t.Deadline != nil && now.After(*t.Deadline)
}
