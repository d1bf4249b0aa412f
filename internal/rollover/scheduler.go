// Package rollover runs the scheduled monthly period sweep. Accounts renewed
// by billing events do not depend on it; the sweep is the backstop for
// free-tier and detached accounts whose periods would otherwise never
// advance.
package rollover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"app/internal/repository"
	"app/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler periodically resets accounts whose billing period has elapsed.
type Scheduler struct {
	credits  service.CreditService
	store    repository.Store
	schedule string
	batch    int
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler creates a sweep scheduler. The schedule is a standard 5-field
// cron expression; batch caps how many accounts one sweep touches.
func NewScheduler(credits service.CreditService, store repository.Store, schedule string, batch int, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		credits:  credits,
		store:    store,
		schedule: schedule,
		batch:    batch,
		logger:   logger.With().Str("component", "rollover").Logger(),
	}
}

// Start validates the schedule and begins running sweeps until the context is
// canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("rollover scheduler already running")
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid rollover schedule %q: %w", s.schedule, err)
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.RunSweep(ctx) }); err != nil {
		return fmt.Errorf("failed to register rollover job: %w", err)
	}
	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info().Str("schedule", s.schedule).Msg("Rollover scheduler started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Rollover scheduler stopped")
}

// RunSweep resets every account whose period ended before now, up to the
// batch limit. Each account is reset independently; one failure does not
// abort the sweep.
func (s *Scheduler) RunSweep(ctx context.Context) {
	now := time.Now().UTC()
	balances, err := s.store.ListExpiredPeriods(ctx, now, s.batch)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list expired periods")
		return
	}
	if len(balances) == 0 {
		s.logger.Debug().Msg("No expired periods to roll over")
		return
	}

	reset := 0
	for _, b := range balances {
		newStart, newEnd := nextPeriod(b.PeriodStart, b.PeriodEnd, now)
		// Ineligible accounts still advance their period so threshold
		// notifications re-arm, but they get no fresh allowance.
		newLimit := b.MonthlyLimit
		if !b.SubscriptionStatus.Eligible() {
			newLimit = 0
		}
		if err := s.credits.ResetPeriod(ctx, b.AccountID, newLimit, newStart, newEnd); err != nil {
			s.logger.Error().Err(err).Str("account_id", b.AccountID).Msg("Failed to reset period")
			continue
		}
		reset++
	}
	s.logger.Info().Int("expired", len(balances)).Int("reset", reset).Msg("Rollover sweep finished")
}

// nextPeriod advances the period by whole months until it covers now. The
// catch-up loop handles accounts that missed sweeps; intermediate months are
// skipped, not stacked, because unused allowance never carries over.
func nextPeriod(start, end, now time.Time) (time.Time, time.Time) {
	newStart, newEnd := end, end.AddDate(0, 1, 0)
	for !newEnd.After(now) {
		newStart = newEnd
		newEnd = newStart.AddDate(0, 1, 0)
	}
	return newStart, newEnd
}
