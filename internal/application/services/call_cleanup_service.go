package services

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
)

// CallCleanupService removes call state once the originating appointment is over.
// It is the only component that deletes session records on behalf of neither peer.
type CallCleanupService struct {
	store     providers.SessionStore
	scheduler *CallScheduler
	clock     clock.Clock
	maxActive time.Duration
}

// NewCallCleanupService creates a cleanup service. Active calls untouched for
// longer than maxActive are treated as abandoned by Sweep.
func NewCallCleanupService(store providers.SessionStore, scheduler *CallScheduler, clk clock.Clock, maxActive time.Duration) *CallCleanupService {
	if clk == nil {
		clk = clock.New()
	}
	return &CallCleanupService{
		store:     store,
		scheduler: scheduler,
		clock:     clk,
		maxActive: maxActive,
	}
}

// HandleAppointmentCompleted deletes every session booked for the appointment and
// marks the matching scheduled calls completed. Peers still joined observe the deletion as ended.
func (s *CallCleanupService) HandleAppointmentCompleted(ctx context.Context, appointmentID string) error {
	logger := observability.LoggerFromContext(ctx).With().Str("appointment_id", appointmentID).Logger()

	calls, err := s.scheduler.GetCallsForAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}

	var errs []error
	for _, call := range calls {
		if err := s.finish(ctx, call); err != nil {
			errs = append(errs, err)
		}
	}

	logger.Info().Int("calls", len(calls)).Msg("appointment call state cleaned up")
	return errors.Join(errs...)
}

// Sweep finishes active calls that have not been touched within maxActive and returns how many it closed
func (s *CallCleanupService) Sweep(ctx context.Context) (int, error) {
	if s.maxActive <= 0 {
		return 0, nil
	}
	calls, err := s.scheduler.GetStaleActiveCalls(ctx, s.clock.Now().Add(-s.maxActive))
	if err != nil {
		return 0, err
	}

	var errs []error
	closed := 0
	for _, call := range calls {
		if err := s.finish(ctx, call); err != nil {
			errs = append(errs, err)
			continue
		}
		closed++
	}
	if closed > 0 {
		observability.LoggerFromContext(ctx).Info().Int("closed", closed).Msg("abandoned calls swept")
	}
	return closed, errors.Join(errs...)
}

// Run sweeps every interval until ctx is done
func (s *CallCleanupService) Run(ctx context.Context, interval time.Duration) {
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				observability.LoggerFromContext(ctx).Warn().Err(err).Msg("call sweep failed")
			}
		}
	}
}

func (s *CallCleanupService) finish(ctx context.Context, call *entities.ScheduledCall) error {
	if err := s.store.DeleteSession(ctx, call.ID); err != nil {
		return err
	}
	switch call.Status {
	case entities.ScheduledCallStatusPending, entities.ScheduledCallStatusActive:
		return s.scheduler.UpdateCallStatus(ctx, call.ID, entities.ScheduledCallStatusCompleted)
	}
	return nil
}
