package services

import (
	"context"
	"errors"

	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/domain/repositories"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

// AppointmentService is the call core's write-back into the appointment subsystem
type AppointmentService struct {
	repo    repositories.AppointmentRepository
	cleanup *CallCleanupService
}

// NewAppointmentService creates a new appointment service; cleanup may be nil
func NewAppointmentService(repo repositories.AppointmentRepository, cleanup *CallCleanupService) *AppointmentService {
	return &AppointmentService{
		repo:    repo,
		cleanup: cleanup,
	}
}

var _ providers.AppointmentCompleter = (*AppointmentService)(nil)

// GetAppointment returns the appointment a call is derived from
func (s *AppointmentService) GetAppointment(ctx context.Context, id string) (*entities.Appointment, error) {
	appointment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return appointment, nil
}

// CompleteAppointment marks the appointment completed and cleans up its call state.
// Both steps run even if the first fails.
func (s *AppointmentService) CompleteAppointment(ctx context.Context, appointmentID string) error {
	if appointmentID == "" {
		return apperrors.NewValidationError("appointment id is required")
	}
	logger := observability.LoggerFromContext(ctx).With().Str("appointment_id", appointmentID).Logger()

	var errs []error
	if err := s.repo.UpdateStatus(ctx, appointmentID, entities.AppointmentStatusCompleted); err != nil {
		logger.Warn().Err(err).Msg("failed to mark appointment completed")
		errs = append(errs, err)
	}

	if s.cleanup != nil {
		if err := s.cleanup.HandleAppointmentCompleted(ctx, appointmentID); err != nil {
			logger.Warn().Err(err).Msg("failed to clean up appointment calls")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
