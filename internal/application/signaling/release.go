package signaling

import (
	"context"

	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

// Release records a local hangup in the shared session. The initiator deletes the
// record and completes the appointment; the responder marks the record ended.
// Appointment completion is best effort and never fails the release.
func Release(ctx context.Context, store providers.SessionStore, completer providers.AppointmentCompleter, sessionID string, role entities.Role) error {
	logger := observability.CallLogger(ctx, sessionID)

	if role != entities.RoleInitiator {
		err := store.SetStatus(ctx, sessionID, entities.CallSessionStatusEnded)
		if err != nil && !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return persistence("failed to mark call session ended", err)
		}
		return nil
	}

	var appointmentID string
	if session, err := store.GetSession(ctx, sessionID); err == nil {
		appointmentID = session.AppointmentID
	}
	if err := store.DeleteSession(ctx, sessionID); err != nil {
		return persistence("failed to delete call session", err)
	}

	if completer != nil && appointmentID != "" {
		if err := completer.CompleteAppointment(ctx, appointmentID); err != nil {
			logger.Warn().Err(err).Str("appointment_id", appointmentID).Msg("failed to complete appointment")
		}
	}
	logger.Info().Str("role", string(role)).Msg("call session released")
	return nil
}
