package services

import (
	"context"

	"github.com/zatekoja/telecare/internal/application/signaling"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/domain/repositories"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

// CallStart is the result of starting a call from an appointment
type CallStart struct {
	Session  *entities.CallSession `json:"session"`
	CallLink string                `json:"call_link"`
}

// CallLauncher turns an appointment into a live CallSession. The doctor who starts
// the call creates the session record and is therefore its initiator.
type CallLauncher struct {
	appointments repositories.AppointmentRepository
	store        providers.SessionStore
	scheduler    *CallScheduler
	origin       string
}

// NewCallLauncher creates a call launcher
func NewCallLauncher(
	appointments repositories.AppointmentRepository,
	store providers.SessionStore,
	scheduler *CallScheduler,
	origin string,
) *CallLauncher {
	return &CallLauncher{
		appointments: appointments,
		store:        store,
		scheduler:    scheduler,
		origin:       origin,
	}
}

// StartCall derives participants and mode from the appointment, reuses its pending
// scheduled call (or admits an immediate one), and claims the session record.
func (l *CallLauncher) StartCall(ctx context.Context, who entities.Identity, appointmentID string) (*CallStart, error) {
	ctx, span := observability.StartSpan(ctx, "CallLauncher.StartCall")
	defer span.End()

	appointment, err := l.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appointment.Mode.NeedsSession() {
		return nil, apperrors.NewValidationError("in-person visits have no call")
	}
	if appointment.Status == entities.AppointmentStatusCancelled || appointment.Status == entities.AppointmentStatusCompleted {
		return nil, apperrors.NewConflictError("appointment is " + string(appointment.Status))
	}
	if who.Role != entities.UserRoleDoctor || who.UserID != appointment.DoctorID {
		return nil, apperrors.NewUnauthorizedError("only the appointment's doctor can start the call")
	}

	sessionID, err := l.sessionFor(ctx, appointment)
	if err != nil {
		return nil, err
	}

	session, err := l.store.ClaimSession(ctx, &entities.CallSession{
		ID:            sessionID,
		AppointmentID: appointment.ID,
		DoctorID:      appointment.DoctorID,
		PatientID:     appointment.PatientID,
		InitiatorID:   who.UserID,
		Mode:          appointment.Mode,
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	if err := l.scheduler.UpdateCallStatus(ctx, sessionID, entities.ScheduledCallStatusActive); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("failed to mark scheduled call active")
	}

	observability.CallLogger(ctx, sessionID).Info().Str("appointment_id", appointment.ID).Msg("call started")
	return &CallStart{
		Session:  session,
		CallLink: entities.BuildCallLink(l.origin, sessionID),
	}, nil
}

func (l *CallLauncher) sessionFor(ctx context.Context, appointment *entities.Appointment) (string, error) {
	calls, err := l.scheduler.GetCallsForAppointment(ctx, appointment.ID)
	if err != nil {
		return "", err
	}
	for _, call := range calls {
		if call.Status == entities.ScheduledCallStatusPending || call.Status == entities.ScheduledCallStatusActive {
			return call.ID, nil
		}
	}

	return l.scheduler.CreateCall(ctx, entities.CallDetails{
		PatientID:     appointment.PatientID,
		DoctorID:      appointment.DoctorID,
		AppointmentID: appointment.ID,
		PatientName:   appointment.PatientName,
		PatientPhone:  appointment.PatientPhone,
		Issue:         appointment.Reason,
		Mode:          appointment.Mode,
		IsImmediate:   true,
	})
}

// ResolveRole returns the session and the role who occupies in it
func (l *CallLauncher) ResolveRole(ctx context.Context, who entities.Identity, sessionID string) (*entities.CallSession, entities.Role, error) {
	return signaling.ResolveRole(ctx, l.store, who, sessionID)
}
