package handlers

import (
	"context"
	"net/http"

	"github.com/zatekoja/telecare/internal/application/services"
	"github.com/zatekoja/telecare/internal/domain/entities"
)

// CallLauncher starts a call session from an appointment
type CallLauncher interface {
	StartCall(ctx context.Context, who entities.Identity, appointmentID string) (*services.CallStart, error)
}

// AppointmentService defines the appointment operations the call API needs
type AppointmentService interface {
	GetAppointment(ctx context.Context, id string) (*entities.Appointment, error)
	CompleteAppointment(ctx context.Context, appointmentID string) error
}

// AppointmentHandler handles appointment-driven call requests
type AppointmentHandler struct {
	launcher CallLauncher
	service  AppointmentService
}

// NewAppointmentHandler creates a new appointment handler
func NewAppointmentHandler(launcher CallLauncher, service AppointmentService) *AppointmentHandler {
	return &AppointmentHandler{
		launcher: launcher,
		service:  service,
	}
}

// StartCall handles POST /api/appointments/{id}/calls
func (h *AppointmentHandler) StartCall(w http.ResponseWriter, r *http.Request) {
	who, ok := identityFrom(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	start, err := h.launcher.StartCall(r.Context(), who, r.PathValue("id"))
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, start)
}

// CompleteAppointment handles POST /api/appointments/{id}/complete. Only a participant
// may complete an appointment.
func (h *AppointmentHandler) CompleteAppointment(w http.ResponseWriter, r *http.Request) {
	who, ok := identityFrom(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	id := r.PathValue("id")

	appointment, err := h.service.GetAppointment(r.Context(), id)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	if who.UserID != appointment.DoctorID && who.UserID != appointment.PatientID {
		respondWithError(w, http.StatusForbidden, "not a participant of this appointment")
		return
	}

	if err := h.service.CompleteAppointment(r.Context(), id); err != nil {
		respondWithAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
