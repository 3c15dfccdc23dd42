package providers

import (
	"context"
)

// AppointmentCompleter writes call completion back into the appointment subsystem.
// Callers treat failures as best effort.
type AppointmentCompleter interface {
	CompleteAppointment(ctx context.Context, appointmentID string) error
}
