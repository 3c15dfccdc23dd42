package repositories

import (
	"context"

	"github.com/zatekoja/telecare/internal/domain/entities"
)

// AppointmentRepository is the narrow read/write surface of the appointment subsystem used by calls
type AppointmentRepository interface {
	// GetByID retrieves an appointment by ID
	GetByID(ctx context.Context, id string) (*entities.Appointment, error)

	// UpdateStatus sets the appointment status
	UpdateStatus(ctx context.Context, id string, status entities.AppointmentStatus) error
}
