package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/telecare/internal/domain/entities"
)

// ScheduledCallRepository defines the interface for scheduled call persistence
type ScheduledCallRepository interface {
	// Create creates a new scheduled call
	Create(ctx context.Context, call *entities.ScheduledCall) error

	// GetByID retrieves a scheduled call by ID
	GetByID(ctx context.Context, id string) (*entities.ScheduledCall, error)

	// UpdateStatus sets the status; a missing record is NOT_FOUND
	UpdateStatus(ctx context.Context, id string, status entities.ScheduledCallStatus, at time.Time) error

	// MarkReminderSent records that the reminder fired
	MarkReminderSent(ctx context.Context, id string, at time.Time) error

	// List returns calls matching filter, immediate calls first then by scheduled time
	List(ctx context.Context, filter ScheduledCallFilter) ([]*entities.ScheduledCall, error)

	// Delete removes a call; only the appointment cleanup flow calls this
	Delete(ctx context.Context, id string) error
}

// ScheduledCallFilter defines filters for listing scheduled calls
type ScheduledCallFilter struct {
	PatientID     string
	DoctorID      string
	AppointmentID string
	Status        entities.ScheduledCallStatus
	// ReminderPending limits results to non-immediate calls whose reminder has not fired
	ReminderPending bool
	// UpdatedBefore limits results to calls untouched since the given instant
	UpdatedBefore *time.Time
	Limit         int
}
