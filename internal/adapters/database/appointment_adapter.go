package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/repositories"
	"github.com/zatekoja/telecare/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

// AppointmentAdapter reads and completes appointments owned by the booking subsystem
type AppointmentAdapter struct {
	client *postgres.Client
	db     *goqu.Database
	now    func() time.Time
}

// NewAppointmentAdapter creates a new appointment adapter
func NewAppointmentAdapter(client *postgres.Client) *AppointmentAdapter {
	return &AppointmentAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
		now:    time.Now,
	}
}

var _ repositories.AppointmentRepository = (*AppointmentAdapter)(nil)

// GetByID retrieves an appointment by ID
func (a *AppointmentAdapter) GetByID(ctx context.Context, id string) (*entities.Appointment, error) {
	query, args, err := a.db.Select(
		"id", "doctor_id", "patient_id", "mode", "scheduled_at", "status",
		"patient_name", "patient_phone", "reason", "created_at", "updated_at",
	).From("appointments").
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	appointment := &entities.Appointment{}
	var patientPhone, reason sql.NullString

	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(
		&appointment.ID,
		&appointment.DoctorID,
		&appointment.PatientID,
		&appointment.Mode,
		&appointment.ScheduledAt,
		&appointment.Status,
		&appointment.PatientName,
		&patientPhone,
		&reason,
		&appointment.CreatedAt,
		&appointment.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("appointment with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to get appointment", err)
	}

	appointment.PatientPhone = patientPhone.String
	appointment.Reason = reason.String
	return appointment, nil
}

// UpdateStatus sets the appointment status
func (a *AppointmentAdapter) UpdateStatus(ctx context.Context, id string, status entities.AppointmentStatus) error {
	query, args, err := a.db.Update("appointments").
		Set(goqu.Record{"status": status, "updated_at": a.now()}).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewPersistenceError("failed to update appointment", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewPersistenceError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("appointment with id %s not found", id))
	}
	return nil
}
