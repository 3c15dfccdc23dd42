package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/repositories"
	"github.com/zatekoja/telecare/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

const scheduledCallsTable = "scheduled_calls"

var scheduledCallColumns = []interface{}{
	"id", "patient_id", "doctor_id", "appointment_id", "patient_name", "patient_phone",
	"issue", "mode", "is_immediate", "scheduled_time", "status", "call_link",
	"reminder_sent_at", "created_at", "updated_at",
}

// ScheduledCallAdapter implements the ScheduledCallRepository interface
type ScheduledCallAdapter struct {
	client  *postgres.Client
	db      *goqu.Database
	metrics *observability.Metrics
}

// NewScheduledCallAdapter creates a new scheduled call adapter
func NewScheduledCallAdapter(client *postgres.Client) *ScheduledCallAdapter {
	return &ScheduledCallAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

var _ repositories.ScheduledCallRepository = (*ScheduledCallAdapter)(nil)

// SetMetrics enables query duration metrics
func (a *ScheduledCallAdapter) SetMetrics(metrics *observability.Metrics) {
	a.metrics = metrics
}

// Create creates a new scheduled call
func (a *ScheduledCallAdapter) Create(ctx context.Context, call *entities.ScheduledCall) error {
	record := goqu.Record{
		"id":               call.ID,
		"patient_id":       call.PatientID,
		"doctor_id":        call.DoctorID,
		"appointment_id":   nullString(call.AppointmentID),
		"patient_name":     call.PatientName,
		"patient_phone":    call.PatientPhone,
		"issue":            call.Issue,
		"mode":             call.Mode,
		"is_immediate":     call.IsImmediate,
		"scheduled_time":   call.ScheduledTime,
		"status":           call.Status,
		"call_link":        call.CallLink,
		"reminder_sent_at": call.ReminderSentAt,
		"created_at":       call.CreatedAt,
		"updated_at":       call.UpdatedAt,
	}

	query, args, err := a.db.Insert(scheduledCallsTable).Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewPersistenceError("failed to create scheduled call", err)
	}
	return nil
}

// GetByID retrieves a scheduled call by ID
func (a *ScheduledCallAdapter) GetByID(ctx context.Context, id string) (*entities.ScheduledCall, error) {
	defer observability.RecordDBMetric(ctx, a.metrics, "scheduled_calls.get", time.Now())
	query, args, err := a.db.Select(scheduledCallColumns...).
		From(scheduledCallsTable).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	call, err := scanScheduledCall(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("scheduled call with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to get scheduled call", err)
	}
	return call, nil
}

// UpdateStatus sets the status of a scheduled call
func (a *ScheduledCallAdapter) UpdateStatus(ctx context.Context, id string, status entities.ScheduledCallStatus, at time.Time) error {
	return a.update(ctx, id, goqu.Record{"status": status, "updated_at": at})
}

// MarkReminderSent records the reminder instant
func (a *ScheduledCallAdapter) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	return a.update(ctx, id, goqu.Record{"reminder_sent_at": at, "updated_at": at})
}

func (a *ScheduledCallAdapter) update(ctx context.Context, id string, record goqu.Record) error {
	query, args, err := a.db.Update(scheduledCallsTable).
		Set(record).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewPersistenceError("failed to update scheduled call", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewPersistenceError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("scheduled call with id %s not found", id))
	}
	return nil
}

// List returns scheduled calls matching filter, immediate calls first
func (a *ScheduledCallAdapter) List(ctx context.Context, filter repositories.ScheduledCallFilter) ([]*entities.ScheduledCall, error) {
	defer observability.RecordDBMetric(ctx, a.metrics, "scheduled_calls.list", time.Now())
	var where []exp.Expression
	if filter.PatientID != "" {
		where = append(where, goqu.C("patient_id").Eq(filter.PatientID))
	}
	if filter.DoctorID != "" {
		where = append(where, goqu.C("doctor_id").Eq(filter.DoctorID))
	}
	if filter.AppointmentID != "" {
		where = append(where, goqu.C("appointment_id").Eq(filter.AppointmentID))
	}
	if filter.Status != "" {
		where = append(where, goqu.C("status").Eq(filter.Status))
	}
	if filter.ReminderPending {
		where = append(where,
			goqu.C("is_immediate").IsFalse(),
			goqu.C("scheduled_time").IsNotNull(),
			goqu.C("reminder_sent_at").IsNull(),
		)
	}
	if filter.UpdatedBefore != nil {
		where = append(where, goqu.C("updated_at").Lt(*filter.UpdatedBefore))
	}

	ds := a.db.Select(scheduledCallColumns...).
		From(scheduledCallsTable).
		Where(where...).
		Order(
			goqu.C("is_immediate").Desc(),
			goqu.C("scheduled_time").Asc().NullsFirst(),
			goqu.C("created_at").Asc(),
		)
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to list scheduled calls", err)
	}
	defer rows.Close()

	calls := make([]*entities.ScheduledCall, 0)
	for rows.Next() {
		call, err := scanScheduledCall(rows)
		if err != nil {
			return nil, apperrors.NewPersistenceError("failed to scan scheduled call", err)
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("failed to iterate scheduled calls", err)
	}
	return calls, nil
}

// Delete removes a scheduled call
func (a *ScheduledCallAdapter) Delete(ctx context.Context, id string) error {
	query, args, err := a.db.Delete(scheduledCallsTable).Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build delete query", err)
	}
	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewPersistenceError("failed to delete scheduled call", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanScheduledCall(row rowScanner) (*entities.ScheduledCall, error) {
	call := &entities.ScheduledCall{}
	var appointmentID sql.NullString
	var scheduledTime, reminderSentAt sql.NullTime

	err := row.Scan(
		&call.ID,
		&call.PatientID,
		&call.DoctorID,
		&appointmentID,
		&call.PatientName,
		&call.PatientPhone,
		&call.Issue,
		&call.Mode,
		&call.IsImmediate,
		&scheduledTime,
		&call.Status,
		&call.CallLink,
		&reminderSentAt,
		&call.CreatedAt,
		&call.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	call.AppointmentID = appointmentID.String
	if scheduledTime.Valid {
		t := scheduledTime.Time
		call.ScheduledTime = &t
	}
	if reminderSentAt.Valid {
		t := reminderSentAt.Time
		call.ReminderSentAt = &t
	}
	return call, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
