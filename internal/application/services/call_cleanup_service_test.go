package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/telecare/internal/adapters/memory"
	"github.com/zatekoja/telecare/internal/application/services"
	"github.com/zatekoja/telecare/internal/domain/entities"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

func immediateFor(appointmentID string) entities.CallDetails {
	return entities.CallDetails{
		PatientID:     "patient-1",
		DoctorID:      "doctor-1",
		AppointmentID: appointmentID,
		PatientName:   "Ada",
		Issue:         "follow-up",
		IsImmediate:   true,
	}
}

func TestCallCleanupService_HandleAppointmentCompleted(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t, nil)
	store := memory.NewInMemoryStore(f.clock)
	cleanup := services.NewCallCleanupService(store, f.scheduler, f.clock, time.Hour)

	id, err := f.scheduler.CreateCall(ctx, immediateFor("appt-1"))
	require.NoError(t, err)
	other, err := f.scheduler.CreateCall(ctx, immediateFor("appt-2"))
	require.NoError(t, err)
	for _, sid := range []string{id, other} {
		_, err := store.ClaimSession(ctx, &entities.CallSession{ID: sid, InitiatorID: "doctor-1", DoctorID: "doctor-1", PatientID: "patient-1"})
		require.NoError(t, err)
	}

	require.NoError(t, cleanup.HandleAppointmentCompleted(ctx, "appt-1"))

	_, err = store.GetSession(ctx, id)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	call, err := f.scheduler.GetCall(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.ScheduledCallStatusCompleted, call.Status)

	_, err = store.GetSession(ctx, other)
	assert.NoError(t, err)
	call, err = f.scheduler.GetCall(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, entities.ScheduledCallStatusPending, call.Status)
}

func TestCallCleanupService_CancelledCallKeepsStatus(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t, nil)
	cleanup := services.NewCallCleanupService(memory.NewInMemoryStore(f.clock), f.scheduler, f.clock, time.Hour)

	id, err := f.scheduler.CreateCall(ctx, immediateFor("appt-1"))
	require.NoError(t, err)
	require.NoError(t, f.scheduler.CancelCall(ctx, id))

	require.NoError(t, cleanup.HandleAppointmentCompleted(ctx, "appt-1"))

	call, err := f.scheduler.GetCall(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.ScheduledCallStatusCancelled, call.Status)
}

func TestCallCleanupService_Sweep(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t, nil)
	store := memory.NewInMemoryStore(f.clock)
	cleanup := services.NewCallCleanupService(store, f.scheduler, f.clock, time.Hour)

	stale, err := f.scheduler.CreateCall(ctx, immediateFor("appt-1"))
	require.NoError(t, err)
	require.NoError(t, f.scheduler.UpdateCallStatus(ctx, stale, entities.ScheduledCallStatusActive))
	_, err = store.ClaimSession(ctx, &entities.CallSession{ID: stale, InitiatorID: "doctor-1", DoctorID: "doctor-1", PatientID: "patient-1"})
	require.NoError(t, err)

	f.clock.Add(90 * time.Minute)

	fresh, err := f.scheduler.CreateCall(ctx, immediateFor("appt-2"))
	require.NoError(t, err)
	require.NoError(t, f.scheduler.UpdateCallStatus(ctx, fresh, entities.ScheduledCallStatusActive))

	closed, err := cleanup.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	call, err := f.scheduler.GetCall(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, entities.ScheduledCallStatusCompleted, call.Status)
	_, err = store.GetSession(ctx, stale)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	call, err = f.scheduler.GetCall(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, entities.ScheduledCallStatusActive, call.Status)
}

func TestCallCleanupService_SweepDisabled(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	cleanup := services.NewCallCleanupService(memory.NewInMemoryStore(f.clock), f.scheduler, f.clock, 0)

	closed, err := cleanup.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, closed)
}
