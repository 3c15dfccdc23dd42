package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/telecare/internal/adapters/memory"
	"github.com/zatekoja/telecare/internal/application/services"
	"github.com/zatekoja/telecare/internal/domain/entities"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

// Mocks

type MockAppointmentRepository struct {
	mock.Mock
}

func (m *MockAppointmentRepository) GetByID(ctx context.Context, id string) (*entities.Appointment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Appointment), args.Error(1)
}

func (m *MockAppointmentRepository) UpdateStatus(ctx context.Context, id string, status entities.AppointmentStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

type callCoreFixture struct {
	*schedulerFixture
	store        *memory.InMemoryStore
	appointments *MockAppointmentRepository
	cleanup      *services.CallCleanupService
	launcher     *services.CallLauncher
	service      *services.AppointmentService
}

func newCallCoreFixture(t *testing.T) *callCoreFixture {
	t.Helper()
	sf := newSchedulerFixture(t, nil)
	f := &callCoreFixture{
		schedulerFixture: sf,
		store:            memory.NewInMemoryStore(sf.clock),
		appointments:     new(MockAppointmentRepository),
	}
	f.cleanup = services.NewCallCleanupService(f.store, sf.scheduler, sf.clock, time.Hour)
	f.launcher = services.NewCallLauncher(f.appointments, f.store, sf.scheduler, "https://care.example.com")
	f.service = services.NewAppointmentService(f.appointments, f.cleanup)
	return f
}

func videoAppointment() *entities.Appointment {
	return &entities.Appointment{
		ID:           "appt-1",
		DoctorID:     "doctor-1",
		PatientID:    "patient-1",
		Mode:         entities.CallModeVideo,
		Status:       entities.AppointmentStatusConfirmed,
		PatientName:  "Ada",
		PatientPhone: "+2348000000000",
		Reason:       "rash",
	}
}

// Tests

func TestAppointmentService_CompleteAppointment(t *testing.T) {
	ctx := context.Background()
	doctor := entities.Identity{UserID: "doctor-1", Role: entities.UserRoleDoctor}

	t.Run("marks completed and removes call state", func(t *testing.T) {
		// Arrange
		f := newCallCoreFixture(t)
		f.appointments.On("GetByID", mock.Anything, "appt-1").Return(videoAppointment(), nil)
		f.appointments.On("UpdateStatus", mock.Anything, "appt-1", entities.AppointmentStatusCompleted).Return(nil)

		start, err := f.launcher.StartCall(ctx, doctor, "appt-1")
		require.NoError(t, err)

		// Act
		err = f.service.CompleteAppointment(ctx, "appt-1")

		// Assert
		require.NoError(t, err)
		_, err = f.store.GetSession(ctx, start.Session.ID)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

		call, err := f.scheduler.GetCall(ctx, start.Session.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.ScheduledCallStatusCompleted, call.Status)
		f.appointments.AssertExpectations(t)
	})

	t.Run("cleans up even when the appointment write fails", func(t *testing.T) {
		f := newCallCoreFixture(t)
		f.appointments.On("GetByID", mock.Anything, "appt-1").Return(videoAppointment(), nil)
		f.appointments.On("UpdateStatus", mock.Anything, "appt-1", entities.AppointmentStatusCompleted).
			Return(apperrors.NewPersistenceError("db down", errors.New("connection refused")))

		start, err := f.launcher.StartCall(ctx, doctor, "appt-1")
		require.NoError(t, err)

		err = f.service.CompleteAppointment(ctx, "appt-1")

		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypePersistence))
		_, err = f.store.GetSession(ctx, start.Session.ID)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	})

	t.Run("requires an id", func(t *testing.T) {
		f := newCallCoreFixture(t)

		err := f.service.CompleteAppointment(ctx, "")

		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
		f.appointments.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCallCleanupService_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newCallCoreFixture(t)

	id, err := f.scheduler.CreateCall(ctx, entities.CallDetails{PatientID: "p", DoctorID: "d", IsImmediate: true})
	require.NoError(t, err)
	require.NoError(t, f.scheduler.UpdateCallStatus(ctx, id, entities.ScheduledCallStatusActive))

	done := make(chan struct{})
	go func() {
		f.cleanup.Run(ctx, time.Minute)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		f.clock.Add(30 * time.Minute)
		call, err := f.scheduler.GetCall(ctx, id)
		return err == nil && call.Status == entities.ScheduledCallStatusCompleted
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
