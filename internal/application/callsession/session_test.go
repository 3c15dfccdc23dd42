package callsession_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/telecare/internal/adapters/memory"
	"github.com/zatekoja/telecare/internal/application/callsession"
	"github.com/zatekoja/telecare/internal/application/signaling"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) CompleteAppointment(ctx context.Context, appointmentID string) error {
	args := m.Called(ctx, appointmentID)
	return args.Error(0)
}

type participantSide struct {
	session *callsession.Session
	media   *fakeMedia
	slot    *transportSlot
	states  chan callsession.State
}

type callFixture struct {
	store     *memory.InMemoryStore
	completer *MockCompleter
	doctor    *participantSide
	patient   *participantSide
}

func claimedSession(t *testing.T, store providers.SessionStore, mode entities.CallMode) {
	t.Helper()
	_, err := store.ClaimSession(context.Background(), &entities.CallSession{
		ID:            "call-1",
		AppointmentID: "appt-1",
		DoctorID:      "doctor-1",
		PatientID:     "patient-1",
		InitiatorID:   "doctor-1",
		Mode:          mode,
	})
	require.NoError(t, err)
}

func newSide(t *testing.T, f *callFixture, self signaling.Participant, mode entities.CallMode, media *fakeMedia, slot *transportSlot) *participantSide {
	t.Helper()
	s, err := callsession.New(callsession.Config{
		SessionID:    "call-1",
		Self:         self,
		Mode:         mode,
		Store:        f.store,
		Media:        media,
		NewTransport: slot.factory,
		Completer:    f.completer,
	})
	require.NoError(t, err)

	side := &participantSide{session: s, media: media, slot: slot, states: make(chan callsession.State, 16)}
	s.OnStateChange(func(st callsession.State) { side.states <- st })
	t.Cleanup(s.Close)
	return side
}

func newCallFixture(t *testing.T, mode entities.CallMode) *callFixture {
	t.Helper()
	f := newBareFixture(t, mode)
	claimedSession(t, f.store, mode)
	return f
}

// newBareFixture leaves call-1 absent so the first joiner creates the record
func newBareFixture(t *testing.T, mode entities.CallMode) *callFixture {
	t.Helper()
	f := &callFixture{
		store:     memory.NewInMemoryStore(clock.NewMock()),
		completer: new(MockCompleter),
	}

	f.doctor = newSide(t, f, signaling.Participant{ID: "doctor-1", Role: entities.RoleInitiator}, mode,
		&fakeMedia{}, &transportSlot{name: "doctor", autoConnect: true})
	f.patient = newSide(t, f, signaling.Participant{ID: "patient-1", Role: entities.RoleResponder}, mode,
		&fakeMedia{}, &transportSlot{name: "patient", autoConnect: true})

	// registered after the sides so it runs before their Close; explicit
	// expectations set by a test still match first
	t.Cleanup(func() {
		f.completer.On("CompleteAppointment", mock.Anything, mock.Anything).Return(nil).Maybe()
	})
	return f
}

func (s *participantSide) waitState(t *testing.T, want callsession.State) {
	t.Helper()
	assert.Eventually(t, func() bool { return s.session.State() == want }, waitFor, tick,
		"state is %s, want %s", s.session.State(), want)
}

func (s *participantSide) history() []callsession.State {
	var out []callsession.State
	for {
		select {
		case st := <-s.states:
			out = append(out, st)
		default:
			return out
		}
	}
}

func TestSession_BothPeersConnectAndInitiatorHangsUp(t *testing.T) {
	f := newCallFixture(t, entities.CallModeVideo)
	f.completer.On("CompleteAppointment", mock.Anything, "appt-1").Return(nil).Once()
	ctx := context.Background()

	require.NoError(t, f.doctor.session.Start(ctx))
	require.NoError(t, f.patient.session.Start(ctx))

	f.doctor.waitState(t, callsession.StateConnected)
	f.patient.waitState(t, callsession.StateConnected)

	rec, err := f.store.GetSession(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, entities.CallSessionStatusActive, rec.Status)
	require.NotNil(t, rec.Offer)
	require.NotNil(t, rec.Answer)
	assert.Equal(t, "v=0 offer doctor", rec.Offer.SDP)
	assert.Equal(t, "v=0 answer patient", rec.Answer.SDP)

	require.NoError(t, f.doctor.session.Hangup(ctx))
	assert.Equal(t, callsession.StateEnded, f.doctor.session.State())

	f.patient.waitState(t, callsession.StateEnded)
	_, err = f.store.GetSession(ctx, "call-1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	f.completer.AssertExpectations(t)

	assert.Equal(t, []callsession.State{
		callsession.StateAcquiringMedia,
		callsession.StateConnecting,
		callsession.StateConnected,
		callsession.StateEnded,
	}, f.doctor.history())

	assert.Equal(t, 1, f.doctor.slot.get().closeCount())
	assert.Equal(t, 1, f.patient.slot.get().closeCount())
	for _, track := range append(f.doctor.media.acquiredTracks(), f.patient.media.acquiredTracks()...) {
		assert.True(t, track.Stopped())
	}
}

func TestSession_ResponderJoinsFirst(t *testing.T) {
	f := newCallFixture(t, entities.CallModeVoice)
	ctx := context.Background()

	require.NoError(t, f.patient.session.Start(ctx))
	f.patient.waitState(t, callsession.StateConnecting)

	require.NoError(t, f.doctor.session.Start(ctx))
	f.doctor.waitState(t, callsession.StateConnected)
	f.patient.waitState(t, callsession.StateConnected)

	assert.Equal(t, []callsession.MediaConstraints{{Audio: true}}, f.patient.media.constraints)
}

func TestSession_DoctorStartsUnclaimedSession(t *testing.T) {
	f := newBareFixture(t, entities.CallModeVideo)
	ctx := context.Background()

	require.NoError(t, f.doctor.session.Start(ctx))
	f.doctor.waitState(t, callsession.StateConnecting)
	require.Eventually(t, func() bool {
		rec, err := f.store.GetSession(ctx, "call-1")
		return err == nil && rec.Offer != nil
	}, waitFor, tick)

	rec, err := f.store.GetSession(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "doctor-1", rec.InitiatorID)
	assert.Equal(t, "doctor-1", rec.DoctorID)
	assert.Empty(t, rec.PatientID)

	require.NoError(t, f.patient.session.Start(ctx))
	f.doctor.waitState(t, callsession.StateConnected)
	f.patient.waitState(t, callsession.StateConnected)

	rec, err = f.store.GetSession(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "patient-1", rec.PatientID)
	assert.Equal(t, entities.CallSessionStatusActive, rec.Status)
}

func TestSession_ResponderHangupMarksRecordEnded(t *testing.T) {
	f := newCallFixture(t, entities.CallModeVideo)
	ctx := context.Background()

	require.NoError(t, f.doctor.session.Start(ctx))
	require.NoError(t, f.patient.session.Start(ctx))
	f.doctor.waitState(t, callsession.StateConnected)
	f.patient.waitState(t, callsession.StateConnected)

	require.NoError(t, f.patient.session.Hangup(ctx))
	assert.Equal(t, callsession.StateEnded, f.patient.session.State())

	f.doctor.waitState(t, callsession.StateEnded)
	rec, err := f.store.GetSession(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, entities.CallSessionStatusEnded, rec.Status)
	f.completer.AssertNotCalled(t, "CompleteAppointment", mock.Anything, mock.Anything)
}

func TestSession_MediaFailure(t *testing.T) {
	f := &callFixture{store: memory.NewInMemoryStore(clock.NewMock()), completer: new(MockCompleter)}
	claimedSession(t, f.store, entities.CallModeVideo)
	side := newSide(t, f, signaling.Participant{ID: "patient-1", Role: entities.RoleResponder}, entities.CallModeVideo,
		&fakeMedia{err: errors.New("NotAllowedError")}, &transportSlot{name: "patient"})

	require.NoError(t, side.session.Start(context.Background()))
	side.waitState(t, callsession.StateError)

	failure := side.session.Failure()
	require.NotNil(t, failure)
	assert.True(t, apperrors.IsType(failure.Err, apperrors.ErrorTypeMediaAcquisition))
	assert.Contains(t, failure.Message, "Camera or microphone")
	assert.Nil(t, side.slot.get(), "no transport is built without media")

	select {
	case <-side.session.Done():
	case <-time.After(waitFor):
		t.Fatal("Done not closed after failure")
	}
}

func TestSession_HangupWhileAcquiringMedia(t *testing.T) {
	f := &callFixture{store: memory.NewInMemoryStore(clock.NewMock()), completer: new(MockCompleter)}
	claimedSession(t, f.store, entities.CallModeVideo)
	media := &fakeMedia{block: true}
	side := newSide(t, f, signaling.Participant{ID: "doctor-1", Role: entities.RoleInitiator}, entities.CallModeVideo,
		media, &transportSlot{name: "doctor"})

	require.NoError(t, side.session.Start(context.Background()))
	side.waitState(t, callsession.StateAcquiringMedia)
	assert.Eventually(t, func() bool { return media.acquireCalls() == 1 }, waitFor, tick)

	require.NoError(t, side.session.Hangup(context.Background()))
	assert.Equal(t, callsession.StateEnded, side.session.State())
	assert.Nil(t, side.session.Failure())

	// never joined, so the record is left for the other participant
	_, err := f.store.GetSession(context.Background(), "call-1")
	assert.NoError(t, err)
	f.completer.AssertNotCalled(t, "CompleteAppointment", mock.Anything, mock.Anything)
}

func TestSession_TransportFailureBeforeConnectedIsError(t *testing.T) {
	f := newCallFixture(t, entities.CallModeVideo)
	f.doctor.slot.autoConnect = false
	ctx := context.Background()

	require.NoError(t, f.doctor.session.Start(ctx))
	f.doctor.waitState(t, callsession.StateConnecting)
	assert.Eventually(t, func() bool { return f.doctor.slot.get() != nil }, waitFor, tick)

	f.doctor.slot.get().emit(callsession.TransportDisconnected)
	f.doctor.slot.get().emit(callsession.TransportFailed)

	f.doctor.waitState(t, callsession.StateError)
	failure := f.doctor.session.Failure()
	require.NotNil(t, failure)
	assert.True(t, apperrors.IsType(failure.Err, apperrors.ErrorTypeTransport))
}

func TestSession_TransportFailureAfterConnectedEnds(t *testing.T) {
	f := newCallFixture(t, entities.CallModeVideo)
	ctx := context.Background()

	require.NoError(t, f.doctor.session.Start(ctx))
	require.NoError(t, f.patient.session.Start(ctx))
	f.doctor.waitState(t, callsession.StateConnected)

	f.doctor.slot.get().emit(callsession.TransportFailed)

	f.doctor.waitState(t, callsession.StateEnded)
	assert.Nil(t, f.doctor.session.Failure())
}

func TestSession_ToggleMedia(t *testing.T) {
	f := newCallFixture(t, entities.CallModeVideo)
	require.NoError(t, f.doctor.session.Start(context.Background()))
	f.doctor.waitState(t, callsession.StateConnecting)

	assert.True(t, f.doctor.session.SetVideoEnabled(false))
	assert.True(t, f.doctor.session.SetAudioEnabled(false))
	for _, track := range f.doctor.media.acquiredTracks() {
		assert.False(t, track.Enabled())
	}
}

func TestSession_HangupIsIdempotent(t *testing.T) {
	f := newCallFixture(t, entities.CallModeVideo)
	f.completer.On("CompleteAppointment", mock.Anything, "appt-1").Return(errors.New("appointments unavailable")).Once()
	ctx := context.Background()

	require.NoError(t, f.doctor.session.Start(ctx))
	f.doctor.waitState(t, callsession.StateConnecting)

	require.NoError(t, f.doctor.session.Hangup(ctx))
	require.NoError(t, f.doctor.session.Hangup(ctx))
	f.doctor.session.Close()

	assert.Equal(t, callsession.StateEnded, f.doctor.session.State())
	assert.Equal(t, 1, f.doctor.slot.get().closeCount())
	f.completer.AssertNumberOfCalls(t, "CompleteAppointment", 1)
}

func TestSession_NotStartedHangup(t *testing.T) {
	f := newCallFixture(t, entities.CallModeVideo)

	require.NoError(t, f.patient.session.Hangup(context.Background()))
	assert.Equal(t, callsession.StateEnded, f.patient.session.State())

	err := f.patient.session.Start(context.Background())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
}

func TestNew_Validation(t *testing.T) {
	store := memory.NewInMemoryStore(clock.NewMock())
	base := callsession.Config{
		SessionID:    "call-1",
		Self:         signaling.Participant{ID: "doctor-1", Role: entities.RoleInitiator},
		Store:        store,
		Media:        &fakeMedia{},
		NewTransport: (&transportSlot{}).factory,
	}

	visit := base
	visit.Mode = entities.CallModeVisit
	_, err := callsession.New(visit)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	noRole := base
	noRole.Self.Role = ""
	_, err = callsession.New(noRole)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = callsession.New(base)
	assert.NoError(t, err)
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, callsession.UserMessage(apperrors.NewTransportError("ice failed", nil)), "connection")
	assert.Contains(t, callsession.UserMessage(apperrors.NewPersistenceError("down", nil)), "unreachable")
	assert.Equal(t, "Something went wrong with the call.", callsession.UserMessage(errors.New("boom")))
}
