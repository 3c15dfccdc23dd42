// Package callsession runs one participant's side of a call: local media, the peer
// transport and the signaling exchange, driven by a single event loop.
package callsession

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/zatekoja/telecare/internal/application/signaling"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/domain/providers"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

// State is the lifecycle of a call session as seen by one participant
type State string

const (
	StateIdle           State = "idle"
	StateAcquiringMedia State = "acquiring-media"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateEnded          State = "ended"
	StateError          State = "error"
)

// Terminal reports whether no further transitions can happen
func (s State) Terminal() bool {
	return s == StateEnded || s == StateError
}

// Failure describes why a session reached the error state
type Failure struct {
	Err error
	// Message is safe to show to the participant
	Message string
}

// UserMessage maps an error to text a participant can act on
func UserMessage(err error) string {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeMediaAcquisition:
		return "Camera or microphone unavailable. Check device permissions and try again."
	case apperrors.ErrorTypeSignalingProtocol:
		return "The call could not be set up. Please leave and rejoin."
	case apperrors.ErrorTypeTransport:
		return "The connection to the other participant failed."
	case apperrors.ErrorTypePersistence:
		return "The call service is unreachable. Please try again shortly."
	case apperrors.ErrorTypeUnauthorized:
		return "You are not a participant of this call."
	}
	return "Something went wrong with the call."
}

const (
	eventBuffer    = 64
	releaseTimeout = 10 * time.Second
)

// Config wires a session to its collaborators
type Config struct {
	SessionID    string
	Self         signaling.Participant
	Mode         entities.CallMode
	Store        providers.SessionStore
	Media        MediaSource
	NewTransport TransportFactory
	// Completer is told when the initiator hangs up; optional
	Completer providers.AppointmentCompleter
	Clock     clock.Clock
	Metrics   *observability.Metrics
}

// Session is one participant's call. All state changes happen on a single loop
// goroutine; transport and signaling callbacks are posted to it.
type Session struct {
	cfg     Config
	clock   clock.Clock
	channel *signaling.Channel
	peer    *PeerManager

	ctx      context.Context
	cancel   context.CancelFunc
	events   chan func()
	loopDone chan struct{}
	terminal chan struct{}

	// owned by the loop
	joined      bool
	remoteMedia bool
	transportUp bool
	startedAt   time.Time

	mu        sync.RWMutex
	started   bool
	state     State
	failure   *Failure
	listeners []func(State)
}

// New validates cfg and returns an idle session
func New(cfg Config) (*Session, error) {
	if cfg.SessionID == "" {
		return nil, apperrors.NewValidationError("session id is required")
	}
	if cfg.Self.ID == "" || !cfg.Self.Role.Valid() {
		return nil, apperrors.NewValidationError("participant id and role are required")
	}
	if cfg.Mode == "" {
		cfg.Mode = entities.CallModeVideo
	}
	if !cfg.Mode.NeedsSession() {
		return nil, apperrors.NewValidationError("call mode " + string(cfg.Mode) + " has no call session")
	}
	if cfg.Store == nil || cfg.Media == nil || cfg.NewTransport == nil {
		return nil, apperrors.NewValidationError("session store, media source and transport factory are required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Session{
		cfg:      cfg,
		clock:    clk,
		channel:  signaling.NewChannel(cfg.Store, cfg.Self),
		peer:     NewPeerManager(cfg.Mode, cfg.Media, cfg.NewTransport),
		events:   make(chan func(), eventBuffer),
		loopDone: make(chan struct{}),
		terminal: make(chan struct{}),
		state:    StateIdle,
	}, nil
}

// OnStateChange registers fn for every transition. Listeners run on the loop
// goroutine and must not block on the session.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Start begins media acquisition. The session keeps running after ctx is cancelled;
// end it with Hangup or Close.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return apperrors.NewConflictError("call session already started")
	}
	if s.state.Terminal() {
		s.mu.Unlock()
		return apperrors.NewConflictError("call session already ended")
	}
	s.started = true
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go s.loop()
	s.post(s.mount)
	return nil
}

// Hangup ends the call. The initiator deletes the session record and completes the
// appointment; the responder marks the record ended.
func (s *Session) Hangup(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		if !s.state.Terminal() {
			s.state = StateEnded
			close(s.terminal)
		}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	done := make(chan struct{})
	if !s.post(func() {
		s.hangup()
		close(done)
	}) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-s.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close hangs up if needed and waits for the loop to stop
func (s *Session) Close() {
	_ = s.Hangup(context.Background())
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if started {
		<-s.loopDone
	}
}

// SetAudioEnabled mutes or unmutes the microphone
func (s *Session) SetAudioEnabled(enabled bool) bool {
	return s.peer.SetAudioEnabled(enabled)
}

// SetVideoEnabled turns the camera on or off
func (s *Session) SetVideoEnabled(enabled bool) bool {
	return s.peer.SetVideoEnabled(enabled)
}

// State returns the current state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Failure returns why the session failed, or nil
func (s *Session) Failure() *Failure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure
}

// Done is closed when the session reaches ended or error
func (s *Session) Done() <-chan struct{} {
	return s.terminal
}

// Role returns the local participant's role
func (s *Session) Role() entities.Role {
	return s.cfg.Self.Role
}

// Peer exposes the media and transport of the session
func (s *Session) Peer() *PeerManager {
	return s.peer
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for fn := range s.events {
		fn()
		if s.State().Terminal() {
			return
		}
	}
}

// post queues fn on the loop. It reports false once the loop has stopped.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.loopDone:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	case <-s.loopDone:
		return false
	}
}

func (s *Session) mount() {
	s.startedAt = s.clock.Now()
	s.transition(StateAcquiringMedia)

	go func() {
		_, err := s.peer.AcquireMedia(s.ctx)
		s.post(func() { s.onMedia(err) })
	}()
}

func (s *Session) onMedia(err error) {
	if s.State() != StateAcquiringMedia {
		return
	}
	if err != nil {
		s.fail(err)
		return
	}

	err = s.peer.Start(TransportEvents{
		OnLocalCandidate: func(c entities.ICECandidate) { s.post(func() { s.onLocalCandidate(c) }) },
		OnRemoteTrack:    func(t RemoteTrack) { s.post(func() { s.onRemoteTrack(t) }) },
		OnStateChange:    func(st TransportState) { s.post(func() { s.onTransportState(st) }) },
	})
	if err != nil {
		s.fail(err)
		return
	}

	err = s.channel.Join(s.ctx, s.cfg.SessionID, signaling.Handlers{
		OnOffer:     func(d entities.SessionDescription) { s.post(func() { s.onOffer(d) }) },
		OnAnswer:    func(d entities.SessionDescription) { s.post(func() { s.onAnswer(d) }) },
		OnCandidate: func(r entities.CandidateRecord) { s.post(func() { s.onRemoteCandidate(r) }) },
		OnEnded:     func() { s.post(s.onRemoteEnded) },
		OnError:     func(err error) { s.post(func() { s.fail(err) }) },
	})
	if err != nil {
		s.fail(err)
		return
	}
	s.joined = true
	s.transition(StateConnecting)

	if s.cfg.Self.Role != entities.RoleInitiator {
		return
	}
	offer, err := s.peer.CreateOffer(s.ctx)
	if err != nil {
		s.fail(err)
		return
	}
	if err := s.channel.SendOffer(s.ctx, s.cfg.SessionID, offer); err != nil {
		s.fail(err)
	}
}

func (s *Session) onOffer(offer entities.SessionDescription) {
	if s.cfg.Self.Role != entities.RoleResponder || !s.negotiating() {
		return
	}
	if s.peer.HasRemoteDescription() {
		return
	}
	if !s.applyRemote(offer) {
		return
	}
	answer, err := s.peer.CreateAnswer(s.ctx)
	if err != nil {
		s.fail(err)
		return
	}
	if err := s.channel.SendAnswer(s.ctx, s.cfg.SessionID, answer); err != nil {
		s.fail(err)
	}
}

func (s *Session) onAnswer(answer entities.SessionDescription) {
	if s.cfg.Self.Role != entities.RoleInitiator || !s.negotiating() {
		return
	}
	if s.peer.HasRemoteDescription() {
		return
	}
	s.applyRemote(answer)
}

// applyRemote sets the remote description; rejected buffered candidates are not fatal
func (s *Session) applyRemote(desc entities.SessionDescription) bool {
	err := s.peer.SetRemoteDescription(desc)
	if err == nil {
		return true
	}
	if apperrors.IsType(err, apperrors.ErrorTypeTransport) && s.peer.HasRemoteDescription() {
		s.logger().Warn().Err(err).Msg("buffered candidates rejected")
		return true
	}
	s.fail(err)
	return false
}

func (s *Session) onRemoteCandidate(rec entities.CandidateRecord) {
	if s.State().Terminal() {
		return
	}
	if err := s.peer.AddRemoteCandidate(rec.Candidate); err != nil {
		s.logger().Warn().Err(err).Int64("seq", rec.Seq).Msg("remote candidate rejected")
	}
}

func (s *Session) onLocalCandidate(c entities.ICECandidate) {
	if !s.joined || s.State().Terminal() {
		return
	}
	if err := s.channel.SendIceCandidate(s.ctx, s.cfg.SessionID, c, s.cfg.Self.Role); err != nil {
		s.logger().Warn().Err(err).Msg("failed to publish local candidate")
	}
}

func (s *Session) onRemoteTrack(t RemoteTrack) {
	s.logger().Debug().Str("kind", string(t.Kind)).Msg("remote track attached")
	s.remoteMedia = true
	s.maybeConnected()
}

func (s *Session) onTransportState(st TransportState) {
	switch st {
	case TransportConnected:
		s.transportUp = true
		s.maybeConnected()
	case TransportDisconnected:
		// ICE may recover on its own; failed follows if it does not
		s.logger().Warn().Msg("peer transport disconnected")
	case TransportFailed, TransportClosed:
		switch s.State() {
		case StateConnected:
			s.teardown(StateEnded)
		case StateConnecting, StateAcquiringMedia:
			s.fail(apperrors.NewTransportError("peer connection "+string(st)+" before media flowed", nil))
		}
	}
}

func (s *Session) maybeConnected() {
	if s.State() != StateConnecting || !s.remoteMedia || !s.transportUp {
		return
	}
	s.transition(StateConnected)
	observability.RecordConnectDuration(s.ctx, s.cfg.Metrics, string(s.cfg.Self.Role), s.clock.Since(s.startedAt))
}

func (s *Session) onRemoteEnded() {
	if s.State().Terminal() {
		return
	}
	s.logger().Info().Msg("call ended by the other participant")
	s.teardown(StateEnded)
}

func (s *Session) hangup() {
	if s.State().Terminal() {
		return
	}
	// aborts a pending media prompt
	s.cancel()
	if s.joined {
		s.release()
	}
	s.teardown(StateEnded)
}

// release updates the shared record for a local hangup
func (s *Session) release() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), releaseTimeout)
	defer cancel()

	err := signaling.Release(ctx, s.cfg.Store, s.cfg.Completer, s.cfg.SessionID, s.cfg.Self.Role)
	if err != nil {
		s.logger().Warn().Err(err).Msg("failed to release call session")
	}
}

func (s *Session) fail(err error) {
	if s.State().Terminal() {
		return
	}
	f := &Failure{Err: err, Message: UserMessage(err)}
	s.mu.Lock()
	s.failure = f
	s.mu.Unlock()
	s.logger().Error().Err(err).Str("state", string(s.State())).Msg("call session failed")
	s.teardown(StateError)
}

func (s *Session) teardown(final State) {
	s.cancel()
	s.channel.Leave(s.cfg.SessionID)
	if err := s.peer.Close(); err != nil {
		s.logger().Warn().Err(err).Msg("failed to close peer connection")
	}
	s.transition(final)
	close(s.terminal)
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	s.logger().Debug().Str("from", string(from)).Str("to", string(to)).Msg("call state changed")
	observability.RecordStateTransition(s.ctx, s.cfg.Metrics, string(s.cfg.Self.Role), string(from), string(to))
	for _, fn := range listeners {
		fn(to)
	}
}

func (s *Session) negotiating() bool {
	st := s.State()
	return st == StateConnecting || st == StateConnected
}

func (s *Session) logger() *zerolog.Logger {
	return observability.CallLogger(s.ctx, s.cfg.SessionID)
}
