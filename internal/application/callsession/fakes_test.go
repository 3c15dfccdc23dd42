package callsession_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zatekoja/telecare/internal/application/callsession"
	"github.com/zatekoja/telecare/internal/domain/entities"
)

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    callsession.MediaKind
	enabled bool
	stopped bool
}

func (t *fakeTrack) ID() string                  { return t.id }
func (t *fakeTrack) Kind() callsession.MediaKind { return t.kind }

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeMedia hands out fake tracks, fails with err, or blocks until ctx is done
type fakeMedia struct {
	err   error
	block bool

	mu          sync.Mutex
	constraints []callsession.MediaConstraints
	tracks      []*fakeTrack
}

func (m *fakeMedia) Acquire(ctx context.Context, c callsession.MediaConstraints) (*callsession.LocalStream, error) {
	m.mu.Lock()
	m.constraints = append(m.constraints, c)
	m.mu.Unlock()

	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}

	stream := &callsession.LocalStream{}
	add := func(kind callsession.MediaKind) {
		t := &fakeTrack{id: "local-" + string(kind), kind: kind, enabled: true}
		m.mu.Lock()
		m.tracks = append(m.tracks, t)
		m.mu.Unlock()
		stream.Tracks = append(stream.Tracks, t)
	}
	if c.Audio {
		add(callsession.MediaKindAudio)
	}
	if c.Video {
		add(callsession.MediaKindVideo)
	}
	return stream, nil
}

func (m *fakeMedia) acquiredTracks() []*fakeTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*fakeTrack(nil), m.tracks...)
}

func (m *fakeMedia) acquireCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.constraints)
}

// fakeTransport connects once it holds a remote description and one remote
// candidate. It emits one local candidate after each local description.
type fakeTransport struct {
	name   string
	events callsession.TransportEvents
	// autoConnect disables the simulated connection when false
	autoConnect bool

	mu         sync.Mutex
	tracks     []callsession.LocalTrack
	remote     *entities.SessionDescription
	candidates []string
	closed     int
	connected  bool
	rejectSDP  bool
	rejectCand map[string]bool
}

func (t *fakeTransport) AddTrack(track callsession.LocalTrack) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = append(t.tracks, track)
	return nil
}

func (t *fakeTransport) CreateOffer(ctx context.Context) (entities.SessionDescription, error) {
	t.gather()
	return entities.SessionDescription{Type: entities.SDPTypeOffer, SDP: "v=0 offer " + t.name}, nil
}

func (t *fakeTransport) CreateAnswer(ctx context.Context) (entities.SessionDescription, error) {
	t.gather()
	return entities.SessionDescription{Type: entities.SDPTypeAnswer, SDP: "v=0 answer " + t.name}, nil
}

func (t *fakeTransport) gather() {
	if t.events.OnLocalCandidate == nil {
		return
	}
	c := entities.ICECandidate{Candidate: "candidate:" + t.name + " 1 udp 2130706431 10.0.0.1 50000 typ host"}
	go t.events.OnLocalCandidate(c)
}

func (t *fakeTransport) SetRemoteDescription(desc entities.SessionDescription) error {
	t.mu.Lock()
	if t.rejectSDP {
		t.mu.Unlock()
		return errors.New("malformed sdp")
	}
	t.remote = &desc
	t.mu.Unlock()
	t.maybeConnect()
	return nil
}

func (t *fakeTransport) AddICECandidate(c entities.ICECandidate) error {
	t.mu.Lock()
	if t.remote == nil {
		t.mu.Unlock()
		return errors.New("remote description not set")
	}
	if t.rejectCand[c.Candidate] {
		t.mu.Unlock()
		return fmt.Errorf("bad candidate %q", c.Candidate)
	}
	t.candidates = append(t.candidates, c.Candidate)
	t.mu.Unlock()
	t.maybeConnect()
	return nil
}

func (t *fakeTransport) maybeConnect() {
	t.mu.Lock()
	ready := t.autoConnect && !t.connected && t.remote != nil && len(t.candidates) > 0 && t.closed == 0
	if ready {
		t.connected = true
	}
	t.mu.Unlock()
	if !ready {
		return
	}
	go func() {
		t.events.OnRemoteTrack(callsession.RemoteTrack{ID: "remote-video", Kind: callsession.MediaKindVideo})
		t.events.OnStateChange(callsession.TransportConnected)
	}()
}

// emit raises a transport state change the way a real connection would
func (t *fakeTransport) emit(state callsession.TransportState) {
	t.events.OnStateChange(state)
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

func (t *fakeTransport) appliedCandidates() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.candidates...)
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// transportSlot captures the transport a factory builds
type transportSlot struct {
	mu          sync.Mutex
	name        string
	autoConnect bool
	transport   *fakeTransport
	configure   func(*fakeTransport)
}

func (s *transportSlot) factory(events callsession.TransportEvents) (callsession.Transport, error) {
	t := &fakeTransport{name: s.name, events: events, autoConnect: s.autoConnect, rejectCand: map[string]bool{}}
	if s.configure != nil {
		s.configure(t)
	}
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
	return t, nil
}

func (s *transportSlot) get() *fakeTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}
