package callsession

import (
	"context"
	"errors"
	"sync"

	"github.com/zatekoja/telecare/internal/domain/entities"
	apperrors "github.com/zatekoja/telecare/pkg/errors"
)

// PeerManager owns the local media and the transport of one call. Remote candidates
// that arrive before the remote description are buffered and applied in arrival
// order once it is set.
type PeerManager struct {
	mode         entities.CallMode
	media        MediaSource
	newTransport TransportFactory

	mu        sync.Mutex
	local     *LocalStream
	transport Transport
	remote    []RemoteTrack
	remoteSet bool
	pending   []entities.ICECandidate
	closed    bool
}

// NewPeerManager creates a manager for a call of the given mode
func NewPeerManager(mode entities.CallMode, media MediaSource, newTransport TransportFactory) *PeerManager {
	return &PeerManager{
		mode:         mode,
		media:        media,
		newTransport: newTransport,
	}
}

// AcquireMedia opens the devices the call mode needs. A denied or missing device is a
// MEDIA_ACQUISITION error; ctx cancellation aborts a pending permission prompt.
func (p *PeerManager) AcquireMedia(ctx context.Context) (*LocalStream, error) {
	constraints := ConstraintsFor(p.mode)
	if !constraints.Audio && !constraints.Video {
		return nil, apperrors.NewValidationError("call mode " + string(p.mode) + " has no media")
	}

	stream, err := p.media.Acquire(ctx, constraints)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewMediaAcquisitionError("failed to open camera or microphone", err)
	}
	if stream == nil || len(stream.Tracks) == 0 {
		return nil, apperrors.NewMediaAcquisitionError("no local media tracks available", nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		stream.stop()
		return nil, context.Canceled
	}
	p.local = stream
	return stream, nil
}

// Start builds the transport and attaches the local tracks
func (p *PeerManager) Start(events TransportEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return apperrors.NewTransportError("peer connection already closed", nil)
	}
	if p.transport != nil {
		return nil
	}

	userTrack := events.OnRemoteTrack
	events.OnRemoteTrack = func(track RemoteTrack) {
		p.mu.Lock()
		p.remote = append(p.remote, track)
		p.mu.Unlock()
		if userTrack != nil {
			userTrack(track)
		}
	}

	t, err := p.newTransport(events)
	if err != nil {
		return apperrors.NewTransportError("failed to create peer connection", err)
	}
	if p.local != nil {
		for _, track := range p.local.Tracks {
			if err := t.AddTrack(track); err != nil {
				_ = t.Close()
				return apperrors.NewTransportError("failed to attach local "+string(track.Kind())+" track", err)
			}
		}
	}
	p.transport = t
	return nil
}

// CreateOffer creates the local offer
func (p *PeerManager) CreateOffer(ctx context.Context) (entities.SessionDescription, error) {
	t, err := p.active()
	if err != nil {
		return entities.SessionDescription{}, err
	}
	offer, err := t.CreateOffer(ctx)
	if err != nil {
		return entities.SessionDescription{}, apperrors.NewTransportError("failed to create offer", err)
	}
	return offer, nil
}

// CreateAnswer creates the local answer; the remote offer must already be set
func (p *PeerManager) CreateAnswer(ctx context.Context) (entities.SessionDescription, error) {
	t, err := p.active()
	if err != nil {
		return entities.SessionDescription{}, err
	}
	p.mu.Lock()
	remoteSet := p.remoteSet
	p.mu.Unlock()
	if !remoteSet {
		return entities.SessionDescription{}, apperrors.NewSignalingProtocolError("cannot answer before the remote offer is set")
	}
	answer, err := t.CreateAnswer(ctx)
	if err != nil {
		return entities.SessionDescription{}, apperrors.NewTransportError("failed to create answer", err)
	}
	return answer, nil
}

// SetRemoteDescription applies desc and then flushes buffered candidates in order.
// A candidate the transport refuses is skipped; the rest are still applied.
func (p *PeerManager) SetRemoteDescription(desc entities.SessionDescription) error {
	t, err := p.active()
	if err != nil {
		return err
	}
	if desc.SDP == "" {
		return apperrors.NewSignalingProtocolError("empty remote session description")
	}
	if err := t.SetRemoteDescription(desc); err != nil {
		return apperrors.NewSignalingProtocolError("remote " + string(desc.Type) + " rejected: " + err.Error())
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	var errs []error
	for _, c := range pending {
		if err := t.AddICECandidate(c); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return apperrors.NewTransportError("some buffered candidates were rejected", errors.Join(errs...))
	}
	return nil
}

// HasRemoteDescription reports whether a remote offer or answer has been applied
func (p *PeerManager) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteSet
}

// AddRemoteCandidate applies c, or buffers it until the remote description is set
func (p *PeerManager) AddRemoteCandidate(c entities.ICECandidate) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if !p.remoteSet || p.transport == nil {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		return nil
	}
	t := p.transport
	p.mu.Unlock()

	if err := t.AddICECandidate(c); err != nil {
		return apperrors.NewTransportError("remote candidate rejected", err)
	}
	return nil
}

// PendingCandidates returns how many remote candidates are buffered
func (p *PeerManager) PendingCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// RemoteTracks returns the inbound tracks attached so far
func (p *PeerManager) RemoteTracks() []RemoteTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RemoteTrack(nil), p.remote...)
}

// LocalStream returns the acquired local media, or nil
func (p *PeerManager) LocalStream() *LocalStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

// SetAudioEnabled mutes or unmutes the microphone. It reports false when there is no audio track.
func (p *PeerManager) SetAudioEnabled(enabled bool) bool {
	return p.setEnabled(MediaKindAudio, enabled)
}

// SetVideoEnabled turns the camera track on or off. It reports false when there is no video track.
func (p *PeerManager) SetVideoEnabled(enabled bool) bool {
	return p.setEnabled(MediaKindVideo, enabled)
}

func (p *PeerManager) setEnabled(kind MediaKind, enabled bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local == nil {
		return false
	}
	found := false
	for _, t := range p.local.Tracks {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
			found = true
		}
	}
	return found
}

// Close stops local tracks and closes the transport. Later calls are no-ops.
func (p *PeerManager) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	local, t := p.local, p.transport
	p.local, p.transport, p.pending = nil, nil, nil
	p.mu.Unlock()

	local.stop()
	if t != nil {
		if err := t.Close(); err != nil {
			return apperrors.NewTransportError("failed to close peer connection", err)
		}
	}
	return nil
}

func (p *PeerManager) active() (Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, apperrors.NewTransportError("peer connection already closed", nil)
	}
	if p.transport == nil {
		return nil, apperrors.NewTransportError("peer connection not started", nil)
	}
	return p.transport, nil
}

func (s *LocalStream) stop() {
	if s == nil {
		return
	}
	for _, t := range s.Tracks {
		t.Stop()
	}
}
