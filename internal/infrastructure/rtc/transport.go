// Package rtc implements call transports and media on pion/webrtc.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/zatekoja/telecare/internal/application/callsession"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/internal/infrastructure/observability"
	"github.com/zatekoja/telecare/pkg/config"
)

// Factory builds peer connections sharing one configured pion API
type Factory struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
}

// NewFactory registers the default codecs and interceptors and applies the ICE settings of cfg
func NewFactory(cfg config.WebRTCConfig) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.DisconnectedTimeout > 0 && cfg.FailedTimeout > 0 && cfg.KeepAliveInterval > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}
	if cfg.UDPPortMin > 0 && cfg.UDPPortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(uint16(cfg.UDPPortMin), uint16(cfg.UDPPortMax)); err != nil {
			return nil, fmt.Errorf("invalid UDP port range: %w", err)
		}
	}

	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.ICEServers})
	}

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		iceServers: servers,
	}, nil
}

// NewTransport creates a peer connection reporting to events
func (f *Factory) NewTransport(events callsession.TransportEvents) (callsession.Transport, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.iceServers})
	if err != nil {
		return nil, err
	}
	t := &PeerTransport{pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil || events.OnLocalCandidate == nil {
			return
		}
		events.OnLocalCandidate(fromCandidateInit(c.ToJSON()))
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if events.OnRemoteTrack != nil {
			events.OnRemoteTrack(callsession.RemoteTrack{
				ID:   track.ID(),
				Kind: callsession.MediaKind(track.Kind().String()),
			})
		}
		go drain(track)
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		observability.GetLogger().Debug().Str("state", s.String()).Msg("peer connection state")
		if events.OnStateChange != nil {
			events.OnStateChange(mapState(s))
		}
	})

	return t, nil
}

// PeerTransport adapts a pion peer connection to callsession.Transport
type PeerTransport struct {
	pc *webrtc.PeerConnection

	closeOnce sync.Once
	closeErr  error
}

// AddTrack attaches a track produced by this package's media sources
func (t *PeerTransport) AddTrack(track callsession.LocalTrack) error {
	st, ok := track.(*SampleTrack)
	if !ok {
		return fmt.Errorf("unsupported track type %T", track)
	}
	sender, err := t.pc.AddTrack(st.local)
	if err != nil {
		return err
	}
	// RTCP must be read for the interceptors to work
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// CreateOffer creates an offer and sets it as the local description
func (t *PeerTransport) CreateOffer(ctx context.Context) (entities.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return entities.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return entities.SessionDescription{}, err
	}
	return fromDescription(offer), nil
}

// CreateAnswer creates an answer and sets it as the local description
func (t *PeerTransport) CreateAnswer(ctx context.Context) (entities.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return entities.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return entities.SessionDescription{}, err
	}
	return fromDescription(answer), nil
}

// SetRemoteDescription applies the remote offer or answer
func (t *PeerTransport) SetRemoteDescription(desc entities.SessionDescription) error {
	sdpType := webrtc.NewSDPType(string(desc.Type))
	if sdpType == webrtc.SDPTypeUnknown {
		return errors.New("unknown sdp type " + string(desc.Type))
	}
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP})
}

// AddICECandidate applies a remote candidate
func (t *PeerTransport) AddICECandidate(c entities.ICECandidate) error {
	return t.pc.AddICECandidate(toCandidateInit(c))
}

// Close closes the peer connection once
func (t *PeerTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.pc.Close()
	})
	return t.closeErr
}

func drain(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}

func mapState(s webrtc.PeerConnectionState) callsession.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return callsession.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return callsession.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return callsession.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return callsession.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return callsession.TransportClosed
	}
	return callsession.TransportNew
}

func fromDescription(d webrtc.SessionDescription) entities.SessionDescription {
	return entities.SessionDescription{Type: entities.SessionDescriptionType(d.Type.String()), SDP: d.SDP}
}

func fromCandidateInit(c webrtc.ICECandidateInit) entities.ICECandidate {
	return entities.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func toCandidateInit(c entities.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
