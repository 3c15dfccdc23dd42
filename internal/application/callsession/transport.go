package callsession

import (
	"context"

	"github.com/zatekoja/telecare/internal/domain/entities"
)

// TransportState mirrors the peer connection state
type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// TransportEvents are raised by a Transport from its own goroutines
type TransportEvents struct {
	OnLocalCandidate func(candidate entities.ICECandidate)
	OnRemoteTrack    func(track RemoteTrack)
	OnStateChange    func(state TransportState)
}

// Transport is the real-time peer connection
type Transport interface {
	AddTrack(track LocalTrack) error
	// CreateOffer creates an offer and sets it as the local description
	CreateOffer(ctx context.Context) (entities.SessionDescription, error)
	// CreateAnswer creates an answer and sets it as the local description
	CreateAnswer(ctx context.Context) (entities.SessionDescription, error)
	SetRemoteDescription(desc entities.SessionDescription) error
	AddICECandidate(candidate entities.ICECandidate) error
	Close() error
}

// TransportFactory builds a transport that reports to events
type TransportFactory func(events TransportEvents) (Transport, error)
