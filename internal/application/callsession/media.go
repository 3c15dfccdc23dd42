package callsession

import (
	"context"

	"github.com/zatekoja/telecare/internal/domain/entities"
)

// MediaKind is the kind of a media track
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// LocalTrack is one captured outbound track
type LocalTrack interface {
	ID() string
	Kind() MediaKind
	// SetEnabled mutes or unmutes the track without renegotiation
	SetEnabled(enabled bool)
	Enabled() bool
	Stop()
}

// LocalStream is the outbound media of one participant
type LocalStream struct {
	Tracks []LocalTrack
}

// HasKind reports whether the stream carries a track of kind
func (s *LocalStream) HasKind(kind MediaKind) bool {
	if s == nil {
		return false
	}
	for _, t := range s.Tracks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

// MediaConstraints selects which devices to open
type MediaConstraints struct {
	Audio bool
	Video bool
}

// ConstraintsFor returns the devices a call mode needs; voice calls never open a camera
func ConstraintsFor(mode entities.CallMode) MediaConstraints {
	switch mode {
	case entities.CallModeVoice:
		return MediaConstraints{Audio: true}
	case entities.CallModeVideo:
		return MediaConstraints{Audio: true, Video: true}
	}
	return MediaConstraints{}
}

// MediaSource opens local capture devices. Acquire may block until the user answers
// a permission prompt and must return when ctx is done.
type MediaSource interface {
	Acquire(ctx context.Context, constraints MediaConstraints) (*LocalStream, error)
}

// RemoteTrack describes an inbound track attached by the transport
type RemoteTrack struct {
	ID   string
	Kind MediaKind
}
