package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/zatekoja/telecare/internal/application/callsession"
)

// ErrDeviceUnavailable is returned when a requested device is not present
var ErrDeviceUnavailable = errors.New("requested media device unavailable")

const audioFrame = 20 * time.Millisecond

// opus silence frame
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SampleTrack is an outbound track written sample by sample
type SampleTrack struct {
	local   *webrtc.TrackLocalStaticSample
	kind    callsession.MediaKind
	enabled atomic.Bool

	stopOnce sync.Once
	stopped  chan struct{}
}

func newSampleTrack(kind callsession.MediaKind, streamID string) (*SampleTrack, error) {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == callsession.MediaKindVideo {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	local, err := webrtc.NewTrackLocalStaticSample(capability, string(kind)+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	t := &SampleTrack{local: local, kind: kind, stopped: make(chan struct{})}
	t.enabled.Store(true)
	return t, nil
}

func (t *SampleTrack) ID() string                  { return t.local.ID() }
func (t *SampleTrack) Kind() callsession.MediaKind { return t.kind }
func (t *SampleTrack) SetEnabled(enabled bool)     { t.enabled.Store(enabled) }
func (t *SampleTrack) Enabled() bool               { return t.enabled.Load() }

// Stop ends sample production
func (t *SampleTrack) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

// WriteSample sends s unless the track is muted or stopped
func (t *SampleTrack) WriteSample(s media.Sample) error {
	select {
	case <-t.stopped:
		return nil
	default:
	}
	if !t.enabled.Load() {
		return nil
	}
	return t.local.WriteSample(s)
}

// SyntheticSource produces media without capture hardware. Audio carries opus
// silence; the video track is negotiated but idle.
type SyntheticSource struct {
	available callsession.MediaConstraints
	clock     clock.Clock
}

// NewSyntheticSource creates a source exposing the devices in available
func NewSyntheticSource(available callsession.MediaConstraints, clk clock.Clock) *SyntheticSource {
	if clk == nil {
		clk = clock.New()
	}
	return &SyntheticSource{available: available, clock: clk}
}

// Acquire opens the requested synthetic devices
func (s *SyntheticSource) Acquire(ctx context.Context, c callsession.MediaConstraints) (*callsession.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if (c.Audio && !s.available.Audio) || (c.Video && !s.available.Video) {
		return nil, ErrDeviceUnavailable
	}

	streamID := "telecare-" + uuid.NewString()
	stream := &callsession.LocalStream{}
	if c.Audio {
		audio, err := newSampleTrack(callsession.MediaKindAudio, streamID)
		if err != nil {
			return nil, err
		}
		go s.pumpSilence(audio)
		stream.Tracks = append(stream.Tracks, audio)
	}
	if c.Video {
		video, err := newSampleTrack(callsession.MediaKindVideo, streamID)
		if err != nil {
			return nil, err
		}
		stream.Tracks = append(stream.Tracks, video)
	}
	return stream, nil
}

func (s *SyntheticSource) pumpSilence(t *SampleTrack) {
	ticker := s.clock.Ticker(audioFrame)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopped:
			return
		case <-ticker.C:
			if err := t.WriteSample(media.Sample{Data: opusSilence, Duration: audioFrame}); err != nil {
				return
			}
		}
	}
}
