package rtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/telecare/internal/application/callsession"
	"github.com/zatekoja/telecare/internal/domain/entities"
	"github.com/zatekoja/telecare/pkg/config"
)

func testConfig() config.WebRTCConfig {
	return config.WebRTCConfig{
		DisconnectedTimeout: 5 * time.Second,
		FailedTimeout:       10 * time.Second,
		KeepAliveInterval:   time.Second,
	}
}

func newTestTransport(t *testing.T, f *Factory, mode entities.CallMode) (callsession.Transport, *callsession.LocalStream) {
	t.Helper()
	tr, err := f.NewTransport(callsession.TransportEvents{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	src := NewSyntheticSource(callsession.MediaConstraints{Audio: true, Video: true}, clock.NewMock())
	stream, err := src.Acquire(context.Background(), callsession.ConstraintsFor(mode))
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, track := range stream.Tracks {
			track.Stop()
		}
	})
	for _, track := range stream.Tracks {
		require.NoError(t, tr.AddTrack(track))
	}
	return tr, stream
}

func TestTransport_OfferAnswerExchange(t *testing.T) {
	f, err := NewFactory(testConfig())
	require.NoError(t, err)
	ctx := context.Background()

	caller, _ := newTestTransport(t, f, entities.CallModeVideo)
	callee, _ := newTestTransport(t, f, entities.CallModeVideo)

	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, entities.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")

	require.NoError(t, callee.SetRemoteDescription(offer))
	answer, err := callee.CreateAnswer(ctx)
	require.NoError(t, err)
	assert.Equal(t, entities.SDPTypeAnswer, answer.Type)

	require.NoError(t, caller.SetRemoteDescription(answer))
}

func TestTransport_VoiceOfferHasNoVideo(t *testing.T) {
	f, err := NewFactory(testConfig())
	require.NoError(t, err)

	caller, stream := newTestTransport(t, f, entities.CallModeVoice)
	require.Len(t, stream.Tracks, 1)

	offer, err := caller.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.NotContains(t, offer.SDP, "m=video")
}

func TestTransport_RejectsUnknownInputs(t *testing.T) {
	f, err := NewFactory(testConfig())
	require.NoError(t, err)
	tr, err := f.NewTransport(callsession.TransportEvents{})
	require.NoError(t, err)

	assert.Error(t, tr.SetRemoteDescription(entities.SessionDescription{Type: "bogus", SDP: "v=0"}))
	assert.Error(t, tr.AddTrack(foreignTrack{}))

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
}

func TestNewFactory_InvalidPortRange(t *testing.T) {
	cfg := testConfig()
	cfg.UDPPortMin, cfg.UDPPortMax = 50010, 50000
	_, err := NewFactory(cfg)
	assert.Error(t, err)
}

func TestSyntheticSource_MissingDevice(t *testing.T) {
	src := NewSyntheticSource(callsession.MediaConstraints{Audio: true}, clock.NewMock())

	_, err := src.Acquire(context.Background(), callsession.MediaConstraints{Audio: true, Video: true})
	assert.True(t, errors.Is(err, ErrDeviceUnavailable))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Acquire(ctx, callsession.MediaConstraints{Audio: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSampleTrack_MuteAndStop(t *testing.T) {
	track, err := newSampleTrack(callsession.MediaKindAudio, "stream")
	require.NoError(t, err)
	assert.True(t, track.Enabled())

	track.SetEnabled(false)
	assert.False(t, track.Enabled())

	track.Stop()
	track.Stop()
	select {
	case <-track.stopped:
	default:
		t.Fatal("track not stopped")
	}
}

func TestMapState(t *testing.T) {
	tests := map[webrtc.PeerConnectionState]callsession.TransportState{
		webrtc.PeerConnectionStateNew:          callsession.TransportNew,
		webrtc.PeerConnectionStateConnecting:   callsession.TransportConnecting,
		webrtc.PeerConnectionStateConnected:    callsession.TransportConnected,
		webrtc.PeerConnectionStateDisconnected: callsession.TransportDisconnected,
		webrtc.PeerConnectionStateFailed:       callsession.TransportFailed,
		webrtc.PeerConnectionStateClosed:       callsession.TransportClosed,
	}
	for in, want := range tests {
		assert.Equal(t, want, mapState(in), in.String())
	}
}

type foreignTrack struct{}

func (foreignTrack) ID() string                  { return "foreign" }
func (foreignTrack) Kind() callsession.MediaKind { return callsession.MediaKindAudio }
func (foreignTrack) SetEnabled(bool)             {}
func (foreignTrack) Enabled() bool               { return true }
func (foreignTrack) Stop()                       {}
