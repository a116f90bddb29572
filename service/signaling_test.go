package service

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteconsole/models"
	"remoteconsole/transport"
)

func newTestNegotiator(t *testing.T) (*SignalingNegotiator, *transport.MemoryTransport, *transport.MemoryTransport) {
	console, deviceEnd := transport.NewMemoryPair()
	n := NewSignalingNegotiator(console, nil)
	t.Cleanup(n.Close)
	return n, console, deviceEnd
}

// answerOffers makes deviceEnd behave like a device with a pion answerer
func answerOffers(t *testing.T, deviceEnd *transport.MemoryTransport) {
	deviceEnd.On(models.EventSignalOffer, func(payload json.RawMessage) {
		var msg models.SignalMessage
		require.NoError(t, json.Unmarshal(payload, &msg))

		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
		require.NoError(t, err)
		t.Cleanup(func() { pc.Close() })

		require.NoError(t, pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}))
		answer, err := pc.CreateAnswer(nil)
		require.NoError(t, err)
		gathered := webrtc.GatheringCompletePromise(pc)
		require.NoError(t, pc.SetLocalDescription(answer))
		<-gathered

		deviceEnd.Emit(models.EventSignalAnswer, models.SignalMessage{
			SessionID: msg.SessionID,
			Type:      "answer",
			SDP:       pc.LocalDescription().SDP,
		}, nil)
	})
}

func TestSignalingNegotiator_RequiresSession(t *testing.T) {
	n, console, _ := newTestNegotiator(t)

	assert.ErrorIs(t, n.Start(), ErrNoSession)
	assert.False(t, n.Active())
	assert.Empty(t, console.Sent())
}

func TestSignalingNegotiator_OfferAnswer(t *testing.T) {
	n, console, deviceEnd := newTestNegotiator(t)
	answerOffers(t, deviceEnd)
	n.SessionStarted(models.Session{ID: "s1"}, models.Device{})

	require.NoError(t, n.Start())
	assert.True(t, n.Active())

	link := n.Link()
	assert.Contains(t, link.LocalSDP, "m=video")
	assert.NotEmpty(t, link.RemoteSDP, "answer applied")

	offers := console.SentEvents(models.EventSignalOffer)
	require.Len(t, offers, 1)
	var offer models.SignalMessage
	require.NoError(t, json.Unmarshal(offers[0].Payload, &offer))
	assert.Equal(t, "s1", offer.SessionID)
	assert.Equal(t, "offer", offer.Type)

	// local candidates never go out ahead of the offer
	for _, env := range console.Sent() {
		if env.Event == models.EventSignalOffer {
			break
		}
		assert.NotEqual(t, models.EventSignalCandidate, env.Event)
	}

	assert.ErrorIs(t, n.Start(), ErrSignalingActive)
}

func TestSignalingNegotiator_BuffersCandidatesUntilAnswer(t *testing.T) {
	n, _, _ := newTestNegotiator(t)
	n.SessionStarted(models.Session{ID: "s1"}, models.Device{})

	assert.ErrorIs(t, n.OnRemoteICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"}), ErrNoPeerLink)

	require.NoError(t, n.Start())

	mid := "0"
	candidate := webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host",
		SDPMid:    &mid,
	}
	require.NoError(t, n.OnRemoteICECandidate(candidate))
	assert.Equal(t, []string{candidate.Candidate}, n.Link().ICECandidates)

	n.mu.Lock()
	queued := len(n.remoteQueue)
	n.mu.Unlock()
	assert.Equal(t, 1, queued, "held until the answer arrives")
}

func TestSignalingNegotiator_IgnoresOtherSessions(t *testing.T) {
	n, _, deviceEnd := newTestNegotiator(t)
	n.SessionStarted(models.Session{ID: "s1"}, models.Device{})
	require.NoError(t, n.Start())

	deviceEnd.Emit(models.EventSignalCandidate, models.SignalMessage{
		SessionID: "other",
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host",
	}, nil)
	assert.Empty(t, n.Link().ICECandidates)
}

func TestSignalingNegotiator_StopIsIdempotent(t *testing.T) {
	n, _, _ := newTestNegotiator(t)
	n.SessionStarted(models.Session{ID: "s1"}, models.Device{})

	var states []webrtc.PeerConnectionState
	n.OnStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateClosed {
			states = append(states, s)
		}
	})

	require.NoError(t, n.Start())
	n.Stop()
	n.Stop()

	assert.False(t, n.Active())
	assert.False(t, n.Connected())
	assert.Equal(t, models.PeerLink{}, n.Link())
	assert.Len(t, states, 1)
	assert.ErrorIs(t, n.OnRemoteAnswer("v=0"), ErrNoPeerLink)

	// a new link can be negotiated after stopping
	require.NoError(t, n.Start())
}

func TestSignalingNegotiator_SessionEndedTearsDown(t *testing.T) {
	n, _, _ := newTestNegotiator(t)
	n.SessionStarted(models.Session{ID: "s1"}, models.Device{})
	require.NoError(t, n.Start())

	n.SessionEnded()
	assert.False(t, n.Active())
	assert.ErrorIs(t, n.Start(), ErrNoSession)
}
