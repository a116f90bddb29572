package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"

	"remoteconsole/models"
	"remoteconsole/transport"
)

// Compile-time interface check.
var _ SessionObserver = (*SignalingNegotiator)(nil)

// SignalingNegotiator negotiates the optional receive-only media link with
// the device. Offer, answer and ICE candidates travel over the session's
// transport. Connection failures are reported to listeners and never retried.
type SignalingNegotiator struct {
	transport transport.Transport
	api       *webrtc.API
	config    webrtc.Configuration

	mu        sync.Mutex
	sessionID string
	pc        *webrtc.PeerConnection
	link      models.PeerLink
	offerSent bool
	remoteSet bool
	// local candidates gathered before the offer went out
	localQueue []webrtc.ICECandidateInit
	// remote candidates that arrived before the answer
	remoteQueue []webrtc.ICECandidateInit
	packetSink  func([]byte)

	listenersMu sync.Mutex
	listeners   map[int]func(webrtc.PeerConnectionState)
	nextID      int

	unsubscribe []func()
}

// NewSignalingNegotiator builds the pion API. iceServers are STUN/TURN
// URLs; an empty list means host candidates only.
func NewSignalingNegotiator(t transport.Transport, iceServers []string) *SignalingNegotiator {
	settings := webrtc.SettingEngine{}
	settings.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryOnly)
	settings.SetIncludeLoopbackCandidate(true)

	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}

	n := &SignalingNegotiator{
		transport: t,
		api:       webrtc.NewAPI(webrtc.WithSettingEngine(settings)),
		config:    config,
		listeners: make(map[int]func(webrtc.PeerConnectionState)),
	}
	n.unsubscribe = append(n.unsubscribe,
		t.On(models.EventSignalAnswer, n.handleAnswer),
		t.On(models.EventSignalCandidate, n.handleCandidate),
	)
	return n
}

// SetPacketSink registers a consumer for raw RTP packets of the remote video track
func (n *SignalingNegotiator) SetPacketSink(fn func([]byte)) {
	n.mu.Lock()
	n.packetSink = fn
	n.mu.Unlock()
}

// Start creates the peer connection and sends the local offer
func (n *SignalingNegotiator) Start() error {
	n.mu.Lock()
	sessionID := n.sessionID
	busy := n.pc != nil
	n.mu.Unlock()
	if sessionID == "" {
		return ErrNoSession
	}
	if busy {
		return ErrSignalingActive
	}

	pc, err := n.api.NewPeerConnection(n.config)
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}

	n.mu.Lock()
	if n.pc != nil || n.sessionID != sessionID {
		n.mu.Unlock()
		pc.Close()
		return ErrSignalingActive
	}
	n.pc = pc
	n.link = models.PeerLink{ConnectionState: webrtc.PeerConnectionStateNew.String()}
	n.offerSent = false
	n.remoteSet = false
	n.localQueue = nil
	n.remoteQueue = nil
	n.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			n.handleLocalCandidate(pc, c.ToJSON())
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.handleStateChange(pc, state)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("🎥 Remote track %s (%s)", track.ID(), track.Codec().MimeType)
		go n.readTrack(pc, track)
	})

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		n.abort(pc)
		return fmt.Errorf("adding video transceiver: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		n.abort(pc)
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		n.abort(pc)
		return fmt.Errorf("setting local description: %w", err)
	}

	n.mu.Lock()
	if n.pc != pc {
		n.mu.Unlock()
		return ErrNoPeerLink
	}
	n.link.LocalSDP = offer.SDP
	n.mu.Unlock()

	msg := models.SignalMessage{
		SessionID: sessionID,
		Type:      offer.Type.String(),
		SDP:       offer.SDP,
	}
	if err := n.transport.Emit(models.EventSignalOffer, msg, nil); err != nil {
		n.abort(pc)
		return fmt.Errorf("sending offer: %w", err)
	}
	log.Printf("📡 [%s] Offer sent", sessionID)

	n.mu.Lock()
	if n.pc != pc {
		n.mu.Unlock()
		return nil
	}
	n.offerSent = true
	queued := n.localQueue
	n.localQueue = nil
	n.mu.Unlock()

	for _, c := range queued {
		n.sendCandidate(sessionID, c)
	}
	return nil
}

// abort tears down pc if it is still the current link
func (n *SignalingNegotiator) abort(pc *webrtc.PeerConnection) {
	n.mu.Lock()
	if n.pc == pc {
		n.clearLocked()
	}
	n.mu.Unlock()
	if err := pc.Close(); err != nil {
		log.Printf("⚠️ Closing peer connection: %v", err)
	}
}

func (n *SignalingNegotiator) clearLocked() {
	n.pc = nil
	n.link = models.PeerLink{}
	n.offerSent = false
	n.remoteSet = false
	n.localQueue = nil
	n.remoteQueue = nil
}

func (n *SignalingNegotiator) handleLocalCandidate(pc *webrtc.PeerConnection, c webrtc.ICECandidateInit) {
	n.mu.Lock()
	if n.pc != pc {
		n.mu.Unlock()
		return
	}
	if !n.offerSent {
		n.localQueue = append(n.localQueue, c)
		n.mu.Unlock()
		return
	}
	sessionID := n.sessionID
	n.mu.Unlock()
	n.sendCandidate(sessionID, c)
}

func (n *SignalingNegotiator) sendCandidate(sessionID string, c webrtc.ICECandidateInit) {
	msg := models.SignalMessage{
		SessionID:     sessionID,
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
	if err := n.transport.Emit(models.EventSignalCandidate, msg, nil); err != nil {
		log.Printf("⚠️ [%s] Failed to send ICE candidate: %v", sessionID, err)
	}
}

// OnRemoteAnswer applies the device's answer and flushes buffered candidates
func (n *SignalingNegotiator) OnRemoteAnswer(sdp string) error {
	n.mu.Lock()
	pc := n.pc
	n.mu.Unlock()
	if pc == nil {
		return ErrNoPeerLink
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}

	n.mu.Lock()
	if n.pc != pc {
		n.mu.Unlock()
		return ErrNoPeerLink
	}
	n.link.RemoteSDP = sdp
	n.remoteSet = true
	queued := n.remoteQueue
	n.remoteQueue = nil
	n.mu.Unlock()

	for _, c := range queued {
		if err := pc.AddICECandidate(c); err != nil {
			log.Printf("⚠️ Buffered ICE candidate rejected: %v", err)
		}
	}
	return nil
}

// OnRemoteICECandidate appends a device candidate to the link. Candidates
// received before the answer are held until it is applied.
func (n *SignalingNegotiator) OnRemoteICECandidate(c webrtc.ICECandidateInit) error {
	n.mu.Lock()
	pc := n.pc
	if pc == nil {
		n.mu.Unlock()
		return ErrNoPeerLink
	}
	n.link.ICECandidates = append(n.link.ICECandidates, c.Candidate)
	if !n.remoteSet {
		n.remoteQueue = append(n.remoteQueue, c)
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	if err := pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("adding ICE candidate: %w", err)
	}
	return nil
}

func (n *SignalingNegotiator) handleAnswer(payload json.RawMessage) {
	msg, ok := n.decodeSignal(payload)
	if !ok {
		return
	}
	if err := n.OnRemoteAnswer(msg.SDP); err != nil {
		log.Printf("❌ [%s] Answer not applied: %v", msg.SessionID, err)
	}
}

func (n *SignalingNegotiator) handleCandidate(payload json.RawMessage) {
	msg, ok := n.decodeSignal(payload)
	if !ok {
		return
	}
	err := n.OnRemoteICECandidate(webrtc.ICECandidateInit{
		Candidate:     msg.Candidate,
		SDPMid:        msg.SDPMid,
		SDPMLineIndex: msg.SDPMLineIndex,
	})
	if err != nil {
		log.Printf("⚠️ [%s] ICE candidate not applied: %v", msg.SessionID, err)
	}
}

// decodeSignal parses a signaling message and checks it belongs to this session
func (n *SignalingNegotiator) decodeSignal(payload json.RawMessage) (models.SignalMessage, bool) {
	var msg models.SignalMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("⚠️ Malformed signaling message: %v", err)
		return msg, false
	}
	n.mu.Lock()
	current := n.sessionID
	n.mu.Unlock()
	if current == "" || (msg.SessionID != "" && msg.SessionID != current) {
		return msg, false
	}
	return msg, true
}

func (n *SignalingNegotiator) handleStateChange(pc *webrtc.PeerConnection, state webrtc.PeerConnectionState) {
	n.mu.Lock()
	if n.pc != pc {
		n.mu.Unlock()
		return
	}
	n.link.ConnectionState = state.String()
	sessionID := n.sessionID
	n.mu.Unlock()

	switch state {
	case webrtc.PeerConnectionStateConnected:
		log.Printf("✅ [%s] Peer link connected", sessionID)
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		log.Printf("⚠️ [%s] Peer link %s, restart signaling manually", sessionID, state)
	}
	n.notify(state)
}

func (n *SignalingNegotiator) readTrack(pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		size, _, err := track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("⚠️ Remote track %s ended: %v", track.ID(), err)
			}
			return
		}
		n.mu.Lock()
		if n.pc != pc {
			n.mu.Unlock()
			return
		}
		n.link.PacketsReceived++
		sink := n.packetSink
		n.mu.Unlock()
		if sink != nil {
			packet := make([]byte, size)
			copy(packet, buf[:size])
			sink(packet)
		}
	}
}

// Stop closes the peer link and clears its state. Safe to call repeatedly.
func (n *SignalingNegotiator) Stop() {
	n.mu.Lock()
	pc := n.pc
	n.clearLocked()
	n.mu.Unlock()
	if pc == nil {
		return
	}
	if err := pc.Close(); err != nil {
		log.Printf("⚠️ Closing peer connection: %v", err)
	}
	n.notify(webrtc.PeerConnectionStateClosed)
	log.Printf("🛑 Peer link closed")
}

// Link returns a copy of the current peer link state
func (n *SignalingNegotiator) Link() models.PeerLink {
	n.mu.Lock()
	defer n.mu.Unlock()
	link := n.link
	link.ICECandidates = append([]string(nil), n.link.ICECandidates...)
	return link
}

// Active reports whether a peer link exists in any state
func (n *SignalingNegotiator) Active() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pc != nil
}

// Connected reports whether the media link is up
func (n *SignalingNegotiator) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pc != nil && n.link.ConnectionState == webrtc.PeerConnectionStateConnected.String()
}

// OnStateChange registers fn for connection state transitions
func (n *SignalingNegotiator) OnStateChange(fn func(webrtc.PeerConnectionState)) func() {
	n.listenersMu.Lock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	n.listenersMu.Unlock()
	return func() {
		n.listenersMu.Lock()
		delete(n.listeners, id)
		n.listenersMu.Unlock()
	}
}

func (n *SignalingNegotiator) notify(state webrtc.PeerConnectionState) {
	n.listenersMu.Lock()
	snapshot := make([]func(webrtc.PeerConnectionState), 0, len(n.listeners))
	for _, fn := range n.listeners {
		snapshot = append(snapshot, fn)
	}
	n.listenersMu.Unlock()
	for _, fn := range snapshot {
		fn(state)
	}
}

func (n *SignalingNegotiator) SessionStarted(session models.Session, _ models.Device) {
	n.mu.Lock()
	n.sessionID = session.ID
	n.mu.Unlock()
}

func (n *SignalingNegotiator) SessionEnded() {
	n.Stop()
	n.mu.Lock()
	n.sessionID = ""
	n.mu.Unlock()
}

func (n *SignalingNegotiator) Close() {
	n.SessionEnded()
	for _, unsub := range n.unsubscribe {
		unsub()
	}
}
