package models

// PeerLink is the observable state of the optional media connection
type PeerLink struct {
	LocalSDP        string   `json:"local_sdp,omitempty"`
	RemoteSDP       string   `json:"remote_sdp,omitempty"`
	ICECandidates   []string `json:"ice_candidates"`
	ConnectionState string   `json:"connection_state"`
	PacketsReceived uint64   `json:"packets_received"`
}

// SignalMessage carries an SDP or an ICE candidate between operator and device
type SignalMessage struct {
	SessionID     string  `json:"session_id"`
	Type          string  `json:"type,omitempty"` // offer/answer
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}
