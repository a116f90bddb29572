package models

// Transport event names shared by the console and the device side
const (
	EventSessionStart       = "session:start"
	EventSessionResponse    = "session:response"
	EventSessionStop        = "session:stop"
	EventDeviceDisconnected = "device:disconnected"
	EventCommand            = "command"
	EventCommandCompleted   = "command:completed"
	EventFrame              = "frame"
	EventSignalOffer        = "signal:offer"
	EventSignalAnswer       = "signal:answer"
	EventSignalCandidate    = "signal:candidate"
)

// SessionStartRequest asks the device to accept an operator session
type SessionStartRequest struct {
	SessionID  string `json:"session_id"`
	DeviceID   string `json:"device_id"`
	Credential string `json:"credential,omitempty"`
}

// SessionResponse is the device's single answer to a start request
type SessionResponse struct {
	SessionID string `json:"session_id"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"` // e.g. "offline", "busy"
}

// SessionStop ends the session on the device side
type SessionStop struct {
	SessionID string `json:"session_id"`
}

// DeviceDisconnected reports the device dropping mid-session
type DeviceDisconnected struct {
	SessionID string `json:"session_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
