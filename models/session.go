package models

import "time"

// SessionState represents the lifecycle state of the operator's session
type SessionState int

const (
	SessionIdle       SessionState = iota // No session
	SessionConnecting                     // start sent, waiting for the device
	SessionActive                         // Device accepted
	SessionRejected                       // Device refused; returns to idle
)

func (s SessionState) String() string {
	return [...]string{"IDLE", "CONNECTING", "ACTIVE", "REJECTED"}[s]
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session binds this operator to one device
type Session struct {
	ID                 string       `json:"id"`
	DeviceID           string       `json:"device_id"`
	OperatorCredential string       `json:"-"`
	State              SessionState `json:"state"`
	StartedAt          time.Time    `json:"started_at"`
}
