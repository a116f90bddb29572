package models

import "time"

// Mode is the capture pipeline currently claimed on the device
type Mode int

const (
	ModeNone   Mode = iota
	ModeScreen      // screen mirror
	ModeCamera      // device camera
)

func (m Mode) String() string {
	return [...]string{"NONE", "SCREEN", "CAMERA"}[m]
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	*m = ParseMode(string(text))
	return nil
}

// ParseMode maps the wire names onto a Mode; unknown names yield ModeNone
func ParseMode(s string) Mode {
	switch s {
	case "SCREEN", "screen", "MIRROR", "mirror":
		return ModeScreen
	case "CAMERA", "camera":
		return ModeCamera
	default:
		return ModeNone
	}
}

// Frame is one encoded image from the mirror or the camera
type Frame struct {
	Mode        Mode      `json:"mode"`
	Image       []byte    `json:"-"`
	ContentType string    `json:"content_type"`
	CapturedAt  time.Time `json:"captured_at"`
}

// FrameMessage is the wire form the device emits
type FrameMessage struct {
	SessionID string `json:"session_id,omitempty"`
	Mode      Mode   `json:"mode"`
	Image     []byte `json:"image"` // base64 on the wire
}
