package models

import (
	"encoding/json"
	"time"
)

// CommandType names a device command; completions are correlated by it.
type CommandType string

const (
	CmdStartCamera   CommandType = "START_CAMERA"
	CmdStopCamera    CommandType = "STOP_CAMERA"
	CmdStartMirror   CommandType = "START_MIRROR"
	CmdStopMirror    CommandType = "STOP_MIRROR"
	CmdTap           CommandType = "TAP"
	CmdSwipe         CommandType = "SWIPE"
	CmdKey           CommandType = "KEY"
	CmdText          CommandType = "TEXT"
	CmdOpenApp       CommandType = "OPEN_APP"
	CmdNotifications CommandType = "NOTIFICATIONS"
	CmdGallery       CommandType = "GALLERY"
	CmdFiles         CommandType = "FILES"
	CmdStats         CommandType = "STATS"
	CmdViewFile      CommandType = "VIEW_FILE"
	CmdCameraCapture CommandType = "CAMERA_CAPTURE"
	CmdAudioRecord   CommandType = "AUDIO_RECORD"
)

// Command is the tracked state of an in-flight command
type Command struct {
	Type         CommandType            `json:"type"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	RequestID    uint64                 `json:"request_id"`
	PendingSince time.Time              `json:"pending_since"`
	Result       *CommandResult         `json:"result,omitempty"`
}

// CommandResult is what the device reports in command:completed
type CommandResult struct {
	Type      CommandType     `json:"type"`
	RequestID uint64          `json:"request_id,omitempty"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Decode unmarshals the result body into v
func (r CommandResult) Decode(v interface{}) error {
	if len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// CommandMessage is the wire form of a sent command
type CommandMessage struct {
	SessionID string                 `json:"session_id"`
	RequestID uint64                 `json:"request_id"`
	Type      CommandType            `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// FileEntry is one row of a GALLERY/FILES listing
type FileEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

// FileListing is the result body of GALLERY and FILES
type FileListing struct {
	Path    string      `json:"path"`
	Entries []FileEntry `json:"entries"`
}

// Notification is one entry of a NOTIFICATIONS result
type Notification struct {
	Package  string `json:"package"`
	Title    string `json:"title"`
	Text     string `json:"text,omitempty"`
	PostedAt int64  `json:"posted_at,omitempty"`
}

// Photo is the result body of VIEW_FILE and CAMERA_CAPTURE
type Photo struct {
	Name  string `json:"name,omitempty"`
	Image []byte `json:"image"` // base64 on the wire
}

// AudioClip is the result body of AUDIO_RECORD
type AudioClip struct {
	Audio      []byte `json:"audio"`
	DurationMs int    `json:"duration_ms,omitempty"`
}

// DeviceStats is the result body of STATS
type DeviceStats struct {
	Battery       int    `json:"battery"`
	Charging      bool   `json:"charging,omitempty"`
	Resolution    string `json:"resolution,omitempty"`
	Network       string `json:"network,omitempty"`
	StorageFreeMB int64  `json:"storage_free_mb,omitempty"`
}
