package service

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"remoteconsole/models"
	"remoteconsole/transport"
)

const testDeviceID = "pixel-7"

func testDirectory() *DeviceManager {
	return NewDeviceManager(
		models.Device{ID: testDeviceID, Name: "Pixel 7", Status: models.DeviceOnline, Resolution: "1080x2400"},
		models.Device{ID: "tablet", Name: "Tab S8", Status: models.DeviceOffline, Resolution: "1600x2560"},
	)
}

// pngBytes encodes a tiny solid image
func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeDevice plays the device end of a memory transport pair
type fakeDevice struct {
	end *transport.MemoryTransport

	mu           sync.Mutex
	reject       string // non-empty: refuse sessions with this reason
	silent       bool   // never answer session starts
	autoComplete bool   // complete every command successfully
	sessionID    string
	starts       []models.SessionStartRequest
	stops        int
	commands     []models.CommandMessage
}

func newFakeDevice(end *transport.MemoryTransport) *fakeDevice {
	d := &fakeDevice{end: end, autoComplete: true}
	end.On(models.EventSessionStart, d.handleStart)
	end.On(models.EventSessionStop, func(json.RawMessage) {
		d.mu.Lock()
		d.stops++
		d.sessionID = ""
		d.mu.Unlock()
	})
	end.On(models.EventCommand, d.handleCommand)
	return d
}

func (d *fakeDevice) handleStart(payload json.RawMessage) {
	var req models.SessionStartRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}
	d.mu.Lock()
	d.starts = append(d.starts, req)
	reject, silent := d.reject, d.silent
	if reject == "" && !silent {
		d.sessionID = req.SessionID
	}
	d.mu.Unlock()

	if silent {
		return
	}
	d.end.Emit(models.EventSessionResponse, models.SessionResponse{
		SessionID: req.SessionID,
		Accepted:  reject == "",
		Reason:    reject,
	}, nil)
}

func (d *fakeDevice) handleCommand(payload json.RawMessage) {
	var cmd models.CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return
	}
	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	auto := d.autoComplete
	d.mu.Unlock()
	if auto {
		d.complete(cmd.Type, true, nil)
	}
}

type testCompletion struct {
	SessionID string             `json:"session_id,omitempty"`
	Type      models.CommandType `json:"type"`
	Success   bool               `json:"success"`
	Result    interface{}        `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// complete reports a completion for cmdType in the current session
func (d *fakeDevice) complete(cmdType models.CommandType, success bool, result interface{}) {
	d.mu.Lock()
	sessionID := d.sessionID
	d.mu.Unlock()
	c := testCompletion{SessionID: sessionID, Type: cmdType, Success: success, Result: result}
	if !success {
		c.Error = "device refused"
	}
	d.end.Emit(models.EventCommandCompleted, c, nil)
}

func (d *fakeDevice) sendFrame(mode models.Mode, img []byte) {
	d.mu.Lock()
	sessionID := d.sessionID
	d.mu.Unlock()
	d.end.Emit(models.EventFrame, models.FrameMessage{SessionID: sessionID, Mode: mode, Image: img}, nil)
}

func (d *fakeDevice) setAutoComplete(on bool) {
	d.mu.Lock()
	d.autoComplete = on
	d.mu.Unlock()
}

func (d *fakeDevice) received() []models.CommandMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.CommandMessage(nil), d.commands...)
}

func (d *fakeDevice) receivedOf(cmdType models.CommandType) []models.CommandMessage {
	var out []models.CommandMessage
	for _, cmd := range d.received() {
		if cmd.Type == cmdType {
			out = append(out, cmd)
		}
	}
	return out
}

// recordingSender is a CommandSender that records what would be sent
type recordingSender struct {
	mu     sync.Mutex
	nextID uint64
	sent   []models.CommandMessage
	err    error
}

func (s *recordingSender) Send(cmdType models.CommandType, payload map[string]interface{}) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.nextID++
	s.sent = append(s.sent, models.CommandMessage{RequestID: s.nextID, Type: cmdType, Payload: payload})
	return s.nextID, nil
}

func (s *recordingSender) failWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *recordingSender) types() []models.CommandType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CommandType, 0, len(s.sent))
	for _, cmd := range s.sent {
		out = append(out, cmd.Type)
	}
	return out
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *recordingSender) last() models.CommandMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

// staticModes is a ModeSource with a fixed state. RefreshCamera goes to
// sender when one is set.
type staticModes struct {
	mu     sync.Mutex
	state  ModeState
	sender CommandSender
}

func (m *staticModes) State() ModeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *staticModes) set(state ModeState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

func (m *staticModes) OnChange(func(prev, next ModeState)) func() { return func() {} }

func (m *staticModes) RefreshCamera() error {
	if m.sender == nil {
		return nil
	}
	_, err := m.sender.Send(models.CmdStartCamera, nil)
	return err
}

// recordingObserver logs SessionStarted/SessionEnded calls into a shared slice
type recordingObserver struct {
	name string
	mu   *sync.Mutex
	log  *[]string
}

func (o recordingObserver) SessionStarted(models.Session, models.Device) {
	o.mu.Lock()
	*o.log = append(*o.log, "start:"+o.name)
	o.mu.Unlock()
}

func (o recordingObserver) SessionEnded() {
	o.mu.Lock()
	*o.log = append(*o.log, "end:"+o.name)
	o.mu.Unlock()
}
