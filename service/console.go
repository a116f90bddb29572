package service

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"remoteconsole/models"
	"remoteconsole/transport"
)

// Options configures a Console
type Options struct {
	Transport         transport.Transport
	Devices           DeviceDirectory
	Credential        string
	StartTimeout      time.Duration
	CommandTimeout    time.Duration
	ICEServers        []string
	AutoSync          bool
	DiagnosticsPeriod time.Duration
}

// Snapshot is the read-only state the operator UI renders
type Snapshot struct {
	Session     *models.Session     `json:"session,omitempty"`
	State       models.SessionState `json:"state"`
	Mode        ModeState           `json:"mode"`
	ActiveMode  models.Mode         `json:"active_mode"`
	Pending     []models.Command    `json:"pending"`
	Diagnostics Diagnostics         `json:"diagnostics"`
	Views       Views               `json:"views"`
	Peer        models.PeerLink     `json:"peer"`
	Device      models.Size         `json:"device_resolution"`
	Viewport    models.Size         `json:"viewport"`
}

// Console is the operator-facing surface of one remote control session.
// It owns every component and wires them to a single transport.
type Console struct {
	transport transport.Transport
	devices   DeviceDirectory

	sessions  *SessionManager
	commands  *CommandChannel
	modes     *ModeArbiter
	frames    *FrameRelay
	gestures  *GestureTranslator
	signaling *SignalingNegotiator
	results   *ResultRouter
	poller    *DiagnosticsPoller

	listenersMu sync.Mutex
	listeners   map[int]func()
	nextID      int

	unsubscribe []func()
}

func NewConsole(opts Options) *Console {
	t := opts.Transport
	commands := NewCommandChannel(t, opts.CommandTimeout)
	modes := NewModeArbiter(commands)
	frames := NewFrameRelay(modes)
	gestures := NewGestureTranslator(commands, modes)
	signaling := NewSignalingNegotiator(t, opts.ICEServers)
	results := NewResultRouter(commands)
	poller := NewDiagnosticsPoller(commands, modes, signaling, opts.DiagnosticsPeriod, opts.AutoSync)

	c := &Console{
		transport: t,
		devices:   opts.Devices,
		commands:  commands,
		modes:     modes,
		frames:    frames,
		gestures:  gestures,
		signaling: signaling,
		results:   results,
		poller:    poller,
		listeners: make(map[int]func()),
	}
	// ended in reverse: the poller stops first, the command channel last
	c.sessions = NewSessionManager(t, opts.Devices, opts.Credential, opts.StartTimeout,
		commands, modes, frames, gestures, results, signaling, poller)

	c.unsubscribe = append(c.unsubscribe,
		t.On(models.EventFrame, c.handleFrame),
		c.sessions.OnStateChange(func(models.SessionState) { c.changed() }),
		modes.OnChange(func(_, _ ModeState) { c.changed() }),
		commands.SubscribeAll(func(models.CommandResult) { c.changed() }),
		signaling.OnStateChange(func(webrtc.PeerConnectionState) { c.changed() }),
	)
	return c
}

func (c *Console) handleFrame(payload json.RawMessage) {
	var msg models.FrameMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	session := c.sessions.Session()
	if session == nil || session.State != models.SessionActive {
		return
	}
	if msg.SessionID != "" && msg.SessionID != session.ID {
		return
	}
	c.frames.OnFrame(msg.Mode, msg.Image)
}

// Devices lists what the directory knows
func (c *Console) Devices(ctx context.Context) ([]models.Device, error) {
	return c.devices.List(ctx)
}

func (c *Console) StartSession(ctx context.Context, deviceID string) (*models.Session, error) {
	return c.sessions.Start(ctx, deviceID)
}

// Stop ends the session and returns every component to its empty state
func (c *Console) Stop() {
	c.sessions.Stop()
}

// SendCommand sends an arbitrary command. Capture start and stop commands
// go through the mode arbiter so they cannot bypass mutual exclusion.
func (c *Console) SendCommand(cmdType models.CommandType, payload map[string]interface{}) (uint64, error) {
	switch cmdType {
	case models.CmdStartCamera:
		return 0, c.modes.RequestCameraStart()
	case models.CmdStartMirror:
		withControl, _ := payload["control"].(bool)
		return 0, c.modes.RequestMirrorStart(withControl)
	case models.CmdStopCamera:
		c.modes.StopCamera()
		return 0, nil
	case models.CmdStopMirror:
		c.modes.StopMirror()
		return 0, nil
	}
	return c.commands.Send(cmdType, payload)
}

func (c *Console) StartCamera() error {
	return c.modes.RequestCameraStart()
}

func (c *Console) StopCamera() {
	c.modes.StopCamera()
}

func (c *Console) StartMirror(withControl bool) error {
	return c.modes.RequestMirrorStart(withControl)
}

func (c *Console) StopMirror() {
	c.modes.StopMirror()
}

func (c *Console) PointerDown(p models.Point) {
	c.gestures.PointerDown(p)
}

func (c *Console) PointerUp(p models.Point) (models.Gesture, error) {
	return c.gestures.PointerUp(p)
}

func (c *Console) SetViewport(size models.Size) {
	c.gestures.SetViewport(size)
	c.changed()
}

func (c *Console) SetAutoSync(on bool) {
	c.poller.SetAutoSync(on)
	c.changed()
}

func (c *Console) StartSignaling() error {
	if err := c.sessions.requireActive(); err != nil {
		return err
	}
	return c.signaling.Start()
}

func (c *Console) StopSignaling() {
	c.signaling.Stop()
}

func (c *Console) PeerLink() models.PeerLink {
	return c.signaling.Link()
}

// LatestFrame returns the newest frame for mode, if any
func (c *Console) LatestFrame(mode models.Mode) (models.Frame, bool) {
	return c.frames.Latest(mode)
}

// SubscribeFrames registers a renderer for stored frames
func (c *Console) SubscribeFrames(fn func(models.Frame)) func() {
	return c.frames.Subscribe(fn)
}

// Photo returns the image in the photo viewer
func (c *Console) Photo() (PhotoView, bool) {
	return c.results.Photo()
}

// NextClip pops the oldest recorded clip for playback
func (c *Console) NextClip() (AudioView, bool) {
	return c.results.NextClip()
}

func (c *Console) Diagnostics() Diagnostics {
	link := c.signaling.Link()
	return Diagnostics{
		Device:          c.results.LastStats(),
		Frames:          c.frames.Stats(),
		Commands:        c.commands.Stats(),
		PeerState:       link.ConnectionState,
		PacketsReceived: link.PacketsReceived,
		AutoSync:        c.poller.AutoSync(),
		Polls:           c.poller.Polls(),
	}
}

func (c *Console) Snapshot() Snapshot {
	mode := c.modes.State()
	device, viewport := c.gestures.Geometry()
	state := c.sessions.State()
	return Snapshot{
		Session:     c.sessions.Session(),
		State:       state,
		Mode:        mode,
		ActiveMode:  mode.Active(),
		Pending:     c.commands.Pending(),
		Diagnostics: c.Diagnostics(),
		Views:       c.results.Views(),
		Peer:        c.signaling.Link(),
		Device:      device,
		Viewport:    viewport,
	}
}

// OnChange registers fn for any change visible in Snapshot
func (c *Console) OnChange(fn func()) func() {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenersMu.Unlock()
	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *Console) changed() {
	c.listenersMu.Lock()
	snapshot := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		snapshot = append(snapshot, fn)
	}
	c.listenersMu.Unlock()
	for _, fn := range snapshot {
		fn()
	}
}

func (c *Console) Close() {
	c.sessions.Close()
	for _, unsub := range c.unsubscribe {
		unsub()
	}
	c.signaling.Close()
	c.results.Close()
	c.frames.Close()
	c.modes.Close()
	c.commands.Close()
	if err := c.transport.Close(); err != nil {
		log.Printf("⚠️ Closing transport: %v", err)
	}
}
