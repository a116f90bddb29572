// Package agent is a development stand-in for the device side of a remote
// console session. It drives one adb-attached Android device and speaks the
// same transport events the console expects from a real device.
package agent

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"remoteconsole/models"
	"remoteconsole/transport"
)

const infoTimeout = 5 * time.Second

// Agent serves one console connection
type Agent struct {
	transport  transport.Transport
	device     Device
	deviceID   string
	credential string

	dispatcher *CommandDispatcher
	mirror     *MirrorLoop

	mu        sync.Mutex
	sessionID string
	cancel    context.CancelFunc

	unsubscribe []func()
}

// New wires an agent to t. deviceID is the id the console must ask for;
// credential, when set, must match the one in the start request.
func New(t transport.Transport, device Device, deviceID, credential string, mirrorFPS float64) *Agent {
	a := &Agent{
		transport:  t,
		device:     device,
		deviceID:   deviceID,
		credential: credential,
	}
	a.mirror = NewMirrorLoop(device, mirrorFPS, a.emitFrame)
	a.dispatcher = NewCommandDispatcher(device, a.mirror, a.reportCompletion)

	a.unsubscribe = append(a.unsubscribe,
		t.On(models.EventSessionStart, a.handleSessionStart),
		t.On(models.EventSessionStop, a.handleSessionStop),
		t.On(models.EventCommand, a.handleCommand),
		t.On(models.EventSignalOffer, a.handleOffer),
		t.On(models.EventDeviceDisconnected, a.handleDisconnected),
	)
	return a
}

// Run processes commands until ctx is done or the console disconnects
func (a *Agent) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	go a.dispatcher.Run(ctx)
	<-ctx.Done()

	a.endSession("agent stopped")
	for _, unsub := range a.unsubscribe {
		unsub()
	}
}

// SessionID returns the accepted session, or "" when idle
func (a *Agent) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

func (a *Agent) respond(sessionID string, accepted bool, reason string) {
	resp := models.SessionResponse{SessionID: sessionID, Accepted: accepted, Reason: reason}
	if err := a.transport.Emit(models.EventSessionResponse, resp, nil); err != nil {
		log.Printf("⚠️ [%s] Failed to answer session %s: %v", a.deviceID, sessionID, err)
	}
}

func (a *Agent) handleSessionStart(payload json.RawMessage) {
	var req models.SessionStartRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.SessionID == "" {
		log.Printf("⚠️ [%s] Malformed session start", a.deviceID)
		return
	}

	if req.DeviceID != "" && req.DeviceID != a.deviceID {
		a.respond(req.SessionID, false, "unknown device")
		return
	}
	if a.credential != "" && req.Credential != a.credential {
		log.Printf("🚫 [%s] Session %s refused: bad credential", a.deviceID, req.SessionID)
		a.respond(req.SessionID, false, "unauthorized")
		return
	}

	a.mu.Lock()
	busy := a.sessionID != "" && a.sessionID != req.SessionID
	a.mu.Unlock()
	if busy {
		a.respond(req.SessionID, false, "busy")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), infoTimeout)
	defer cancel()
	info, err := a.device.Info(ctx)
	if err != nil || !info.Online() {
		log.Printf("📴 [%s] Session %s refused: device offline", a.deviceID, req.SessionID)
		a.respond(req.SessionID, false, "offline")
		return
	}

	a.mu.Lock()
	a.sessionID = req.SessionID
	a.mu.Unlock()
	log.Printf("✅ [%s] Session %s accepted", a.deviceID, req.SessionID)
	a.respond(req.SessionID, true, "")
}

func (a *Agent) handleSessionStop(payload json.RawMessage) {
	var msg models.SessionStop
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	a.mu.Lock()
	matches := msg.SessionID == a.sessionID
	a.mu.Unlock()
	if matches {
		a.endSession("stopped by console")
	}
}

func (a *Agent) endSession(reason string) {
	a.mu.Lock()
	sessionID := a.sessionID
	a.sessionID = ""
	a.mu.Unlock()
	if sessionID == "" {
		return
	}
	a.mirror.Stop()
	log.Printf("🛑 [%s] Session %s ended: %s", a.deviceID, sessionID, reason)
}

func (a *Agent) handleCommand(payload json.RawMessage) {
	var cmd models.CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil || cmd.Type == "" {
		log.Printf("⚠️ [%s] Malformed command", a.deviceID)
		return
	}

	a.mu.Lock()
	current := a.sessionID
	a.mu.Unlock()
	if current == "" || cmd.SessionID != current {
		a.reportCompletion(completion{
			SessionID: cmd.SessionID,
			Type:      cmd.Type,
			RequestID: cmd.RequestID,
			Error:     "no session",
		})
		return
	}

	if err := a.dispatcher.Dispatch(cmd); err != nil {
		a.reportCompletion(completion{
			SessionID: cmd.SessionID,
			Type:      cmd.Type,
			RequestID: cmd.RequestID,
			Error:     err.Error(),
		})
	}
}

// handleOffer logs offers; screencap has no media track to publish
func (a *Agent) handleOffer(payload json.RawMessage) {
	var msg models.SignalMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	log.Printf("❌ [%s] Peer link offer for session %s ignored: no media source", a.deviceID, msg.SessionID)
}

func (a *Agent) handleDisconnected(json.RawMessage) {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	a.endSession("console disconnected")
	if cancel != nil {
		cancel()
	}
}

func (a *Agent) reportCompletion(c completion) {
	if err := a.transport.Emit(models.EventCommandCompleted, c, nil); err != nil {
		log.Printf("⚠️ [%s] Failed to report %s: %v", a.deviceID, c.Type, err)
	}
}

func (a *Agent) emitFrame(image []byte) {
	a.mu.Lock()
	sessionID := a.sessionID
	a.mu.Unlock()
	if sessionID == "" {
		return
	}
	msg := models.FrameMessage{SessionID: sessionID, Mode: models.ModeScreen, Image: image}
	// a full send buffer drops the frame; the next one supersedes it anyway
	if err := a.transport.Emit(models.EventFrame, msg, nil); err != nil && err != transport.ErrBufferFull {
		log.Printf("⚠️ [%s] Frame not sent: %v", a.deviceID, err)
	}
}
