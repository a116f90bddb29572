package service

import (
	"fmt"
	"log"
	"sync"

	"remoteconsole/models"
)

// ModeState is the arbiter's view of the capture pipeline
type ModeState struct {
	Camera  bool `json:"camera"`
	Mirror  bool `json:"mirror"`
	Control bool `json:"control"` // mirror sub-mode: full input vs view-only
}

// Active returns the mode holding the pipeline
func (s ModeState) Active() models.Mode {
	switch {
	case s.Camera:
		return models.ModeCamera
	case s.Mirror:
		return models.ModeScreen
	default:
		return models.ModeNone
	}
}

// ModeSource is what FrameRelay and GestureTranslator read from the arbiter
type ModeSource interface {
	State() ModeState
	OnChange(fn func(prev, next ModeState)) func()
}

// Compile-time interface checks.
var (
	_ ModeSource      = (*ModeArbiter)(nil)
	_ CameraSync      = (*ModeArbiter)(nil)
	_ SessionObserver = (*ModeArbiter)(nil)
)

// ModeArbiter keeps camera streaming and screen mirroring mutually
// exclusive. Conflicts are rejected before any command is sent. A start
// claims the mode synchronously, so concurrent requests never both pass;
// the claim is released if the send fails or the device reports failure.
type ModeArbiter struct {
	commands CommandSender

	mu    sync.Mutex
	state ModeState
	// request ids of the start commands backing the current claims
	cameraReq uint64
	mirrorReq uint64

	listenersMu sync.Mutex
	listeners   map[int]func(prev, next ModeState)
	nextID      int

	unsubscribe []func()
}

// NewModeArbiter creates the arbiter. When commands is a *CommandChannel
// the arbiter also listens for failed start completions.
func NewModeArbiter(commands CommandSender) *ModeArbiter {
	a := &ModeArbiter{
		commands:  commands,
		listeners: make(map[int]func(prev, next ModeState)),
	}
	if ch, ok := commands.(*CommandChannel); ok {
		a.unsubscribe = append(a.unsubscribe,
			ch.Subscribe(models.CmdStartCamera, a.handleStartResult),
			ch.Subscribe(models.CmdStartMirror, a.handleStartResult),
		)
	}
	return a
}

// RequestCameraStart claims the pipeline for the camera
func (a *ModeArbiter) RequestCameraStart() error {
	a.mu.Lock()
	if a.state.Mirror {
		a.mu.Unlock()
		return fmt.Errorf("%w: screen mirroring is active", ErrConflict)
	}
	if a.state.Camera {
		a.mu.Unlock()
		return nil
	}
	prev := a.state
	a.state.Camera = true
	next := a.state
	a.mu.Unlock()
	a.notify(prev, next)

	id, err := a.commands.Send(models.CmdStartCamera, nil)
	if err != nil {
		a.release(func(s *ModeState) bool {
			if !s.Camera {
				return false
			}
			s.Camera = false
			return true
		})
		return fmt.Errorf("starting camera: %w", err)
	}

	a.mu.Lock()
	if a.state.Camera {
		a.cameraReq = id
	}
	a.mu.Unlock()
	log.Printf("📷 Camera mode claimed (request #%d)", id)
	return nil
}

// RefreshCamera re-sends START_CAMERA for the current camera claim. The
// claim follows the new request, so a refused refresh releases it.
func (a *ModeArbiter) RefreshCamera() error {
	a.mu.Lock()
	if !a.state.Camera {
		a.mu.Unlock()
		return nil
	}
	a.cameraReq = 0
	a.mu.Unlock()

	id, err := a.commands.Send(models.CmdStartCamera, nil)
	if err != nil {
		return fmt.Errorf("refreshing camera: %w", err)
	}

	a.mu.Lock()
	if a.state.Camera && a.cameraReq == 0 {
		a.cameraReq = id
	}
	a.mu.Unlock()
	return nil
}

// RequestMirrorStart claims the pipeline for screen mirroring. Switching
// between view-only and control requires stopping first.
func (a *ModeArbiter) RequestMirrorStart(withControl bool) error {
	a.mu.Lock()
	if a.state.Camera {
		a.mu.Unlock()
		return fmt.Errorf("%w: camera is active", ErrConflict)
	}
	if a.state.Mirror {
		sameMode := a.state.Control == withControl
		a.mu.Unlock()
		if sameMode {
			return nil
		}
		return fmt.Errorf("%w: mirror already active with control=%v", ErrConflict, !withControl)
	}
	prev := a.state
	a.state.Mirror = true
	a.state.Control = withControl
	next := a.state
	a.mu.Unlock()
	a.notify(prev, next)

	id, err := a.commands.Send(models.CmdStartMirror, map[string]interface{}{"control": withControl})
	if err != nil {
		a.release(func(s *ModeState) bool {
			if !s.Mirror {
				return false
			}
			s.Mirror, s.Control = false, false
			return true
		})
		return fmt.Errorf("starting mirror: %w", err)
	}

	a.mu.Lock()
	if a.state.Mirror {
		a.mirrorReq = id
	}
	a.mu.Unlock()
	log.Printf("🖥️ Mirror mode claimed (control=%v, request #%d)", withControl, id)
	return nil
}

// StopCamera is always permitted and idempotent
func (a *ModeArbiter) StopCamera() {
	wasActive := a.release(func(s *ModeState) bool {
		if !s.Camera {
			return false
		}
		s.Camera = false
		return true
	})
	if !wasActive {
		return
	}
	if _, err := a.commands.Send(models.CmdStopCamera, nil); err != nil {
		log.Printf("⚠️ Camera stopped locally, device not notified: %v", err)
	}
}

// StopMirror is always permitted and idempotent
func (a *ModeArbiter) StopMirror() {
	wasActive := a.release(func(s *ModeState) bool {
		if !s.Mirror {
			return false
		}
		s.Mirror, s.Control = false, false
		return true
	})
	if !wasActive {
		return
	}
	if _, err := a.commands.Send(models.CmdStopMirror, nil); err != nil {
		log.Printf("⚠️ Mirror stopped locally, device not notified: %v", err)
	}
}

// release applies change under the lock and notifies when it reports a change
func (a *ModeArbiter) release(change func(s *ModeState) bool) bool {
	a.mu.Lock()
	prev := a.state
	changed := change(&a.state)
	if !a.state.Camera {
		a.cameraReq = 0
	}
	if !a.state.Mirror {
		a.mirrorReq = 0
	}
	next := a.state
	a.mu.Unlock()
	if changed {
		a.notify(prev, next)
	}
	return changed
}

// handleStartResult releases a claim whose start command the device refused
func (a *ModeArbiter) handleStartResult(result models.CommandResult) {
	if result.Success {
		return
	}
	switch result.Type {
	case models.CmdStartCamera:
		a.release(func(s *ModeState) bool {
			if !s.Camera || !claimMatches(a.cameraReq, result.RequestID) {
				return false
			}
			s.Camera = false
			return true
		})
	case models.CmdStartMirror:
		a.release(func(s *ModeState) bool {
			if !s.Mirror || !claimMatches(a.mirrorReq, result.RequestID) {
				return false
			}
			s.Mirror, s.Control = false, false
			return true
		})
	}
	log.Printf("⚠️ Device refused %s: %s", result.Type, result.Error)
}

// claimMatches reports whether a completion belongs to the current claim.
// A zero claim id means the start is still being sent.
func claimMatches(claim, requestID uint64) bool {
	return claim == 0 || claim == requestID
}

// Reset clears both modes without contacting the device
func (a *ModeArbiter) Reset() {
	a.release(func(s *ModeState) bool {
		changed := *s != ModeState{}
		*s = ModeState{}
		return changed
	})
}

func (a *ModeArbiter) State() ModeState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// OnChange registers fn for every mode transition
func (a *ModeArbiter) OnChange(fn func(prev, next ModeState)) func() {
	a.listenersMu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.listenersMu.Unlock()
	return func() {
		a.listenersMu.Lock()
		delete(a.listeners, id)
		a.listenersMu.Unlock()
	}
}

func (a *ModeArbiter) notify(prev, next ModeState) {
	a.listenersMu.Lock()
	snapshot := make([]func(prev, next ModeState), 0, len(a.listeners))
	for _, fn := range a.listeners {
		snapshot = append(snapshot, fn)
	}
	a.listenersMu.Unlock()
	for _, fn := range snapshot {
		fn(prev, next)
	}
}

func (a *ModeArbiter) SessionStarted(models.Session, models.Device) {}

func (a *ModeArbiter) SessionEnded() {
	a.Reset()
}

func (a *ModeArbiter) Close() {
	for _, unsub := range a.unsubscribe {
		unsub()
	}
}
