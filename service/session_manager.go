package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"remoteconsole/models"
	"remoteconsole/transport"
)

// DefaultStartTimeout bounds the wait for the device's session response
const DefaultStartTimeout = 10 * time.Second

// SessionObserver is told when the session becomes active and when it ends.
// SessionEnded must leave the observer in its empty state.
type SessionObserver interface {
	SessionStarted(session models.Session, device models.Device)
	SessionEnded()
}

// startOutcome is what a pending Start waits for
type startOutcome struct {
	response models.SessionResponse
	err      error
}

// SessionManager owns the single session between this operator and one device
type SessionManager struct {
	transport    transport.Transport
	devices      DeviceDirectory
	credential   string
	startTimeout time.Duration
	observers    []SessionObserver

	mu      sync.Mutex
	state   models.SessionState
	session *models.Session
	device  models.Device
	waiter  chan startOutcome
	// activating is set while observers run SessionStarted
	activating bool

	listenersMu sync.Mutex
	listeners   map[int]func(models.SessionState)
	nextID      int

	unsubscribe []func()
}

// NewSessionManager wires the manager to the transport. Observers are
// started in order and ended in reverse order.
func NewSessionManager(t transport.Transport, devices DeviceDirectory, credential string, startTimeout time.Duration, observers ...SessionObserver) *SessionManager {
	if startTimeout <= 0 {
		startTimeout = DefaultStartTimeout
	}
	m := &SessionManager{
		transport:    t,
		devices:      devices,
		credential:   credential,
		startTimeout: startTimeout,
		observers:    observers,
		state:        models.SessionIdle,
		listeners:    make(map[int]func(models.SessionState)),
	}
	m.unsubscribe = append(m.unsubscribe,
		t.On(models.EventSessionResponse, m.handleResponse),
		t.On(models.EventDeviceDisconnected, m.handleDisconnected),
	)
	return m
}

// Start requests a session with deviceID and blocks until the device
// accepts, rejects, or the start timeout expires.
func (m *SessionManager) Start(ctx context.Context, deviceID string) (*models.Session, error) {
	m.mu.Lock()
	if m.state != models.SessionIdle || m.activating {
		state := m.state
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (state=%s)", ErrSessionBusy, state)
	}
	m.mu.Unlock()

	device, err := m.devices.Lookup(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceOffline, err)
	}
	if !device.Online() {
		return nil, fmt.Errorf("%w: %s is %s", ErrDeviceOffline, deviceID, device.Status)
	}

	m.mu.Lock()
	if m.state != models.SessionIdle || m.activating {
		m.mu.Unlock()
		return nil, ErrSessionBusy
	}
	session := &models.Session{
		ID:                 uuid.NewString(),
		DeviceID:           deviceID,
		OperatorCredential: m.credential,
		State:              models.SessionConnecting,
		StartedAt:          time.Now(),
	}
	waiter := make(chan startOutcome, 1)
	m.state = models.SessionConnecting
	m.session = session
	m.device = *device
	m.waiter = waiter
	m.mu.Unlock()
	m.notifyState(models.SessionConnecting)

	log.Printf("🔗 [%s] Starting session %s", deviceID, session.ID)

	if err := m.transport.Connect(ctx); err != nil {
		m.abortStart(session, models.SessionIdle)
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	request := models.SessionStartRequest{
		SessionID:  session.ID,
		DeviceID:   deviceID,
		Credential: m.credential,
	}
	emitErr := m.transport.Emit(models.EventSessionStart, request, func(ackErr error) {
		if ackErr != nil {
			select {
			case waiter <- startOutcome{err: ackErr}:
			default:
			}
		}
	})
	if emitErr != nil {
		m.abortStart(session, models.SessionIdle)
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, emitErr)
	}

	timer := time.NewTimer(m.startTimeout)
	defer timer.Stop()

	var outcome startOutcome
	select {
	case outcome = <-waiter:
	case <-ctx.Done():
		outcome = startOutcome{err: ctx.Err()}
	case <-timer.C:
		outcome = startOutcome{err: fmt.Errorf("no response within %s", m.startTimeout)}
	}

	if outcome.err != nil {
		log.Printf("❌ [%s] Session %s failed: %v", deviceID, session.ID, outcome.err)
		m.abortStart(session, models.SessionIdle)
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, outcome.err)
	}

	if !outcome.response.Accepted {
		reason := outcome.response.Reason
		log.Printf("🚫 [%s] Session %s rejected (reason=%q)", deviceID, session.ID, reason)
		m.abortStart(session, models.SessionRejected)
		if reason == "offline" {
			return nil, fmt.Errorf("%w: device reported offline", ErrDeviceOffline)
		}
		return nil, fmt.Errorf("%w: rejected: %s", ErrConnectFailed, reason)
	}

	m.mu.Lock()
	if m.session != session {
		// Stopped while the response was in flight
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: session stopped during start", ErrConnectFailed)
	}
	m.state = models.SessionActive
	session.State = models.SessionActive
	m.waiter = nil
	m.activating = true
	active := *session
	dev := m.device
	m.mu.Unlock()

	for _, o := range m.observers {
		o.SessionStarted(active, dev)
	}

	m.mu.Lock()
	ended := m.session != session
	m.mu.Unlock()
	if ended {
		// end() already ran, but observers after it were started anyway
		for i := len(m.observers) - 1; i >= 0; i-- {
			m.observers[i].SessionEnded()
		}
		m.finishActivation()
		log.Printf("📴 [%s] Session %s ended while starting", deviceID, session.ID)
		return nil, fmt.Errorf("%w: session ended during start", ErrConnectFailed)
	}
	m.finishActivation()
	m.notifyState(models.SessionActive)
	log.Printf("✅ [%s] Session %s ACTIVE", deviceID, session.ID)
	return &active, nil
}

func (m *SessionManager) finishActivation() {
	m.mu.Lock()
	m.activating = false
	m.mu.Unlock()
}

// abortStart returns a connecting session to IDLE, passing through
// REJECTED when the device refused.
func (m *SessionManager) abortStart(session *models.Session, via models.SessionState) {
	m.mu.Lock()
	if m.session != session {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.waiter = nil
	m.device = models.Device{}
	m.state = models.SessionIdle
	m.mu.Unlock()

	if via == models.SessionRejected {
		m.notifyState(models.SessionRejected)
	}
	m.notifyState(models.SessionIdle)
}

// Stop ends the session locally. It is a no-op when idle.
func (m *SessionManager) Stop() {
	m.end("", true)
}

func (m *SessionManager) end(reason string, notifyDevice bool) {
	m.mu.Lock()
	if m.state == models.SessionIdle {
		m.mu.Unlock()
		return
	}
	session := m.session
	wasActive := m.state == models.SessionActive
	if m.waiter != nil {
		select {
		case m.waiter <- startOutcome{err: fmt.Errorf("session stopped")}:
		default:
		}
		m.waiter = nil
	}
	m.session = nil
	m.device = models.Device{}
	m.state = models.SessionIdle
	m.mu.Unlock()

	if session != nil && wasActive {
		if notifyDevice {
			if err := m.transport.Emit(models.EventSessionStop, models.SessionStop{SessionID: session.ID}, nil); err != nil {
				log.Printf("⚠️ [%s] Failed to notify device of stop: %v", session.DeviceID, err)
			}
		}
		if reason != "" {
			log.Printf("📴 [%s] Session %s ended: %s", session.DeviceID, session.ID, reason)
		} else {
			log.Printf("🛑 [%s] Session %s stopped", session.DeviceID, session.ID)
		}
	}

	for i := len(m.observers) - 1; i >= 0; i-- {
		m.observers[i].SessionEnded()
	}
	m.notifyState(models.SessionIdle)
}

func (m *SessionManager) handleResponse(payload json.RawMessage) {
	var resp models.SessionResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		log.Printf("⚠️ Malformed session response: %v", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waiter == nil || m.session == nil || m.session.ID != resp.SessionID {
		return
	}
	select {
	case m.waiter <- startOutcome{response: resp}:
	default:
	}
}

func (m *SessionManager) handleDisconnected(payload json.RawMessage) {
	var msg models.DeviceDisconnected
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("⚠️ Malformed disconnect notification: %v", err)
		}
	}

	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session == nil {
		return
	}
	if msg.SessionID != "" && msg.SessionID != session.ID {
		return
	}
	if msg.DeviceID != "" && msg.DeviceID != session.DeviceID {
		return
	}

	reason := msg.Reason
	if reason == "" {
		reason = "device disconnected"
	}
	m.end(reason, false)
}

// State returns the current lifecycle state
func (m *SessionManager) State() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *SessionManager) requireActive() error {
	if state := m.State(); state != models.SessionActive {
		return fmt.Errorf("%w (state=%s)", ErrNoSession, state)
	}
	return nil
}

// Session returns a copy of the current session, or nil when idle
func (m *SessionManager) Session() *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// OnStateChange registers a callback for every transition and returns a
// function that removes it.
func (m *SessionManager) OnStateChange(fn func(models.SessionState)) func() {
	m.listenersMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.listenersMu.Unlock()
	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

func (m *SessionManager) notifyState(state models.SessionState) {
	m.listenersMu.Lock()
	snapshot := make([]func(models.SessionState), 0, len(m.listeners))
	for _, fn := range m.listeners {
		snapshot = append(snapshot, fn)
	}
	m.listenersMu.Unlock()
	for _, fn := range snapshot {
		fn(state)
	}
}

// Close stops the session and detaches from the transport
func (m *SessionManager) Close() {
	m.Stop()
	for _, unsub := range m.unsubscribe {
		unsub()
	}
}
