package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"remoteconsole/models"
)

// Compile-time interface check.
var _ Transport = (*MemoryTransport)(nil)

// MemoryTransport is one end of an in-process pair. Delivery is synchronous:
// Emit returns after every handler on the other end has run.
type MemoryTransport struct {
	handlers *handlerSet

	mu       sync.Mutex
	peer     *MemoryTransport
	closed   bool
	sendErr  error
	sent     []Envelope
	connects int
}

// NewMemoryPair returns two connected endpoints, conventionally the console
// side first and the device side second.
func NewMemoryPair() (*MemoryTransport, *MemoryTransport) {
	a := &MemoryTransport{handlers: newHandlerSet()}
	b := &MemoryTransport{handlers: newHandlerSet()}
	a.peer, b.peer = b, a
	return a, b
}

func (m *MemoryTransport) Connect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.connects++
	return nil
}

func (m *MemoryTransport) Emit(event string, payload interface{}, ack AckFunc) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}

	m.mu.Lock()
	peer := m.peer
	sendErr := m.sendErr
	if m.closed {
		sendErr = ErrClosed
	}
	if sendErr == nil {
		m.sent = append(m.sent, Envelope{Event: event, Payload: data})
	}
	m.mu.Unlock()

	if sendErr != nil {
		if ack != nil {
			ack(sendErr)
		}
		return sendErr
	}

	peer.handlers.dispatch(event, data)
	if ack != nil {
		ack(nil)
	}
	return nil
}

func (m *MemoryTransport) On(event string, handler Handler) func() {
	return m.handlers.add(event, handler)
}

func (m *MemoryTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// FailSends makes every following Emit fail with err (nil restores delivery)
func (m *MemoryTransport) FailSends(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

// Disconnect simulates the channel dropping: handlers on this end receive a
// local device:disconnected notification.
func (m *MemoryTransport) Disconnect(reason string) {
	data, _ := json.Marshal(map[string]string{"reason": reason})
	m.handlers.dispatch(models.EventDeviceDisconnected, data)
}

// Sent returns a copy of the envelopes emitted from this end
func (m *MemoryTransport) Sent() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentEvents returns the envelopes emitted under one event name
func (m *MemoryTransport) SentEvents(event string) []Envelope {
	var out []Envelope
	for _, env := range m.Sent() {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

// Connects reports how many times Connect succeeded
func (m *MemoryTransport) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}
