// Package transport carries named events between the operator console and a
// device. The console core only sees the Transport interface; WSTransport is
// the production channel and MemoryTransport pairs two endpoints in-process
// for tests.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotConnected = errors.New("transport not connected")
	ErrClosed       = errors.New("transport closed")
	ErrBufferFull   = errors.New("transport send buffer full")
)

// eventAck is the reserved event name used to acknowledge receipt of an
// envelope that carried an ack id.
const eventAck = "ack"

// AckFunc reports whether an emitted message reached the other side.
// It never carries a business-level outcome.
type AckFunc func(err error)

// Handler receives the raw payload of a named event
type Handler func(payload json.RawMessage)

// Transport is a connected, reliable, event-addressable duplex channel
type Transport interface {
	// Connect establishes the channel if it is not already up
	Connect(ctx context.Context) error
	// Emit sends payload under event. ack may be nil.
	Emit(event string, payload interface{}, ack AckFunc) error
	// On subscribes to event and returns the unsubscribe function
	On(event string, handler Handler) func()
	Close() error
}

// Envelope is the wire frame of every message
type Envelope struct {
	Event   string          `json:"event"`
	AckID   string          `json:"ack_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// handlerSet is the subscription registry shared by the implementations
type handlerSet struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler
}

func newHandlerSet() *handlerSet {
	return &handlerSet{handlers: make(map[string]map[int]Handler)}
}

func (h *handlerSet) add(event string, handler Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	if h.handlers[event] == nil {
		h.handlers[event] = make(map[int]Handler)
	}
	h.handlers[event][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.handlers[event], id)
			h.mu.Unlock()
		})
	}
}

// dispatch calls handlers outside the lock, in subscription order
func (h *handlerSet) dispatch(event string, payload json.RawMessage) int {
	h.mu.RLock()
	ids := make([]int, 0, len(h.handlers[event]))
	for id := range h.handlers[event] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	snapshot := make([]Handler, 0, len(ids))
	for _, id := range ids {
		snapshot = append(snapshot, h.handlers[event][id])
	}
	h.mu.RUnlock()

	for _, handler := range snapshot {
		handler(payload)
	}
	return len(snapshot)
}

func encodeEnvelope(event, ackID string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Event: event, AckID: ackID, Payload: raw})
}
