package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"remoteconsole/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // 54 seconds
	maxMessageSize = 8 << 20             // frames are full encoded images
	sendBufferSize = 64
)

// Compile-time interface check.
var _ Transport = (*WSTransport)(nil)

type outbound struct {
	data  []byte
	ackID string
}

// WSTransport is a Transport over a single gorilla websocket connection.
// A dialing transport (NewWSTransport) connects lazily on Connect; an
// accepting one (AcceptWSTransport) wraps a connection already upgraded by
// an HTTP handler.
type WSTransport struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	handlers *handlerSet

	mu       sync.Mutex
	accepted *websocket.Conn // upgraded but not yet pumped
	conn     *websocket.Conn
	send     chan outbound
	done     chan struct{}

	acksMu sync.Mutex
	acks   map[string]AckFunc
}

// NewWSTransport creates a dialing transport. credential, when set, is sent
// as a bearer token on the upgrade request.
func NewWSTransport(url, credential string) *WSTransport {
	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}
	return &WSTransport{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1 << 20,
			WriteBufferSize:  1024,
		},
		handlers: newHandlerSet(),
		acks:     make(map[string]AckFunc),
	}
}

// AcceptWSTransport wraps an upgraded server-side connection. Its pumps start
// on Connect, so handlers registered before then see every message.
func AcceptWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{
		accepted: conn,
		handlers: newHandlerSet(),
		acks:     make(map[string]AckFunc),
	}
}

func (t *WSTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}
	if t.accepted != nil {
		t.attachLocked(t.accepted)
		t.accepted = nil
		return nil
	}
	if t.url == "" {
		return ErrClosed
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dialing %s: %w (status %d)", t.url, err, resp.StatusCode)
		}
		return fmt.Errorf("dialing %s: %w", t.url, err)
	}
	log.Printf("🔌 Transport connected to %s", t.url)
	t.attachLocked(conn)
	return nil
}

func (t *WSTransport) attachLocked(conn *websocket.Conn) {
	t.conn = conn
	t.send = make(chan outbound, sendBufferSize)
	t.done = make(chan struct{})
	go t.writePump(conn, t.send, t.done)
	go t.readPump(conn, t.send, t.done)
}

func (t *WSTransport) Emit(event string, payload interface{}, ack AckFunc) error {
	var ackID string
	if ack != nil {
		ackID = uuid.NewString()
	}
	data, err := encodeEnvelope(event, ackID, payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}

	t.mu.Lock()
	send, done := t.send, t.done
	t.mu.Unlock()

	if send == nil {
		if ack != nil {
			ack(ErrNotConnected)
		}
		return ErrNotConnected
	}

	if ack != nil {
		// readPump closes done before it fails the registered acks, so an
		// ack added while done is open is always answered
		t.acksMu.Lock()
		select {
		case <-done:
			t.acksMu.Unlock()
			ack(ErrClosed)
			return ErrClosed
		default:
		}
		t.acks[ackID] = ack
		t.acksMu.Unlock()
	}

	select {
	case <-done:
		t.failAck(ackID, ErrClosed)
		return ErrClosed
	case send <- outbound{data: data, ackID: ackID}:
		return nil
	default:
		t.failAck(ackID, ErrBufferFull)
		return ErrBufferFull
	}
}

func (t *WSTransport) On(event string, handler Handler) func() {
	return t.handlers.add(event, handler)
}

// Close shuts the connection down; the read pump then reports the disconnect
func (t *WSTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		conn, t.accepted = t.accepted, nil
	}
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return conn.Close()
}

func (t *WSTransport) failAck(ackID string, err error) {
	if ackID == "" {
		return
	}
	t.acksMu.Lock()
	ack, ok := t.acks[ackID]
	delete(t.acks, ackID)
	t.acksMu.Unlock()
	if ok {
		ack(err)
	}
}

// readPump dispatches incoming envelopes until the connection fails
func (t *WSTransport) readPump(conn *websocket.Conn, send chan outbound, done chan struct{}) {
	defer func() {
		close(done)
		conn.Close()

		// swapped before conn is cleared so a reconnect never loses its acks
		t.acksMu.Lock()
		pending := t.acks
		t.acks = make(map[string]AckFunc)
		t.acksMu.Unlock()

		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
			t.send = nil
		}
		t.mu.Unlock()

		for _, ack := range pending {
			ack(ErrClosed)
		}

		data, _ := json.Marshal(models.DeviceDisconnected{Reason: "transport closed"})
		t.handlers.dispatch(models.EventDeviceDisconnected, data)
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("⚠️ Transport read error: %v", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("⚠️ Transport dropped malformed envelope (%d bytes)", len(message))
			continue
		}

		if env.Event == eventAck {
			var ackErr error
			if env.Error != "" {
				ackErr = fmt.Errorf("remote: %s", env.Error)
			}
			t.failAck(env.AckID, ackErr)
			continue
		}

		t.handlers.dispatch(env.Event, env.Payload)

		if env.AckID != "" {
			data, _ := json.Marshal(Envelope{Event: eventAck, AckID: env.AckID})
			select {
			case send <- outbound{data: data}:
			default:
				log.Printf("⚠️ Transport channel full, ack %s dropped", env.AckID)
			}
		}
	}
}

// writePump serialises writes and keeps the connection alive with pings
func (t *WSTransport) writePump(conn *websocket.Conn, send chan outbound, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return

		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				t.failAck(msg.ackID, fmt.Errorf("write failed: %w", err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
