package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"remoteconsole/models"
	"remoteconsole/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // 54 seconds
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 2 * 1024 * 1024, // 2MB for encoded frames
}

// message is one queued websocket write
type message struct {
	data   []byte
	binary bool
}

type Client struct {
	hub        *WebSocketHub
	conn       *websocket.Conn
	send       chan message
	mu         sync.Mutex
	subscribed map[models.Mode]bool
}

func (c *Client) wants(mode models.Mode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed[mode]
}

// WebSocketHub pushes session snapshots (JSON text) to every UI client and
// frames (binary, first byte is the mode) to clients subscribed to that mode.
type WebSocketHub struct {
	console    *service.Console
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewWebSocketHub(console *service.Console) *WebSocketHub {
	return &WebSocketHub{
		console:    console,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves register/unregister requests and forwards console updates
// until ctx is done.
func (h *WebSocketHub) Run(ctx context.Context) {
	unsubFrames := h.console.SubscribeFrames(h.BroadcastFrame)
	unsubChanges := h.console.OnChange(func() {
		h.BroadcastSnapshot(h.console.Snapshot())
	})
	defer func() {
		unsubFrames()
		unsubChanges()
		close(h.done)
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("Client connected (total: %d)", total)
			h.sendSnapshot(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("Client disconnected (total: %d)", total)
		}
	}
}

// enqueue drops the oldest queued message when the client falls behind
func enqueue(client *Client, msg message) {
	select {
	case client.send <- msg:
	default:
		// Channel full - drop oldest and try again (backpressure)
		select {
		case <-client.send:
		default:
		}
		select {
		case client.send <- msg:
		default:
			log.Printf("⚠️ Client channel full, skipping message")
		}
	}
}

func encodeFrame(frame models.Frame) []byte {
	data := make([]byte, 1+len(frame.Image))
	data[0] = byte(frame.Mode)
	copy(data[1:], frame.Image)
	return data
}

// BroadcastFrame sends a frame to clients subscribed to its mode
func (h *WebSocketHub) BroadcastFrame(frame models.Frame) {
	data := encodeFrame(frame)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.wants(frame.Mode) {
			enqueue(client, message{data: data, binary: true})
		}
	}
}

func snapshotMessage(snapshot service.Snapshot) ([]byte, error) {
	return json.Marshal(gin.H{"type": "snapshot", "data": snapshot})
}

// BroadcastSnapshot sends the session snapshot to all connected clients
func (h *WebSocketHub) BroadcastSnapshot(snapshot service.Snapshot) {
	data, err := snapshotMessage(snapshot)
	if err != nil {
		log.Printf("Failed to marshal snapshot: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		enqueue(client, message{data: data})
	}
}

func (h *WebSocketHub) sendSnapshot(client *Client) {
	data, err := snapshotMessage(h.console.Snapshot())
	if err != nil {
		log.Printf("Failed to marshal snapshot: %v", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[client] {
		enqueue(client, message{data: data})
	}
}

func HandleWebSocket(hub *WebSocketHub, c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan message, 64),
		subscribed: make(map[models.Mode]bool),
	}

	select {
	case client.hub.register <- client:
	case <-client.hub.done:
		conn.Close()
		return
	}

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump()
}

type clientRequest struct {
	Type string      `json:"type"` // subscribe, unsubscribe
	Mode models.Mode `json:"mode"`
}

// readPump handles incoming messages from the client (subscriptions)
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 20) // 1MB max message size
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var req clientRequest
		if err := json.Unmarshal(raw, &req); err != nil || req.Mode == models.ModeNone {
			continue
		}
		switch req.Type {
		case "subscribe":
			c.mu.Lock()
			c.subscribed[req.Mode] = true
			c.mu.Unlock()
			log.Printf("Client subscribed to %s frames", req.Mode)

			// Send the stored frame right away so the view is not blank
			if frame, ok := c.hub.console.LatestFrame(req.Mode); ok {
				c.hub.mu.RLock()
				if c.hub.clients[c] {
					enqueue(c, message{data: encodeFrame(frame), binary: true})
				}
				c.hub.mu.RUnlock()
			}
		case "unsubscribe":
			c.mu.Lock()
			delete(c.subscribed, req.Mode)
			c.mu.Unlock()
			log.Printf("Client unsubscribed from %s frames", req.Mode)
		}
	}
}

// writePump handles outgoing messages to the client (frames + snapshots + ping)
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			messageType := websocket.TextMessage
			if msg.binary {
				messageType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(messageType, msg.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
