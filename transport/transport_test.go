package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteconsole/models"
)

type ping struct {
	N int `json:"n"`
}

func TestMemoryPair_DeliversSynchronously(t *testing.T) {
	a, b := NewMemoryPair()

	var got []int
	unsub := b.On("ping", func(payload json.RawMessage) {
		var p ping
		require.NoError(t, json.Unmarshal(payload, &p))
		got = append(got, p.N)
	})

	var ackErr error = errors.New("unset")
	require.NoError(t, a.Emit("ping", ping{N: 1}, func(err error) { ackErr = err }))
	assert.Equal(t, []int{1}, got)
	assert.NoError(t, ackErr)

	unsub()
	unsub() // safe twice
	require.NoError(t, a.Emit("ping", ping{N: 2}, nil))
	assert.Equal(t, []int{1}, got)
	assert.Len(t, a.SentEvents("ping"), 2)
}

func TestMemoryPair_HandlersRunInSubscriptionOrder(t *testing.T) {
	a, b := NewMemoryPair()
	var order []string
	b.On("x", func(json.RawMessage) { order = append(order, "first") })
	b.On("x", func(json.RawMessage) { order = append(order, "second") })

	require.NoError(t, a.Emit("x", nil, nil))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestMemoryPair_FailSends(t *testing.T) {
	a, b := NewMemoryPair()
	delivered := false
	b.On("x", func(json.RawMessage) { delivered = true })

	down := errors.New("link down")
	a.FailSends(down)
	var ackErr error
	err := a.Emit("x", nil, func(err error) { ackErr = err })
	assert.ErrorIs(t, err, down)
	assert.ErrorIs(t, ackErr, down)
	assert.False(t, delivered)
	assert.Empty(t, a.Sent())

	a.FailSends(nil)
	require.NoError(t, a.Emit("x", nil, nil))
	assert.True(t, delivered)

	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Emit("x", nil, nil), ErrClosed)
	assert.ErrorIs(t, a.Connect(context.Background()), ErrClosed)
}

func TestMemoryPair_DisconnectIsLocal(t *testing.T) {
	a, b := NewMemoryPair()
	var local, remote int
	a.On(models.EventDeviceDisconnected, func(json.RawMessage) { local++ })
	b.On(models.EventDeviceDisconnected, func(json.RawMessage) { remote++ })

	a.Disconnect("cable")
	assert.Equal(t, 1, local)
	assert.Zero(t, remote)
}

// echoServer accepts websocket transports and echoes "ping" back as "pong"
func echoServer(t *testing.T, wantAuth string) (string, chan *WSTransport) {
	upgrader := websocket.Upgrader{}
	accepted := make(chan *WSTransport, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantAuth != "" && r.Header.Get("Authorization") != "Bearer "+wantAuth {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		server := AcceptWSTransport(conn)
		server.On("ping", func(payload json.RawMessage) {
			server.Emit("pong", payload, nil)
		})
		if err := server.Connect(r.Context()); err != nil {
			return
		}
		accepted <- server
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), accepted
}

func TestWSTransport_RoundTrip(t *testing.T) {
	url, accepted := echoServer(t, "token")

	client := NewWSTransport(url, "token")
	defer client.Close()

	assert.ErrorIs(t, client.Emit("ping", ping{N: 0}, nil), ErrNotConnected)

	pongs := make(chan int, 1)
	client.On("pong", func(payload json.RawMessage) {
		var p ping
		if json.Unmarshal(payload, &p) == nil {
			pongs <- p.N
		}
	})
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Connect(context.Background()), "already connected")
	server := <-accepted

	acked := make(chan error, 1)
	require.NoError(t, client.Emit("ping", ping{N: 7}, func(err error) { acked <- err }))

	select {
	case err := <-acked:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("no ack")
	}
	select {
	case n := <-pongs:
		assert.Equal(t, 7, n)
	case <-time.After(2 * time.Second):
		t.Fatal("no pong")
	}

	// closing the server side reports a disconnect to the client
	disconnected := make(chan struct{})
	client.On(models.EventDeviceDisconnected, func(json.RawMessage) { close(disconnected) })
	require.NoError(t, server.Close())
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect notification")
	}
	assert.ErrorIs(t, client.Emit("ping", ping{}, nil), ErrNotConnected)
}

func TestWSTransport_DialUnauthorized(t *testing.T) {
	url, _ := echoServer(t, "token")

	client := NewWSTransport(url, "wrong")
	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestWSTransport_EmitAfterShutdownFailsAck(t *testing.T) {
	// the read pump has finished but the send channel is still set
	tr := &WSTransport{
		handlers: newHandlerSet(),
		acks:     make(map[string]AckFunc),
		send:     make(chan outbound, 4),
		done:     make(chan struct{}),
	}
	close(tr.done)

	for i := 0; i < 20; i++ {
		var ackErr error
		err := tr.Emit("ping", ping{N: i}, func(err error) { ackErr = err })
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, ackErr, ErrClosed)
	}
	assert.Empty(t, tr.acks)
	assert.Empty(t, tr.send)
}
