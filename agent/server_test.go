package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteconsole/models"
	"remoteconsole/transport"
)

func newTestServer(t *testing.T, credential string) string {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	router := gin.New()
	NewServer(ctx, newFakeDevice(), "serial-1", credential, 20).Routes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/device"
}

func TestServer_RejectsBadCredential(t *testing.T) {
	url := newTestServer(t, "secret")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_SessionOverWebsocket(t *testing.T) {
	url := newTestServer(t, "secret")

	client := transport.NewWSTransport(url, "secret")
	defer client.Close()
	responses := make(chan models.SessionResponse, 1)
	client.On(models.EventSessionResponse, func(payload json.RawMessage) {
		var resp models.SessionResponse
		if json.Unmarshal(payload, &resp) == nil {
			responses <- resp
		}
	})
	require.NoError(t, client.Connect(context.Background()))

	acked := make(chan error, 1)
	require.NoError(t, client.Emit(models.EventSessionStart, models.SessionStartRequest{
		SessionID:  "s1",
		DeviceID:   "serial-1",
		Credential: "secret",
	}, func(err error) { acked <- err }))

	select {
	case err := <-acked:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("start request not acknowledged")
	}
	select {
	case resp := <-responses:
		assert.True(t, resp.Accepted)
		assert.Equal(t, "s1", resp.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("no session response")
	}

	// one console at a time
	header := http.Header{"Authorization": {"Bearer secret"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewServer(context.Background(), newFakeDevice(), "serial-1", "", 5).Routes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"resolution":"1080x2400"`)
}
