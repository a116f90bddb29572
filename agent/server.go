package agent

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"remoteconsole/models"
	"remoteconsole/transport"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the console is not a browser
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 2 * 1024 * 1024, // 2MB for screenshots
}

// Server accepts one console connection at a time on /device
type Server struct {
	device     Device
	deviceID   string
	credential string
	mirrorFPS  float64

	mu     sync.Mutex
	active bool
	ctx    context.Context
}

func NewServer(ctx context.Context, device Device, deviceID, credential string, mirrorFPS float64) *Server {
	return &Server{
		device:     device,
		deviceID:   deviceID,
		credential: credential,
		mirrorFPS:  mirrorFPS,
		ctx:        ctx,
	}
}

// Routes registers the agent endpoints on router
func (s *Server) Routes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		info, err := s.device.Info(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, models.ErrorResponse(err.Error(), "device_offline"))
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(info))
	})
	router.GET("/device", s.handleConnect)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.credential == "" {
		return true
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token == s.credential
}

func (s *Server) handleConnect(c *gin.Context) {
	if !s.authorized(c.Request) {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse("invalid credential", "unauthorized"))
		return
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, models.ErrorResponse("a console is already attached", "busy"))
		return
	}
	s.active = true
	s.mu.Unlock()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		s.release()
		return
	}
	log.Printf("🔌 [%s] Console attached from %s", s.deviceID, c.Request.RemoteAddr)

	t := transport.AcceptWSTransport(conn)
	a := New(t, s.device, s.deviceID, s.credential, s.mirrorFPS)
	if err := t.Connect(c.Request.Context()); err != nil {
		log.Printf("❌ [%s] Starting console transport: %v", s.deviceID, err)
		t.Close()
		s.release()
		return
	}
	go func() {
		defer s.release()
		a.Run(s.ctx)
		t.Close()
		log.Printf("🔌 [%s] Console detached", s.deviceID)
	}()
}

func (s *Server) release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}
