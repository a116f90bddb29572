package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"remoteconsole/models"
	"remoteconsole/service"
)

// Handlers exposes the Console over HTTP
type Handlers struct {
	console *service.Console
}

func NewHandlers(console *service.Console) *Handlers {
	return &Handlers{console: console}
}

type startSessionRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
}

type commandRequest struct {
	Type    models.CommandType     `json:"type" binding:"required"`
	Payload map[string]interface{} `json:"payload"`
}

type mirrorRequest struct {
	Control bool `json:"control"`
}

type autoSyncRequest struct {
	Enabled bool `json:"enabled"`
}

// errorStatus maps console errors onto HTTP status and a machine-readable code
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrSessionBusy):
		return http.StatusConflict, "session_busy"
	case errors.Is(err, service.ErrSignalingActive):
		return http.StatusConflict, "signaling_active"
	case errors.Is(err, service.ErrDeviceOffline):
		return http.StatusServiceUnavailable, "device_offline"
	case errors.Is(err, service.ErrConnectFailed):
		return http.StatusBadGateway, "connect_failed"
	case errors.Is(err, service.ErrNoSession):
		return http.StatusPreconditionFailed, "no_session"
	case errors.Is(err, service.ErrInputDisabled):
		return http.StatusPreconditionFailed, "input_disabled"
	case errors.Is(err, service.ErrNoPointerDown), errors.Is(err, service.ErrGeometryUnknown):
		return http.StatusBadRequest, "bad_gesture"
	case errors.Is(err, service.ErrNoPeerLink):
		return http.StatusNotFound, "no_peer_link"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func respondError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	c.JSON(status, models.ErrorResponse(err.Error(), code))
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"status":  "ok",
		"message": "Remote console is running",
		"session": h.console.Snapshot().State,
	}))
}

// GetDevices returns all devices
func (h *Handlers) GetDevices(c *gin.Context) {
	devices, err := h.console.Devices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(devices))
}

func (h *Handlers) GetSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(h.console.Snapshot()))
}

func (h *Handlers) StartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error(), "bad_request"))
		return
	}
	session, err := h.console.StartSession(c.Request.Context(), req.DeviceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(session))
}

func (h *Handlers) StopSession(c *gin.Context) {
	h.console.Stop()
	c.JSON(http.StatusOK, models.MessageResponse("session stopped"))
}

func (h *Handlers) SendCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error(), "bad_request"))
		return
	}
	id, err := h.console.SendCommand(req.Type, req.Payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, models.SuccessResponse(gin.H{
		"type":       req.Type,
		"request_id": id,
	}))
}

func (h *Handlers) StartCamera(c *gin.Context) {
	if err := h.console.StartCamera(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(h.console.Snapshot().Mode))
}

func (h *Handlers) StopCamera(c *gin.Context) {
	h.console.StopCamera()
	c.JSON(http.StatusOK, models.SuccessResponse(h.console.Snapshot().Mode))
}

func (h *Handlers) StartMirror(c *gin.Context) {
	var req mirrorRequest
	// empty body means view-only
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error(), "bad_request"))
			return
		}
	}
	if err := h.console.StartMirror(req.Control); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(h.console.Snapshot().Mode))
}

func (h *Handlers) StopMirror(c *gin.Context) {
	h.console.StopMirror()
	c.JSON(http.StatusOK, models.SuccessResponse(h.console.Snapshot().Mode))
}

func (h *Handlers) PointerDown(c *gin.Context) {
	var p models.Point
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error(), "bad_request"))
		return
	}
	h.console.PointerDown(p)
	c.Status(http.StatusNoContent)
}

func (h *Handlers) PointerUp(c *gin.Context) {
	var p models.Point
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error(), "bad_request"))
		return
	}
	gesture, err := h.console.PointerUp(p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gesture))
}

func (h *Handlers) SetViewport(c *gin.Context) {
	var size models.Size
	if err := c.ShouldBindJSON(&size); err != nil || !size.Valid() {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("viewport needs positive width and height", "bad_request"))
		return
	}
	h.console.SetViewport(size)
	c.Status(http.StatusNoContent)
}

func (h *Handlers) GetPeerLink(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(h.console.PeerLink()))
}

func (h *Handlers) StartSignaling(c *gin.Context) {
	if err := h.console.StartSignaling(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(h.console.PeerLink()))
}

func (h *Handlers) StopSignaling(c *gin.Context) {
	h.console.StopSignaling()
	c.JSON(http.StatusOK, models.MessageResponse("peer link closed"))
}

// GetFrame serves the newest frame of a mode as an image
func (h *Handlers) GetFrame(c *gin.Context) {
	mode := models.ParseMode(c.Param("mode"))
	if mode == models.ModeNone {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("mode must be screen or camera", "bad_request"))
		return
	}
	frame, ok := h.console.LatestFrame(mode)
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, frame.ContentType, frame.Image)
}

func (h *Handlers) GetPhoto(c *gin.Context) {
	photo, ok := h.console.Photo()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, photo.ContentType, photo.Image)
}

func (h *Handlers) NextClip(c *gin.Context) {
	clip, ok := h.console.NextClip()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, clip.ContentType, clip.Audio)
}

func (h *Handlers) GetDiagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(h.console.Diagnostics()))
}

func (h *Handlers) SetAutoSync(c *gin.Context) {
	var req autoSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error(), "bad_request"))
		return
	}
	h.console.SetAutoSync(req.Enabled)
	c.JSON(http.StatusOK, models.SuccessResponse(h.console.Diagnostics()))
}
