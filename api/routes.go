package api

import (
	"github.com/gin-gonic/gin"

	"remoteconsole/service"
)

func SetupRoutes(router *gin.Engine, console *service.Console, wsHub *WebSocketHub) {
	h := NewHandlers(console)

	// Enable CORS
	router.Use(CORSMiddleware())

	// Health check
	router.GET("/health", h.Health)

	// API routes
	api := router.Group("/api")
	{
		api.GET("/devices", h.GetDevices)

		session := api.Group("/session")
		{
			session.GET("", h.GetSnapshot)
			session.POST("", h.StartSession)
			session.DELETE("", h.StopSession)
		}

		api.POST("/commands", h.SendCommand)

		api.POST("/camera/start", h.StartCamera)
		api.POST("/camera/stop", h.StopCamera)
		api.POST("/mirror/start", h.StartMirror)
		api.POST("/mirror/stop", h.StopMirror)

		input := api.Group("/input")
		{
			input.POST("/down", h.PointerDown)
			input.POST("/up", h.PointerUp)
			input.PUT("/viewport", h.SetViewport)
		}

		signaling := api.Group("/signaling")
		{
			signaling.GET("", h.GetPeerLink)
			signaling.POST("/start", h.StartSignaling)
			signaling.POST("/stop", h.StopSignaling)
		}

		api.GET("/frames/:mode", h.GetFrame)
		api.GET("/photo", h.GetPhoto)
		api.GET("/playback/next", h.NextClip)
		api.GET("/diagnostics", h.GetDiagnostics)
		api.PUT("/autosync", h.SetAutoSync)
	}

	// WebSocket route
	router.GET("/ws", func(c *gin.Context) {
		HandleWebSocket(wsHub, c)
	})
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
