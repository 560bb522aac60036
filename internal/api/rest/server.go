package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/api/websocket"
	"github.com/KevinKickass/OpenFeederCore/internal/config"
	"github.com/KevinKickass/OpenFeederCore/internal/interfaces"
	"github.com/KevinKickass/OpenFeederCore/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router  *gin.Engine
	lm      interfaces.LifecycleManager
	logger  *zap.Logger
	server  *http.Server
	wsHub   *websocket.Hub
	metrics *metrics.Metrics
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, wsHub *websocket.Hub, m *metrics.Metrics, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:  gin.New(),
		lm:      lm,
		logger:  logger,
		wsHub:   wsHub,
		metrics: m,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Direct dispatch waits on the device for up to dispatch.timeout.
		WriteTimeout: cfg.Dispatch.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())
	s.router.Use(MetricsMiddleware(s.metrics))

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/ready", s.readyCheck)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== DEVICE PROTOCOL ====================
		devices := v1.Group("/devices")
		{
			devices.POST("", s.registerDevice)
			devices.GET("", s.listDevices)
			devices.POST("/heartbeat", s.heartbeat)
			devices.POST("/feed-notification", s.feedNotification)
			devices.GET("/commands", s.pollCommands)
			devices.POST("/acknowledge", s.acknowledgeCommand)

			devices.GET("/:device_id", s.getDevice)
			devices.DELETE("/:device_id", s.deleteDevice)
			devices.GET("/:device_id/status", s.deviceStatus)
			devices.POST("/:device_id/commands", s.enqueueCommand)
			devices.GET("/:device_id/commands", s.listCommands)
			devices.GET("/:device_id/commands/:command_id", s.getCommand)
		}

		// ==================== DIRECT DISPATCH ====================
		v1.POST("/motor/control", s.motorControl)
		v1.POST("/feed", s.feed)

		// ==================== HISTORY & SCHEDULES ====================
		v1.GET("/history", s.listHistory)
		v1.GET("/schedules", s.listSchedules)

		// ==================== SYSTEM ====================
		v1.GET("/system/status", s.getSystemStatus)

		// ==================== WEBSOCKET ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/events", s.wsEvents)
			ws.GET("/status", s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsEvents(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}
