// Package server exposes the workflow's status, events, and validation
// reports over HTTP and WebSocket, grounded on the teacher's
// internal/server/router.go (gin router + middleware + health/metrics
// wiring) and websocket.go's broadcast Hub, generalized from Docker
// resource/container routes to project workflow routes.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/heymumford/ztoq-migrate/internal/config"
	"github.com/heymumford/ztoq-migrate/internal/observability"
	"github.com/heymumford/ztoq-migrate/internal/orchestrator"
	"github.com/heymumford/ztoq-migrate/internal/store"
)

// OrchestratorFactory builds (or reuses) the orchestrator for one project.
type OrchestratorFactory func(ctx context.Context, projectKey string) (*orchestrator.Orchestrator, error)

// Server is the HTTP+WebSocket status surface for the migration engine.
type Server struct {
	config *config.WorkflowConfig
	store  store.Store
	logger *observability.Logger
	health *observability.HealthChecker
	build  OrchestratorFactory
	hub    *Hub
	router *gin.Engine
}

// New creates an HTTP server wired to the given store and orchestrator
// factory.
func New(cfg *config.WorkflowConfig, s store.Store, build OrchestratorFactory, health *observability.HealthChecker, logger *observability.Logger) *Server {
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &Server{
		config: cfg,
		store:  s,
		logger: logger,
		health: health,
		build:  build,
		hub:    NewHub(logger),
	}
	srv.setupRouter()
	return srv
}

func (s *Server) setupRouter() {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.loggingMiddleware())
	r.Use(s.corsMiddleware())

	r.GET("/health", s.health.HealthHandler())
	r.GET("/ready", s.health.ReadyHandler())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/projects/:key")
	{
		api.GET("/status", s.GetStatus)
		api.GET("/events", s.GetEvents)
		api.GET("/validation-report", s.GetValidationReport)
		api.POST("/migrate", s.StartMigrate)
		api.POST("/resume", s.StartResume)
		api.POST("/incremental", s.StartIncremental)
		api.POST("/rollback", s.StartRollback)
	}

	r.GET("/ws", s.HandleWebSocket)

	s.router = r
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/ready" {
			c.Next()
			return
		}
		c.Next()
		s.logger.InfoRedacted("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
		)
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Start runs the HTTP server and the WebSocket hub until the router exits.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("starting HTTP server", zap.String("addr", s.config.HTTPAddr))
	return s.router.Run(s.config.HTTPAddr)
}

// Stop shuts down the WebSocket hub.
func (s *Server) Stop() {
	s.logger.Info("stopping HTTP server")
	s.hub.Stop()
}

// GetRouter exposes the gin engine for tests.
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
