package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mvidal/crewd/internal/application/assignment"
	"github.com/mvidal/crewd/internal/application/pool"
	"github.com/mvidal/crewd/internal/application/trace"
	"github.com/mvidal/crewd/internal/application/workflow"
	"github.com/mvidal/crewd/internal/ports"
)

// Server represents the HTTP API server.
type Server struct {
	router    *gin.Engine
	server    *http.Server
	pool      *pool.Pool
	engine    *workflow.Engine
	assigner  *assignment.Assigner
	hub       *trace.Hub
	items     ports.WorkItemStore
	templates ports.TemplateStore
	runtime   ports.SessionRuntime
	logger    *zap.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Port      int
	Pool      *pool.Pool
	Engine    *workflow.Engine
	Assigner  *assignment.Assigner
	Hub       *trace.Hub
	Items     ports.WorkItemStore
	Templates ports.TemplateStore
	Runtime   ports.SessionRuntime
	Logger    *zap.Logger
}

// NewServer creates a new HTTP server.
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))

	s := &Server{
		router:    router,
		pool:      cfg.Pool,
		engine:    cfg.Engine,
		assigner:  cfg.Assigner,
		hub:       cfg.Hub,
		items:     cfg.Items,
		templates: cfg.Templates,
		runtime:   cfg.Runtime,
		logger:    cfg.Logger,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// Work item endpoints
		v1.POST("/workitems", s.handleCreateWorkItem)
		v1.GET("/workitems", s.handleListWorkItems)
		v1.GET("/workitems/:id", s.handleGetWorkItem)
		v1.PATCH("/workitems/:id", s.handleUpdateWorkItem)
		v1.DELETE("/workitems/:id", s.handleDeleteWorkItem)
		v1.POST("/workitems/:id/transition", s.handleTransition)
		v1.POST("/workitems/:id/assign", s.handleAssign)
		v1.GET("/workitems/:id/traces", s.handleWorkItemTraces)

		// Template endpoints
		v1.POST("/templates", s.handleCreateTemplate)
		v1.GET("/templates", s.handleListTemplates)
		v1.GET("/templates/:id", s.handleGetTemplate)
		v1.DELETE("/templates/:id", s.handleDeleteTemplate)

		// Worker endpoints
		v1.POST("/workers", s.handleSpawnWorker)
		v1.GET("/workers/:id", s.handleGetWorker)
		v1.POST("/workers/:id/pause", s.handlePauseWorker)
		v1.POST("/workers/:id/resume", s.handleResumeWorker)
		v1.POST("/workers/:id/terminate", s.handleTerminateWorker)
		v1.POST("/workers/:id/complete", s.handleCompleteWork)
		v1.POST("/workers/:id/error", s.handleReportError)
		v1.POST("/workers/:id/metrics", s.handleUpdateMetrics)
		v1.POST("/workers/:id/prompt", s.handlePromptWorker)

		// Pool endpoints
		v1.GET("/pool", s.handleGetPool)
		v1.PUT("/pool/max-workers", s.handleSetMaxWorkers)

		// Trace endpoints
		v1.POST("/traces", s.handleIngestTrace)
		v1.GET("/traces", s.handleListTraces)
	}
}

// SetupWebSocket adds the trace stream handler to the server.
func (s *Server) SetupWebSocket(handler interface {
	HandleStream(*gin.Context)
}) {
	s.router.GET("/api/v1/stream", handler.HandleStream)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
