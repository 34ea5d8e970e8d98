// Package http provides the HTTP adapter for the case workflow engine.
// It translates requests to engine calls and typed workflow errors to
// status codes; no workflow rules live here.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/patholab/caseflow/internal/application/engine"
	"github.com/patholab/caseflow/internal/domain/entity"
	"github.com/patholab/caseflow/internal/domain/workflow"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// WorkflowService is the engine surface the HTTP layer consumes.
type WorkflowService interface {
	CreateCase(ctx context.Context, params engine.CreateCaseParams, actor entity.Actor) (*entity.Case, error)
	SubmitStageData(ctx context.Context, labID string, actor entity.Actor, stage workflow.Stage, payload string) (*entity.StageRecord, error)
	RequestApproval(ctx context.Context, labID string, actor entity.Actor, stage workflow.Stage) error
	ApproveStage(ctx context.Context, labID string, actor entity.Actor, stage workflow.Stage) error
	RejectStage(ctx context.Context, labID string, actor entity.Actor, stage workflow.Stage) error
	FinalizeCase(ctx context.Context, labID string, actor entity.Actor) error
	GetCase(ctx context.Context, labID string) (*entity.Case, error)
	ListCases(ctx context.Context, limit, offset int) ([]*entity.Case, error)
	AuditTrail(ctx context.Context, labID string) ([]*entity.AuditLogEntry, error)
	StageData(ctx context.Context, labID string, stage workflow.Stage) (*entity.StageRecord, error)
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	workflow   WorkflowService
	logger     Logger
}

// NewServer creates a new HTTP server around the workflow service
func NewServer(config ServerConfig, workflow WorkflowService, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	server := &Server{
		config:   config,
		router:   router,
		workflow: workflow,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// requestIDMiddleware tags every request with an id for log correlation
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"request_id", c.GetString("request_id"),
			"client_ip", c.ClientIP(),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.workflow, s.logger)

	// Health check
	s.router.GET("/health", handlers.HealthCheck)

	// API routes
	api := s.router.Group("/api")
	{
		api.POST("/cases", handlers.CreateCase)
		api.GET("/cases", handlers.ListCases)
		api.GET("/cases/:id", handlers.GetCase)
		api.GET("/cases/:id/audit", handlers.GetAuditTrail)
		api.POST("/cases/:id/finalize", handlers.FinalizeCase)

		api.GET("/cases/:id/stages/:stage", handlers.GetStageData)
		api.PUT("/cases/:id/stages/:stage", handlers.SubmitStageData)
		api.POST("/cases/:id/stages/:stage/request-approval", handlers.RequestApproval)
		api.POST("/cases/:id/stages/:stage/approve", handlers.ApproveStage)
		api.POST("/cases/:id/stages/:stage/reject", handlers.RejectStage)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
