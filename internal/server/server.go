// Package server exposes the diagnose use case over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"clinrag/internal/domain"
	"clinrag/internal/usecase"
)

// Diagnoser is the use case behind POST /diagnose.
type Diagnoser interface {
	Diagnose(ctx context.Context, symptoms string, topK int) ([]domain.Diagnosis, error)
}

// Status reports readiness and artifact metadata.
type Status interface {
	Ready() bool
	Descriptor() domain.EncoderDescriptor
	Size() int
	CreatedAt() time.Time
}

type diagnoseRequest struct {
	Symptoms *string `json:"symptoms"`
	TopK     *int    `json:"top_k"`
}

type diagnoseResponse struct {
	Diagnoses []domain.Diagnosis `json:"diagnoses"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server wires HTTP routes to the use case.
type Server struct {
	engine    *gin.Engine
	diagnoser Diagnoser
	status    Status
	logger    *zap.Logger
	topK      int
}

// Option configures a Server.
type Option func(*Server)

// WithDefaultTopK sets the top_k used when a request omits it or sends 0.
// Values below 1 are ignored.
func WithDefaultTopK(k int) Option {
	return func(s *Server) {
		if k >= 1 {
			s.topK = k
		}
	}
}

// New creates a server. status may be nil until the pipeline is loaded,
// in which case /readyz reports 503.
func New(diagnoser Diagnoser, status Status, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger, "/healthz", "/readyz"))

	s := &Server{
		engine:    engine,
		diagnoser: diagnoser,
		status:    status,
		logger:    logger,
		topK:      usecase.DefaultDiagnoses,
	}
	for _, opt := range opts {
		opt(s)
	}
	engine.POST("/diagnose", s.handleDiagnose)
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/readyz", s.handleReady)
	engine.GET("/info", s.handleInfo)
	return s
}

// Handler returns the http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleDiagnose(c *gin.Context) {
	var req diagnoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	symptoms := ""
	if req.Symptoms != nil {
		symptoms = *req.Symptoms
	}
	topK := s.topK
	if req.TopK != nil && *req.TopK != 0 {
		topK = *req.TopK
	}

	diagnoses, err := s.diagnoser.Diagnose(c.Request.Context(), symptoms, topK)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrTimeout) {
			status = http.StatusGatewayTimeout
		}
		s.logger.Error("diagnose failed", zap.Int("status", status), zap.Error(err))
		c.JSON(status, errorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, diagnoseResponse{Diagnoses: diagnoses})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReady(c *gin.Context) {
	if s.status == nil || !s.status.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "loading"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) handleInfo(c *gin.Context) {
	if s.status == nil || !s.status.Ready() {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "artifact not loaded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"encoder":        s.status.Descriptor(),
		"protocol_count": s.status.Size(),
		"created_at":     s.status.CreatedAt(),
	})
}

// requestLogger logs one line per request, skipping the given paths.
func requestLogger(logger *zap.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if _, ok := skipped[c.Request.URL.Path]; ok {
			return
		}
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
