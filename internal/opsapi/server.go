// Package opsapi serves the operator HTTP API: health, metrics, service
// status, breaker overrides and a websocket stream of service events.
package opsapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/metrics"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/vectorservice"
)

// Server is the gin engine plus its http.Server.
type Server struct {
	svc    *vectorservice.Service
	logger *zap.Logger
	engine *gin.Engine

	// eventBuffer bounds the per-connection queue of pending events.
	eventBuffer int
	heartbeat   time.Duration
}

// New builds the engine. debug switches gin to debug mode, which is
// process-wide.
func New(svc *vectorservice.Service, logger *zap.Logger, debug bool) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debug {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		svc:         svc,
		logger:      logger.Named("opsapi"),
		engine:      gin.New(),
		eventBuffer: 64,
		heartbeat:   30 * time.Second,
	}
	s.engine.Use(gin.Recovery(), s.loggingMiddleware())
	s.registerRoutes()
	return s
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()),
		)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/metrics", s.handleMetrics)
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/features", s.handleFeatures)
	s.engine.POST("/health/check", s.handleHealthCheck)
	s.engine.POST("/breaker/reset", s.handleBreakerReset)
	s.engine.POST("/breaker/trip", s.handleBreakerTrip)
	s.engine.GET("/events", s.handleEvents)
}

// Run serves addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("operations API listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleHealthz answers 503 only when the service is OFFLINE; lower levels
// still serve searches.
func (s *Server) handleHealthz(c *gin.Context) {
	level := s.svc.Level()
	code := http.StatusOK
	status := "ok"
	if level == vectorservice.LevelOffline {
		code = http.StatusServiceUnavailable
		status = "offline"
	}
	c.JSON(code, gin.H{"status": status, "level": level})
}

func (s *Server) handleMetrics(c *gin.Context) {
	h := metrics.Handler()
	if h == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics disabled"})
		return
	}
	h.ServeHTTP(c.Writer, c.Request)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Status())
}

func (s *Server) handleFeatures(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"level":    s.svc.Degraded().Level(),
		"features": s.svc.Features(),
	})
}

func (s *Server) handleHealthCheck(c *gin.Context) {
	h, err := s.svc.CheckHealth(c.Request.Context())
	if err != nil {
		s.logger.Debug("manual health check failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	s.svc.ResetBreaker()
	s.logger.Info("breaker reset by operator")
	c.JSON(http.StatusOK, gin.H{"state": s.svc.Status().Breaker.State, "level": s.svc.Level()})
}

type tripRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleBreakerTrip(c *gin.Context) {
	var req tripRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "tripped by operator"
	}
	s.svc.TripBreaker(req.Reason)
	s.logger.Warn("breaker tripped by operator", zap.String("reason", req.Reason))
	c.JSON(http.StatusOK, gin.H{"state": s.svc.Status().Breaker.State, "level": s.svc.Level()})
}
