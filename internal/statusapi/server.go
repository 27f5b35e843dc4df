// Package statusapi exposes a minimal read-only HTTP surface for external
// health and state consumption. Grounded on the teacher's
// internal/web.Server (gin wiring, middleware, Start/Stop/Name shape) and
// internal/health.Manager (HealthReport fields), narrowed to the two
// endpoints an outlet monitor needs: a liveness/health check and the
// current presence state snapshot. No templates, no UI, no auth.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/outletguard/orchestrator/internal/logger"
)

// Status is the closed set of health states reported at /healthz.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// HealthReport is the body served at GET /healthz.
type HealthReport struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// Checker reports whether some supervised component is still alive.
// Implemented by whatever owns worker heartbeats (e.g. the registry).
type Checker interface {
	Healthy() (bool, string)
}

// Config configures the status API server.
type Config struct {
	Addr         string
	StatePath    string // path to the outlet_state.json the aggregator writes
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is a read-only gin HTTP server over health + state snapshot data.
type Server struct {
	cfg        Config
	log        *logger.Logger
	checkers   []Checker
	httpServer *http.Server
	router     *gin.Engine
	startTime  time.Time
}

// New builds a Server. Call RegisterChecker before Start to add liveness
// checks; at least zero checkers is valid (health always reports healthy).
func New(cfg Config, log *logger.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	s := &Server{cfg: cfg, log: log, router: router, startTime: time.Now()}
	s.setupRoutes()
	return s
}

// RegisterChecker adds a liveness checker consulted by GET /healthz.
func (s *Server) RegisterChecker(c Checker) {
	s.checkers = append(s.checkers, c)
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/state", s.handleState)
}

// Start runs the HTTP server in a background goroutine. Returns once the
// server has had a brief moment to come up (or ctx is canceled first),
// matching the teacher's internal/web.Server.Start shape.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("status API server error", "addr", s.cfg.Addr, "error", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(50 * time.Millisecond):
		s.log.Info("status API server started", "addr", s.cfg.Addr)
		return nil
	}
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Name identifies this component for supervisor logging.
func (s *Server) Name() string { return "status-api" }

func (s *Server) handleHealthz(c *gin.Context) {
	status := StatusHealthy
	for _, checker := range s.checkers {
		if ok, _ := checker.Healthy(); !ok {
			status = StatusUnhealthy
			break
		}
	}

	c.JSON(http.StatusOK, HealthReport{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).String(),
	})
}

// handleState serves the outlet_state.json the aggregator maintains,
// verbatim, per spec.md §3's State Snapshot schema. A missing file (not
// yet written, or supervisor not started) reports 503 rather than 404, to
// distinguish "not ready yet" from "no such route".
func (s *Server) handleState(c *gin.Context) {
	if s.cfg.StatePath == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "state snapshot not configured"})
		return
	}

	data, err := os.ReadFile(s.cfg.StatePath)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": fmt.Sprintf("state snapshot unavailable: %v", err)})
		return
	}

	if !json.Valid(data) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "state snapshot corrupt"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Debug("status API request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
