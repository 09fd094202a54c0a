// Package http provides the HTTP API for logwarden.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/logwarden/internal/ctxstore"
	"github.com/fyrsmithlabs/logwarden/internal/errclass"
	"github.com/fyrsmithlabs/logwarden/internal/logging"
	"github.com/fyrsmithlabs/logwarden/internal/ratelimit"
	"github.com/fyrsmithlabs/logwarden/internal/sanitize"
	"github.com/fyrsmithlabs/logwarden/internal/storage"
)

// Server provides HTTP endpoints for logwarden.
type Server struct {
	echo    *echo.Echo
	logger  *logging.Logger
	errors  *errclass.Handler
	store   storage.KV
	limiter *ratelimit.Limiter
	metrics *HTTPMetrics
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option customizes optional server collaborators.
type Option func(*Server)

// WithStorage attaches a KV backend so /health can probe it end to end.
func WithStorage(kv storage.KV) Option {
	return func(s *Server) { s.store = kv }
}

// WithLimiter exposes rate limiter stats and reset endpoints.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithHTTPMetrics instruments every route with the OTEL HTTP metrics.
func WithHTTPMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new HTTP server.
func NewServer(logger *logging.Logger, errs *errclass.Handler, cfg *Config, opts ...Option) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if errs == nil {
		return nil, fmt.Errorf("error handler cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		logger: logger.Named("http"),
		errors: errs,
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.HTTPErrorHandler = ErrorHandler(errs)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(s.scopeMiddleware)
	e.Use(s.loggingMiddleware)
	if s.metrics != nil {
		e.Use(s.metrics.MetricsMiddleware())
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// scopeMiddleware attaches a request scope to the context so every log
// line emitted downstream carries the correlation fields.
func (s *Server) scopeMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		scope := ctxstore.NewScope()
		scope.RequestID = c.Response().Header().Get(echo.HeaderXRequestID)

		req := c.Request()
		c.SetRequest(req.WithContext(ctxstore.WithScope(req.Context(), scope)))
		return next(c)
	}
}

func (s *Server) loggingMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		duration := time.Since(start)

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", duration),
		)

		return err
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/sanitize", s.handleSanitize)
	v1.GET("/limits/:client/:endpoint", s.handleLimitStats)
	v1.POST("/limits/:client/:endpoint/reset", s.handleLimitReset)
}

// handleHealth reports liveness plus a live storage probe when a backend
// is attached. A failing probe degrades the status to 503 so load
// balancers stop routing here.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}

	if s.store != nil {
		result := storage.CheckHealth(c.Request().Context(), s.store)
		resp.Storage = &result
		if !result.Healthy {
			resp.Status = "degraded"
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// handleSanitize runs the payload through the control-character escaper
// and size limiter, returning the form that is safe to log or forward.
func (s *Server) handleSanitize(c echo.Context) error {
	var req SanitizeRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid sanitize request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Payload == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "payload field is required")
	}

	out := sanitize.LimitObjectSize(sanitize.ForJSON(req.Payload), sanitize.DefaultLimits())

	return c.JSON(http.StatusOK, SanitizeResponse{Payload: out})
}

// handleLimitStats returns current usage and error-frequency analysis
// for one client/endpoint bucket.
func (s *Server) handleLimitStats(c echo.Context) error {
	if s.limiter == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "rate limiter not configured")
	}

	ctx := c.Request().Context()
	client := c.Param("client")
	endpoint := c.Param("endpoint")

	return c.JSON(http.StatusOK, LimitStatsResponse{
		Client:   client,
		Endpoint: endpoint,
		Stats:    s.limiter.Stats(ctx, client, endpoint),
		Analysis: s.limiter.Analyze(ctx, client, endpoint),
	})
}

// handleLimitReset clears a bucket's state. preserve_errors=true keeps
// the error counters for post-incident analysis.
func (s *Server) handleLimitReset(c echo.Context) error {
	if s.limiter == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "rate limiter not configured")
	}

	ctx := c.Request().Context()
	client := c.Param("client")
	endpoint := c.Param("endpoint")
	preserve := c.QueryParam("preserve_errors") == "true"

	if err := s.limiter.Reset(ctx, client, endpoint, preserve); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
