// Package http exposes the turn API, analytics and maintenance over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/costgate/internal/analytics"
	"github.com/fyrsmithlabs/costgate/internal/config"
	"github.com/fyrsmithlabs/costgate/internal/logging"
	"github.com/fyrsmithlabs/costgate/internal/maintenance"
	"github.com/fyrsmithlabs/costgate/internal/orchestrator"
	"github.com/fyrsmithlabs/costgate/internal/sanitize"
)

// HeaderUserID carries the caller's user id.
const HeaderUserID = "X-User-ID"

// TurnHandler answers chat turns.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// AnalyticsReader reports usage over a date range.
type AnalyticsReader interface {
	GetAnalytics(ctx context.Context, from, to time.Time) (*analytics.Report, error)
}

// Sweeper removes expired rows.
type Sweeper interface {
	Sweep(ctx context.Context) (maintenance.Report, error)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components behind the routes. Gatherer and Meter are
// optional; without a Gatherer /metrics is not served.
type Deps struct {
	Turns     TurnHandler
	Analytics AnalyticsReader
	Sweeper   Sweeper
	Store     Pinger
	Gatherer  prometheus.Gatherer
	Meter     metric.Meter
}

// Server provides the costgate HTTP API.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config config.ServerConfig
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg config.ServerConfig) (*Server, error) {
	if deps.Turns == nil {
		return nil, errors.New("turn handler cannot be nil")
	}
	if deps.Analytics == nil {
		return nil, errors.New("analytics reader cannot be nil")
	}
	if deps.Sweeper == nil {
		return nil, errors.New("sweeper cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := NewHTTPMetrics(deps.Meter, logger.Underlying())

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(metrics.MetricsMiddleware())
	e.Use(requestLogger(logger))

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

// requestLogger puts the request id on the context and logs each request.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := logging.WithRequestID(c.Request().Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.deps.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/turns", s.handleTurn)
	v1.GET("/analytics", s.handleAnalytics)
	v1.POST("/maintenance/sweep", s.handleSweep)
}

// Echo exposes the router for additional routes and tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(c.Request().Context()); err != nil {
			s.logger.Warn(c.Request().Context(), "health check failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded"})
		}
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleTurn(c echo.Context) error {
	var req TurnRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid turn request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	user, err := userID(c)
	if err != nil {
		s.logger.Warn(ctx, "invalid user header", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid "+HeaderUserID+" header")
	}
	res, err := s.deps.Turns.HandleTurn(ctx, orchestrator.Request{
		ConversationID: req.ConversationID,
		UserID:         user,
		Message:        req.Message,
		SystemPrompt:   req.SystemPrompt,
	})
	if err != nil {
		return s.turnError(ctx, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) turnError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	case errors.Is(err, orchestrator.ErrConversationNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	case errors.Is(err, orchestrator.ErrUpstream):
		return echo.NewHTTPError(http.StatusBadGateway, "upstream model unavailable")
	default:
		s.logger.Error(ctx, "turn failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleAnalytics(c echo.Context) error {
	from, err := parseDate(c.QueryParam("from"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid from date, want %s", dateLayout))
	}
	to, err := parseDate(c.QueryParam("to"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid to date, want %s", dateLayout))
	}

	ctx := c.Request().Context()
	report, err := s.deps.Analytics.GetAnalytics(ctx, from, to)
	if errors.Is(err, analytics.ErrInvalidRange) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		s.logger.Error(ctx, "analytics failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleSweep(c echo.Context) error {
	ctx := c.Request().Context()
	report, err := s.deps.Sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error(ctx, "sweep finished with errors", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, SweepResponse{Report: report, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, SweepResponse{Report: report})
}

func userID(c echo.Context) (string, error) {
	id := c.Request().Header.Get(HeaderUserID)
	if err := sanitize.ValidateUserID(id); err != nil {
		return "", err
	}
	if id == "" {
		return orchestrator.AnonymousUser, nil
	}
	return id, nil
}

const dateLayout = "2006-01-02"

// parseDate reads a YYYY-MM-DD query value as UTC midnight. Empty yields
// the zero time.
func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(dateLayout, v, time.UTC)
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
