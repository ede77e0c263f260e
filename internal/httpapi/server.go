// Package httpapi exposes run records over HTTP for dashboards and tooling.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/forge"
	"github.com/fyrsmithlabs/remedyd/internal/orchestrator"
	"github.com/fyrsmithlabs/remedyd/internal/runstore"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Launcher starts workflow runs asynchronously. Satisfied by
// *orchestrator.Engine.
type Launcher interface {
	Start(ctx context.Context, input orchestrator.Input) (string, error)
}

// Server serves the run-inspection API.
type Server struct {
	echo     *echo.Echo
	store    runstore.Store
	launcher Launcher
	logger   *zap.Logger
	config   *Config
}

// NewServer creates the API server over a run store. launcher may be nil to
// serve a read-only API.
func NewServer(store runstore.Store, launcher Launcher, logger *zap.Logger, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("run store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9085}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		store:    store,
		launcher: launcher,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	if s.launcher != nil {
		v1.POST("/runs", s.handleCreateRun)
	}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// RunsResponse is the response body for GET /api/v1/runs.
type RunsResponse struct {
	Runs []*runstore.Run `json:"runs"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleListRuns lists runs, optionally filtered by ?status=running.
func (s *Server) handleListRuns(c echo.Context) error {
	status := runstore.Status(c.QueryParam("status"))
	switch status {
	case "", runstore.StatusRunning, runstore.StatusCompleted, runstore.StatusFailed, runstore.StatusCancelled:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
	}

	runs, err := s.store.List(c.Request().Context(), status)
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}
	return c.JSON(http.StatusOK, RunsResponse{Runs: runs})
}

func (s *Server) handleGetRun(c echo.Context) error {
	run, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, runstore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		s.logger.Error("failed to fetch run", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch run")
	}
	return c.JSON(http.StatusOK, run)
}

// CreateRunRequest is the request body for POST /api/v1/runs.
type CreateRunRequest struct {
	// Issue is the reported problem, as "owner/repo#number".
	Issue string `json:"issue"`
	// Seed optionally steers the agents.
	Seed string `json:"seed,omitempty"`
	// Proposal, when set, resumes review of an open proposal instead of
	// starting from analysis.
	Proposal string `json:"proposal,omitempty"`
}

// CreateRunResponse is the response body for POST /api/v1/runs.
type CreateRunResponse struct {
	RunID string `json:"run_id"`
}

// handleCreateRun launches a workflow run in the background and returns its
// id. The run's progress is observable via GET /api/v1/runs/:id.
func (s *Server) handleCreateRun(c echo.Context) error {
	var req CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	issue, err := forge.ParseRef(req.Issue)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("issue: %v", err))
	}
	seed := req.Seed
	if seed == "" {
		seed = fmt.Sprintf("Fix the problem reported in %s.", issue)
	}
	input := orchestrator.Input{Issue: issue, Seed: seed}
	if req.Proposal != "" {
		proposal, err := forge.ParseRef(req.Proposal)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("proposal: %v", err))
		}
		input.Resume = &proposal
	}

	// The request context dies with the response; background runs get their
	// own lifetime.
	id, err := s.launcher.Start(context.WithoutCancel(c.Request().Context()), input)
	if err != nil {
		s.logger.Error("failed to launch run", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to launch run")
	}
	return c.JSON(http.StatusAccepted, CreateRunResponse{RunID: id})
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("http api listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
