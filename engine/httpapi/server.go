// Package httpapi exposes the goal, approval, and audit surfaces over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/steward-labs/steward/engine/audit"
	"github.com/steward-labs/steward/engine/guardrail"
	"github.com/steward-labs/steward/engine/logging"
	"github.com/steward-labs/steward/engine/orchestrate"
	"github.com/steward-labs/steward/engine/plan"
)

// OrchestratorFactory creates a fresh orchestrator per goal. Each goal gets
// its own instance so cancellation stays scoped to one run.
type OrchestratorFactory func() *orchestrate.Orchestrator

// Server hosts the HTTP API.
type Server struct {
	echo      *echo.Echo
	logger    logging.Logger
	ledger    *audit.Ledger
	approvals *guardrail.ApprovalService
	factory   OrchestratorFactory
	addr      string

	mu   sync.RWMutex
	runs map[string]*goalRun
}

// goalRun tracks one in-flight or finished goal.
type goalRun struct {
	goal     *plan.Goal
	orch     *orchestrate.Orchestrator
	started  time.Time
	outcome  *orchestrate.Outcome
	err      error
	finished bool
}

// NewServer creates the HTTP server.
func NewServer(logger logging.Logger, ledger *audit.Ledger, approvals *guardrail.ApprovalService, factory OrchestratorFactory, addr string) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:      e,
		logger:    logger.Bind("component", "httpapi"),
		ledger:    ledger,
		approvals: approvals,
		factory:   factory,
		addr:      addr,
		runs:      make(map[string]*goalRun),
	}

	e.Use(s.requestLogger)
	s.registerRoutes()
	return s
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		s.logger.Info("http_request",
			"method", c.Request().Method,
			"uri", c.Request().RequestURI,
			"status", c.Response().Status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		)
		return err
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.POST("/goals", s.handleSubmitGoal)
	v1.GET("/goals/:id", s.handleGetGoal)
	v1.POST("/goals/:id/cancel", s.handleCancelGoal)
	v1.GET("/goals/:id/audit", s.handleGoalAudit)
	v1.GET("/approvals", s.handleListApprovals)
	v1.POST("/approvals/:id", s.handleResolveApproval)
}

// Handler exposes the routed handler, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http_server_starting", "addr", s.addr)
	return s.echo.Start(s.addr)
}

// Shutdown stops the server and cancels every in-flight goal.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, run := range s.runs {
		if !run.finished {
			run.orch.Cancel()
		}
	}
	s.mu.RUnlock()

	return s.echo.Shutdown(ctx)
}

// =============================================================================
// Handlers
// =============================================================================

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

type submitGoalRequest struct {
	Goal string `json:"goal"`
}

type goalResponse struct {
	GoalID   string               `json:"goal_id"`
	State    string               `json:"state"`
	Outcome  *orchestrate.Outcome `json:"outcome,omitempty"`
	Error    string               `json:"error,omitempty"`
	Started  time.Time            `json:"started_at"`
	Duration string               `json:"duration,omitempty"`
}

func (s *Server) handleSubmitGoal(c echo.Context) error {
	var req submitGoalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Goal == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "goal field is required")
	}

	goal := plan.NewGoal(req.Goal)
	run := &goalRun{
		goal:    goal,
		orch:    s.factory(),
		started: time.Now().UTC(),
	}

	s.mu.Lock()
	s.runs[goal.ID] = run
	s.mu.Unlock()

	go func() {
		outcome, err := run.orch.RunGoal(context.Background(), goal)

		s.mu.Lock()
		run.outcome = outcome
		run.err = err
		run.finished = true
		s.mu.Unlock()
	}()

	return c.JSON(http.StatusAccepted, goalResponse{
		GoalID:  goal.ID,
		State:   "running",
		Started: run.started,
	})
}

func (s *Server) handleGetGoal(c echo.Context) error {
	run, ok := s.lookup(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "goal not found")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := goalResponse{
		GoalID:  run.goal.ID,
		State:   "running",
		Started: run.started,
	}
	if run.finished {
		resp.State = "finished"
		resp.Outcome = run.outcome
		resp.Duration = time.Since(run.started).Round(time.Millisecond).String()
		if run.err != nil {
			resp.Error = run.err.Error()
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCancelGoal(c echo.Context) error {
	run, ok := s.lookup(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "goal not found")
	}

	// Idempotent: cancelling a finished goal is a no-op.
	run.orch.Cancel()
	return c.JSON(http.StatusOK, map[string]string{"goal_id": run.goal.ID, "state": "cancelling"})
}

func (s *Server) handleGoalAudit(c echo.Context) error {
	goalID := c.Param("id")
	if _, ok := s.lookup(goalID); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "goal not found")
	}

	records := s.ledger.QueryGoal(goalID)
	return c.JSON(http.StatusOK, map[string]any{
		"goal_id": goalID,
		"records": records,
	})
}

func (s *Server) handleListApprovals(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"pending": s.approvals.Pending(),
	})
}

type resolveApprovalRequest struct {
	Verdict  string `json:"verdict"` // approve or deny
	Approver string `json:"approver"`
}

func (s *Server) handleResolveApproval(c echo.Context) error {
	var req resolveApprovalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var verdict guardrail.Verdict
	switch req.Verdict {
	case string(guardrail.VerdictApprove):
		verdict = guardrail.VerdictApprove
	case string(guardrail.VerdictDeny):
		verdict = guardrail.VerdictDeny
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "verdict must be approve or deny")
	}

	approver := req.Approver
	if approver == "" {
		approver = "api"
	}

	if !s.approvals.Resolve(c.Param("id"), verdict, approver) {
		return echo.NewHTTPError(http.StatusNotFound, "approval request not found or already resolved")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"request_id": c.Param("id"),
		"verdict":    req.Verdict,
	})
}

func (s *Server) lookup(goalID string) (*goalRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[goalID]
	return run, ok
}
