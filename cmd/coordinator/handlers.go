package main

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowcore/internal/workflow"
)

// API binds the run actor's inbound RPCs (§6) onto echo routes.
type API struct {
	registry *Registry
	logger   interface {
		Error(msg string, args ...any)
	}
}

func NewAPI(registry *Registry, logger interface {
	Error(msg string, args ...any)
}) *API {
	return &API{registry: registry, logger: logger}
}

func (a *API) Register(e *echo.Echo) {
	g := e.Group("/runs/:run_id")
	g.POST("/start", a.start)
	g.POST("/task-result", a.taskResult)
	g.POST("/subworkflow-result", a.subworkflowResult)
	g.POST("/timeout-alarm", a.timeoutAlarm)
	g.POST("/cancel", a.cancel)
}

type startRequest struct {
	Input map[string]interface{} `json:"input"`
}

func (a *API) start(c echo.Context) error {
	runID := c.Param("run_id")
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	r, err := a.registry.GetOrCreate(c.Request().Context(), runID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err := r.Start(c.Request().Context(), req.Input); err != nil {
		return a.fail(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

type taskErrorPayload struct {
	Type      string `json:"type"`
	StepRef   string `json:"step_ref,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type outcomePayload struct {
	Success    bool                   `json:"success"`
	OutputData map[string]interface{} `json:"output_data,omitempty"`
	Error      *taskErrorPayload      `json:"error,omitempty"`
}

func (o outcomePayload) toDomain() *workflow.TaskOutcome {
	out := &workflow.TaskOutcome{Success: o.Success, Output: o.OutputData}
	if o.Error != nil {
		out.Error = &workflow.TaskError{
			Type: o.Error.Type, StepRef: o.Error.StepRef,
			Message: o.Error.Message, Retryable: o.Error.Retryable,
		}
	}
	return out
}

type taskResultRequest struct {
	TokenID string         `json:"token_id"`
	Outcome outcomePayload `json:"outcome"`
}

func (a *API) taskResult(c echo.Context) error {
	var req taskResultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	r, ok := a.registry.Get(c.Param("run_id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not active on this coordinator")
	}
	if err := r.OnTaskResult(c.Request().Context(), req.TokenID, req.Outcome.toDomain()); err != nil {
		return a.fail(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

type subworkflowResultRequest struct {
	SubworkflowRunID string         `json:"subworkflow_run_id"`
	Outcome          outcomePayload `json:"outcome"`
}

func (a *API) subworkflowResult(c echo.Context) error {
	var req subworkflowResultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	r, ok := a.registry.Get(c.Param("run_id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not active on this coordinator")
	}
	if err := r.OnSubworkflowResult(c.Request().Context(), req.SubworkflowRunID, req.Outcome.toDomain()); err != nil {
		return a.fail(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (a *API) timeoutAlarm(c echo.Context) error {
	r, ok := a.registry.Get(c.Param("run_id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not active on this coordinator")
	}
	if err := r.OnTimeoutAlarm(c.Request().Context()); err != nil {
		return a.fail(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (a *API) cancel(c echo.Context) error {
	var req cancelRequest
	_ = c.Bind(&req) // reason is optional; an empty body is fine

	r, ok := a.registry.Get(c.Param("run_id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not active on this coordinator")
	}
	if err := r.Cancel(c.Request().Context(), req.Reason); err != nil {
		return a.fail(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (a *API) fail(c echo.Context, err error) error {
	a.logger.Error("run entry point failed", "run_id", c.Param("run_id"), "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
