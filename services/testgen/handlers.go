// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package testgen

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/RoraAI/RoraEngine/services/testgen/coordinator"
	"github.com/RoraAI/RoraEngine/services/testgen/generate"
	"github.com/RoraAI/RoraEngine/services/testgen/pyast"
	"github.com/RoraAI/RoraEngine/services/testgen/registry"
	"github.com/RoraAI/RoraEngine/services/testgen/results"
	"github.com/RoraAI/RoraEngine/services/testgen/runner"
)

// ErrorResponse is the uniform error body for every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeFunctionNotFound    = "FUNCTION_NOT_FOUND"
	CodeBindingNotFound     = "BINDING_NOT_FOUND"
	CodeOperationInProgress = "OPERATION_IN_PROGRESS"
	CodeGenerationFailed    = "GENERATION_FAILED"
	CodeExecutionFailed     = "EXECUTION_FAILED"
	CodeExecutionTimeout    = "EXECUTION_TIMEOUT"
	CodeInvalidSyntax       = "INVALID_SYNTAX"
	CodeNotQueued           = "NOT_QUEUED"
	CodeShuttingDown        = "SHUTTING_DOWN"
	CodeInternal            = "INTERNAL_ERROR"
)

var pythonIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// python_ident rejects function names that cannot be Python identifiers
// before they reach the pipeline (and the shell arguments of the runner).
func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("python_ident", func(fl validator.FieldLevel) bool {
			return pythonIdentRe.MatchString(fl.Field().String())
		})
	}
}

// Handlers exposes the service over HTTP.
type Handlers struct {
	service *Service
	logger  *slog.Logger
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(service *Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, logger: logger}
}

func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

// writeError maps pipeline errors onto HTTP status codes and the uniform
// error body.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, coordinator.ErrOperationInProgress):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: CodeOperationInProgress})
	case errors.Is(err, coordinator.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: CodeShuttingDown})
	case errors.Is(err, coordinator.ErrNotQueued):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: CodeNotQueued})
	case errors.Is(err, ErrFunctionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: CodeFunctionNotFound})
	case errors.Is(err, ErrNoBinding):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: CodeBindingNotFound})
	case errors.Is(err, generate.ErrGenerationFailed):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: CodeGenerationFailed})
	case errors.Is(err, runner.ErrExecutionTimeout):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: err.Error(), Code: CodeExecutionTimeout})
	case errors.Is(err, runner.ErrExecutionFailed), errors.Is(err, runner.ErrTestFileMissing):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: CodeExecutionFailed})
	case errors.Is(err, pyast.ErrInvalidSyntax), errors.Is(err, pyast.ErrInvalidContent), errors.Is(err, pyast.ErrFileTooLarge):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: CodeInvalidSyntax})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: CodeInternal})
	}
}

// =============================================================================
// Request / Response bodies
// =============================================================================

// GenerateRequest is the body of POST /v1/testgen/generate.
type GenerateRequest struct {
	SourceFile   string `json:"source_file" binding:"required"`
	FunctionName string `json:"function_name" binding:"required,python_ident"`
	Regenerate   bool   `json:"regenerate"`
}

// GenerateResponse reports a completed generation.
type GenerateResponse struct {
	RequestID string           `json:"request_id"`
	Binding   registry.Binding `json:"binding"`
}

// RunRequest is the body of POST /v1/testgen/run.
type RunRequest struct {
	SourceFile   string `json:"source_file" binding:"required"`
	FunctionName string `json:"function_name" binding:"required,python_ident"`
}

// RunResponse reports a completed run, including the binding generated on
// the fly when none existed yet.
type RunResponse struct {
	RequestID string            `json:"request_id"`
	Generated *registry.Binding `json:"generated,omitempty"`
	Report    *results.Report   `json:"report"`
	Summary   []string          `json:"summary"`
}

// ParseRequest is the body of POST /v1/testgen/parse.
type ParseRequest struct {
	FilePath string `json:"file_path" binding:"required"`
}

// StatusResponse describes one function's binding and operation state.
type StatusResponse struct {
	State   coordinator.State `json:"state"`
	Binding *registry.Binding `json:"binding,omitempty"`
}

// HealthResponse is the GET /v1/testgen/health body.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Bindings      int    `json:"bindings"`
}

// =============================================================================
// Handlers
// =============================================================================

// HandleGenerate handles POST /v1/testgen/generate.
//
// Description:
//
//	Submits a generation request and waits for it to complete. The wait is
//	bounded by the HTTP request context; an editor that disconnects leaves
//	the operation running, it does not cancel it.
//
// Response:
//
//	200 OK: GenerateResponse
//	404 Not Found: Function missing from the source file
//	409 Conflict: An operation for this function is already in flight
//	422 Unprocessable Entity: Generation exhausted its retry budget
func (h *Handlers) HandleGenerate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleGenerate")

	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest})
		return
	}

	ticket, err := h.service.SubmitGenerate(req.SourceFile, req.FunctionName, req.Regenerate)
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := ticket.Wait(c.Request.Context())
	if err != nil {
		// Client went away; the operation keeps running.
		logger.Warn("client disconnected while generating",
			slog.String("function", req.FunctionName))
		c.Status(http.StatusRequestTimeout)
		return
	}
	if res.Err != nil {
		writeError(c, res.Err)
		return
	}

	c.JSON(http.StatusOK, GenerateResponse{
		RequestID: ticket.Request.ID.String(),
		Binding:   res.Generate.Binding,
	})
}

// HandleRun handles POST /v1/testgen/run.
//
// Description:
//
//	Submits a run request and waits for the mapped report. When no binding
//	exists the coordinator generates one first; the response carries the
//	fresh binding alongside the report.
func (h *Handlers) HandleRun(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleRun")

	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest})
		return
	}

	ticket, err := h.service.SubmitRun(req.SourceFile, req.FunctionName)
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := ticket.Wait(c.Request.Context())
	if err != nil {
		logger.Warn("client disconnected while running",
			slog.String("function", req.FunctionName))
		c.Status(http.StatusRequestTimeout)
		return
	}
	if res.Err != nil {
		writeError(c, res.Err)
		return
	}

	resp := RunResponse{
		RequestID: ticket.Request.ID.String(),
		Report:    res.Run.Report,
	}
	if res.Generate != nil {
		b := res.Generate.Binding
		resp.Generated = &b
	}
	for _, u := range res.Run.Report.Updates {
		resp.Summary = append(resp.Summary, u.FunctionName+": "+u.Ratio())
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDeleteBinding handles DELETE /v1/testgen/binding.
//
// Query Parameters:
//
//	source_file: Source file path (required)
//	function_name: Function name (required)
func (h *Handlers) HandleDeleteBinding(c *gin.Context) {
	sourceFile := c.Query("source_file")
	functionName := c.Query("function_name")
	if sourceFile == "" || functionName == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "source_file and function_name parameters are required",
			Code:  CodeInvalidRequest,
		})
		return
	}

	if !h.service.RemoveBinding(sourceFile, functionName) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "no binding registered for " + registry.Key(sourceFile, functionName),
			Code:  CodeBindingNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": registry.Key(sourceFile, functionName)})
}

// HandleStatus handles GET /v1/testgen/status.
func (h *Handlers) HandleStatus(c *gin.Context) {
	sourceFile := c.Query("source_file")
	functionName := c.Query("function_name")
	if sourceFile == "" || functionName == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "source_file and function_name parameters are required",
			Code:  CodeInvalidRequest,
		})
		return
	}

	resp := StatusResponse{State: h.service.StateOf(sourceFile, functionName)}
	if b, ok := h.service.Binding(sourceFile, functionName); ok {
		resp.Binding = &b
	}
	c.JSON(http.StatusOK, resp)
}

// HandleQueue handles GET /v1/testgen/queue.
func (h *Handlers) HandleQueue(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.QueueSnapshot())
}

// HandleCancel handles DELETE /v1/testgen/queue/:id. Only queued requests
// can be cancelled; the active operation always runs to completion.
func (h *Handlers) HandleCancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request id", Code: CodeInvalidRequest})
		return
	}
	if err := h.service.CancelQueued(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": id.String()})
}

// HandleParse handles POST /v1/testgen/parse.
//
// Description:
//
//	Returns the function inventory of a Python file for the editor's
//	code-lens layer. A file with syntax errors still yields the functions
//	found before the first error, plus the error description.
func (h *Handlers) HandleParse(c *gin.Context) {
	var req ParseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest})
		return
	}

	parsed, err := h.service.ParseFile(c.Request.Context(), req.FilePath)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, parsed)
}

// HandleBindings handles GET /v1/testgen/bindings.
func (h *Handlers) HandleBindings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bindings": h.service.Bindings()})
}

// HandleEvents handles GET /v1/testgen/events: a websocket stream of
// operation state transitions.
func (h *Handlers) HandleEvents(c *gin.Context) {
	h.service.Hub().ServeWS(c.Writer, c.Request)
}

// HandleHealth handles GET /v1/testgen/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.service.StartedAt()).Seconds()),
		Bindings:      len(h.service.Bindings()),
	})
}
