package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/ptyd/internal/providers/terminal"
	"github.com/GriffinCanCode/ptyd/internal/service"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error       string `json:"error"`
	Code        string `json:"code"`
	ExitCode    *int   `json:"exit_code,omitempty"`
	Signal      string `json:"signal,omitempty"`
	Reason      string `json:"reason,omitempty"`
	FinalOutput string `json:"final_output,omitempty"`
}

// StatusFor maps an error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, terminal.ErrSessionNotFound), errors.Is(err, service.ErrServiceNotFound):
		return http.StatusNotFound
	case errors.Is(err, terminal.ErrSessionTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, terminal.ErrSessionTerminated):
		return http.StatusGone
	case errors.Is(err, terminal.ErrInvalidKey),
		errors.Is(err, terminal.ErrInvalidConfig),
		errors.Is(err, service.ErrInvalidToolID):
		return http.StatusBadRequest
	case errors.Is(err, terminal.ErrInvalidCommand):
		return http.StatusUnprocessableEntity
	case errors.Is(err, terminal.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, terminal.ErrResourceLimit):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// codeFor extends terminal.Code with the registry's own errors.
func codeFor(err error) string {
	switch {
	case errors.Is(err, service.ErrServiceNotFound):
		return "service_not_found"
	case errors.Is(err, service.ErrInvalidToolID):
		return "invalid_tool_id"
	}
	return terminal.Code(err)
}

// NewErrorResponse builds the body for err. Terminated sessions carry their
// exit status and the tail of their output.
func NewErrorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error(), Code: codeFor(err)}

	var te *terminal.TerminatedError
	if errors.As(err, &te) {
		resp.Reason = string(te.Reason)
		resp.FinalOutput = te.FinalOutput
		if te.Exit != nil {
			code := te.Exit.Code
			resp.ExitCode = &code
			resp.Signal = te.Exit.Signal
		}
	}
	return resp
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(StatusFor(err), NewErrorResponse(err))
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "bad_request"})
}
