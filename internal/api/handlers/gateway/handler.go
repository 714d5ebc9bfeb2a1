// Package gateway provides the /v1 completion endpoint that forwards chat style
// requests to the Codex responses backend through the fallback executor.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/codexgate/internal/auth/codex"
	"github.com/router-for-me/codexgate/internal/logging"
	"github.com/router-for-me/codexgate/internal/runtime/executor"
)

// Completer produces the final text for one completion request.
type Completer interface {
	Complete(ctx context.Context, req executor.Request) (string, error)
}

// ErrorResponse is the OpenAI compatible error body.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failed request.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// CompletionResponse is the body of a successful completion.
type CompletionResponse struct {
	Text string `json:"text"`
}

// Handler serves POST /v1/complete.
type Handler struct {
	completer Completer
}

// NewHandler creates a completion handler backed by completer.
func NewHandler(completer Completer) *Handler {
	return &Handler{completer: completer}
}

// PostComplete decodes {model, messages, json}, runs the fallback chain and answers
// with {text}.
func (h *Handler) PostComplete(c *gin.Context) {
	if h == nil || h.completer == nil {
		writeError(c, http.StatusInternalServerError, "handler not initialized")
		return
	}

	var req executor.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Model = strings.TrimSpace(req.Model)

	text, err := h.completer.Complete(c.Request.Context(), req)
	if err != nil {
		status := statusForError(err)
		logging.WithContext(c.Request.Context()).Warnf("completion for model %q failed with %d: %v", req.Model, status, err)
		writeError(c, status, err.Error())
		return
	}
	c.JSON(http.StatusOK, CompletionResponse{Text: text})
}

// statusForError maps executor and credential failures to the HTTP status returned to
// the caller.
func statusForError(err error) int {
	switch {
	case executor.IsNotConnected(err), errors.Is(err, codex.ErrTokenRefreshFailed):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	if se, ok := errors.AsType[executor.StatusError](err); ok && se.Code >= http.StatusBadRequest && se.Code < 600 {
		return se.Code
	}
	return http.StatusBadGateway
}

func writeError(c *gin.Context, status int, message string) {
	errType := "invalid_request_error"
	var code string
	switch {
	case status == http.StatusUnauthorized:
		errType = "authentication_error"
		code = "not_connected"
	case status == http.StatusTooManyRequests:
		errType = "rate_limit_error"
		code = "rate_limit_exceeded"
	case status >= http.StatusInternalServerError:
		errType = "server_error"
		code = "upstream_error"
	}
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Message: message, Type: errType, Code: code}})
}
