// Package management provides the management API handlers that drive the Codex
// authorization flow: starting and cancelling a login, relaying a redirect pasted by
// the user, reporting status and disconnecting the stored credential.
package management

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/codexgate/internal/auth/codex"
	"github.com/router-for-me/codexgate/internal/logging"
)

// OAuthFlow is the part of codex.Manager the handlers drive.
type OAuthFlow interface {
	Start(ctx context.Context) (string, error)
	Cancel()
	HandleCallback(ctx context.Context, params codex.CallbackParams) codex.CallbackOutcome
	Disconnect(ctx context.Context) error
	Report(ctx context.Context) (codex.StatusReport, error)
}

// Handler serves the /v0/management endpoints.
type Handler struct {
	flow OAuthFlow
}

// NewHandler creates a management handler for flow.
func NewHandler(flow OAuthFlow) *Handler {
	return &Handler{flow: flow}
}

func (h *Handler) ready(c *gin.Context) bool {
	if h == nil || h.flow == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "handler not initialized"})
		return false
	}
	return true
}

// GetCodexStatus reports the flow status and whether a credential is stored.
func (h *Handler) GetCodexStatus(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	report, err := h.flow.Report(c.Request.Context())
	if err != nil {
		logging.WithContext(c.Request.Context()).Errorf("codex status: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// PostCodexLogin starts a new authorization attempt and returns the URL to visit.
func (h *Handler) PostCodexLogin(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	authURL, err := h.flow.Start(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, codex.ErrPortInUse) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"status": "error", "error": codex.StatusMessage(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": codex.StatusPending, "url": authURL})
}

// PostCodexCancel cancels the pending attempt, if any.
func (h *Handler) PostCodexCancel(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	h.flow.Cancel()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type oauthCallbackRequest struct {
	RedirectURL      string `json:"redirect_url"`
	Code             string `json:"code"`
	State            string `json:"state"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// PostOAuthCallback relays a redirect for deployments where the browser cannot reach
// the local callback listener. It accepts either the full redirect URL or its fields.
func (h *Handler) PostOAuthCallback(c *gin.Context) {
	if !h.ready(c) {
		return
	}

	var req oauthCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid body"})
		return
	}

	var params codex.CallbackParams
	if rawRedirect := strings.TrimSpace(req.RedirectURL); rawRedirect != "" {
		parsed, errParse := codex.ParseRedirectURL(rawRedirect)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": errParse.Error()})
			return
		}
		params = parsed
	} else {
		params = codex.CallbackParams{
			Code:             strings.TrimSpace(req.Code),
			State:            strings.TrimSpace(req.State),
			Error:            strings.TrimSpace(req.Error),
			ErrorDescription: strings.TrimSpace(req.ErrorDescription),
		}
		if params.Code == "" && params.Error == "" && params.ErrorDescription == "" {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "code or error is required"})
			return
		}
	}

	outcome := h.flow.HandleCallback(c.Request.Context(), params)
	if !outcome.Success() {
		c.JSON(callbackStatus(outcome.Err), gin.H{"status": "error", "error": outcome.Message()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// DeleteCodex discards any pending attempt and deletes the stored credential.
func (h *Handler) DeleteCodex(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	if err := h.flow.Disconnect(c.Request.Context()); err != nil {
		logging.WithContext(c.Request.Context()).Errorf("codex disconnect: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// callbackStatus maps a failed redirect to an HTTP status. Authentication errors carry
// their own code; anything else is a server side failure.
func callbackStatus(err error) int {
	authErr, ok := errors.AsType[*codex.AuthenticationError](err)
	if !ok {
		return http.StatusInternalServerError
	}
	if authErr.Code >= http.StatusBadRequest && authErr.Code < 600 {
		return authErr.Code
	}
	return http.StatusBadRequest
}
