package codex

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotConnected is returned when no credential has been stored yet.
var ErrNotConnected = errors.New("codex: not connected")

// OAuthError is an error payload returned by the issuer's token endpoint.
type OAuthError struct {
	// Code is the OAuth error code.
	Code string `json:"error"`
	// Description is a human-readable description of the error.
	Description string `json:"error_description,omitempty"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

// Error returns a string representation of the OAuth error.
func (e *OAuthError) Error() string {
	if e.Code == "" && e.Description != "" {
		return fmt.Sprintf("OAuth error (status %d): %s", e.StatusCode, e.Description)
	}
	if e.Description != "" {
		return fmt.Sprintf("OAuth error %s: %s", e.Code, e.Description)
	}
	if e.Code != "" {
		return fmt.Sprintf("OAuth error: %s", e.Code)
	}
	return fmt.Sprintf("OAuth error: status %d", e.StatusCode)
}

// AuthenticationError represents authentication-related errors.
type AuthenticationError struct {
	// Type is the type of authentication error.
	Type string `json:"type"`
	// Message is a human-readable message describing the error.
	Message string `json:"message"`
	// Code is the HTTP status code associated with the error.
	Code int `json:"code"`
	// Cause is the underlying error that caused this authentication error.
	Cause error `json:"-"`
}

// Error returns a string representation of the authentication error.
func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// Is matches authentication errors by type so wrapped copies compare equal to their base.
func (e *AuthenticationError) Is(target error) bool {
	t, ok := target.(*AuthenticationError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// Common authentication error types.
var (
	// ErrInvalidState is a state mismatch on the redirect, treated as a CSRF attempt.
	ErrInvalidState = &AuthenticationError{
		Type:    "invalid_state",
		Message: "state mismatch: possible CSRF attack",
		Code:    http.StatusBadRequest,
	}

	// ErrMissingCode represents a redirect without an authorization code.
	ErrMissingCode = &AuthenticationError{
		Type:    "missing_code",
		Message: "missing authorization code",
		Code:    http.StatusBadRequest,
	}

	// ErrProviderDenied represents a redirect carrying an error from the issuer.
	ErrProviderDenied = &AuthenticationError{
		Type:    "provider_denied",
		Message: "authorization denied by provider",
		Code:    http.StatusForbidden,
	}

	// ErrNoPendingAuthorization is reported for redirects that match no attempt.
	ErrNoPendingAuthorization = &AuthenticationError{
		Type:    "no_pending_authorization",
		Message: "no authorization in progress",
		Code:    http.StatusConflict,
	}

	// ErrCallbackTimeout represents an attempt whose deadline passed before the redirect.
	ErrCallbackTimeout = &AuthenticationError{
		Type:    "callback_timeout",
		Message: "authorization timed out",
		Code:    http.StatusRequestTimeout,
	}

	// ErrCancelled represents an attempt cancelled by the user.
	ErrCancelled = &AuthenticationError{
		Type:    "cancelled",
		Message: "login cancelled",
		Code:    http.StatusOK,
	}

	// ErrCodeExchangeFailed represents an error when exchanging authorization code for tokens fails.
	ErrCodeExchangeFailed = &AuthenticationError{
		Type:    "code_exchange_failed",
		Message: "failed to exchange authorization code for tokens",
		Code:    http.StatusBadGateway,
	}

	// ErrTokenRefreshFailed represents a failed refresh-token exchange.
	ErrTokenRefreshFailed = &AuthenticationError{
		Type:    "token_refresh_failed",
		Message: "failed to refresh access token",
		Code:    http.StatusUnauthorized,
	}

	// ErrServerStartFailed represents an error when starting the OAuth callback server fails.
	ErrServerStartFailed = &AuthenticationError{
		Type:    "server_start_failed",
		Message: "failed to start OAuth callback server",
		Code:    http.StatusInternalServerError,
	}

	// ErrPortInUse represents an error when the OAuth callback port is already in use.
	ErrPortInUse = &AuthenticationError{
		Type:    "port_in_use",
		Message: "OAuth callback port is already in use",
		Code:    13, // Special exit code for port-in-use
	}
)

// NewAuthenticationError creates a new authentication error with a cause based on a base error.
func NewAuthenticationError(baseErr *AuthenticationError, cause error) *AuthenticationError {
	return &AuthenticationError{
		Type:    baseErr.Type,
		Message: baseErr.Message,
		Code:    baseErr.Code,
		Cause:   cause,
	}
}

// IsAuthenticationError checks if an error is an authentication error.
func IsAuthenticationError(err error) bool {
	_, ok := errors.AsType[*AuthenticationError](err)
	return ok
}

// IsOAuthError checks if an error is an OAuth error.
func IsOAuthError(err error) bool {
	_, ok := errors.AsType[*OAuthError](err)
	return ok
}

// StatusMessage returns the text recorded in AuthStatus for an error.
// Authentication errors contribute their message and, for exchange failures, the cause.
func StatusMessage(err error) string {
	if err == nil {
		return ""
	}
	authErr, ok := errors.AsType[*AuthenticationError](err)
	if !ok {
		return err.Error()
	}
	switch authErr.Type {
	case ErrCodeExchangeFailed.Type, ErrTokenRefreshFailed.Type, ErrServerStartFailed.Type, ErrPortInUse.Type:
		if authErr.Cause != nil {
			return authErr.Message + ": " + authErr.Cause.Error()
		}
	case ErrProviderDenied.Type:
		if authErr.Cause != nil {
			return authErr.Cause.Error()
		}
	}
	return authErr.Message
}

// GetUserFriendlyMessage returns a user-friendly error message based on the error type.
func GetUserFriendlyMessage(err error) string {
	if authErr, ok := errors.AsType[*AuthenticationError](err); ok {
		switch authErr.Type {
		case ErrPortInUse.Type:
			return "The OAuth callback port is already in use. Close the application using it and try again."
		case ErrCallbackTimeout.Type:
			return "Authentication timed out. Please try again."
		case ErrInvalidState.Type:
			return "The login response did not match this attempt. Please start the login again."
		case ErrCancelled.Type:
			return "Login was cancelled."
		case ErrTokenRefreshFailed.Type:
			return "Your session could not be renewed. Please log in again."
		default:
			return "Authentication failed. Please try again."
		}
	}
	if oauthErr, ok := errors.AsType[*OAuthError](err); ok {
		switch oauthErr.Code {
		case "access_denied":
			return "Authentication was cancelled or denied."
		case "invalid_grant":
			return "The authorization has expired or was revoked. Please log in again."
		case "server_error":
			return "Authentication server error. Please try again later."
		default:
			return fmt.Sprintf("Authentication failed: %s", oauthErr.Error())
		}
	}
	if errors.Is(err, ErrNotConnected) {
		return "Not connected. Please log in first."
	}
	return "An unexpected error occurred. Please try again."
}
