// Package middleware provides HTTP middleware components for the codexgate API server.
// This file contains the request logging middleware that records gateway request
// metadata and a bounded body preview at debug level when enabled through configuration.
package middleware

import (
	"bytes"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/codexgate/internal/logging"
	"github.com/router-for-me/codexgate/internal/util"
	log "github.com/sirupsen/logrus"
)

const maxCapturedRequestBodyBytes int64 = 64 << 10 // 64 KiB

// RequestInfo is the captured view of one incoming request.
type RequestInfo struct {
	URL       string
	Method    string
	Headers   http.Header
	Body      []byte
	RequestID string
	Timestamp time.Time
}

// RequestLoggingMiddleware creates a Gin middleware that logs gateway requests when
// enabled reports true. enabled is consulted per request so configuration reloads
// take effect immediately.
func RequestLoggingMiddleware(enabled func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if enabled == nil || !enabled() {
			c.Next()
			return
		}
		if shouldSkipMethodForRequestLogging(c.Request) || !shouldLogRequest(c.Request.URL.Path) {
			c.Next()
			return
		}

		info, err := captureRequestInfo(c, shouldCaptureRequestBody(c.Request))
		if err != nil {
			log.Debugf("request logging: capture request failed: %v", err)
			c.Next()
			return
		}

		c.Next()

		logging.WithContext(c.Request.Context()).WithFields(log.Fields{
			"status": c.Writer.Status(),
		}).Debugf("%s %s headers=%s body=%s (%s)",
			info.Method, info.URL, formatHeaders(info.Headers), previewBody(info.Body), time.Since(info.Timestamp).Truncate(time.Millisecond))
	}
}

func shouldSkipMethodForRequestLogging(req *http.Request) bool {
	if req == nil {
		return true
	}
	return req.Method == http.MethodGet || req.Method == http.MethodHead || req.Method == http.MethodOptions
}

func shouldCaptureRequestBody(req *http.Request) bool {
	if req == nil || req.Body == nil {
		return false
	}
	contentType := strings.ToLower(strings.TrimSpace(req.Header.Get("Content-Type")))
	if strings.HasPrefix(contentType, "multipart/form-data") {
		return false
	}
	if req.ContentLength <= 0 {
		return false
	}
	return req.ContentLength <= maxCapturedRequestBodyBytes
}

// captureRequestInfo extracts relevant information from the incoming HTTP request.
// The request body is read and then restored so that subsequent handlers can process it.
func captureRequestInfo(c *gin.Context, captureBody bool) (*RequestInfo, error) {
	maskedQuery := util.MaskSensitiveQuery(c.Request.URL.RawQuery)
	url := c.Request.URL.Path
	if maskedQuery != "" {
		url += "?" + maskedQuery
	}

	var body []byte
	if captureBody && c.Request.Body != nil {
		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, err
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		body = bodyBytes
	}

	return &RequestInfo{
		URL:       url,
		Method:    c.Request.Method,
		Headers:   c.Request.Header.Clone(),
		Body:      body,
		RequestID: logging.GinRequestID(c),
		Timestamp: time.Now(),
	}, nil
}

// shouldLogRequest keeps management endpoints out of the log so OAuth codes and
// keys never reach it.
func shouldLogRequest(path string) bool {
	if strings.HasPrefix(path, "/v0/management") {
		return false
	}
	return strings.HasPrefix(path, "/v1/")
}

func formatHeaders(headers http.Header) string {
	if len(headers) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(headers))
	for _, key := range slices.Sorted(maps.Keys(headers)) {
		value := strings.Join(headers[key], ",")
		switch strings.ToLower(key) {
		case "authorization":
			value = util.MaskAuthorizationHeader(value)
		case "x-management-key", "cookie":
			value = util.HideAPIKey(value)
		}
		parts = append(parts, key+"="+value)
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func previewBody(body []byte) string {
	const limit = 512
	if len(body) == 0 {
		return "<empty>"
	}
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
