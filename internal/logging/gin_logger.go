// Package logging configures the process-wide logrus logger and provides Gin middleware
// for request logging, request ID propagation and panic recovery.
package logging

import (
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/codexgate/internal/util"
	log "github.com/sirupsen/logrus"
)

// RequestIDHeader carries the request id. A well formed inbound value is reused,
// and the id in effect is always echoed on the response.
const RequestIDHeader = "X-Request-Id"

const skipGinLogKey = "codexgate.skip_request_log"

// routeArea names the API surface a path belongs to. Only these areas get request ids.
func routeArea(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/"):
		return "gateway"
	case strings.HasPrefix(path, "/v0/management/"):
		return "management"
	default:
		return ""
	}
}

// GinLogrusLogger logs one line per request with status, latency and the direct peer
// address. Gateway and management requests get a request id on their context.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		area := routeArea(c.Request.URL.Path)

		requestID := "--------"
		if area != "" {
			requestID = inboundRequestID(c.GetHeader(RequestIDHeader))
			if requestID == "" {
				requestID = NewRequestID()
			}
			c.Set(ginRequestIDKey, requestID)
			c.Header(RequestIDHeader, requestID)
			c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))
		}

		c.Next()

		if skip, _ := c.Get(skipGinLogKey); skip == true {
			return
		}

		target := c.Request.URL.Path
		if query := util.MaskSensitiveQuery(c.Request.URL.RawQuery); query != "" {
			target += "?" + query
		}
		status := c.Writer.Status()
		fields := log.Fields{
			"request_id": requestID,
			"status":     status,
		}
		if area != "" {
			fields["area"] = area
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			fields["error"] = strings.TrimSpace(errs)
		}
		entry := log.WithFields(fields)
		line := c.Request.Method + " " + target + " from " + c.RemoteIP() + " in " + roundLatency(time.Since(start)).String()

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(line)
		case status >= http.StatusBadRequest:
			entry.Warn(line)
		default:
			entry.Info(line)
		}
	}
}

func roundLatency(d time.Duration) time.Duration {
	if d > time.Minute {
		return d.Truncate(time.Second)
	}
	return d.Truncate(time.Millisecond)
}

// GinLogrusRecovery turns handler panics into a logged stack and a 500 JSON body.
// http.ErrAbortHandler is re-raised so net/http aborts the connection quietly.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			panic(http.ErrAbortHandler)
		}

		WithContext(c.Request.Context()).WithFields(log.Fields{
			"panic": recovered,
			"stack": string(debug.Stack()),
		}).Errorf("recovered from panic in %s %s", c.Request.Method, c.Request.URL.Path)

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal server error"})
	})
}

// SkipGinRequestLogging suppresses the GinLogrusLogger line for c, e.g. for health probes.
func SkipGinRequestLogging(c *gin.Context) {
	if c != nil {
		c.Set(skipGinLogKey, true)
	}
}
