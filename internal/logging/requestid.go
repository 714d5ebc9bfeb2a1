package logging

import (
	"context"
	"encoding/hex"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type requestIDKey struct{}

const ginRequestIDKey = "codexgate.request_id"

// maxInboundRequestIDLen caps caller supplied ids so they stay readable in log lines.
const maxInboundRequestIDLen = 64

// NewRequestID returns an 8 character hex id taken from a random UUID.
func NewRequestID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}

// inboundRequestID accepts a caller supplied X-Request-Id made of letters, digits,
// dots, dashes and underscores. Anything else yields "".
func inboundRequestID(value string) string {
	if value == "" || len(value) > maxInboundRequestIDLen {
		return ""
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return ""
		}
	}
	return value
}

// WithRequestID attaches requestID to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the id attached by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithContext returns a log entry tagged with the request id carried by ctx.
// Use it for every log line emitted on behalf of an HTTP request or login attempt.
func WithContext(ctx context.Context) *log.Entry {
	if id := RequestIDFromContext(ctx); id != "" {
		return log.WithField("request_id", id)
	}
	return log.NewEntry(log.StandardLogger())
}

// GinRequestID returns the id GinLogrusLogger stored on c.
func GinRequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(ginRequestIDKey)
}
