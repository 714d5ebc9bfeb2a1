package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/codexgate/internal/logging"
)

// ManagementKeyHeader carries the management key when Authorization is taken.
const ManagementKeyHeader = "X-Management-Key"

// AccessPolicy is the access configuration consulted for each request.
type AccessPolicy struct {
	// Key is the management key. Empty disables the key check for loopback clients.
	Key string
	// AllowRemote admits non-loopback clients. It only applies when Key is set.
	AllowRemote bool
}

// ManagementKeyMiddleware guards routes that act on the stored credential.
// Loopback clients must present Key when one is set, either as a Bearer token or in
// X-Management-Key. Other clients are refused with 403 unless AllowRemote is on and
// a key is configured, in which case they must present it too.
// policy is read per request so configuration reloads take effect immediately.
func ManagementKeyMiddleware(policy func() AccessPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		var current AccessPolicy
		if policy != nil {
			current = policy()
		}
		expected := strings.TrimSpace(current.Key)

		if !isLoopbackPeer(c) && (!current.AllowRemote || expected == "") {
			logging.WithContext(c.Request.Context()).Warnf("rejected remote request from %s to %s: remote management disabled", c.RemoteIP(), c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"status": "error", "error": "remote management disabled"})
			return
		}
		if expected == "" {
			c.Next()
			return
		}

		provided := presentedKey(c.Request)
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			logging.WithContext(c.Request.Context()).Warnf("rejected request to %s: invalid management key", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "invalid management key"})
			return
		}
		c.Next()
	}
}

// isLoopbackPeer checks the direct peer address. Forwarding headers are ignored.
func isLoopbackPeer(c *gin.Context) bool {
	ip := net.ParseIP(c.RemoteIP())
	return ip != nil && ip.IsLoopback()
}

func presentedKey(req *http.Request) string {
	if v := strings.TrimSpace(req.Header.Get(ManagementKeyHeader)); v != "" {
		return v
	}
	auth := strings.TrimSpace(req.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
