package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestManagementKeyMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	const (
		local  = "127.0.0.1:5555"
		remote = "203.0.113.7:5555"
	)

	tests := []struct {
		name    string
		policy  AccessPolicy
		remote  string
		headers map[string]string
		want    int
	}{
		{name: "loopback without key", remote: local, want: http.StatusOK},
		{name: "ipv6 loopback without key", remote: "[::1]:5555", want: http.StatusOK},
		{name: "missing key", policy: AccessPolicy{Key: "secret"}, remote: local, want: http.StatusUnauthorized},
		{name: "bearer key", policy: AccessPolicy{Key: "secret"}, remote: local, headers: map[string]string{"Authorization": "Bearer secret"}, want: http.StatusOK},
		{name: "lowercase bearer", policy: AccessPolicy{Key: "secret"}, remote: local, headers: map[string]string{"Authorization": "bearer secret"}, want: http.StatusOK},
		{name: "header key", policy: AccessPolicy{Key: "secret"}, remote: local, headers: map[string]string{ManagementKeyHeader: "secret"}, want: http.StatusOK},
		{name: "wrong key", policy: AccessPolicy{Key: "secret"}, remote: local, headers: map[string]string{ManagementKeyHeader: "nope"}, want: http.StatusUnauthorized},
		{name: "basic auth ignored", policy: AccessPolicy{Key: "secret"}, remote: local, headers: map[string]string{"Authorization": "Basic secret"}, want: http.StatusUnauthorized},
		{name: "remote without key", remote: remote, want: http.StatusForbidden},
		{name: "remote allowed but no key", policy: AccessPolicy{AllowRemote: true}, remote: remote, want: http.StatusForbidden},
		{name: "remote not allowed with key", policy: AccessPolicy{Key: "secret"}, remote: remote, headers: map[string]string{ManagementKeyHeader: "secret"}, want: http.StatusForbidden},
		{name: "remote allowed with key", policy: AccessPolicy{Key: "secret", AllowRemote: true}, remote: remote, headers: map[string]string{ManagementKeyHeader: "secret"}, want: http.StatusOK},
		{name: "remote allowed wrong key", policy: AccessPolicy{Key: "secret", AllowRemote: true}, remote: remote, headers: map[string]string{ManagementKeyHeader: "nope"}, want: http.StatusUnauthorized},
		{name: "forwarded loopback ignored", remote: remote, headers: map[string]string{"X-Forwarded-For": "127.0.0.1"}, want: http.StatusForbidden},
	}

	for _, tc := range tests {
		policy := tc.policy
		engine := gin.New()
		engine.Use(ManagementKeyMiddleware(func() AccessPolicy { return policy }))
		engine.GET("/v0/management/codex/status", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/v0/management/codex/status", nil)
		req.RemoteAddr = tc.remote
		for k, v := range tc.headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}
