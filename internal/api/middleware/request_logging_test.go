package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestShouldSkipMethodForRequestLogging(t *testing.T) {
	tests := []struct {
		name string
		req  *http.Request
		skip bool
	}{
		{
			name: "nil request",
			req:  nil,
			skip: true,
		},
		{
			name: "post request should not skip",
			req: &http.Request{
				Method: http.MethodPost,
				URL:    &url.URL{Path: "/v1/complete"},
			},
			skip: false,
		},
		{
			name: "plain get should skip",
			req: &http.Request{
				Method: http.MethodGet,
				URL:    &url.URL{Path: "/v1/models"},
				Header: http.Header{},
			},
			skip: true,
		},
		{
			name: "options should skip",
			req: &http.Request{
				Method: http.MethodOptions,
				URL:    &url.URL{Path: "/v1/complete"},
			},
			skip: true,
		},
	}

	for i := range tests {
		got := shouldSkipMethodForRequestLogging(tests[i].req)
		if got != tests[i].skip {
			t.Fatalf("%s: got skip=%t, want %t", tests[i].name, got, tests[i].skip)
		}
	}
}

func TestShouldCaptureRequestBody(t *testing.T) {
	tests := []struct {
		name string
		req  *http.Request
		want bool
	}{
		{
			name: "nil request",
			req:  nil,
			want: false,
		},
		{
			name: "small known size json",
			req: &http.Request{
				Body:          io.NopCloser(strings.NewReader("{}")),
				ContentLength: 2,
				Header:        http.Header{"Content-Type": []string{"application/json"}},
			},
			want: true,
		},
		{
			name: "large known size skipped",
			req: &http.Request{
				Body:          io.NopCloser(strings.NewReader("x")),
				ContentLength: maxCapturedRequestBodyBytes + 1,
				Header:        http.Header{"Content-Type": []string{"application/json"}},
			},
			want: false,
		},
		{
			name: "unknown size skipped",
			req: &http.Request{
				Body:          io.NopCloser(strings.NewReader("x")),
				ContentLength: -1,
				Header:        http.Header{"Content-Type": []string{"application/json"}},
			},
			want: false,
		},
		{
			name: "multipart skipped",
			req: &http.Request{
				Body:          io.NopCloser(strings.NewReader("x")),
				ContentLength: 1,
				Header:        http.Header{"Content-Type": []string{"multipart/form-data; boundary=abc"}},
			},
			want: false,
		},
	}

	for i := range tests {
		got := shouldCaptureRequestBody(tests[i].req)
		if got != tests[i].want {
			t.Fatalf("%s: got %t, want %t", tests[i].name, got, tests[i].want)
		}
	}
}

func TestShouldLogRequest(t *testing.T) {
	tests := map[string]bool{
		"/v1/complete":            true,
		"/v1/models":              true,
		"/v0/management/codex":    false,
		"/v0/management/callback": false,
		"/auth/callback":          false,
		"/":                       false,
	}
	for path, want := range tests {
		if got := shouldLogRequest(path); got != want {
			t.Fatalf("shouldLogRequest(%q) = %t, want %t", path, got, want)
		}
	}
}

func TestFormatHeadersMasksSecrets(t *testing.T) {
	headers := http.Header{
		"Authorization":    []string{"Bearer abcdefghijklmnop"},
		"X-Management-Key": []string{"supersecretkey"},
		"Content-Type":     []string{"application/json"},
	}
	got := formatHeaders(headers)
	if strings.Contains(got, "abcdefghijklmnop") || strings.Contains(got, "supersecretkey") {
		t.Fatalf("secrets leaked: %s", got)
	}
	want := "{Authorization=Bearer abcd...mnop Content-Type=application/json X-Management-Key=supe...tkey}"
	if got != want {
		t.Fatalf("formatHeaders = %q, want %q", got, want)
	}
	if formatHeaders(nil) != "{}" {
		t.Fatal("empty headers should format as {}")
	}
}

func TestRequestLoggingMiddlewarePreservesBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var seen string
	engine := gin.New()
	engine.Use(RequestLoggingMiddleware(func() bool { return true }))
	engine.POST("/v1/complete", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		seen = string(body)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/complete", strings.NewReader(`{"model":"m"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if seen != `{"model":"m"}` {
		t.Fatalf("handler saw body %q", seen)
	}
}
