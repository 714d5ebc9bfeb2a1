package codex

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseRedirectURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    CallbackParams
		wantErr bool
	}{
		{in: "http://localhost:1455/auth/callback?code=abc&state=xyz", want: CallbackParams{Code: "abc", State: "xyz"}},
		{in: "localhost:1455/auth/callback?code=abc&state=xyz", want: CallbackParams{Code: "abc", State: "xyz"}},
		{in: "?code=abc&state=xyz", want: CallbackParams{Code: "abc", State: "xyz"}},
		{in: "code=abc&state=xyz", want: CallbackParams{Code: "abc", State: "xyz"}},
		{in: "http://localhost/cb#code=abc&state=xyz", want: CallbackParams{Code: "abc", State: "xyz"}},
		{in: "http://localhost/cb?error=access_denied&error_description=nope&state=s", want: CallbackParams{Error: "access_denied", ErrorDescription: "nope", State: "s"}},
		{in: "", wantErr: true},
		{in: "garbage", wantErr: true},
		{in: "http://localhost/cb?state=only", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseRedirectURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseRedirectURL(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseRedirectURL(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseRedirectURL(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestStatusMessage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: ErrInvalidState, want: "state mismatch: possible CSRF attack"},
		{err: ErrCancelled, want: "login cancelled"},
		{err: NewAuthenticationError(ErrProviderDenied, errors.New("access_denied")), want: "access_denied"},
		{err: NewAuthenticationError(ErrCodeExchangeFailed, errors.New("status 400")), want: "failed to exchange authorization code for tokens: status 400"},
		{err: fmt.Errorf("wrapped: %w", ErrCallbackTimeout), want: "authorization timed out"},
		{err: errors.New("plain"), want: "plain"},
	}
	for _, tc := range cases {
		if got := StatusMessage(tc.err); got != tc.want {
			t.Fatalf("StatusMessage(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestAuthenticationErrorMatchesBaseByType(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("outer: %w", NewAuthenticationError(ErrTokenRefreshFailed, ErrNotConnected))
	if !errors.Is(err, ErrTokenRefreshFailed) {
		t.Fatal("wrapped copy should match its base")
	}
	if errors.Is(err, ErrCodeExchangeFailed) {
		t.Fatal("different types must not match")
	}
	if !errors.Is(err, ErrNotConnected) {
		t.Fatal("cause should be reachable")
	}
	if GetUserFriendlyMessage(err) != "Your session could not be renewed. Please log in again." {
		t.Fatalf("unexpected friendly message %q", GetUserFriendlyMessage(err))
	}
}
