package codex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T, auth *fakeAuthorizer, store *memStore) (*Manager, *fakeClock) {
	t.Helper()
	m := NewManager(ManagerOptions{Auth: auth, Store: store, CallbackPort: 0})
	clock := &fakeClock{}
	m.afterFunc = clock.afterFunc
	m.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, clock
}

func stateFromURL(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	return u.Query().Get("state")
}

func startAttempt(t *testing.T, m *Manager) string {
	t.Helper()
	authURL, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if got := m.Status().Status; got != StatusPending {
		t.Fatalf("status after Start = %s, want pending", got)
	}
	return stateFromURL(t, authURL)
}

func waitForListenerStopped(t *testing.T, m *Manager) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for m.Server().IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("callback listener still running")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func validTokens(t *testing.T) *TokenData {
	return &TokenData{
		IDToken:      fakeJWT(t, map[string]any{"chatgpt_account_id": "acct-1"}),
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresIn:    time.Hour,
	}
}

func TestManagerSuccessfulCallbackStoresOneCredential(t *testing.T) {
	auth := &fakeAuthorizer{tokens: validTokens(t)}
	store := &memStore{}
	m, clock := newTestManager(t, auth, store)

	state := startAttempt(t, m)
	outcome := m.HandleCallback(context.Background(), CallbackParams{Code: "code-1", State: state})
	if !outcome.Success() {
		t.Fatalf("expected success, got %v", outcome.Err)
	}
	if status := m.Status(); status.Status != StatusSuccess || status.Error != "" {
		t.Fatalf("unexpected status %+v", status)
	}
	data, saves := store.snapshot()
	if saves != 1 {
		t.Fatalf("saves = %d, want 1", saves)
	}
	cred, _ := ParseCredential(data)
	if cred == nil || cred.Access != "access-1" || cred.Refresh != "refresh-1" || cred.AccountID != "acct-1" {
		t.Fatalf("unexpected stored credential %s", data)
	}
	if !cred.Expires.Equal(time.Unix(1_700_000_000, 0).Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", cred.Expires)
	}
	if len(clock.active()) != 0 {
		t.Fatal("timer must be stopped on success")
	}
	waitForListenerStopped(t, m)

	// A replayed redirect finds nothing pending and writes nothing.
	outcome = m.HandleCallback(context.Background(), CallbackParams{Code: "code-1", State: state})
	if !errors.Is(outcome.Err, ErrNoPendingAuthorization) {
		t.Fatalf("expected no pending authorization, got %v", outcome.Err)
	}
	if _, saves = store.snapshot(); saves != 1 {
		t.Fatalf("saves = %d after replay, want 1", saves)
	}
	if m.Status().Status != StatusSuccess {
		t.Fatal("an unmatched redirect must not change the status")
	}
}

func TestManagerStateMismatchNeverExchanges(t *testing.T) {
	auth := &fakeAuthorizer{tokens: validTokens(t)}
	store := &memStore{}
	m, _ := newTestManager(t, auth, store)

	state := startAttempt(t, m)
	outcome := m.HandleCallback(context.Background(), CallbackParams{Code: "code", State: state + "x"})
	if !errors.Is(outcome.Err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", outcome.Err)
	}
	status := m.Status()
	if status.Status != StatusError || status.Error != "state mismatch: possible CSRF attack" {
		t.Fatalf("unexpected status %+v", status)
	}
	if exchanges, _ := auth.counts(); exchanges != 0 {
		t.Fatalf("token exchange called %d times on state mismatch", exchanges)
	}
	if data, _ := store.snapshot(); data != nil {
		t.Fatal("no credential may be written on state mismatch")
	}
}

func TestManagerCallbackErrors(t *testing.T) {
	cases := []struct {
		name    string
		params  func(state string) CallbackParams
		wantMsg string
	}{
		{
			name:    "provider error with description",
			params:  func(state string) CallbackParams { return CallbackParams{Error: "access_denied", ErrorDescription: "user said no", State: state} },
			wantMsg: "user said no",
		},
		{
			name:    "provider error code only",
			params:  func(state string) CallbackParams { return CallbackParams{Error: "access_denied", State: state} },
			wantMsg: "access_denied",
		},
		{
			name:    "missing code",
			params:  func(state string) CallbackParams { return CallbackParams{State: state} },
			wantMsg: "missing authorization code",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			auth := &fakeAuthorizer{tokens: validTokens(t)}
			m, clock := newTestManager(t, auth, &memStore{})
			state := startAttempt(t, m)

			outcome := m.HandleCallback(context.Background(), tc.params(state))
			if outcome.Success() {
				t.Fatal("expected failure")
			}
			status := m.Status()
			if status.Status != StatusError || status.Error != tc.wantMsg {
				t.Fatalf("status = %+v, want error %q", status, tc.wantMsg)
			}
			if exchanges, _ := auth.counts(); exchanges != 0 {
				t.Fatal("no exchange expected")
			}
			if len(clock.active()) != 0 {
				t.Fatal("timer must be stopped")
			}
			waitForListenerStopped(t, m)
		})
	}
}

func TestManagerExchangeFailure(t *testing.T) {
	auth := &fakeAuthorizer{err: fmt.Errorf("status 400: bad code")}
	store := &memStore{}
	m, _ := newTestManager(t, auth, store)

	state := startAttempt(t, m)
	outcome := m.HandleCallback(context.Background(), CallbackParams{Code: "code", State: state})
	if !errors.Is(outcome.Err, ErrCodeExchangeFailed) {
		t.Fatalf("expected ErrCodeExchangeFailed, got %v", outcome.Err)
	}
	status := m.Status()
	if status.Status != StatusError || !strings.Contains(status.Error, "bad code") {
		t.Fatalf("unexpected status %+v", status)
	}
	if data, _ := store.snapshot(); data != nil {
		t.Fatal("no credential may be written when the exchange fails")
	}
}

func TestManagerSaveFailure(t *testing.T) {
	auth := &fakeAuthorizer{tokens: validTokens(t)}
	store := &memStore{saveErr: errors.New("disk full")}
	m, _ := newTestManager(t, auth, store)

	state := startAttempt(t, m)
	outcome := m.HandleCallback(context.Background(), CallbackParams{Code: "code", State: state})
	if outcome.Success() {
		t.Fatal("expected failure")
	}
	status := m.Status()
	if status.Status != StatusError || !strings.Contains(status.Error, "disk full") {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestManagerTimeout(t *testing.T) {
	m, clock := newTestManager(t, &fakeAuthorizer{tokens: validTokens(t)}, &memStore{})
	startAttempt(t, m)

	active := clock.active()
	if len(active) != 1 {
		t.Fatalf("active timers = %d, want 1", len(active))
	}
	active[0].fire()

	status := m.Status()
	if status.Status != StatusError || status.Error != "authorization timed out" {
		t.Fatalf("unexpected status %+v", status)
	}
	waitForListenerStopped(t, m)
}

func TestManagerTimeoutWithRealTimer(t *testing.T) {
	m := NewManager(ManagerOptions{Auth: &fakeAuthorizer{tokens: validTokens(t)}, Store: &memStore{}, Timeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	if _, err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := m.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if status.Status != StatusError || status.Error != "authorization timed out" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestManagerRepeatedStartKeepsOneTimer(t *testing.T) {
	auth := &fakeAuthorizer{tokens: validTokens(t)}
	m, clock := newTestManager(t, auth, &memStore{})

	first := startAttempt(t, m)
	startAttempt(t, m)
	third := startAttempt(t, m)

	active := clock.active()
	if len(active) != 1 {
		t.Fatalf("active timers = %d, want 1", len(active))
	}

	// Stale timers firing late must not touch the current attempt.
	for _, timer := range clock.timers[:2] {
		timer.fire()
	}
	if m.Status().Status != StatusPending {
		t.Fatalf("stale timer changed status to %+v", m.Status())
	}

	// The superseded attempt's state no longer matches.
	outcome := m.HandleCallback(context.Background(), CallbackParams{Code: "code", State: first})
	if !errors.Is(outcome.Err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for superseded state, got %v", outcome.Err)
	}

	third2 := startAttempt(t, m)
	if third2 == third {
		t.Fatal("every attempt must get a fresh state")
	}
	if outcome = m.HandleCallback(context.Background(), CallbackParams{Code: "code", State: third2}); !outcome.Success() {
		t.Fatalf("expected success, got %v", outcome.Err)
	}
}

func TestManagerCancel(t *testing.T) {
	m, clock := newTestManager(t, &fakeAuthorizer{tokens: validTokens(t)}, &memStore{})

	m.Cancel()
	if m.Status().Status != StatusIdle {
		t.Fatal("Cancel with nothing pending must be a no-op")
	}

	startAttempt(t, m)
	m.Cancel()
	status := m.Status()
	if status.Status != StatusError || status.Error != "login cancelled" {
		t.Fatalf("unexpected status %+v", status)
	}
	if len(clock.active()) != 0 {
		t.Fatal("timer must be stopped on cancel")
	}
	waitForListenerStopped(t, m)
}

func TestManagerStartSupersedesInFlightExchange(t *testing.T) {
	auth := &fakeAuthorizer{tokens: validTokens(t), entered: make(chan struct{}, 1), release: make(chan struct{})}
	store := &memStore{}
	m, _ := newTestManager(t, auth, store)

	state := startAttempt(t, m)
	done := make(chan CallbackOutcome, 1)
	go func() {
		done <- m.HandleCallback(context.Background(), CallbackParams{Code: "code", State: state})
	}()
	<-auth.entered

	// A second redirect for the completing attempt is rejected.
	if outcome := m.HandleCallback(context.Background(), CallbackParams{Code: "code", State: state}); !errors.Is(outcome.Err, ErrNoPendingAuthorization) {
		t.Fatalf("expected duplicate redirect to be rejected, got %v", outcome.Err)
	}

	startAttempt(t, m)
	outcome := <-done
	if outcome.Success() {
		t.Fatal("superseded exchange must not succeed")
	}
	if m.Status().Status != StatusPending {
		t.Fatalf("new attempt should remain pending, got %+v", m.Status())
	}
	if data, _ := store.snapshot(); data != nil {
		t.Fatal("superseded exchange must not write a credential")
	}
}

func TestManagerDisconnectAndReport(t *testing.T) {
	store := &memStore{}
	m, _ := newTestManager(t, &fakeAuthorizer{tokens: validTokens(t)}, store)

	report, err := m.Report(context.Background())
	if err != nil {
		t.Fatalf("Report error: %v", err)
	}
	if report.Connected || report.Status != StatusIdle {
		t.Fatalf("unexpected initial report %+v", report)
	}

	state := startAttempt(t, m)
	if outcome := m.HandleCallback(context.Background(), CallbackParams{Code: "code", State: state}); !outcome.Success() {
		t.Fatalf("callback failed: %v", outcome.Err)
	}
	report, _ = m.Report(context.Background())
	if !report.Connected || report.AccountID != "acct-1" || report.Status != StatusSuccess {
		t.Fatalf("unexpected report %+v", report)
	}

	startAttempt(t, m)
	if err = m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect error: %v", err)
	}
	report, _ = m.Report(context.Background())
	if report.Connected || report.Status != StatusIdle {
		t.Fatalf("unexpected report after disconnect %+v", report)
	}
	waitForListenerStopped(t, m)
}

func TestManagerStartFailsWhenPortTaken(t *testing.T) {
	occupied, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = occupied.Close() }()
	port := occupied.Addr().(*net.TCPAddr).Port

	m := NewManager(ManagerOptions{Auth: &fakeAuthorizer{}, Store: &memStore{}, CallbackPort: port})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	if _, err = m.Start(context.Background()); !errors.Is(err, ErrPortInUse) {
		t.Fatalf("expected ErrPortInUse, got %v", err)
	}
	status := m.Status()
	if status.Status != StatusError || !strings.Contains(status.Error, "already in use") {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestCallbackListenerRoutes(t *testing.T) {
	auth := &fakeAuthorizer{tokens: validTokens(t)}
	m, _ := newTestManager(t, auth, &memStore{})
	state := startAttempt(t, m)
	base := "http://" + m.Server().Addr().String()

	resp, err := http.Get(base + "/unknown")
	if err != nil {
		t.Fatalf("GET unknown: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Post(base+CallbackPath, "text/plain", nil)
	if err != nil {
		t.Fatalf("POST callback: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST callback status = %d, want 405", resp.StatusCode)
	}

	resp, err = http.Get(base + CallbackPath + "?code=abc&state=" + url.QueryEscape(state))
	if err != nil {
		t.Fatalf("GET callback: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "Authentication Successful") {
		t.Fatalf("callback status = %d body = %s", resp.StatusCode, body)
	}
	if m.Status().Status != StatusSuccess {
		t.Fatalf("unexpected status %+v", m.Status())
	}
	auth.mu.Lock()
	codes := append([]string(nil), auth.codes...)
	auth.mu.Unlock()
	if len(codes) != 1 || codes[0] != "abc" {
		t.Fatalf("exchanged codes = %v", codes)
	}
	waitForListenerStopped(t, m)
}

func TestCallbackListenerCancelRoute(t *testing.T) {
	m, _ := newTestManager(t, &fakeAuthorizer{tokens: validTokens(t)}, &memStore{})
	startAttempt(t, m)

	resp, err := http.Get("http://" + m.Server().Addr().String() + CancelPath)
	if err != nil {
		t.Fatalf("GET cancel: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "cancelled") {
		t.Fatalf("cancel status = %d body = %s", resp.StatusCode, body)
	}
	if status := m.Status(); status.Error != "login cancelled" {
		t.Fatalf("unexpected status %+v", status)
	}
	waitForListenerStopped(t, m)
}

func TestCallbackListenerErrorPageEscapesMessage(t *testing.T) {
	m, _ := newTestManager(t, &fakeAuthorizer{tokens: validTokens(t)}, &memStore{})
	state := startAttempt(t, m)

	resp, err := http.Get("http://" + m.Server().Addr().String() + CallbackPath + "?state=" + url.QueryEscape(state) + "&error=x&error_description=" + url.QueryEscape("<script>"))
	if err != nil {
		t.Fatalf("GET callback: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if strings.Contains(string(body), "<script>") || !strings.Contains(string(body), "&lt;script&gt;") {
		t.Fatalf("message must be escaped: %s", body)
	}
}
