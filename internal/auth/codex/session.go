package codex

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/router-for-me/codexgate/internal/logging"
	log "github.com/sirupsen/logrus"
)

// AuthState is the observable state of the authorization flow.
type AuthState string

const (
	StatusIdle    AuthState = "idle"
	StatusPending AuthState = "pending"
	StatusSuccess AuthState = "success"
	StatusError   AuthState = "error"
)

// Terminal reports whether the state ends an attempt.
func (s AuthState) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// AuthStatus is the flow status as seen by observers.
type AuthStatus struct {
	Status AuthState `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// StatusReport combines the flow status with the stored credential summary.
type StatusReport struct {
	AuthStatus
	Connected bool   `json:"connected"`
	AccountID string `json:"account_id,omitempty"`
}

// CallbackOutcome is the result of handling one redirect.
type CallbackOutcome struct {
	Err error
}

// Success reports whether the redirect completed the attempt.
func (o CallbackOutcome) Success() bool {
	return o.Err == nil
}

// Message is the human readable result shown on the callback page.
func (o CallbackOutcome) Message() string {
	if o.Err == nil {
		return "authentication successful"
	}
	return StatusMessage(o.Err)
}

// Authorizer builds authorization URLs and exchanges their codes.
type Authorizer interface {
	TokenExchanger
	GenerateAuthURL(state string, pkceCodes *PKCECodes) (string, error)
}

type stopper interface {
	Stop() bool
}

type session struct {
	pkce  *PKCECodes
	state string
	timer stopper
	// cancel aborts the in-flight token exchange, if any.
	cancel context.CancelFunc
	// completing is set once a valid redirect detached the session from its timer.
	completing bool
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Auth  Authorizer
	Store CredentialStore
	// CallbackPort is the fixed port of the redirect listener.
	CallbackPort int
	// Timeout bounds one attempt. Defaults to five minutes.
	Timeout time.Duration
}

// Manager owns the authorization state machine: at most one pending session, the
// observable status and the shared callback listener.
type Manager struct {
	auth    Authorizer
	store   CredentialStore
	server  *OAuthServer
	timeout time.Duration

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper

	mu      sync.Mutex
	status  AuthStatus
	pending *session
	changed chan struct{}
}

// NewManager creates an idle Manager and its callback listener. The listener is not
// bound until the first Start.
func NewManager(opts ManagerOptions) *Manager {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	m := &Manager{
		auth:    opts.Auth,
		store:   opts.Store,
		timeout: timeout,
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		status:  AuthStatus{Status: StatusIdle},
		changed: make(chan struct{}),
	}
	m.server = NewOAuthServer(opts.CallbackPort, m)
	return m
}

// Server exposes the callback listener.
func (m *Manager) Server() *OAuthServer {
	return m.server
}

// Start begins a new attempt and returns the URL the user must visit. A pending
// attempt is discarded first.
func (m *Manager) Start(ctx context.Context) (string, error) {
	sess, authURL, err := m.newSession()
	if err != nil {
		m.mu.Lock()
		m.clearLocked()
		m.setStatusLocked(AuthStatus{Status: StatusError, Error: StatusMessage(err)})
		m.mu.Unlock()
		m.stopListenerIfIdle()
		return "", err
	}

	m.mu.Lock()
	m.clearLocked()
	m.pending = sess
	sess.timer = m.afterFunc(m.timeout, func() { m.expire(sess) })
	m.setStatusLocked(AuthStatus{Status: StatusPending})
	m.mu.Unlock()

	if errStart := m.server.Start(); errStart != nil {
		log.Errorf("failed to start oauth callback server: %v", errStart)
		m.complete(sess, errStart)
		return "", errStart
	}

	logging.WithContext(ctx).Info("codex authorization started")
	return authURL, nil
}

func (m *Manager) newSession() (*session, string, error) {
	pkce, err := GeneratePKCECodes()
	if err != nil {
		return nil, "", err
	}
	state, err := GenerateState()
	if err != nil {
		return nil, "", err
	}
	authURL, err := m.auth.GenerateAuthURL(state, pkce)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate authorization url: %w", err)
	}
	return &session{pkce: pkce, state: state}, authURL, nil
}

// HandleCallback applies one issuer redirect to the pending attempt. The state check
// runs before any call to the issuer.
func (m *Manager) HandleCallback(ctx context.Context, params CallbackParams) CallbackOutcome {
	m.mu.Lock()
	sess := m.pending
	if sess == nil || sess.completing {
		m.mu.Unlock()
		return CallbackOutcome{Err: ErrNoPendingAuthorization}
	}

	switch {
	case params.Error != "" || params.ErrorDescription != "":
		msg := params.ErrorDescription
		if msg == "" {
			msg = params.Error
		}
		return m.completeAndUnlock(sess, NewAuthenticationError(ErrProviderDenied, errors.New(msg)))
	case params.Code == "":
		return m.completeAndUnlock(sess, ErrMissingCode)
	case subtle.ConstantTimeCompare([]byte(params.State), []byte(sess.state)) != 1:
		log.Warn("oauth callback state mismatch")
		return m.completeAndUnlock(sess, ErrInvalidState)
	}

	sess.completing = true
	if sess.timer != nil {
		sess.timer.Stop()
	}
	exchangeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	tokens, errExchange := m.auth.ExchangeCodeForTokens(exchangeCtx, params.Code, sess.pkce)

	m.mu.Lock()
	if m.pending != sess {
		m.mu.Unlock()
		log.Debug("discarding token exchange result of a superseded authorization")
		return CallbackOutcome{Err: ErrNoPendingAuthorization}
	}
	if errExchange != nil {
		return m.completeAndUnlock(sess, NewAuthenticationError(ErrCodeExchangeFailed, errExchange))
	}

	cred := tokens.Credential(m.now(), "")
	if errSave := m.store.Save(exchangeCtx, cred); errSave != nil {
		return m.completeAndUnlock(sess, fmt.Errorf("failed to save credential: %w", errSave))
	}
	log.WithField("account", cred.AccountID).Info("codex authorization completed")
	return m.completeAndUnlock(sess, nil)
}

// Cancel ends the pending attempt with "login cancelled". It is a no-op when nothing
// is pending.
func (m *Manager) Cancel() {
	m.mu.Lock()
	sess := m.pending
	if sess == nil {
		m.mu.Unlock()
		return
	}
	m.completeAndUnlock(sess, ErrCancelled)
}

// Disconnect discards any pending attempt, deletes the stored credential and resets
// the status to idle.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.clearLocked()
	err := m.store.Delete(ctx)
	m.setStatusLocked(AuthStatus{Status: StatusIdle})
	m.mu.Unlock()
	m.stopListenerIfIdle()
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	log.Info("codex credential disconnected")
	return nil
}

// Status returns the current flow status.
func (m *Manager) Status() AuthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Report returns the flow status together with whether a credential is stored.
func (m *Manager) Report(ctx context.Context) (StatusReport, error) {
	report := StatusReport{AuthStatus: m.Status()}
	cred, err := m.store.Load(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to load credential: %w", err)
	}
	if cred != nil {
		report.Connected = true
		report.AccountID = cred.AccountID
	}
	return report, nil
}

// Wait blocks until the current attempt reaches a terminal state or ctx is done.
func (m *Manager) Wait(ctx context.Context) (AuthStatus, error) {
	for {
		m.mu.Lock()
		status := m.status
		changed := m.changed
		m.mu.Unlock()
		if status.Status != StatusPending {
			return status, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return status, ctx.Err()
		}
	}
}

// Close discards any pending attempt and stops the listener.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.clearLocked()
	if m.status.Status == StatusPending {
		m.setStatusLocked(AuthStatus{Status: StatusError, Error: ErrCancelled.Message})
	}
	m.mu.Unlock()
	return m.server.Stop(ctx)
}

func (m *Manager) expire(sess *session) {
	m.mu.Lock()
	if m.pending != sess || sess.completing {
		m.mu.Unlock()
		return
	}
	log.Warn("codex authorization timed out")
	m.completeAndUnlock(sess, ErrCallbackTimeout)
}

func (m *Manager) complete(sess *session, err error) bool {
	m.mu.Lock()
	ok := m.completeLocked(sess, err)
	m.mu.Unlock()
	if ok {
		m.stopListenerIfIdle()
	}
	return ok
}

// completeAndUnlock finishes sess, releases the lock and returns the outcome.
func (m *Manager) completeAndUnlock(sess *session, err error) CallbackOutcome {
	ok := m.completeLocked(sess, err)
	m.mu.Unlock()
	if ok {
		m.stopListenerIfIdle()
	}
	return CallbackOutcome{Err: err}
}

func (m *Manager) completeLocked(sess *session, err error) bool {
	if sess == nil || m.pending != sess {
		return false
	}
	m.clearLocked()
	if err != nil {
		m.setStatusLocked(AuthStatus{Status: StatusError, Error: StatusMessage(err)})
	} else {
		m.setStatusLocked(AuthStatus{Status: StatusSuccess})
	}
	return true
}

// clearLocked stops the pending session's timer, aborts its exchange and forgets it.
// Calling it with nothing pending is a no-op.
func (m *Manager) clearLocked() {
	sess := m.pending
	if sess == nil {
		return
	}
	if sess.timer != nil {
		sess.timer.Stop()
	}
	if sess.cancel != nil {
		sess.cancel()
	}
	m.pending = nil
}

func (m *Manager) setStatusLocked(status AuthStatus) {
	m.status = status
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Manager) idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending == nil
}

// stopListenerIfIdle runs asynchronously because it may be reached from a callback
// handler that the shutdown would otherwise wait for.
func (m *Manager) stopListenerIfIdle() {
	go m.server.StopIfIdle(m.idle)
}
