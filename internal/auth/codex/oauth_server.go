package codex

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// CallbackHandler receives the events served by the callback listener.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, params CallbackParams) CallbackOutcome
	Cancel()
}

// OAuthServer is the shared local listener that receives the issuer redirect.
// It is started lazily, reused across attempts and stopped once nothing is pending.
type OAuthServer struct {
	// handler drives the session state machine
	handler CallbackHandler
	// port is the port number on which the server listens
	port int
	// server is the underlying HTTP server instance
	server *http.Server
	// listener is the bound socket, kept for address reporting
	listener net.Listener
	// mu is a mutex for protecting server state
	mu sync.Mutex
	// running indicates whether the server is currently running
	running bool
}

// NewOAuthServer creates a callback listener for the given port. Port 0 binds an
// ephemeral port, which is only useful in tests.
func NewOAuthServer(port int, handler CallbackHandler) *OAuthServer {
	return &OAuthServer{
		port:    port,
		handler: handler,
	}
}

// Start binds the listener and begins serving. It is a no-op when already running.
// Port conflicts are reported as ErrPortInUse.
func (s *OAuthServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return NewAuthenticationError(ErrPortInUse, err)
		}
		return NewAuthenticationError(ErrServerStartFailed, err)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Minute,
	}
	s.server = server
	s.listener = listener
	s.running = true

	go func() {
		if errServe := server.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Errorf("oauth callback server stopped: %v", errServe)
			s.mu.Lock()
			if s.server == server {
				s.running = false
				s.server = nil
				s.listener = nil
			}
			s.mu.Unlock()
		}
	}()

	log.Debugf("oauth callback server listening on %s", listener.Addr())
	return nil
}

// Stop gracefully stops the OAuth callback server.
func (s *OAuthServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

// StopIfIdle stops the server when idle reports that no attempt is pending.
// idle is evaluated while the server lock is held so a concurrent Start either
// keeps the listener alive or restarts it after the shutdown completes.
func (s *OAuthServer) StopIfIdle(idle func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || !idle() {
		return
	}
	if err := s.stopLocked(context.Background()); err != nil {
		log.Warnf("oauth callback server shutdown: %v", err)
	}
}

func (s *OAuthServer) stopLocked(ctx context.Context) error {
	if !s.running || s.server == nil {
		return nil
	}

	log.Debug("stopping OAuth callback server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	s.running = false
	s.server = nil
	s.listener = nil
	return err
}

// IsRunning returns whether the server is currently running.
func (s *OAuthServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr returns the bound address, or nil when stopped.
func (s *OAuthServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Handler returns the listener's routes. Only the redirect receiver and the cancel
// trigger are served; every other path is not found.
func (s *OAuthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, s.handleCallback)
	mux.HandleFunc(CancelPath, s.handleCancel)
	mux.HandleFunc("/", http.NotFound)
	return mux
}

func (s *OAuthServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != CallbackPath {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	log.Debug("received OAuth callback")

	outcome := s.handler.HandleCallback(r.Context(), CallbackParamsFromQuery(r.URL.Query()))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := LoginSuccessHtml
	status := http.StatusOK
	if !outcome.Success() {
		page = strings.Replace(LoginErrorHtml, "{{MESSAGE}}", html.EscapeString(outcome.Message()), 1)
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	if _, err := w.Write([]byte(page)); err != nil {
		log.Errorf("failed to write callback page: %v", err)
	}
}

func (s *OAuthServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != CancelPath {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.handler.Cancel()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Login cancelled. You can close this window.\n"))
}
