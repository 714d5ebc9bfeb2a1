// Package api wires the management and gateway HTTP surface of codexgate onto a
// single Gin engine and manages its listener.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/codexgate/internal/api/handlers/gateway"
	"github.com/router-for-me/codexgate/internal/api/handlers/management"
	"github.com/router-for-me/codexgate/internal/api/middleware"
	"github.com/router-for-me/codexgate/internal/buildinfo"
	"github.com/router-for-me/codexgate/internal/config"
	"github.com/router-for-me/codexgate/internal/logging"
	log "github.com/sirupsen/logrus"
)

// Server hosts the /v0/management and /v1 routes.
type Server struct {
	engine *gin.Engine
	server *http.Server

	mu  sync.RWMutex
	cfg *config.Config
}

// NewServer builds the engine for cfg. flow drives the authorization endpoints and
// completer answers completion requests.
func NewServer(cfg *config.Config, flow management.OAuthFlow, completer gateway.Completer) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{cfg: cfg}

	engine := gin.New()
	if err := engine.SetTrustedProxies(nil); err != nil {
		log.Warnf("failed to disable trusted proxies: %v", err)
	}
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.RequestLoggingMiddleware(s.requestLogEnabled))

	guard := middleware.ManagementKeyMiddleware(s.accessPolicy)
	mgmt := management.NewHandler(flow)
	mgmtGroup := engine.Group("/v0/management", guard)
	{
		mgmtGroup.GET("/codex/status", mgmt.GetCodexStatus)
		mgmtGroup.POST("/codex/login", mgmt.PostCodexLogin)
		mgmtGroup.POST("/codex/cancel", mgmt.PostCodexCancel)
		mgmtGroup.POST("/codex/callback", mgmt.PostOAuthCallback)
		mgmtGroup.DELETE("/codex", mgmt.DeleteCodex)
	}

	gw := gateway.NewHandler(completer)
	v1 := engine.Group("/v1", guard)
	{
		v1.POST("/complete", gw.PostComplete)
	}

	engine.GET("/healthz", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": buildinfo.Version})
	})

	s.engine = engine
	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start serves until Stop is called. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	log.Infof("API server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop shuts the listener down, waiting for in-flight requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

// UpdateConfig swaps the configuration consulted per request. The listen address is
// fixed for the lifetime of the server.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Server) accessPolicy() middleware.AccessPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return middleware.AccessPolicy{
		Key:         s.cfg.ManagementKey,
		AllowRemote: s.cfg.RemoteManagement.AllowRemote,
	}
}

func (s *Server) requestLogEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.RequestLog
}
