// Package api serves the tracker, analysis pipeline and cache over HTTP for
// a browser extension or other local clients.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rcliao/netpulse/internal/authz"
	"github.com/rcliao/netpulse/internal/cache"
	"github.com/rcliao/netpulse/internal/config"
	"github.com/rcliao/netpulse/internal/logging"
	"github.com/rcliao/netpulse/internal/provider"
	"github.com/rcliao/netpulse/internal/tracker"
)

const (
	readTimeout = 10 * time.Second
	idleTimeout = 60 * time.Second
)

// Deps are the components the daemon serves.
type Deps struct {
	Tracker     *tracker.Tracker
	Broadcaster *tracker.Broadcaster
	Domains     *authz.DomainStore
	Cache       *cache.Cache
	Client      *provider.Client
	// AI supplies defaults for analyze requests that omit a field.
	AI       config.AIConfig
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server is the local HTTP daemon.
type Server struct {
	router *gin.Engine
	server *http.Server
	logger *zap.Logger
}

// NewServer builds the router and the http.Server listening on addr.
func NewServer(addr string, deps Deps, debug bool) *Server {
	deps.Logger = logging.OrNop(deps.Logger)
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(recoveryMiddleware(deps.Logger))
	router.Use(loggerMiddleware(deps.Logger))
	setupRoutes(router, &handlers{deps: deps, logger: deps.Logger})

	return &Server{
		router: router,
		// No WriteTimeout: streaming responses outlive any fixed budget.
		server: &http.Server{
			Addr:        addr,
			Handler:     router,
			ReadTimeout: readTimeout,
			IdleTimeout: idleTimeout,
		},
		logger: deps.Logger,
	}
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops the server, waiting up to timeout for open requests.
func (s *Server) Shutdown(ctx context.Context, timeout time.Duration) error {
	s.logger.Info("shutting down HTTP server", zap.Duration("timeout", timeout))
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
