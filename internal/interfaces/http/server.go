package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cnrmurphy/sentinel/internal/infrastructure/broadcast"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/persistence"
	"github.com/cnrmurphy/sentinel/internal/interfaces/http/handlers"
	"github.com/cnrmurphy/sentinel/internal/proxy"
)

// Server is the single listening surface: two API routes, and everything
// else proxied upstream.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config configures the listener.
type Config struct {
	Host string
	Port int
}

// NewServer wires the router. API routes are registered explicitly; the
// proxy engine is the NoRoute fallback so arbitrary upstream paths pass
// through untouched.
func NewServer(cfg Config, engine *proxy.Engine, agents *persistence.AgentStore, broadcaster *broadcast.Broadcaster, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	agentsHandler := handlers.NewAgentsHandler(agents, logger)
	eventsHandler := handlers.NewEventsHandler(broadcaster, logger)

	router.GET("/api/agents", agentsHandler.List)
	router.GET("/api/events", eventsHandler.Stream)
	router.NoRoute(engine.Handle)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
		logger: logger,
	}
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start runs the listener until Stop or a fatal listen error.
func (s *Server) Start() error {
	s.logger.Info("Sentinel proxy listening", zap.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}
