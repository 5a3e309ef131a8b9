// Package api provides the HTTP and WebSocket server for the ESPLink relay.
//
// It exposes the WebSocket endpoint devices and frontends connect to, plus a
// small REST surface for health checks and registry introspection.
//
// The server follows the same lifecycle pattern as the other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mwhittle/esplink/internal/directory"
	"github.com/mwhittle/esplink/internal/infrastructure/config"
	"github.com/mwhittle/esplink/internal/infrastructure/database"
	"github.com/mwhittle/esplink/internal/infrastructure/logging"
	"github.com/mwhittle/esplink/internal/infrastructure/mqtt"
	"github.com/mwhittle/esplink/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    *config.Config
	Logger    *logging.Logger
	Relay     *relay.Router
	Registry  *relay.Registry
	Directory directory.Repository // optional: device metadata, nil disables
	DB        *database.DB         // optional: included in status health
	MQTT      *mqtt.Client         // optional: included in status health
	Version   string
}

// Server is the HTTP server for the ESPLink relay.
//
// It owns the HTTP listener, routes, and middleware. WebSocket sessions are
// upgraded here and handed to the relay router for message dispatch.
type Server struct {
	cfg       *config.Config
	logger    *logging.Logger
	relay     *relay.Router
	registry  *relay.Registry
	directory directory.Repository
	db        *database.DB
	mqtt      *mqtt.Client
	version   string
	startedAt time.Time
	server    *http.Server
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Relay == nil || deps.Registry == nil {
		return nil, fmt.Errorf("relay router and registry are required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		relay:     deps.Relay,
		registry:  deps.Registry,
		directory: deps.Directory,
		db:        deps.DB,
		mqtt:      deps.MQTT,
		version:   deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.startedAt = time.Now().UTC()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started",
		"address", s.server.Addr,
		"ws_path", s.cfg.WebSocket.Path,
	)
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
