package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/agentlink-core/internal/auth"
	"github.com/nerrad567/agentlink-core/internal/devicedata"
	"github.com/nerrad567/agentlink-core/internal/infrastructure/config"
	"github.com/nerrad567/agentlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/agentlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/agentlink-core/internal/routing"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Router   *routing.Router
	Cache    *devicedata.Cache
	Broker   *mqtt.Client // optional; device control is unavailable without it
	Events   auth.EventRepository
	Version  string
}

// Server is the HTTP API server for Agentlink Core.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	router  *routing.Router
	cache   *devicedata.Cache
	broker  *mqtt.Client
	events  auth.EventRepository
	version string

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates an API server. The server is not started until Start is
// called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("routing router is required")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("device data cache is required")
	}
	// Broker is optional: queries and messaging work without it.

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		router:  deps.Router,
		cache:   deps.Cache,
		broker:  deps.Broker,
		events:  deps.Events,
		version: deps.Version,
	}, nil
}

// Hub returns the WebSocket hub, available after Start. The hub
// implements routing.Transport and should be attached to the Router
// before the Router starts draining.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start builds the router, launches the WebSocket hub and begins
// listening in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
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
