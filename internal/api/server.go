// Package api provides the local HTTP API and WebSocket relay for hublink.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/hublink/internal/hub/events"
	"github.com/nerrad567/hublink/internal/hub/wire"
	"github.com/nerrad567/hublink/internal/infrastructure/config"
	"github.com/nerrad567/hublink/internal/infrastructure/logging"
	"github.com/nerrad567/hublink/internal/mirror"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EntityReader is the read side of the entity mirror. *mirror.Mirror satisfies it.
type EntityReader interface {
	Get(entityID string) (wire.State, error)
	All(domain string) []wire.State
	Synced() bool
	Stats() mirror.Stats
}

// HistoryReader returns recorded states. *mirror.HistoryStore satisfies it.
type HistoryReader interface {
	History(ctx context.Context, entityID string, since time.Time, limit int) ([]mirror.HistoryEntry, error)
}

// ServiceCaller forwards service calls to the hub. *session.Session satisfies it.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) (json.RawMessage, error)
}

// StateWriter injects entity states through the hub REST API.
// *rest.Client satisfies it.
type StateWriter interface {
	SetState(ctx context.Context, entityID, state string, attrs map[string]any) (bool, error)
}

// SessionStatus reports the hub connection state. *session.Session satisfies it.
type SessionStatus interface {
	IsAuthenticated() bool
	IsHubRunning() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Entities EntityReader
	History  HistoryReader  // optional
	Services ServiceCaller  // optional
	States   StateWriter    // optional
	Session  SessionStatus  // optional
	Events   *events.Bus    // optional; without it /ws carries no events
	Version  string

	// Components are stats snapshots reported by /health, keyed by name.
	Components map[string]func() any
}

// Server is the local HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	entities   EntityReader
	history    HistoryReader
	services   ServiceCaller
	states     StateWriter
	session    SessionStatus
	bus        *events.Bus
	components map[string]func() any
	version    string

	mu          sync.Mutex
	server      *http.Server
	listener    net.Listener
	hub         *Hub
	unsubscribe func()
	cancel      context.CancelFunc // cancels the hub on Close()
	done        chan struct{}
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Entities == nil {
		return nil, fmt.Errorf("entity reader is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		entities:   deps.Entities,
		history:    deps.History,
		services:   deps.Services,
		states:     deps.States,
		session:    deps.Session,
		bus:        deps.Events,
		components: deps.Components,
		version:    deps.Version,
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	return s, nil
}

// Start binds the listener and serves in a background goroutine.
//
// The listener is bound before Start returns, so a port conflict is reported
// here rather than logged later.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.hub.Run(srvCtx)

	if s.bus != nil {
		s.unsubscribe = s.bus.SubscribeAll(s.hub.BroadcastEvent)
	}

	s.listener = ln
	s.done = make(chan struct{})
	s.server = &http.Server{
		Handler:      s.buildRouter(),
		ReadTimeout:  time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}(s.server, s.done)

	s.logger.Info("API server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server.
//
// It waits up to 10 seconds for in-flight requests to complete. WebSocket
// clients are disconnected first since Shutdown does not track hijacked
// connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	<-s.done
	s.server = nil
	if err != nil {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
