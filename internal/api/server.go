package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/audit"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/gateway"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/config"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/infrastructure/logging"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/rpc"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Gateway is the part of the gateway client the API uses.
type Gateway interface {
	Stats() gateway.Stats
	Invoke(ctx context.Context, method string, params json.RawMessage) (string, any, error)
	PublishAttributes(attrs map[string]any) error
}

// StateStore is the part of the state store the API uses.
type StateStore interface {
	Snapshot() map[string]any
	Has(key string) bool
	Get(key string, def any) any
	Set(key string, value any) error
	Delete(key string) error
}

// Registry is the part of the RPC registry the API uses.
type Registry interface {
	Methods() []string
	Pending() []rpc.PendingRequest
	Stats() rpc.Stats
}

// TelemetryView exposes the most recent telemetry sample.
type TelemetryView interface {
	Last() (map[string]any, time.Time)
}

// AuditReader lists audit trail entries.
type AuditReader interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// HealthChecker is implemented by components reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the server's dependencies. Telemetry, Audit and Checks are
// optional.
type Deps struct {
	Config    config.APIConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Gateway   Gateway
	State     StateStore
	Registry  Registry
	Telemetry TelemetryView
	Audit     AuditReader
	Checks    map[string]HealthChecker
	Version   string
}

// Server is the diagnostics HTTP server.
type Server struct {
	cfg       config.APIConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	gateway   Gateway
	state     StateStore
	registry  Registry
	telemetry TelemetryView
	audit     AuditReader
	checks    map[string]HealthChecker
	version   string
	startTime time.Time

	server   *http.Server
	listener net.Listener
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gateway == nil || deps.State == nil || deps.Registry == nil {
		return nil, fmt.Errorf("gateway, state store and rpc registry are required")
	}

	return &Server{
		cfg:       deps.Config,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		gateway:   deps.Gateway,
		state:     deps.State,
		registry:  deps.Registry,
		telemetry: deps.Telemetry,
		audit:     deps.Audit,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close waits for in-flight requests, then closes remaining connections.
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
