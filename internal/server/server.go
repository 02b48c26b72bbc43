// Package server exposes the daemon's status surface over HTTP: a
// status page, health and status JSON, recent session history, the
// rendered session report, Prometheus metrics, and a build trigger.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"git.home.luguber.info/inful/buildgate/internal/config"
	"git.home.luguber.info/inful/buildgate/internal/driver"
	derrors "git.home.luguber.info/inful/buildgate/internal/errors"
	"git.home.luguber.info/inful/buildgate/internal/eventstore"
)

// Runtime is the daemon surface the server renders. Implemented by the
// daemon; tests substitute fakes.
type Runtime interface {
	// State reports the daemon state ("idle", "building", "stopping").
	State() string
	StartTime() time.Time
	// RegistrySnapshot lists the build ids currently known to the
	// registry, split by completion state.
	RegistrySnapshot() RegistrySnapshot
	// ActiveSession returns the running session, or nil when idle.
	ActiveSession() *eventstore.SessionSummary
	// SessionHistory returns recent finished sessions, newest first.
	SessionHistory() []*eventstore.SessionSummary
	// LatestReport returns the last finished session's report, or nil
	// before the first session completes.
	LatestReport() *driver.SessionReport
	// TriggerBuild requests a rebuild. Reports false when a trigger is
	// already queued.
	TriggerBuild(reason string) bool
}

// RegistrySnapshot is the wire form of the registry's id sets.
type RegistrySnapshot struct {
	Registered []string `json:"registered"`
	Completed  []string `json:"completed"`
	Pending    []string `json:"pending"`
}

// Server serves the daemon status endpoints on a single listener.
type Server struct {
	cfg          *config.Config
	runtime      Runtime
	metrics      http.Handler
	log          *slog.Logger
	errorAdapter *derrors.HTTPErrorAdapter

	httpServer *http.Server
	addr       net.Addr
	mchain     func(http.Handler) http.Handler
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithMetricsHandler mounts a Prometheus handler on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.log = logger }
}

// New constructs the status server wiring.
func New(cfg *config.Config, runtime Runtime, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		runtime: runtime,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.errorAdapter = derrors.NewHTTPErrorAdapter(s.log)
	s.mchain = chain(s.log, s.errorAdapter)
	return s
}

// routes mounts all handlers.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleStatusPage)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/build", s.handleTriggerBuild)
	mux.HandleFunc("/report", s.handleReport)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	return mux
}

// Start binds the listener and serves in the background. Binding errors
// surface immediately so startup fails fast instead of logging an
// 'address already in use' line from a goroutine.
func (s *Server) Start(ctx context.Context) error {
	listen := s.cfg.Daemon.Listen
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", listen)
	if err != nil {
		return fmt.Errorf("bind %s: %w", listen, err)
	}
	s.addr = ln.Addr()

	s.httpServer = &http.Server{
		Handler:      s.mchain(s.routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("Status server error", slog.String("error", err.Error()))
		}
	}()

	s.log.Info("Status server started", slog.String("listen", s.addr.String()))
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	s.log.Info("Status server stopped")
	return nil
}
