// Package microservice provides the HTTP shell for services built on the
// catalog infrastructure: health probes wired to the shared store and the
// rate-limit gate mounted in front of every route.
package microservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-catalog-infra/pkg/keyvalue"
	"github.com/illmade-knight/go-catalog-infra/pkg/ratelimit"
)

// Service defines the common interface for all services built on this layer.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Mux() *http.ServeMux
	GetHTTPPort() string
}

// BaseServer provides the common HTTP server functionality. Every request,
// including health probes' siblings, passes through the rate limiter before
// reaching the mux.
type BaseServer struct {
	Logger     zerolog.Logger
	HTTPPort   string
	httpServer *http.Server
	mux        *http.ServeMux
	actualAddr string
	mu         sync.RWMutex
}

// NewBaseServer creates a server with liveness and readiness probes. store is
// pinged by /readyz; limiter, when non-nil, gates every request.
func NewBaseServer(logger zerolog.Logger, httpPort string, store keyvalue.Store, limiter *ratelimit.Service) (*BaseServer, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	mux := http.NewServeMux()

	var gated http.Handler = mux
	if limiter != nil {
		gated = limiter.Middleware(nil)(mux)
	}

	// Health probes bypass the admission gate; everything else is limited.
	outer := http.NewServeMux()
	outer.HandleFunc("/healthz", HealthzHandler)
	outer.HandleFunc("/readyz", ReadyzHandler(store, logger))
	outer.Handle("/", gated)

	return &BaseServer{
		Logger:   logger,
		HTTPPort: httpPort,
		mux:      mux,
		httpServer: &http.Server{
			Addr:    httpPort,
			Handler: outer,
		},
	}, nil
}

// Start initiates the HTTP server in a background goroutine.
func (s *BaseServer) Start() error {
	listener, err := net.Listen("tcp", s.HTTPPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.HTTPPort, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()

	s.Logger.Info().Str("address", s.actualAddr).Msg("HTTP server starting to listen")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	return nil
}

// Shutdown gracefully stops the HTTP server, respecting the provided context's deadline.
func (s *BaseServer) Shutdown(ctx context.Context) error {
	s.Logger.Info().Msg("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.Logger.Error().Err(err).Msg("Error during HTTP server shutdown.")
		return err
	}
	s.Logger.Info().Msg("HTTP server stopped.")
	return nil
}

// GetHTTPPort returns the actual port the server is listening on.
func (s *BaseServer) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, port, err := net.SplitHostPort(s.actualAddr)
	if err != nil {
		return s.HTTPPort
	}
	return ":" + port
}

// Mux returns the underlying ServeMux so callers can register routes.
func (s *BaseServer) Mux() *http.ServeMux {
	return s.mux
}

// HealthzHandler responds to liveness probes.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ReadyzHandler responds to readiness probes by pinging the shared store.
func ReadyzHandler(store keyvalue.Store, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			logger.Error().Err(err).Msg("Readiness check failed: store unreachable.")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("store unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}
