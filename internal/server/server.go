// Package server exposes a relay over HTTP, Server-Sent Events, and
// WebSocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wilbur182/chatrelay/internal/adapter"
	"github.com/wilbur182/chatrelay/internal/relay"
)

const (
	// DefaultKeepAlive is the SSE comment and WebSocket ping period.
	DefaultKeepAlive = 25 * time.Second

	shutdownTimeout = 5 * time.Second
	maxBodyBytes    = 1 << 20
)

// Backend is the relay surface the server needs.
type Backend interface {
	Inbox() (*adapter.Inbox, error)
	Refresh() (*adapter.Inbox, error)
	Send(ctx context.Context, req relay.SendRequest) (relay.SendResult, error)
	Approve(ctx context.Context, approve bool) (*adapter.PendingCommand, error)
	Subscribe() (<-chan *adapter.Inbox, func())
	Leadership() relay.Leadership
}

// Config configures a Server.
type Config struct {
	Addr string
	// AllowedOrigins lists browser origins allowed for CORS and WebSocket
	// upgrades. "*" allows any. Requests without an Origin header and
	// same-host origins are always allowed.
	AllowedOrigins []string
	KeepAlive      time.Duration
	Logger         *slog.Logger
}

// Server serves one Backend.
type Server struct {
	cfg     Config
	backend Backend
	logger  *slog.Logger
	mux     *http.ServeMux
	clients atomic.Int64
}

// New creates a Server.
func New(cfg Config, backend Backend) *Server {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		backend: backend,
		logger:  cfg.Logger,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/inbox", s.handleInbox)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/send", s.handleSend)
	s.mux.HandleFunc("POST /api/approve", s.handleApprove)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// Handler returns the root handler with CORS and request logging.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.withCORS(s.mux))
}

// Clients returns the number of connected streaming clients.
func (s *Server) Clients() int {
	return int(s.clients.Load())
}

// ListenAndServe listens on the configured address until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server shutdown", "err", err)
			_ = srv.Close()
		}
		<-errCh
		s.logger.Info("server stopped", "addr", ln.Addr().String())
		return nil
	}
}

type requestIDKey struct{}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
		s.logger.Debug("request", "id", id, "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !s.originAllowed(r) {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed accepts no Origin, same-host origins, and configured ones.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin) {
		return true
	}
	_, host, ok := strings.Cut(origin, "://")
	return ok && strings.EqualFold(host, r.Host)
}
