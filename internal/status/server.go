// Package status serves the read-only status endpoints and a WebSocket
// gateway into the chat.
//
//	GET /          plain-text pointer to the chat port
//	GET /users     {"users": [...]} logged-in usernames, login order
//	GET /metrics   metrics snapshot
//	GET /ws        WebSocket upgrade; frames carry protocol lines
//
// WebSocket peers run through the same session.Handler as TCP peers, so
// they appear in /users and see the same broadcasts.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"relaychat/internal/metrics"
	"relaychat/internal/registry"
	"relaychat/internal/session"
	"relaychat/util"
)

// Options configures a Server.
type Options struct {
	ChatPort        int      // advertised by GET /
	AllowedOrigins  []string // "*" allows all; empty allows same-host only
	ShutdownTimeout time.Duration
}

// Server is the status HTTP service.
type Server struct {
	opts     Options
	handler  *session.Handler
	registry *registry.Registry
	metrics  *metrics.Collector
	logger   *util.Logger

	upgrader websocket.Upgrader
	sessions sync.WaitGroup
}

// New returns a Server whose WebSocket peers are served by h.
func New(opts Options, h *session.Handler, logger *util.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		opts:     opts,
		handler:  h,
		registry: h.Registry,
		metrics:  h.Metrics,
		logger:   logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     newOriginPolicy(opts.AllowedOrigins, logger).check,
	}
	return s
}

// Router returns the route table.  WebSocket sessions started through
// it end when ctx is cancelled.
func (s *Server) Router(ctx context.Context) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/users", s.handleUsers).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		s.handleWS(ctx, w, req)
	}).Methods(http.MethodGet)
	return r
}

// newHTTPServer applies the production timeouts.
func newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Serve answers requests on ln until ctx is cancelled, then shuts the
// HTTP server down and waits for WebSocket sessions to end.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := newHTTPServer(s.Router(ctx))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("Status server listening on %s", ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Verbose("shutting down status server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)

	// Hijacked WebSocket connections are not tracked by Shutdown.
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn("WebSocket sessions still open after %v", s.opts.ShutdownTimeout)
	}

	if err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}

// ── handlers ─────────────────────────────────────────────────────────

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "relaychat is running. Connect a chat client to port %d.\n", s.opts.ChatPort)
}

type usersResponse struct {
	Users []string `json:"users"`
}

func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request) {
	users := s.registry.ListUsers()
	if users == nil {
		users = []string{}
	}
	writeJSON(w, usersResponse{Users: users})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.metrics.Snapshot())
}

func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.sessions.Add(1)
	defer s.sessions.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Verbose("WebSocket upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	// One frame may hold at most one maximal line plus its terminator.
	conn.SetReadLimit(int64(s.handler.MaxLineLength()) + 2)
	if err := s.handler.Serve(ctx, newWSStream(conn)); err != nil {
		s.logger.Debug("WebSocket session ended: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
