// Package control exposes the operator REST surface: telemetry export,
// queue and breaker inspection, and a live event stream.
package control

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/storefront/navcore/pkg/breaker"
	"github.com/storefront/navcore/pkg/history"
	"github.com/storefront/navcore/pkg/ledger"
	"github.com/storefront/navcore/pkg/nav"
	"github.com/storefront/navcore/pkg/queue"
)

const streamWriteTimeout = 5 * time.Second

// Deps are the services the control surface reads from.
type Deps struct {
	Coordinator *nav.Coordinator
	Ledger      *ledger.Ledger
	Queue       *queue.Queue
	Breaker     *breaker.Breaker
	History     *history.Tracker
}

// Server is the operator-facing HTTP server.
type Server struct {
	addr    string
	deps    Deps
	httpSrv *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// NewServer creates a control server listening on addr.
func NewServer(addr string, deps Deps) *Server {
	if addr == "" {
		addr = ":8080"
	}
	return &Server{
		addr:  addr,
		deps:  deps,
		conns: make(map[*websocket.Conn]bool),
	}
}

// Run starts the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	s.RegisterAPIRoutes(mux)

	s.httpSrv = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("control server listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("control server shutting down")
		s.closeStreams()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv != nil {
		s.closeStreams()
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// Broadcast pushes an event to every connected stream client. Wire it
// as (part of) the ledger's sink. Slow or dead clients are dropped.
// A nil *Server is a no-op, so the sink can be installed before the
// server is constructed.
func (s *Server) Broadcast(evt ledger.Event) {
	if s == nil {
		return
	}
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(evt); err != nil {
			s.dropConn(conn)
		}
	}
}

// GET /api/v1/events/stream — websocket live event feed.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()

	// Reader loop exists only to detect the client going away.
	go func() {
		defer s.dropConn(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) dropConn(conn *websocket.Conn) {
	s.mu.Lock()
	if !s.conns[conn] {
		s.mu.Unlock()
		return
	}
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) closeStreams() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[*websocket.Conn]bool)
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
