package internal

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"coderoom/internal/storage"
)

var errUnauthorized = errors.New("unauthorized")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServerOptions collects the collaborators of the HTTP/WebSocket server.
type ServerOptions struct {
	Store          *storage.Store
	Auth           *Authenticator
	Coordinator    *Coordinator
	Executor       CodeExecutor
	Metrics        *Metrics
	AuthRateLimit  int
	AuthRateWindow time.Duration
	Log            *slog.Logger
}

// Server exposes the coordinator over websocket and the account, room, and
// history API over plain HTTP.
type Server struct {
	store       *storage.Store
	auth        *Authenticator
	coord       *Coordinator
	executor    CodeExecutor
	metrics     *Metrics
	authLimiter *RateLimiter
	log         *slog.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

func NewServer(opts ServerOptions) *Server {
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	return &Server{
		store:       opts.Store,
		auth:        opts.Auth,
		coord:       opts.Coordinator,
		executor:    opts.Executor,
		metrics:     opts.Metrics,
		authLimiter: NewRateLimiter(opts.AuthRateLimit, opts.AuthRateWindow),
		log:         opts.Log,
		sessions:    make(map[*Session]struct{}),
	}
}

// ServeWS verifies the bearer token, upgrades the request, and starts the
// session's pumps. An optional room query parameter joins right away.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	identity, err := s.auth.Verify(bearerToken(request))
	if err != nil {
		s.metrics.IncAuthRejected()
		s.log.Debug("Websocket auth rejected", "remote", s.clientIP(request), "error", err)
		http.Error(writer, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	websocketConn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "error", err)
		return
	}

	config := s.coord.Config()
	conn := newConn(websocketConn, config.SendBuffer)
	session := s.coord.NewSession(conn)
	if err := session.Authenticate(identity); err != nil {
		s.metrics.IncAuthRejected()
		return
	}
	s.track(session)

	go conn.writePump()
	go func() {
		defer s.untrack(session)
		conn.readPump(session, config.ReadLimit)
	}()

	if roomID := strings.TrimSpace(request.URL.Query().Get("room")); roomID != "" {
		if err := session.Join(roomID); err != nil {
			s.log.Debug("Join from upgrade request failed", "room", roomID, "error", err)
		}
	}
}

func (s *Server) track(session *Session) {
	s.mu.Lock()
	s.sessions[session] = struct{}{}
	s.mu.Unlock()
	s.metrics.IncConn()
}

func (s *Server) untrack(session *Session) {
	s.mu.Lock()
	_, ok := s.sessions[session]
	delete(s.sessions, session)
	s.mu.Unlock()
	if ok {
		s.metrics.DecConn()
	}
}

// CloseConnections ends every live session, running the same cleanup as a
// client disconnect.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()
	for _, session := range sessions {
		session.Close()
	}
}

// MetricsHandler serves the process counters as JSON.
func (s *Server) MetricsHandler() http.Handler {
	return metricsHandler{metrics: s.metrics, hub: s.coord.Hub, presence: s.coord.Presence}
}

// authenticateRequest resolves the caller of an HTTP API request.
func (s *Server) authenticateRequest(r *http.Request) (Identity, error) {
	identity, err := s.auth.Verify(bearerToken(r))
	if err != nil {
		s.metrics.IncAuthRejected()
		return Identity{}, errUnauthorized
	}
	return identity, nil
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
