package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"

	intrnl "coderoom/internal"
	"coderoom/internal/storage"
)

const tokenIssuer = "coderoom"

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr   string
	server *http.Server
	api    *intrnl.Server
	store  *storage.Store
	coord  *intrnl.Coordinator
	log    *slog.Logger
	done   chan struct{}
	err    error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop triggers a graceful shutdown with the provided context deadline.
// Live websocket sessions are closed and run their leave cleanup.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer wires handlers, opens the SQLite store, runs migrations, and
// starts serving in the background. Call Stop/Wait to manage its lifecycle.
func RunServer(ctx context.Context, cfg ServerConfig, log *slog.Logger) (*ServerHandle, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if log == nil {
		log = logs.GetLoggerFromString(strings.ToUpper(cfg.LogLevel))
	}
	cfg.Path = NormalizeWSPath(cfg.Path)

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = uuid.NewString() + uuid.NewString()
		log.Warn("CODEROOM_JWT_SECRET not set, using an ephemeral secret; tokens will not survive a restart")
	}
	auth, err := intrnl.NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL, tokenIssuer)
	if err != nil {
		return nil, err
	}
	replacement, err := cfg.Replacement()
	if err != nil {
		return nil, err
	}
	moderator, err := intrnl.NewModerator(cfg.Words(), replacement)
	if err != nil {
		return nil, fmt.Errorf("build moderator: %w", err)
	}

	if !strings.Contains(cfg.DBPath, ":memory:") && !strings.Contains(cfg.DBPath, "mode=memory") {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var directory intrnl.RoomDirectory
	if cfg.StrictRooms {
		directory = store
	}
	metrics := intrnl.NewMetrics()
	coord := intrnl.NewCoordinator(intrnl.CoordinatorConfig{
		EvictionGrace:   cfg.EvictionGrace,
		DedupWindow:     cfg.DedupWindow,
		MaxCodeBytes:    cfg.MaxCodeBytes,
		MaxMessageBytes: cfg.MaxMessageBytes,
		ChatRateLimit:   cfg.ChatRateLimit,
		ChatRateWindow:  cfg.ChatRateWindow,
		SendBuffer:      cfg.SendBuffer,
		ReadLimit:       cfg.ReadLimit,
	}, directory, store, moderator, metrics, log)

	var executor intrnl.CodeExecutor
	if e := intrnl.NewHTTPExecutor(cfg.ExecutorURL, cfg.ExecutorTimeout); e != nil {
		executor = e
	}

	server := intrnl.NewServer(intrnl.ServerOptions{
		Store:          store,
		Auth:           auth,
		Coordinator:    coord,
		Executor:       executor,
		Metrics:        metrics,
		AuthRateLimit:  cfg.AuthRateLimit,
		AuthRateWindow: cfg.AuthRateWindow,
		Log:            log,
	})
	mux := http.NewServeMux()
	registerHandlers(mux, cfg.Path, server)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	handle := &ServerHandle{
		addr:   listener.Addr().String(),
		server: httpServer,
		api:    server,
		store:  store,
		coord:  coord,
		log:    log,
		done:   make(chan struct{}),
	}

	go func() {
		if ctx == nil {
			return
		}
		select {
		case <-ctx.Done():
		case <-handle.done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server shutdown", "error", err)
		}
	}()

	go handle.serve(listener)

	log.Info("Server listening", "addr", handle.addr, "ws_path", cfg.Path, "strict_rooms", cfg.StrictRooms)
	return handle, nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	// hijacked websocket connections are not tracked by Shutdown; their leave
	// cleanup has to finish while rooms are still running
	h.api.CloseConnections()
	h.coord.Close()
	if err := h.store.Close(); err != nil {
		h.log.Error("Store close", "error", err)
	}
	h.err = err
}

func registerHandlers(mux *http.ServeMux, wsPath string, server *intrnl.Server) {
	mux.HandleFunc(wsPath, server.ServeWS)
	mux.HandleFunc("/signup", server.HandleSignup)
	mux.HandleFunc("/login", server.HandleLogin)
	mux.HandleFunc("/api/rooms", server.HandleRooms)
	mux.HandleFunc("/api/rooms/", server.HandleRoom)
	mux.HandleFunc("/api/run", server.HandleRun)
	mux.HandleFunc("/chat/messages", server.HandleChatMessages)
	mux.HandleFunc("/exists", server.HandleRoomExists)
	mux.HandleFunc("/healthz", server.HandleHealth)
	mux.Handle("/metrics", server.MetricsHandler())
}
