package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/grandcat/zeroconf"

	intrnl "collabroom/internal"
	"collabroom/internal/mirror"
	"collabroom/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr   string
	server *http.Server
	hub    *intrnl.Hub
	store  storage.SnapshotStore
	mirror *mirror.RedisMirror
	mdns   *zeroconf.Server
	done   chan struct{}
	err    error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Hub exposes the running room registry.
func (h *ServerHandle) Hub() *intrnl.Hub {
	return h.hub
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
	}
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server exits and every room is archived.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the room archive and the optional Redis mirror, wires the
// hub behind the router and starts serving in the background. Call
// Stop/Wait to manage its lifecycle.
func RunServer(ctx context.Context, cfg ServerConfig) (*ServerHandle, error) {
	cfg.Path = NormalizeJoinPath(cfg.Path)
	options, err := cfg.serverOptions()
	if err != nil {
		return nil, err
	}

	if path := sqlitePath(cfg.StoreDSN); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	openCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := storage.Open(openCtx, cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	hubOptions := intrnl.HubOptions{
		IdleRoomTTL: cfg.IdleRoomTTL,
		Store:       store,
		Metrics:     intrnl.NewMetrics(),
		Presence:    intrnl.NewPresenceTracker(),
	}
	var redisMirror *mirror.RedisMirror
	if cfg.RedisAddr != "" {
		redisMirror, err = mirror.NewRedisMirror(openCtx, cfg.RedisAddr)
		if err != nil {
			closeStore(store)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		hubOptions.Mirror = redisMirror
	}

	hub := intrnl.NewHub(hubOptions)
	server := intrnl.NewServer(hub, options)
	var extra []func(http.Handler) http.Handler
	if cfg.RequestLogging {
		extra = append(extra, middleware.Logger)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Routes(cfg.Path, extra...),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(func() {
		if n := server.CloseConnections(); n > 0 {
			log.Printf("closed %d websocket connections", n)
		}
	})

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = hub.Close(context.Background())
		closeMirror(redisMirror)
		closeStore(store)
		return nil, fmt.Errorf("listen: %w", err)
	}

	handle := &ServerHandle{
		addr:   listener.Addr().String(),
		server: httpServer,
		hub:    hub,
		store:  store,
		mirror: redisMirror,
		done:   make(chan struct{}),
	}

	if cfg.Advertise {
		port := listener.Addr().(*net.TCPAddr).Port
		mdns, err := advertise(cfg.InstanceName, port, cfg.Path)
		if err != nil {
			log.Printf("mdns advertise failed: %v", err)
		} else {
			handle.mdns = mdns
		}
	}

	go func() {
		if ctx == nil {
			return
		}
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server shutdown error: %v", err)
		}
	}()

	go handle.serve(listener)

	return handle, nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	if h.mdns != nil {
		h.mdns.Shutdown()
	}
	// rooms archive into the store, so the hub goes first and the store last
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.hub.Close(closeCtx); err != nil {
		log.Printf("hub close error: %v", err)
	}
	closeMirror(h.mirror)
	closeStore(h.store)
	h.err = err
}

func closeMirror(m *mirror.RedisMirror) {
	if m == nil {
		return
	}
	if err := m.Close(); err != nil {
		log.Printf("redis mirror close error: %v", err)
	}
}

func closeStore(store storage.SnapshotStore) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		log.Printf("store close error: %v", err)
	}
}
