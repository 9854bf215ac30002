package internal

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ServerOptions tunes the websocket transport. Zero values pick defaults.
type ServerOptions struct {
	OutboxSize     int
	Overflow       OverflowPolicy
	MaxMessageSize int64
	// AllowedOrigins lists browser origins allowed to connect; empty or "*" allows any.
	AllowedOrigins []string
	// ConnectLimit caps websocket upgrades per client IP within ConnectWindow; zero disables it.
	ConnectLimit  int
	ConnectWindow time.Duration
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP. Only
	// enable it behind a proxy that overwrites those headers.
	TrustProxy bool
}

// Server exposes the hub over websocket and HTTP.
type Server struct {
	hub            *Hub
	metrics        *Metrics
	connectLimiter *RateLimiter
	upgrader       websocket.Upgrader
	options        ServerOptions

	allowAllOrigins bool
	allowedOrigins  map[string]struct{}

	connMutex   sync.Mutex
	connections map[*Connection]struct{}
}

func NewServer(hub *Hub, options ServerOptions) *Server {
	if options.OutboxSize <= 0 {
		options.OutboxSize = defaultOutboxSize
	}
	if options.MaxMessageSize <= 0 {
		options.MaxMessageSize = defaultMaxMessageSize
	}
	if options.ConnectWindow <= 0 {
		options.ConnectWindow = time.Minute
	}
	server := &Server{
		hub:         hub,
		metrics:     hub.metrics,
		options:     options,
		connections: make(map[*Connection]struct{}),
	}
	if options.ConnectLimit > 0 {
		server.connectLimiter = NewRateLimiter(options.ConnectLimit, options.ConnectWindow)
	}
	server.allowedOrigins, server.allowAllOrigins = normalizeOrigins(options.AllowedOrigins)
	server.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     server.checkOrigin,
	}
	return server
}

// Hub returns the hub this server fronts.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Metrics returns the counters shared with the hub.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics
}

func (s *Server) track(connection *Connection) {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	s.connections[connection] = struct{}{}
}

func (s *Server) untrack(connection *Connection) {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	delete(s.connections, connection)
}

// CloseConnections drops every open websocket. Each read loop then runs its
// normal disconnect path. http.Server.Shutdown does not cover hijacked
// connections, so this is registered as a shutdown hook.
func (s *Server) CloseConnections() int {
	s.connMutex.Lock()
	open := make([]*Connection, 0, len(s.connections))
	for connection := range s.connections {
		open = append(open, connection)
	}
	s.connMutex.Unlock()
	for _, connection := range open {
		connection.closeTransport()
	}
	return len(open)
}

func normalizeOrigins(origins []string) (map[string]struct{}, bool) {
	if len(origins) == 0 {
		return nil, true
	}
	allowed := make(map[string]struct{}, len(origins))
	allowAll := false
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Printf("ignoring invalid origin in configuration: %q", origin)
			continue
		}
		allowed[normalized] = struct{}{}
	}
	// a list of nothing but typos allows no browser origin
	return allowed, allowAll
}

// ValidateOrigins reports the first allow-list entry that is neither "*" nor
// a scheme://host origin.
func ValidateOrigins(origins []string) error {
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" || trimmed == "*" {
			continue
		}
		if _, ok := normalizeOrigin(trimmed); !ok {
			return fmt.Errorf("invalid origin %q: want scheme://host", origin)
		}
	}
	return nil
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// checkOrigin lets non-browser clients (no Origin header) through and holds
// browsers to the allow-list.
func (s *Server) checkOrigin(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" || s.allowAllOrigins {
		return true
	}
	normalized, ok := normalizeOrigin(originHeader)
	if ok {
		if _, exists := s.allowedOrigins[normalized]; exists {
			return true
		}
	}
	log.Printf("blocked websocket connection from disallowed origin: %q", originHeader)
	return false
}
