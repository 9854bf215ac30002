package app

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	intrnl "collabroom/internal"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr string
	Path string
	// StoreDSN selects the room archive: a SQLite path, postgres://…, bolt://… or "none".
	StoreDSN string
	// RedisAddr enables the pub/sub mirror when set (host:port or redis:// URL).
	RedisAddr      string
	IdleRoomTTL    time.Duration
	OutboxSize     int
	Overflow       string
	MaxMessageSize int64
	AllowedOrigins []string
	ConnectLimit   int
	ConnectWindow  time.Duration
	TrustProxy     bool
	// Advertise registers the server on the LAN over mDNS.
	Advertise      bool
	InstanceName   string
	RequestLogging bool
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL string
	Username  string
	RoomKey   string
	LogFile   string
}

// serverOptions validates the transport knobs and converts them for the internal package.
func (cfg ServerConfig) serverOptions() (intrnl.ServerOptions, error) {
	policy, err := intrnl.ParseOverflowPolicy(cfg.Overflow)
	if err != nil {
		return intrnl.ServerOptions{}, err
	}
	if cfg.OutboxSize < 0 {
		return intrnl.ServerOptions{}, fmt.Errorf("outbox size must not be negative, got %d", cfg.OutboxSize)
	}
	if cfg.MaxMessageSize < 0 {
		return intrnl.ServerOptions{}, fmt.Errorf("max message size must not be negative, got %d", cfg.MaxMessageSize)
	}
	if err := intrnl.ValidateOrigins(cfg.AllowedOrigins); err != nil {
		return intrnl.ServerOptions{}, err
	}
	return intrnl.ServerOptions{
		OutboxSize:     cfg.OutboxSize,
		Overflow:       policy,
		MaxMessageSize: cfg.MaxMessageSize,
		AllowedOrigins: cfg.AllowedOrigins,
		ConnectLimit:   cfg.ConnectLimit,
		ConnectWindow:  cfg.ConnectWindow,
		TrustProxy:     cfg.TrustProxy,
	}, nil
}

// DefaultStorePath returns a per-user data path for the bundled SQLite archive.
func DefaultStorePath() string {
	if env := os.Getenv("COLLABROOM_DATA_DIR"); env != "" {
		return filepath.Join(env, "collabroom.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "collabroom", "collabroom.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "CollabRoom", "collabroom.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "CollabRoom", "collabroom.db")
		}
		return filepath.Join(home, ".local", "share", "collabroom", "collabroom.db")
	}
	return filepath.Join(".", ".collabroom", "collabroom.db")
}

// NormalizeJoinPath guarantees the websocket path starts with '/' and
// falls back to /ws when empty.
func NormalizeJoinPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "/ws"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}

// ParseOrigins splits a comma separated allow-list, dropping blanks.
func ParseOrigins(origins string) []string {
	var out []string
	for _, part := range strings.Split(origins, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// sqlitePath reports the file behind a SQLite dsn, or "" for other backends.
func sqlitePath(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "", strings.EqualFold(dsn, "none"),
		strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"),
		strings.HasPrefix(dsn, ":memory:"), strings.HasPrefix(dsn, "file:"):
		return ""
	case strings.HasPrefix(dsn, "bolt://"):
		return strings.TrimPrefix(dsn, "bolt://")
	case strings.HasPrefix(dsn, "sqlite://"):
		return strings.TrimPrefix(dsn, "sqlite://")
	}
	return dsn
}
