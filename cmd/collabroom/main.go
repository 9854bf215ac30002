package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	intrnl "collabroom/internal"
	"collabroom/internal/app"
)

const (
	modeServer   = "server"
	modeClient   = "client"
	modeLocal    = "local"
	modeDiscover = "discover"
)

func main() {
	mode, args := parseMode(os.Args[1:])
	flagSet := flag.NewFlagSet("collabroom", flag.ExitOnError)
	addr := flagSet.String("addr", envOrDefault("COLLABROOM_ADDR", defaultAddrForMode(mode)), "server listen address")
	path := flagSet.String("path", envOrDefault("COLLABROOM_PATH", "/ws"), "websocket path")
	store := flagSet.String("store", envOrDefault("COLLABROOM_STORE", ""), "room archive: sqlite path, postgres://…, bolt://<path> or none (defaults to a per-user sqlite file)")
	redisAddr := flagSet.String("redis", envOrDefault("COLLABROOM_REDIS_ADDR", ""), "mirror room broadcasts to this redis (host:port or redis:// URL)")
	idleTTL := flagSet.Duration("idle-ttl", envDuration("COLLABROOM_IDLE_TTL", 0), "evict rooms empty for this long (0 keeps them forever)")
	outbox := flagSet.Int("outbox", envInt("COLLABROOM_OUTBOX_SIZE", 256), "per-connection outbound queue length")
	overflow := flagSet.String("overflow", envOrDefault("COLLABROOM_OVERFLOW", "disconnect"), "full outbound queue policy: disconnect or drop-oldest")
	maxMessage := flagSet.Int64("max-message", int64(envInt("COLLABROOM_MAX_MESSAGE", 1<<20)), "largest accepted client frame in bytes")
	origins := flagSet.String("origins", envOrDefault("COLLABROOM_ALLOWED_ORIGINS", ""), "comma separated browser origins allowed to connect (empty allows all)")
	connectLimit := flagSet.Int("connect-limit", envInt("COLLABROOM_CONNECT_LIMIT", 60), "websocket upgrades allowed per client IP per minute (0 disables)")
	trustProxy := flagSet.Bool("trust-proxy", envBool("COLLABROOM_TRUST_PROXY", false), "take the client IP from X-Forwarded-For/X-Real-IP (only behind a proxy that sets them)")
	mdns := flagSet.Bool("mdns", envBool("COLLABROOM_MDNS", false), "advertise the server on the LAN over mDNS")
	instance := flagSet.String("name", envOrDefault("COLLABROOM_INSTANCE", ""), "mDNS instance name (defaults to the hostname)")
	httpLog := flagSet.Bool("http-log", envBool("COLLABROOM_HTTP_LOG", false), "log every HTTP request")
	serverURL := flagSet.String("server-url", envOrDefault("COLLABROOM_SERVER", "ws://localhost:8080/ws"), "server websocket URL (client mode)")
	username := flagSet.String("user", envOrDefault("COLLABROOM_USER", ""), "display name shown to other members")
	logFile := flagSet.String("log-file", envOrDefault("COLLABROOM_LOG_FILE", ""), "client log file (client logs are discarded otherwise)")
	quiet := flagSet.Bool("quiet", false, "suppress informational logs")
	showVersion := flagSet.Bool("version", false, "print the version and exit")
	flagSet.Parse(args)

	if *showVersion {
		fmt.Println(intrnl.VersionString())
		return
	}

	roomKey := ""
	if remaining := flagSet.Args(); len(remaining) > 0 {
		roomKey = remaining[0]
	}

	serverCfg := app.ServerConfig{
		Addr:           *addr,
		Path:           app.NormalizeJoinPath(*path),
		StoreDSN:       *store,
		RedisAddr:      *redisAddr,
		IdleRoomTTL:    *idleTTL,
		OutboxSize:     *outbox,
		Overflow:       *overflow,
		MaxMessageSize: *maxMessage,
		AllowedOrigins: app.ParseOrigins(*origins),
		ConnectLimit:   *connectLimit,
		ConnectWindow:  time.Minute,
		TrustProxy:     *trustProxy,
		Advertise:      *mdns,
		InstanceName:   *instance,
		RequestLogging: *httpLog,
	}
	if serverCfg.StoreDSN == "" {
		serverCfg.StoreDSN = app.DefaultStorePath()
	}

	clientCfg := app.ClientConfig{
		ServerURL: *serverURL,
		Username:  *username,
		RoomKey:   roomKey,
		LogFile:   *logFile,
	}

	infof := func(format string, args ...interface{}) {
		if *quiet {
			return
		}
		log.Printf(format, args...)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case modeServer:
		err = runServerMode(ctx, serverCfg, infof)
	case modeLocal:
		err = runLocalMode(ctx, serverCfg, clientCfg, infof)
	case modeDiscover:
		err = runDiscoverMode(ctx)
	default:
		err = runClientMode(clientCfg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "collabroom: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, cfg app.ServerConfig, infof func(string, ...interface{})) error {
	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		return err
	}
	infof("CollabRoom server listening on %s (ws path %s, store %s)", handle.Addr(), cfg.Path, cfg.StoreDSN)
	return handle.Wait()
}

func runClientMode(cfg app.ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("client mode requires --server-url or COLLABROOM_SERVER")
	}
	return app.RunClient(cfg)
}

func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, clientCfg app.ClientConfig, infof func(string, ...interface{})) error {
	handle, err := app.RunServer(ctx, serverCfg)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	infof("Starting local CollabRoom server on %s (store %s)", handle.Addr(), serverCfg.StoreDSN)
	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	clientCfg.ServerURL = buildWebsocketURL(handle.Addr(), serverCfg.Path)
	infof("Launching client against %s", clientCfg.ServerURL)

	if err := app.RunClient(clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func runDiscoverMode(ctx context.Context) error {
	servers, err := app.Discover(ctx, 3*time.Second)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		fmt.Println("no CollabRoom servers found on the local network")
		return nil
	}
	for _, server := range servers {
		fmt.Printf("%s\t%s\n", server.Instance, server.URL())
	}
	return nil
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr, path string) string {
	path = app.NormalizeJoinPath(path)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, path)
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal, modeDiscover:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func defaultAddrForMode(mode string) string {
	if mode == modeLocal {
		return "127.0.0.1:0"
	}
	return ":8080"
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return value
	}
	return fallback
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
