package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsService = "_collabroom._tcp"
	mdnsDomain  = "local."
)

// DiscoveredServer is a hub found on the LAN.
type DiscoveredServer struct {
	Instance string
	Host     string
	Port     int
	Path     string
}

// URL is the websocket URL a client should dial.
func (d DiscoveredServer) URL() string {
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(d.Host, fmt.Sprint(d.Port)), NormalizeJoinPath(d.Path))
}

func advertise(instance string, port int, wsPath string) (*zeroconf.Server, error) {
	if instance == "" {
		host, _ := os.Hostname()
		instance = "collabroom-" + host
	}
	return zeroconf.Register(instance, mdnsService, mdnsDomain, port, []string{"path=" + wsPath}, nil)
}

// Discover browses mDNS for advertised hubs until timeout.
func Discover(ctx context.Context, timeout time.Duration) ([]DiscoveredServer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var mu sync.Mutex
	found := make(map[string]DiscoveredServer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			if server, ok := fromEntry(entry); ok {
				mu.Lock()
				found[server.Instance] = server
				mu.Unlock()
			}
		}
	}()
	if err := resolver.Browse(ctx, mdnsService, mdnsDomain, entries); err != nil {
		return nil, err
	}
	<-ctx.Done()
	// the resolver closes entries once it sees the cancelled context
	select {
	case <-done:
	case <-time.After(time.Second):
	}

	mu.Lock()
	servers := make([]DiscoveredServer, 0, len(found))
	for _, server := range found {
		servers = append(servers, server)
	}
	mu.Unlock()
	sort.Slice(servers, func(i, j int) bool { return servers[i].Instance < servers[j].Instance })
	return servers, nil
}

func fromEntry(entry *zeroconf.ServiceEntry) (DiscoveredServer, bool) {
	if entry == nil {
		return DiscoveredServer{}, false
	}
	server := DiscoveredServer{Instance: entry.Instance, Port: entry.Port, Path: "/ws"}
	switch {
	case len(entry.AddrIPv4) > 0:
		server.Host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		server.Host = entry.AddrIPv6[0].String()
	default:
		server.Host = strings.TrimSuffix(entry.HostName, ".")
	}
	if server.Host == "" {
		return DiscoveredServer{}, false
	}
	for _, record := range entry.Text {
		if value, ok := strings.CutPrefix(record, "path="); ok {
			server.Path = value
		}
	}
	return server, true
}
