package internal

import (
	"log"
	"net/http"
)

// ServeWS upgrades the request and starts the connection's pumps. The
// connection joins nothing until it sends a join event.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	addr := clientIP(request)
	if !s.connectLimiter.Allow(addr) {
		s.metrics.IncConnectRejected()
		http.Error(writer, "too many connections", http.StatusTooManyRequests)
		return
	}
	websocketConn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.metrics.IncConnectRejected()
		log.Printf("upgrade error: %v", err)
		return
	}

	connection := newConnection(websocketConn, addr, s.options.OutboxSize, s.options.Overflow, s.metrics)
	s.metrics.IncConn()
	s.track(connection)
	log.Printf("connection %s (%s) opened", connection.id, addr)

	go connection.writePump()
	go connection.readPump(s)
}
