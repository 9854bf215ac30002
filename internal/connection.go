package internal

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// documents travel whole on every change, so the default frame limit is generous
	defaultMaxMessageSize = 1 << 20
)

// Connection is one client websocket. It is bound to at most one room; the
// binding is only touched by the connection's read loop.
type Connection struct {
	id     string
	conn   *websocket.Conn
	addr   string
	outbox *outbox

	roomID      string
	displayName string
}

func newConnection(conn *websocket.Conn, addr string, outboxSize int, policy OverflowPolicy, metrics *Metrics) *Connection {
	connection := &Connection{
		id:   uuid.NewString(),
		conn: conn,
		addr: addr,
	}
	connection.outbox = newOutbox(outboxSize, policy, func() {
		metrics.IncOverflow()
		if policy == OverflowDisconnect {
			log.Printf("connection %s (%s) dropped: outbound queue full", connection.id, connection.addr)
			connection.closeTransport()
			return
		}
		log.Printf("connection %s (%s) is slow: oldest queued frame discarded", connection.id, connection.addr)
	})
	return connection
}

// ID returns the connection id peers see as connectionId.
func (connection *Connection) ID() string {
	return connection.id
}

// RoomID returns the room this connection is bound to, or "".
func (connection *Connection) RoomID() string {
	return connection.roomID
}

func (connection *Connection) bind(roomID, displayName string) {
	connection.roomID = roomID
	connection.displayName = displayName
}

func (connection *Connection) unbind() {
	connection.roomID = ""
	connection.displayName = ""
}

func (connection *Connection) send(frame []byte) bool {
	return connection.outbox.push(frame)
}

func (connection *Connection) sendError(code, message string) {
	connection.send(encodeOutbound(ErrorMessage{Event: EventError, Code: code, Message: message}))
}

func (connection *Connection) closeTransport() {
	if connection.conn != nil {
		_ = connection.conn.Close()
	}
}

func (connection *Connection) readPump(server *Server) {
	defer func() {
		server.hub.Disconnect(connection)
		connection.outbox.close()
		connection.closeTransport()
		server.untrack(connection)
		server.metrics.DecConn()
		log.Printf("connection %s (%s) closed", connection.id, connection.addr)
	}()
	connection.conn.SetReadLimit(server.options.MaxMessageSize)
	_ = connection.conn.SetReadDeadline(time.Now().Add(pongWait))
	connection.conn.SetPongHandler(func(string) error {
		return connection.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		messageType, payload, err := connection.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("connection %s read error: %v", connection.id, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		connection.handleFrame(server.hub, payload)
	}
}

// handleFrame decodes and dispatches one client frame. Failures stay on this
// connection: malformed frames and duplicate joins get an error reply, other
// rejections are silent.
func (connection *Connection) handleFrame(hub *Hub, payload []byte) {
	event, err := DecodeInbound(payload)
	if err != nil {
		hub.metrics.IncMalformed()
		log.Printf("connection %s sent a malformed frame: %v", connection.id, err)
		connection.sendError(errorCodeMalformed, err.Error())
		return
	}
	if err := hub.Dispatch(context.Background(), connection, event); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyJoined):
			log.Printf("connection %s: %v", connection.id, err)
			connection.sendError(errorCodeAlreadyJoined, err.Error())
		default:
			log.Printf("connection %s: %s failed: %v", connection.id, event.Type(), err)
		}
	}
}

func (connection *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		connection.closeTransport()
	}()
	for {
		select {
		case frame, ok := <-connection.outbox.frames:
			_ = connection.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = connection.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := connection.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = connection.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := connection.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
