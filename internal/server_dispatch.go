package internal

import (
	"context"
	"errors"
	"fmt"
)

// ErrAlreadyJoined is returned when a connection that is bound to a room sends another join.
var ErrAlreadyJoined = errors.New("connection already joined a room")

// Dispatch routes one decoded client event. It must only be called from the
// connection's read loop, which owns the connection's room binding.
//
// Events that name an unknown room, or that the sender is not entitled to
// send, are dropped without a reply and Dispatch returns nil.
func (hub *Hub) Dispatch(ctx context.Context, connection *Connection, event InboundEvent) error {
	roomID := NormalizeRoomID(event.Room())
	switch typed := event.(type) {
	case JoinEvent:
		return hub.join(ctx, connection, roomID, typed.DisplayName)
	case LeaveEvent:
		if connection.roomID == "" || connection.roomID != roomID {
			hub.metrics.IncDropped()
			return nil
		}
		hub.Disconnect(connection)
		return nil
	case DocChangeEvent:
		return hub.forward(roomID, roomCommand{
			kind:       commandDocChange,
			connection: connection,
			content:    typed.Content,
			version:    typed.Version,
		})
	case CursorMoveEvent:
		return hub.forward(roomID, roomCommand{
			kind:       commandCursorMove,
			connection: connection,
			position:   typed.Position,
		})
	case SetTypingEvent:
		return hub.forward(roomID, roomCommand{
			kind:       commandSetTyping,
			connection: connection,
			isTyping:   typed.IsTyping,
		})
	}
	return fmt.Errorf("%w: %T", ErrUnknownEvent, event)
}

func (hub *Hub) join(ctx context.Context, connection *Connection, roomID, displayName string) error {
	if connection.roomID != "" {
		return fmt.Errorf("%w: %s", ErrAlreadyJoined, connection.roomID)
	}
	room, err := hub.reserve(ctx, roomID)
	if err != nil {
		return err
	}
	connection.bind(roomID, displayName)
	if !room.submit(roomCommand{kind: commandJoin, connection: connection, displayName: displayName}) {
		room.pending.Add(-1)
		connection.unbind()
		return ErrHubClosed
	}
	return nil
}

// forward hands an event to a live room. Unknown rooms drop it silently.
func (hub *Hub) forward(roomID string, command roomCommand) error {
	room := hub.Get(roomID)
	if room == nil || !room.submit(command) {
		hub.metrics.IncDropped()
	}
	return nil
}

// Disconnect removes the connection from its room, if it has one. Leave and
// transport loss share this path, so peers always see exactly one "left".
func (hub *Hub) Disconnect(connection *Connection) {
	roomID := connection.roomID
	if roomID == "" {
		return
	}
	connection.unbind()
	room := hub.Get(roomID)
	if room == nil || !room.submit(roomCommand{kind: commandLeave, connection: connection}) {
		hub.presence.Remove(connection.id)
	}
}
