package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType names every frame exchanged over the room websocket.
type EventType string

const (
	EventJoin       EventType = "join"
	EventDocChange  EventType = "docChange"
	EventCursorMove EventType = "cursorMove"
	EventSetTyping  EventType = "setTyping"
	EventLeave      EventType = "leave"

	EventDocUpdate    EventType = "docUpdate"
	EventJoined       EventType = "joined"
	EventLeft         EventType = "left"
	EventCursorUpdate EventType = "cursorUpdate"
	EventTypingStatus EventType = "typingStatus"
	EventError        EventType = "error"
)

var (
	// ErrMalformedEvent is returned when a frame is not valid JSON or misses a required field.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEvent is returned for an event name outside the client→server set.
	ErrUnknownEvent = errors.New("unknown event")
)

// InboundEvent is one of JoinEvent, LeaveEvent, DocChangeEvent, CursorMoveEvent or SetTypingEvent.
type InboundEvent interface {
	Type() EventType
	Room() string
}

type JoinEvent struct {
	RoomID      string
	DisplayName string
}

type LeaveEvent struct {
	RoomID string
}

// DocChangeEvent carries the full document; Version is whatever the client declared.
type DocChangeEvent struct {
	RoomID  string
	Content string
	Version int64
}

type CursorMoveEvent struct {
	RoomID   string
	Position int
}

type SetTypingEvent struct {
	RoomID   string
	IsTyping bool
}

func (JoinEvent) Type() EventType       { return EventJoin }
func (LeaveEvent) Type() EventType      { return EventLeave }
func (DocChangeEvent) Type() EventType  { return EventDocChange }
func (CursorMoveEvent) Type() EventType { return EventCursorMove }
func (SetTypingEvent) Type() EventType  { return EventSetTyping }

func (e JoinEvent) Room() string       { return e.RoomID }
func (e LeaveEvent) Room() string      { return e.RoomID }
func (e DocChangeEvent) Room() string  { return e.RoomID }
func (e CursorMoveEvent) Room() string { return e.RoomID }
func (e SetTypingEvent) Room() string  { return e.RoomID }

// wireInbound is the on-the-wire shape of every client frame. Pointers let the
// decoder tell a missing field apart from a zero value.
type wireInbound struct {
	Event       EventType `json:"event"`
	RoomID      *string   `json:"roomId,omitempty"`
	DisplayName *string   `json:"displayName,omitempty"`
	Content     *string   `json:"content,omitempty"`
	Version     *int64    `json:"version,omitempty"`
	Position    *int      `json:"position,omitempty"`
	IsTyping    *bool     `json:"isTyping,omitempty"`
}

// DecodeInbound validates a raw client frame and returns its typed variant.
// Nothing is returned for a frame that fails validation, so a bad frame can
// never be partially applied.
func DecodeInbound(payload []byte) (InboundEvent, error) {
	var wire wireInbound
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if wire.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	}
	roomID := ""
	if wire.RoomID != nil {
		roomID = strings.TrimSpace(*wire.RoomID)
	}
	if roomID == "" {
		if !isInboundType(wire.Event) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, wire.Event)
		}
		return nil, fmt.Errorf("%w: %s requires roomId", ErrMalformedEvent, wire.Event)
	}

	switch wire.Event {
	case EventJoin:
		if wire.DisplayName == nil || strings.TrimSpace(*wire.DisplayName) == "" {
			return nil, fmt.Errorf("%w: join requires displayName", ErrMalformedEvent)
		}
		return JoinEvent{RoomID: roomID, DisplayName: strings.TrimSpace(*wire.DisplayName)}, nil
	case EventLeave:
		return LeaveEvent{RoomID: roomID}, nil
	case EventDocChange:
		if wire.Content == nil {
			return nil, fmt.Errorf("%w: docChange requires content", ErrMalformedEvent)
		}
		if wire.Version == nil {
			return nil, fmt.Errorf("%w: docChange requires version", ErrMalformedEvent)
		}
		return DocChangeEvent{RoomID: roomID, Content: *wire.Content, Version: *wire.Version}, nil
	case EventCursorMove:
		if wire.Position == nil {
			return nil, fmt.Errorf("%w: cursorMove requires position", ErrMalformedEvent)
		}
		if *wire.Position < 0 {
			return nil, fmt.Errorf("%w: negative cursor position %d", ErrMalformedEvent, *wire.Position)
		}
		return CursorMoveEvent{RoomID: roomID, Position: *wire.Position}, nil
	case EventSetTyping:
		if wire.IsTyping == nil {
			return nil, fmt.Errorf("%w: setTyping requires isTyping", ErrMalformedEvent)
		}
		return SetTypingEvent{RoomID: roomID, IsTyping: *wire.IsTyping}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, wire.Event)
}

func isInboundType(event EventType) bool {
	switch event {
	case EventJoin, EventLeave, EventDocChange, EventCursorMove, EventSetTyping:
		return true
	}
	return false
}

// EncodeInbound is the client-side counterpart of DecodeInbound.
func EncodeInbound(event InboundEvent) ([]byte, error) {
	roomID := event.Room()
	wire := wireInbound{Event: event.Type(), RoomID: &roomID}
	switch typed := event.(type) {
	case JoinEvent:
		wire.DisplayName = &typed.DisplayName
	case LeaveEvent:
	case DocChangeEvent:
		wire.Content = &typed.Content
		wire.Version = &typed.Version
	case CursorMoveEvent:
		wire.Position = &typed.Position
	case SetTypingEvent:
		wire.IsTyping = &typed.IsTyping
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, event)
	}
	return json.Marshal(wire)
}

// MemberView is how a member is listed in snapshots and presence broadcasts.
type MemberView struct {
	ConnectionID string    `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// DocUpdateMessage is both the join snapshot (Members set, no origin) and the
// change broadcast (origin set, no members).
type DocUpdateMessage struct {
	Event              EventType    `json:"event"`
	RoomID             string       `json:"roomId"`
	Content            string       `json:"content"`
	Version            int64        `json:"version"`
	OriginConnectionID string       `json:"originConnectionId,omitempty"`
	Members            []MemberView `json:"members,omitempty"`
}

// MembershipMessage is sent as "joined" or "left".
type MembershipMessage struct {
	Event        EventType    `json:"event"`
	RoomID       string       `json:"roomId"`
	ConnectionID string       `json:"connectionId"`
	DisplayName  string       `json:"displayName"`
	Members      []MemberView `json:"members"`
}

type CursorUpdateMessage struct {
	Event        EventType `json:"event"`
	RoomID       string    `json:"roomId"`
	ConnectionID string    `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
	Position     int       `json:"position"`
}

type TypingStatusMessage struct {
	Event        EventType `json:"event"`
	RoomID       string    `json:"roomId"`
	ConnectionID string    `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
	IsTyping     bool      `json:"isTyping"`
}

type ErrorMessage struct {
	Event   EventType `json:"event"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

const (
	errorCodeMalformed     = "malformed"
	errorCodeAlreadyJoined = "already_joined"
)

// ServerEvent is the union of every server→client frame, used by the client to decode.
type ServerEvent struct {
	Event              EventType    `json:"event"`
	RoomID             string       `json:"roomId"`
	Content            string       `json:"content"`
	Version            int64        `json:"version"`
	OriginConnectionID string       `json:"originConnectionId"`
	ConnectionID       string       `json:"connectionId"`
	DisplayName        string       `json:"displayName"`
	Members            []MemberView `json:"members"`
	Position           int          `json:"position"`
	IsTyping           bool         `json:"isTyping"`
	Code               string       `json:"code"`
	Message            string       `json:"message"`
}

// IsSnapshot reports whether a docUpdate is the join snapshot rather than a change echo.
func (event ServerEvent) IsSnapshot() bool {
	return event.Event == EventDocUpdate && event.OriginConnectionID == ""
}

func encodeOutbound(message interface{}) []byte {
	encoded, err := json.Marshal(message)
	if err != nil {
		// every outbound type is a plain struct of strings, ints and times
		panic(fmt.Sprintf("encode %T: %v", message, err))
	}
	return encoded
}
