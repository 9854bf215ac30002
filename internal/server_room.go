package internal

import (
	"context"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"collabroom/internal/storage"
)

// Member is a connection currently bound to a room.
type Member struct {
	ConnectionID string
	DisplayName  string
	JoinedAt     time.Time
	connection   *Connection
}

type commandKind int

const (
	commandJoin commandKind = iota
	commandLeave
	commandDocChange
	commandCursorMove
	commandSetTyping
	commandBroadcast
	commandSync
	commandEvict
)

type roomCommand struct {
	kind        commandKind
	connection  *Connection
	displayName string
	content     string
	version     int64
	position    int
	isTyping    bool
	frame       []byte
	exclude     string
	done        chan struct{}
}

// Room holds one document and its members. All mutations run on the room's
// own goroutine, one command at a time, so joins, leaves and doc changes for
// the same room are applied in arrival order and never interleave. The
// mutex only guards readers on other goroutines (HTTP lookups, the reaper).
type Room struct {
	id  string
	hub *Hub

	mutex      sync.RWMutex
	content    string
	version    int64
	members    []*Member
	emptySince time.Time

	// joins reserved by the hub but not yet applied; the reaper leaves such rooms alone
	pending atomic.Int64

	inbox   chan roomCommand
	stopped chan struct{}
	// submitters between their stopped check and their send
	submitting atomic.Int64
}

const roomQueueSize = 256

func newRoom(hub *Hub, id string, snapshot *storage.RoomSnapshot) *Room {
	room := &Room{
		id:         id,
		hub:        hub,
		emptySince: hub.now(),
		inbox:      make(chan roomCommand, roomQueueSize),
		stopped:    make(chan struct{}),
	}
	if snapshot != nil {
		room.content = snapshot.Content
		room.version = snapshot.Version
	}
	return room
}

// ID returns the canonical room id.
func (room *Room) ID() string {
	return room.id
}

// Snapshot returns content, version and members read at one instant.
func (room *Room) Snapshot() (string, int64, []MemberView) {
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	return room.content, room.version, room.memberViewsLocked()
}

func (room *Room) size() int {
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	return len(room.members)
}

func (room *Room) memberViewsLocked() []MemberView {
	views := make([]MemberView, 0, len(room.members))
	for _, member := range room.members {
		views = append(views, MemberView{
			ConnectionID: member.ConnectionID,
			DisplayName:  member.DisplayName,
			JoinedAt:     member.JoinedAt,
		})
	}
	return views
}

// submit queues a command for the room goroutine. It reports false once the
// room has stopped, which callers treat like an unknown room.
func (room *Room) submit(command roomCommand) bool {
	room.submitting.Add(1)
	defer room.submitting.Add(-1)
	select {
	case <-room.stopped:
		return false
	default:
	}
	select {
	case room.inbox <- command:
		return true
	case <-room.stopped:
		return false
	}
}

// sync waits until every command queued before it has been applied.
func (room *Room) sync(ctx context.Context) bool {
	done := make(chan struct{})
	if !room.submit(roomCommand{kind: commandSync, done: done}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-room.stopped:
		return false
	case <-ctx.Done():
		return false
	}
}

func (room *Room) run() {
	for command := range room.inbox {
		switch command.kind {
		case commandJoin:
			room.applyJoin(command.connection, command.displayName)
		case commandLeave:
			room.applyLeave(command.connection)
		case commandDocChange:
			room.applyDocChange(command.connection, command.content, command.version)
		case commandCursorMove:
			room.applyCursorMove(command.connection, command.position)
		case commandSetTyping:
			room.applySetTyping(command.connection, command.isTyping)
		case commandBroadcast:
			room.fanOut(command.frame, command.exclude)
		case commandSync:
			close(command.done)
		case commandEvict:
			room.archive()
			close(room.stopped)
			room.drain()
			if command.done != nil {
				close(command.done)
			}
			return
		}
	}
}

// drain discards commands that were queued behind the eviction. Once stopped
// is closed no new submitter can get in, so waiting for the ones already past
// the check leaves the inbox empty for good.
func (room *Room) drain() {
	for {
		select {
		case command := <-room.inbox:
			room.discard(command)
			continue
		default:
		}
		if room.submitting.Load() == 0 && len(room.inbox) == 0 {
			return
		}
		runtime.Gosched()
	}
}

func (room *Room) discard(command roomCommand) {
	switch command.kind {
	case commandSync, commandEvict:
		if command.done != nil {
			close(command.done)
		}
		return
	case commandJoin:
		room.pending.Add(-1)
	}
	room.hub.metrics.IncDropped()
}

func (room *Room) applyJoin(connection *Connection, displayName string) {
	defer room.pending.Add(-1)
	member := &Member{
		ConnectionID: connection.id,
		DisplayName:  displayName,
		JoinedAt:     room.hub.now(),
		connection:   connection,
	}

	room.mutex.Lock()
	room.members = append(room.members, member)
	room.emptySince = time.Time{}
	content, version := room.content, room.version
	members := room.memberViewsLocked()
	room.mutex.Unlock()

	room.hub.presence.Track(connection.id, room.id, displayName)

	connection.send(encodeOutbound(DocUpdateMessage{
		Event:   EventDocUpdate,
		RoomID:  room.id,
		Content: content,
		Version: version,
		Members: members,
	}))
	room.fanOut(encodeOutbound(MembershipMessage{
		Event:        EventJoined,
		RoomID:       room.id,
		ConnectionID: connection.id,
		DisplayName:  displayName,
		Members:      members,
	}), connection.id)
	log.Printf("%s (%s) joined room %s (%d members)", displayName, connection.id, room.id, len(members))
}

func (room *Room) applyLeave(connection *Connection) {
	room.mutex.Lock()
	var departed *Member
	for idx, member := range room.members {
		if member.ConnectionID == connection.id {
			departed = member
			room.members = append(room.members[:idx:idx], room.members[idx+1:]...)
			break
		}
	}
	if departed == nil {
		room.mutex.Unlock()
		return
	}
	if len(room.members) == 0 {
		room.emptySince = room.hub.now()
	}
	remaining := room.memberViewsLocked()
	room.mutex.Unlock()

	if entry, ok := room.hub.presence.Lookup(connection.id); ok && entry.RoomID == room.id {
		room.hub.presence.Remove(connection.id)
	}
	room.fanOut(encodeOutbound(MembershipMessage{
		Event:        EventLeft,
		RoomID:       room.id,
		ConnectionID: departed.ConnectionID,
		DisplayName:  departed.DisplayName,
		Members:      remaining,
	}), "")
	log.Printf("%s (%s) left room %s (%d members)", departed.DisplayName, departed.ConnectionID, room.id, len(remaining))
}

// applyDocChange replaces the document wholesale. The declared version is
// stored as-is: no comparison with the current version and no merge, so the
// latest arrival always wins.
func (room *Room) applyDocChange(connection *Connection, content string, version int64) {
	room.mutex.Lock()
	room.content = content
	room.version = version
	room.mutex.Unlock()

	room.hub.metrics.IncDocChange()
	room.fanOut(encodeOutbound(DocUpdateMessage{
		Event:              EventDocUpdate,
		RoomID:             room.id,
		Content:            content,
		Version:            version,
		OriginConnectionID: connection.id,
	}), "")
}

func (room *Room) applyCursorMove(connection *Connection, position int) {
	entry, ok := room.hub.presence.Move(connection.id, room.id, position)
	if !ok {
		room.hub.metrics.IncDropped()
		return
	}
	room.fanOut(encodeOutbound(CursorUpdateMessage{
		Event:        EventCursorUpdate,
		RoomID:       room.id,
		ConnectionID: connection.id,
		DisplayName:  entry.DisplayName,
		Position:     position,
	}), connection.id)
}

func (room *Room) applySetTyping(connection *Connection, isTyping bool) {
	entry, ok := room.hub.presence.Lookup(connection.id)
	if !ok || entry.RoomID != room.id {
		room.hub.metrics.IncDropped()
		return
	}
	room.fanOut(encodeOutbound(TypingStatusMessage{
		Event:        EventTypingStatus,
		RoomID:       room.id,
		ConnectionID: connection.id,
		DisplayName:  entry.DisplayName,
		IsTyping:     isTyping,
	}), "")
}

// fanOut delivers frame to every current member in join order, skipping
// exclude. Pushes never block, so one slow member cannot hold up the rest.
func (room *Room) fanOut(frame []byte, exclude string) int {
	room.mutex.RLock()
	targets := make([]*Connection, 0, len(room.members))
	for _, member := range room.members {
		if exclude != "" && member.ConnectionID == exclude {
			continue
		}
		targets = append(targets, member.connection)
	}
	room.mutex.RUnlock()

	delivered := 0
	for _, target := range targets {
		if target.send(frame) {
			delivered++
		}
	}
	if room.hub.mirror != nil {
		room.hub.mirror.Publish(room.id, frame)
	}
	return delivered
}

func (room *Room) archive() {
	if room.hub.store == nil {
		return
	}
	room.mutex.RLock()
	snapshot := storage.RoomSnapshot{
		RoomID:    room.id,
		Content:   room.content,
		Version:   room.version,
		UpdatedAt: room.hub.now(),
	}
	room.mutex.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := room.hub.store.SaveRoom(ctx, snapshot); err != nil {
		log.Printf("archive room %s: %v", room.id, err)
	}
}

func (room *Room) idleFor(now time.Time) time.Duration {
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	if len(room.members) > 0 || room.emptySince.IsZero() {
		return 0
	}
	return now.Sub(room.emptySince)
}
