package internal

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"collabroom/internal/storage"
)

var (
	// ErrRoomNotFound is returned by Lookup when a room is neither live nor archived.
	ErrRoomNotFound = errors.New("room not found")
	// ErrHubClosed is returned once Close has started.
	ErrHubClosed = errors.New("hub closed")
)

// EventMirror receives a copy of every frame fanned out to a room. Publish
// must not block.
type EventMirror interface {
	Publish(roomID string, frame []byte)
}

// HubOptions configures a Hub. The zero value is a purely in-memory hub
// that never evicts rooms.
type HubOptions struct {
	// IdleRoomTTL evicts rooms that have been empty this long. Zero disables eviction.
	IdleRoomTTL time.Duration
	// ReapInterval is how often the reaper looks; defaults to a quarter of IdleRoomTTL.
	ReapInterval time.Duration
	Store        storage.SnapshotStore
	Mirror       EventMirror
	Metrics      *Metrics
	Presence     *PresenceTracker
}

// RoomView is the read-only state served by the HTTP room endpoint.
type RoomView struct {
	RoomID  string       `json:"roomId"`
	Content string       `json:"content"`
	Version int64        `json:"version"`
	Members []MemberView `json:"members"`
	Cursors []CursorView `json:"cursors"`
	Live    bool         `json:"live"`
}

// CursorView is one member's last reported cursor offset.
type CursorView struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	Position     int    `json:"position"`
}

// all active rooms state
type Hub struct {
	mutex    sync.RWMutex
	rooms    map[string]*Room
	evicting map[string]*Room
	closed   bool

	presence *PresenceTracker
	metrics  *Metrics
	store    storage.SnapshotStore
	mirror   EventMirror
	idleTTL  time.Duration
	now      func() time.Time

	stopReaper chan struct{}
	reaperDone chan struct{}
}

// builds an empty hub ready to serve websocket requests
func NewHub(options HubOptions) *Hub {
	hub := &Hub{
		rooms:      make(map[string]*Room),
		evicting:   make(map[string]*Room),
		presence:   options.Presence,
		metrics:    options.Metrics,
		store:      options.Store,
		mirror:     options.Mirror,
		idleTTL:    options.IdleRoomTTL,
		now:        time.Now,
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	if hub.presence == nil {
		hub.presence = NewPresenceTracker()
	}
	if hub.metrics == nil {
		hub.metrics = NewMetrics()
	}
	if hub.idleTTL <= 0 {
		close(hub.reaperDone)
		return hub
	}
	interval := options.ReapInterval
	if interval <= 0 {
		interval = hub.idleTTL / 4
		if interval < time.Second {
			interval = time.Second
		}
	}
	go hub.reapLoop(interval)
	return hub
}

// NormalizeRoomID trims whitespace and lowercases, so "Team-A " and "team-a" share a room.
func NormalizeRoomID(roomID string) string {
	return strings.ToLower(strings.TrimSpace(roomID))
}

// Presence exposes the tracker shared by every room.
func (hub *Hub) Presence() *PresenceTracker {
	return hub.presence
}

// takes a peek into the room map. We use it for the lightweight /exists
func (hub *Hub) Exists(roomID string) bool {
	return hub.Get(roomID) != nil
}

// Get returns the live room or nil. It never creates one.
func (hub *Hub) Get(roomID string) *Room {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return hub.rooms[NormalizeRoomID(roomID)]
}

// Count reports how many rooms are live.
func (hub *Hub) Count() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.rooms)
}

// GetOrCreate returns the live room for roomID, restoring it from the
// archive or creating it empty. Concurrent callers for one id always get
// the same room.
func (hub *Hub) GetOrCreate(ctx context.Context, roomID string) (*Room, error) {
	return hub.getOrCreate(ctx, NormalizeRoomID(roomID), false)
}

// reserve is GetOrCreate for a join: the pending count is raised while the
// registry lock is held, so the reaper cannot evict the room before the join lands.
func (hub *Hub) reserve(ctx context.Context, roomID string) (*Room, error) {
	return hub.getOrCreate(ctx, roomID, true)
}

func (hub *Hub) getOrCreate(ctx context.Context, roomID string, reserve bool) (*Room, error) {
	for {
		room, wait, err := hub.lookupLocked(roomID, reserve)
		if err != nil || room != nil {
			return room, err
		}
		if wait != nil {
			// a room being evicted must finish archiving before it can be restored
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var snapshot *storage.RoomSnapshot
		if hub.store != nil {
			if snapshot, err = hub.store.LoadRoom(ctx, roomID); err != nil {
				return nil, err
			}
		}
		if room, err := hub.insert(roomID, snapshot, reserve); err != nil || room != nil {
			return room, err
		}
		// lost a race with the reaper; the archive we loaded may be stale
	}
}

// lookupLocked returns the live room, or the stop channel of a room still
// being evicted, or neither.
func (hub *Hub) lookupLocked(roomID string, reserve bool) (*Room, <-chan struct{}, error) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if hub.closed {
		return nil, nil, ErrHubClosed
	}
	if room, ok := hub.rooms[roomID]; ok {
		if reserve {
			room.pending.Add(1)
		}
		return room, nil, nil
	}
	if old, ok := hub.evicting[roomID]; ok {
		return nil, old.stopped, nil
	}
	return nil, nil, nil
}

func (hub *Hub) insert(roomID string, snapshot *storage.RoomSnapshot, reserve bool) (*Room, error) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if hub.closed {
		return nil, ErrHubClosed
	}
	// someone else may have created it while we were loading
	room, ok := hub.rooms[roomID]
	if !ok {
		if _, evicting := hub.evicting[roomID]; evicting {
			return nil, nil
		}
		room = newRoom(hub, roomID, snapshot)
		hub.rooms[roomID] = room
		hub.metrics.IncRoomCreated()
		go room.run()
		if snapshot != nil {
			log.Printf("room %s restored (version %d)", roomID, snapshot.Version)
		} else {
			log.Printf("room %s created", roomID)
		}
	}
	if reserve {
		room.pending.Add(1)
	}
	return room, nil
}

// Lookup reads a room without creating it: a live room first, then the archive.
func (hub *Hub) Lookup(ctx context.Context, roomID string) (RoomView, error) {
	roomID = NormalizeRoomID(roomID)
	if room := hub.Get(roomID); room != nil {
		content, version, members := room.Snapshot()
		return RoomView{RoomID: roomID, Content: content, Version: version, Members: members, Cursors: hub.cursors(roomID), Live: true}, nil
	}
	if hub.store == nil {
		return RoomView{}, ErrRoomNotFound
	}
	snapshot, err := hub.store.LoadRoom(ctx, roomID)
	if err != nil {
		return RoomView{}, err
	}
	if snapshot == nil {
		return RoomView{}, ErrRoomNotFound
	}
	return RoomView{
		RoomID:  roomID,
		Content: snapshot.Content,
		Version: snapshot.Version,
		Members: []MemberView{},
		Cursors: []CursorView{},
	}, nil
}

func (hub *Hub) cursors(roomID string) []CursorView {
	entries := hub.presence.InRoom(roomID)
	cursors := make([]CursorView, 0, len(entries))
	for _, entry := range entries {
		cursors = append(cursors, CursorView{
			ConnectionID: entry.ConnectionID,
			DisplayName:  entry.DisplayName,
			Position:     entry.CursorPosition,
		})
	}
	return cursors
}

// Broadcast queues frame for every member of roomID except exclude. It
// reports false when the room is not live.
func (hub *Hub) Broadcast(roomID string, frame []byte, exclude string) bool {
	room := hub.Get(roomID)
	if room == nil {
		return false
	}
	return room.submit(roomCommand{kind: commandBroadcast, frame: frame, exclude: exclude})
}

// Reap evicts every room that has been empty for at least the idle TTL and
// has no join in flight. Evicted rooms are archived before Reap returns.
func (hub *Hub) Reap(now time.Time) int {
	if hub.idleTTL <= 0 {
		return 0
	}
	hub.mutex.Lock()
	var victims []*Room
	for id, room := range hub.rooms {
		if room.pending.Load() > 0 || room.idleFor(now) < hub.idleTTL {
			continue
		}
		delete(hub.rooms, id)
		hub.evicting[id] = room
		victims = append(victims, room)
	}
	hub.mutex.Unlock()

	for _, room := range victims {
		hub.stopRoom(room)
		hub.mutex.Lock()
		delete(hub.evicting, room.id)
		hub.mutex.Unlock()
		hub.metrics.IncRoomEvicted()
		log.Printf("room %s evicted after idling", room.id)
	}
	return len(victims)
}

func (hub *Hub) stopRoom(room *Room) {
	done := make(chan struct{})
	if room.submit(roomCommand{kind: commandEvict, done: done}) {
		<-done
	}
}

func (hub *Hub) reapLoop(interval time.Duration) {
	defer close(hub.reaperDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hub.Reap(hub.now())
		case <-hub.stopReaper:
			return
		}
	}
}

// Close stops the reaper and every room, archiving each document. Members
// are not notified; the transport shutdown closes their sockets.
func (hub *Hub) Close(ctx context.Context) error {
	hub.mutex.Lock()
	if hub.closed {
		hub.mutex.Unlock()
		return nil
	}
	hub.closed = true
	rooms := make([]*Room, 0, len(hub.rooms)+len(hub.evicting))
	for _, room := range hub.rooms {
		rooms = append(rooms, room)
	}
	for _, room := range hub.evicting {
		rooms = append(rooms, room)
	}
	hub.rooms = make(map[string]*Room)
	hub.mutex.Unlock()

	select {
	case <-hub.reaperDone:
	default:
		close(hub.stopReaper)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for _, room := range rooms {
			hub.stopRoom(room)
		}
		<-hub.reaperDone
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
