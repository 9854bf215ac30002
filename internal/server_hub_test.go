package internal

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"collabroom/internal/storage"
)

func newTestHub(t *testing.T, options HubOptions) *Hub {
	t.Helper()
	hub := NewHub(options)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })
	return hub
}

func newTestSnapshotStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "rooms.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestConnection(hub *Hub) *Connection {
	return newConnection(nil, "test", 32, OverflowDisconnect, hub.metrics)
}

// recv waits for the next frame queued for connection.
func recv(t *testing.T, connection *Connection) ServerEvent {
	t.Helper()
	select {
	case frame, ok := <-connection.outbox.frames:
		if !ok {
			t.Fatalf("outbox of %s closed", connection.id)
		}
		var event ServerEvent
		if err := json.Unmarshal(frame, &event); err != nil {
			t.Fatalf("decode frame %s: %v", frame, err)
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a frame on %s", connection.id)
	}
	return ServerEvent{}
}

// expectQuiet asserts nothing is queued once the room has caught up.
func expectQuiet(t *testing.T, room *Room, connections ...*Connection) {
	t.Helper()
	syncRoom(t, room)
	for _, connection := range connections {
		if n := len(connection.outbox.frames); n != 0 {
			t.Fatalf("expected no frames for %s, found %d", connection.id, n)
		}
	}
}

func syncRoom(t *testing.T, room *Room) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !room.sync(ctx) {
		t.Fatalf("room %s did not sync", room.id)
	}
}

func dispatch(t *testing.T, hub *Hub, connection *Connection, event InboundEvent) {
	t.Helper()
	if err := hub.Dispatch(context.Background(), connection, event); err != nil {
		t.Fatalf("dispatch %s: %v", event.Type(), err)
	}
}

// joinRoom joins and consumes the snapshot, plus the "joined" broadcast on every peer.
func joinRoom(t *testing.T, hub *Hub, connection *Connection, roomID, name string, peers ...*Connection) ServerEvent {
	t.Helper()
	dispatch(t, hub, connection, JoinEvent{RoomID: roomID, DisplayName: name})
	snapshot := recv(t, connection)
	if !snapshot.IsSnapshot() {
		t.Fatalf("expected a snapshot, got %+v", snapshot)
	}
	for _, peer := range peers {
		if event := recv(t, peer); event.Event != EventJoined || event.ConnectionID != connection.id {
			t.Fatalf("expected joined for %s on %s, got %+v", connection.id, peer.id, event)
		}
	}
	return snapshot
}

func TestJoinSendsSnapshotAndAnnounces(t *testing.T) {
	hub := newTestHub(t, HubOptions{})
	ada := newTestConnection(hub)
	bob := newTestConnection(hub)

	first := joinRoom(t, hub, ada, "r1", "ada")
	if first.Content != "" || first.Version != 0 || len(first.Members) != 1 || first.Members[0].ConnectionID != ada.id {
		t.Fatalf("unexpected first snapshot %+v", first)
	}

	dispatch(t, hub, bob, JoinEvent{RoomID: "r1", DisplayName: "bob"})
	snapshot := recv(t, bob)
	if len(snapshot.Members) != 2 || snapshot.Members[0].DisplayName != "ada" || snapshot.Members[1].DisplayName != "bob" {
		t.Fatalf("expected members in join order, got %+v", snapshot.Members)
	}
	joined := recv(t, ada)
	if joined.Event != EventJoined || joined.DisplayName != "bob" || len(joined.Members) != 2 {
		t.Fatalf("unexpected joined %+v", joined)
	}

	room := hub.Get("r1")
	// the joiner never gets its own "joined"
	expectQuiet(t, room, ada, bob)
	if bob.RoomID() != "r1" {
		t.Fatalf("expected bob bound to r1, got %q", bob.RoomID())
	}
	if entry, ok := hub.Presence().Lookup(bob.id); !ok || entry.RoomID != "r1" || entry.CursorPosition != 0 {
		t.Fatalf("unexpected presence %+v, %v", entry, ok)
	}
}

func TestDocChangeLastWriterWins(t *testing.T) {
	hub := newTestHub(t, HubOptions{})
	ada := newTestConnection(hub)
	bob := newTestConnection(hub)
	joinRoom(t, hub, ada, "r1", "ada")
	joinRoom(t, hub, bob, "r1", "bob", ada)

	dispatch(t, hub, ada, DocChangeEvent{RoomID: "r1", Content: "from ada", Version: 5})
	for _, connection := range []*Connection{ada, bob} {
		update := recv(t, connection)
		if update.Event != EventDocUpdate || update.Content != "from ada" || update.Version != 5 || update.OriginConnectionID != ada.id {
			t.Fatalf("unexpected update %+v", update)
		}
	}

	// an older declared version still replaces the document
	dispatch(t, hub, bob, DocChangeEvent{RoomID: "r1", Content: "from bob", Version: 3})
	for _, connection := range []*Connection{ada, bob} {
		update := recv(t, connection)
		if update.Content != "from bob" || update.Version != 3 || update.OriginConnectionID != bob.id {
			t.Fatalf("unexpected update %+v", update)
		}
	}

	room := hub.Get("r1")
	syncRoom(t, room)
	content, version, _ := room.Snapshot()
	if content != "from bob" || version != 3 {
		t.Fatalf("expected the latest arrival to win, got %q v%d", content, version)
	}
	if got := hub.metrics.docChanges.Load(); got != 2 {
		t.Fatalf("expected 2 applied changes, got %d", got)
	}
}

func TestEventsForUnknownRoomAreDropped(t *testing.T) {
	hub := newTestHub(t, HubOptions{})
	ada := newTestConnection(hub)

	dispatch(t, hub, ada, DocChangeEvent{RoomID: "ghost", Content: "x", Version: 1})
	dispatch(t, hub, ada, CursorMoveEvent{RoomID: "ghost", Position: 1})
	dispatch(t, hub, ada, SetTypingEvent{RoomID: "ghost", IsTyping: true})
	dispatch(t, hub, ada, LeaveEvent{RoomID: "ghost"})

	if hub.Exists("ghost") || hub.Count() != 0 {
		t.Fatalf("events other than join must not create rooms")
	}
	if len(ada.outbox.frames) != 0 {
		t.Fatalf("dropped events get no reply")
	}
	if got := hub.metrics.eventsDropped.Load(); got != 4 {
		t.Fatalf("expected 4 dropped events, got %d", got)
	}
}

func TestDocChangeFromNonMemberOfLiveRoomIsApplied(t *testing.T) {
	hub := newTestHub(t, HubOptions{})
	ada := newTestConnection(hub)
	outsider := newTestConnection(hub)
	joinRoom(t, hub, ada, "r1", "ada")

	dispatch(t, hub, outsider, DocChangeEvent{RoomID: "r1", Content: "drive-by", Version: 9})
	if update := recv(t, ada); update.Content != "drive-by" || update.OriginConnectionID != outsider.id {
		t.Fatalf("unexpected update %+v", update)
	}
	expectQuiet(t, hub.Get("r1"), outsider)
}

func TestDuplicateJoinIsRejected(t *testing.T) {
	hub := newTestHub(t, HubOptions{})
	ada := newTestConnection(hub)
	joinRoom(t, hub, ada, "r1", "ada")

	err := hub.Dispatch(context.Background(), ada, JoinEvent{RoomID: "r2", DisplayName: "ada"})
	if !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}
	if hub.Exists("r2") {
		t.Fatalf("a rejected join must not create its room")
	}

	ada.handleFrame(hub, []byte(`{"event":"join","roomId":"r1","displayName":"ada"}`))
	if reply := recv(t, ada); reply.Event != EventError || reply.Code != errorCodeAlreadyJoined {
		t.Fatalf("expected already_joined error, got %+v", reply)
	}
	_, _, members := hub.Get("r1").Snapshot()
	if len(members) != 1 {
		t.Fatalf("duplicate join must not add a member, got %+v", members)
	}
}

func TestMalformedFrameGetsErrorReply(t *testing.T) {
	hub := newTestHub(t, HubOptions{})
	ada := newTestConnection(hub)

	ada.handleFrame(hub, []byte(`{"event":"docChange","roomId":"r1"}`))
	reply := recv(t, ada)
	if reply.Event != EventError || reply.Code != errorCodeMalformed || reply.Message == "" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if hub.metrics.malformed.Load() != 1 {
		t.Fatalf("expected one malformed event counted")
	}
}

func TestLeaveAndDisconnectAnnounceOnce(t *testing.T) {
	hub := newTestHub(t, HubOptions{})
	ada := newTestConnection(hub)
	bob := newTestConnection(hub)
	cy := newTestConnection(hub)
	joinRoom(t, hub, ada, "r1", "ada")
	joinRoom(t, hub, bob, "r1", "bob", ada)
	joinRoom(t, hub, cy, "r1", "cy", ada, bob)

	// a leave naming another room is ignored
	dispatch(t, hub, bob, LeaveEvent{RoomID: "r2"})
	room := hub.Get("r1")
	expectQuiet(t, room, ada, bob, cy)

	dispatch(t, hub, bob, LeaveEvent{RoomID: "r1"})
	for _, connection := range []*Connection{ada, cy} {
		left := recv(t, connection)
		if left.Event != EventLeft || left.ConnectionID != bob.id || len(left.Members) != 2 {
			t.Fatalf("unexpected left %+v", left)
		}
	}
	if bob.RoomID() != "" {
		t.Fatalf("expected bob unbound")
	}
	if _, ok := hub.Presence().Lookup(bob.id); ok {
		t.Fatalf("expected bob's presence removed")
	}

	// transport loss after an explicit leave announces nothing more
	hub.Disconnect(bob)
	expectQuiet(t, room, ada, bob, cy)

	hub.Disconnect(cy)
	left := recv(t, ada)
	if left.Event != EventLeft || left.ConnectionID != cy.id || len(left.Members) != 1 || left.Members[0].ConnectionID != ada.id {
		t.Fatalf("unexpected left %+v", left)
	}
	expectQuiet(t, room, ada, cy)
}

func TestCursorExcludesSenderTypingIncludesSender(t *testing.T) {
	hub := newTestHub(t, HubOptions{})
	ada := newTestConnection(hub)
	bob := newTestConnection(hub)
	joinRoom(t, hub, ada, "r1", "ada")
	joinRoom(t, hub, bob, "r1", "bob", ada)
	room := hub.Get("r1")

	dispatch(t, hub, ada, CursorMoveEvent{RoomID: "r1", Position: 3})
	cursor := recv(t, bob)
	if cursor.Event != EventCursorUpdate || cursor.ConnectionID != ada.id || cursor.DisplayName != "ada" || cursor.Position != 3 {
		t.Fatalf("unexpected cursor update %+v", cursor)
	}
	expectQuiet(t, room, ada)
	if entry, _ := hub.Presence().Lookup(ada.id); entry.CursorPosition != 3 {
		t.Fatalf("expected tracked cursor 3, got %d", entry.CursorPosition)
	}

	dispatch(t, hub, ada, SetTypingEvent{RoomID: "r1", IsTyping: true})
	for _, connection := range []*Connection{ada, bob} {
		typing := recv(t, connection)
		if typing.Event != EventTypingStatus || typing.ConnectionID != ada.id || !typing.IsTyping {
			t.Fatalf("unexpected typing status %+v", typing)
		}
	}
}

func TestPresenceEventsFromNonMembersAreDropped(t *testing.T) {
	hub := newTestHub(t, HubOptions{})
	ada := newTestConnection(hub)
	outsider := newTestConnection(hub)
	joinRoom(t, hub, ada, "r1", "ada")

	dispatch(t, hub, outsider, CursorMoveEvent{RoomID: "r1", Position: 2})
	dispatch(t, hub, outsider, SetTypingEvent{RoomID: "r1", IsTyping: true})
	expectQuiet(t, hub.Get("r1"), ada, outsider)
	if got := hub.metrics.eventsDropped.Load(); got != 2 {
		t.Fatalf("expected 2 dropped events, got %d", got)
	}
}

func TestRoomIDsAreNormalized(t *testing.T) {
	hub := newTestHub(t, HubOptions{})
	ada := newTestConnection(hub)
	bob := newTestConnection(hub)
	joinRoom(t, hub, ada, " Team-A ", "ada")
	snapshot := joinRoom(t, hub, bob, "team-a", "bob", ada)
	if snapshot.RoomID != "team-a" || len(snapshot.Members) != 2 {
		t.Fatalf("expected one shared room, got %+v", snapshot)
	}
	if hub.Count() != 1 || !hub.Exists("TEAM-A") {
		t.Fatalf("expected a single normalized room")
	}
}

func TestConcurrentGetOrCreateSharesRoom(t *testing.T) {
	hub := newTestHub(t, HubOptions{})
	const callers = 32
	rooms := make([]*Room, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := hub.GetOrCreate(context.Background(), "shared")
			if err != nil {
				t.Errorf("get or create: %v", err)
				return
			}
			rooms[i] = room
		}(i)
	}
	wg.Wait()
	for i := 1; i < callers; i++ {
		if rooms[i] != rooms[0] {
			t.Fatalf("caller %d got a different room", i)
		}
	}
	if got := hub.metrics.roomsCreated.Load(); got != 1 {
		t.Fatalf("expected one room created, got %d", got)
	}
}

func TestBroadcastSkipsExcluded(t *testing.T) {
	hub := newTestHub(t, HubOptions{})
	ada := newTestConnection(hub)
	bob := newTestConnection(hub)
	joinRoom(t, hub, ada, "r1", "ada")
	joinRoom(t, hub, bob, "r1", "bob", ada)

	frame := encodeOutbound(ErrorMessage{Event: EventError, Code: "notice", Message: "maintenance"})
	if !hub.Broadcast("r1", frame, ada.id) {
		t.Fatalf("expected broadcast to a live room to succeed")
	}
	if got := recv(t, bob); got.Code != "notice" {
		t.Fatalf("unexpected frame %+v", got)
	}
	expectQuiet(t, hub.Get("r1"), ada)
	if hub.Broadcast("ghost", frame, "") {
		t.Fatalf("broadcast to an unknown room must report false")
	}
}

func TestSlowMemberIsDisconnectedWithoutStallingRoom(t *testing.T) {
	hub := newTestHub(t, HubOptions{})
	ada := newTestConnection(hub)
	slow := newConnection(nil, "slow", 1, OverflowDisconnect, hub.metrics)
	joinRoom(t, hub, ada, "r1", "ada")
	// the snapshot fills the slow outbox and is never drained
	dispatch(t, hub, slow, JoinEvent{RoomID: "r1", DisplayName: "slow"})
	if joined := recv(t, ada); joined.Event != EventJoined {
		t.Fatalf("unexpected frame %+v", joined)
	}

	dispatch(t, hub, ada, DocChangeEvent{RoomID: "r1", Content: "x", Version: 1})
	if update := recv(t, ada); update.Content != "x" {
		t.Fatalf("unexpected update %+v", update)
	}
	syncRoom(t, hub.Get("r1"))
	if !slow.outbox.isClosed() {
		t.Fatalf("expected the slow connection's outbox to be closed")
	}
	if hub.metrics.overflows.Load() != 1 {
		t.Fatalf("expected one overflow")
	}
}

func TestReapArchivesAndRestores(t *testing.T) {
	store := newTestSnapshotStore(t)
	hub := newTestHub(t, HubOptions{IdleRoomTTL: time.Minute, ReapInterval: time.Hour, Store: store})
	ada := newTestConnection(hub)
	joinRoom(t, hub, ada, "r1", "ada")
	dispatch(t, hub, ada, DocChangeEvent{RoomID: "r1", Content: "keep me", Version: 4})
	recv(t, ada)

	if n := hub.Reap(time.Now().Add(time.Hour)); n != 0 {
		t.Fatalf("an occupied room must not be reaped, reaped %d", n)
	}

	hub.Disconnect(ada)
	room := hub.Get("r1")
	syncRoom(t, room)

	if n := hub.Reap(time.Now()); n != 0 {
		t.Fatalf("a freshly emptied room must not be reaped, reaped %d", n)
	}
	// a join in flight protects the room too
	room.pending.Add(1)
	if n := hub.Reap(time.Now().Add(time.Hour)); n != 0 {
		t.Fatalf("a room with a pending join must not be reaped")
	}
	room.pending.Add(-1)

	if n := hub.Reap(time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("expected one room reaped, got %d", n)
	}
	if hub.Exists("r1") {
		t.Fatalf("expected r1 evicted")
	}
	select {
	case <-room.stopped:
	default:
		t.Fatalf("expected the evicted room to be stopped")
	}

	archived, err := store.LoadRoom(context.Background(), "r1")
	if err != nil || archived == nil || archived.Content != "keep me" || archived.Version != 4 {
		t.Fatalf("unexpected archive %+v, %v", archived, err)
	}

	bob := newTestConnection(hub)
	snapshot := joinRoom(t, hub, bob, "r1", "bob")
	if snapshot.Content != "keep me" || snapshot.Version != 4 {
		t.Fatalf("expected the archived document restored, got %+v", snapshot)
	}
	if hub.metrics.roomsEvicted.Load() != 1 || hub.metrics.roomsCreated.Load() != 2 {
		t.Fatalf("unexpected room counters %+v", hub.metrics.Snapshot())
	}
}

// blockingStore holds SaveRoom until release is closed.
type blockingStore struct {
	saving  chan struct{}
	release chan struct{}
	mu      sync.Mutex
	saved   []storage.RoomSnapshot
}

func (s *blockingStore) SaveRoom(_ context.Context, snapshot storage.RoomSnapshot) error {
	close(s.saving)
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snapshot)
	return nil
}

func (s *blockingStore) LoadRoom(context.Context, string) (*storage.RoomSnapshot, error) {
	return nil, nil
}

func (s *blockingStore) Close() error { return nil }

func TestCommandsQueuedBehindEvictionAreDropped(t *testing.T) {
	store := &blockingStore{saving: make(chan struct{}), release: make(chan struct{})}
	hub := newTestHub(t, HubOptions{IdleRoomTTL: time.Minute, ReapInterval: time.Hour, Store: store})
	room, err := hub.GetOrCreate(context.Background(), "r1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	writer := newTestConnection(hub)

	reaped := make(chan int, 1)
	go func() { reaped <- hub.Reap(time.Now().Add(time.Hour)) }()
	<-store.saving
	// a sender that looked the room up before the reaper removed it
	if !room.submit(roomCommand{kind: commandDocChange, connection: writer, content: "late", version: 9}) {
		t.Fatalf("the room accepts commands until archiving finishes")
	}
	close(store.release)

	if n := <-reaped; n != 1 {
		t.Fatalf("expected one room reaped, got %d", n)
	}
	if got := hub.metrics.eventsDropped.Load(); got != 1 {
		t.Fatalf("expected the late change counted as dropped, got %d", got)
	}
	if len(room.inbox) != 0 {
		t.Fatalf("expected an empty inbox after eviction, got %d", len(room.inbox))
	}
	if room.submit(roomCommand{kind: commandDocChange, connection: writer, content: "later"}) {
		t.Fatalf("a stopped room must refuse commands")
	}
	if len(store.saved) != 1 || store.saved[0].Content != "" {
		t.Fatalf("unexpected archive %+v", store.saved)
	}
}

func TestReapDisabledWithoutTTL(t *testing.T) {
	hub := newTestHub(t, HubOptions{})
	if _, err := hub.GetOrCreate(context.Background(), "r1"); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if n := hub.Reap(time.Now().Add(24 * time.Hour)); n != 0 {
		t.Fatalf("rooms must live forever without a TTL, reaped %d", n)
	}
}

func TestCloseArchivesAndRefusesWork(t *testing.T) {
	store := newTestSnapshotStore(t)
	hub := NewHub(HubOptions{Store: store})
	ada := newTestConnection(hub)
	joinRoom(t, hub, ada, "r1", "ada")
	dispatch(t, hub, ada, DocChangeEvent{RoomID: "r1", Content: "final", Version: 2})
	recv(t, ada)

	if err := hub.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := hub.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}

	archived, err := store.LoadRoom(context.Background(), "r1")
	if err != nil || archived == nil || archived.Content != "final" {
		t.Fatalf("expected r1 archived on close, got %+v, %v", archived, err)
	}
	if _, err := hub.GetOrCreate(context.Background(), "r2"); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("expected ErrHubClosed, got %v", err)
	}
	bob := newTestConnection(hub)
	if err := hub.Dispatch(context.Background(), bob, JoinEvent{RoomID: "r1", DisplayName: "bob"}); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("expected ErrHubClosed, got %v", err)
	}
	if bob.RoomID() != "" {
		t.Fatalf("a refused join must leave the connection unbound")
	}
	// disconnecting after close only clears presence
	hub.Disconnect(ada)
	if _, ok := hub.Presence().Lookup(ada.id); ok {
		t.Fatalf("expected presence cleared")
	}
}

func TestLookupPrefersLiveThenArchive(t *testing.T) {
	store := newTestSnapshotStore(t)
	if err := store.SaveRoom(context.Background(), storage.RoomSnapshot{RoomID: "old", Content: "archived", Version: 8, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	hub := newTestHub(t, HubOptions{Store: store})

	view, err := hub.Lookup(context.Background(), "OLD")
	if err != nil || view.Live || view.Content != "archived" || view.Version != 8 || view.Members == nil || view.Cursors == nil {
		t.Fatalf("unexpected archived view %+v, %v", view, err)
	}
	if hub.Exists("old") {
		t.Fatalf("lookup must not create rooms")
	}

	ada := newTestConnection(hub)
	joinRoom(t, hub, ada, "old", "ada")
	view, err = hub.Lookup(context.Background(), "old")
	if err != nil || !view.Live || len(view.Members) != 1 || view.Content != "archived" {
		t.Fatalf("unexpected live view %+v, %v", view, err)
	}
	if len(view.Cursors) != 1 || view.Cursors[0].ConnectionID != ada.id || view.Cursors[0].Position != 0 {
		t.Fatalf("expected ada's cursor at 0, got %+v", view.Cursors)
	}

	dispatch(t, hub, ada, CursorMoveEvent{RoomID: "old", Position: 5})
	syncRoom(t, hub.Get("old"))
	view, _ = hub.Lookup(context.Background(), "old")
	if len(view.Cursors) != 1 || view.Cursors[0].Position != 5 || view.Cursors[0].DisplayName != "ada" {
		t.Fatalf("expected the moved cursor in the view, got %+v", view.Cursors)
	}

	if _, err := hub.Lookup(context.Background(), "missing"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

type recordingMirror struct {
	mu     sync.Mutex
	frames map[string]int
}

func (m *recordingMirror) Publish(roomID string, _ []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames[roomID]++
}

func (m *recordingMirror) count(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames[roomID]
}

func TestFanOutIsMirrored(t *testing.T) {
	mirror := &recordingMirror{frames: make(map[string]int)}
	hub := newTestHub(t, HubOptions{Mirror: mirror})
	ada := newTestConnection(hub)
	joinRoom(t, hub, ada, "r1", "ada")
	dispatch(t, hub, ada, DocChangeEvent{RoomID: "r1", Content: "x", Version: 1})
	recv(t, ada)
	syncRoom(t, hub.Get("r1"))
	// the "joined" broadcast and the doc update; snapshots are private
	if got := mirror.count("r1"); got != 2 {
		t.Fatalf("expected 2 mirrored frames, got %d", got)
	}
}

func TestTwoEditorScenario(t *testing.T) {
	hub := newTestHub(t, HubOptions{})
	alice := newTestConnection(hub)
	bob := newTestConnection(hub)

	snapshot := joinRoom(t, hub, alice, "R1", "Alice")
	if snapshot.Content != "" || snapshot.Version != 0 || len(snapshot.Members) != 1 {
		t.Fatalf("unexpected snapshot for Alice %+v", snapshot)
	}
	dispatch(t, hub, bob, JoinEvent{RoomID: "R1", DisplayName: "Bob"})
	if snapshot := recv(t, bob); snapshot.Version != 0 || len(snapshot.Members) != 2 {
		t.Fatalf("unexpected snapshot for Bob %+v", snapshot)
	}
	if joined := recv(t, alice); joined.Event != EventJoined || joined.ConnectionID != bob.id || len(joined.Members) != 2 {
		t.Fatalf("unexpected joined %+v", joined)
	}

	dispatch(t, hub, alice, DocChangeEvent{RoomID: "R1", Content: "hello", Version: 1})
	for _, connection := range []*Connection{alice, bob} {
		if update := recv(t, connection); update.Content != "hello" || update.Version != 1 {
			t.Fatalf("unexpected update %+v", update)
		}
	}
	dispatch(t, hub, bob, DocChangeEvent{RoomID: "R1", Content: "hello world", Version: 1})
	for _, connection := range []*Connection{alice, bob} {
		if update := recv(t, connection); update.Content != "hello world" || update.Version != 1 {
			t.Fatalf("unexpected update %+v", update)
		}
	}

	// Alice's transport drops without a leave
	hub.Disconnect(alice)
	left := recv(t, bob)
	if left.Event != EventLeft || left.ConnectionID != alice.id || len(left.Members) != 1 || left.Members[0].ConnectionID != bob.id {
		t.Fatalf("unexpected left %+v", left)
	}
	content, version, _ := hub.Get("r1").Snapshot()
	if content != "hello world" || version != 1 {
		t.Fatalf("a departure must not touch the document, got %q v%d", content, version)
	}
}
