package internal

import (
	"sort"
	"sync"
)

// PresenceEntry is the live cursor state of one joined connection.
type PresenceEntry struct {
	ConnectionID   string
	RoomID         string
	CursorPosition int
	DisplayName    string
}

// PresenceTracker keeps one entry per joined connection, keyed by connection
// id. It is deliberately separate from Room.members.
type PresenceTracker struct {
	mu      sync.Mutex
	entries map[string]PresenceEntry
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{entries: make(map[string]PresenceEntry)}
}

// Track creates or replaces the entry with its cursor at 0.
func (p *PresenceTracker) Track(connectionID, roomID, displayName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[connectionID] = PresenceEntry{
		ConnectionID: connectionID,
		RoomID:       roomID,
		DisplayName:  displayName,
	}
}

// Move updates the cursor when the connection is tracked in roomID.
func (p *PresenceTracker) Move(connectionID, roomID string, position int) (PresenceEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[connectionID]
	if !ok || entry.RoomID != roomID {
		return PresenceEntry{}, false
	}
	entry.CursorPosition = position
	p.entries[connectionID] = entry
	return entry, true
}

func (p *PresenceTracker) Lookup(connectionID string) (PresenceEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[connectionID]
	return entry, ok
}

func (p *PresenceTracker) Remove(connectionID string) (PresenceEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[connectionID]
	if ok {
		delete(p.entries, connectionID)
	}
	return entry, ok
}

// InRoom lists the entries of one room ordered by connection id.
func (p *PresenceTracker) InRoom(roomID string) []PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var entries []PresenceEntry
	for _, entry := range p.entries {
		if entry.RoomID == roomID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ConnectionID < entries[j].ConnectionID })
	return entries
}

func (p *PresenceTracker) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
