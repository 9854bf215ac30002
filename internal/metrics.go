package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

type Metrics struct {
	activeConns    atomic.Int64
	roomsCreated   atomic.Uint64
	roomsEvicted   atomic.Uint64
	docChanges     atomic.Uint64
	eventsDropped  atomic.Uint64
	malformed      atomic.Uint64
	overflows      atomic.Uint64
	connectsDenied atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) IncRoomCreated() {
	m.roomsCreated.Add(1)
}

func (m *Metrics) IncRoomEvicted() {
	m.roomsEvicted.Add(1)
}

func (m *Metrics) IncDocChange() {
	m.docChanges.Add(1)
}

func (m *Metrics) IncDropped() {
	m.eventsDropped.Add(1)
}

func (m *Metrics) IncMalformed() {
	m.malformed.Add(1)
}

func (m *Metrics) IncOverflow() {
	m.overflows.Add(1)
}

func (m *Metrics) IncConnectRejected() {
	m.connectsDenied.Add(1)
}

// Snapshot returns the current counter values keyed by their JSON names.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"active_connections":  m.activeConns.Load(),
		"rooms_created":       m.roomsCreated.Load(),
		"rooms_evicted":       m.roomsEvicted.Load(),
		"doc_changes_applied": m.docChanges.Load(),
		"events_dropped":      m.eventsDropped.Load(),
		"malformed_events":    m.malformed.Load(),
		"outbox_overflows":    m.overflows.Load(),
		"connect_rejected":    m.connectsDenied.Load(),
	}
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}
