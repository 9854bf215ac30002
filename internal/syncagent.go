package internal

import (
	"errors"
	"log"
	"sync"
	"time"
)

const (
	defaultDebounce      = 300 * time.Millisecond
	defaultTypingTimeout = 2 * time.Second
)

// ErrAgentClosed is returned by Flush after Close.
var ErrAgentClosed = errors.New("sync agent closed")

// Emitter sends one client event to the hub.
type Emitter interface {
	Emit(event InboundEvent) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event InboundEvent) error

func (f EmitterFunc) Emit(event InboundEvent) error { return f(event) }

type AgentOptions struct {
	// Debounce is the quiet period after the last local edit before a docChange goes out.
	Debounce time.Duration
	// TypingTimeout is how long after the last local edit the typing flag is cleared.
	TypingTimeout time.Duration
}

// Reconciliation tells the editor what an incoming docUpdate meant.
type Reconciliation int

const (
	// ReconcileNoop: the update matches what is already displayed.
	ReconcileNoop Reconciliation = iota
	// ReconcileEcho: the update is our own last send coming back.
	ReconcileEcho
	// ReconcileRemote: someone else changed the document; the editor must show the new content.
	ReconcileRemote
)

func (r Reconciliation) String() string {
	switch r {
	case ReconcileEcho:
		return "echo"
	case ReconcileRemote:
		return "remote"
	}
	return "noop"
}

// SyncAgent is the client half of the protocol for one joined room. Local
// edits are shown at once and sent as whole documents after a debounce;
// incoming updates are sorted into echoes of our own sends and genuine
// remote changes, so applying a remote change never triggers a send.
//
// The timers run on their own goroutines. Every timer callback compares its
// generation with the agent's under the mutex, so a callback that lost a
// race with Stop does nothing.
type SyncAgent struct {
	mu      sync.Mutex
	roomID  string
	emitter Emitter
	options AgentOptions

	selfID       string
	content      string
	lastSent     string
	hasSent      bool
	sentVersion  int64
	localVersion int64
	typing       bool
	cursor       int
	closed       bool

	debounceTimer *time.Timer
	debounceGen   uint64
	typingTimer   *time.Timer
	typingGen     uint64
}

func NewSyncAgent(roomID string, emitter Emitter, options AgentOptions) *SyncAgent {
	if options.Debounce <= 0 {
		options.Debounce = defaultDebounce
	}
	if options.TypingTimeout <= 0 {
		options.TypingTimeout = defaultTypingTimeout
	}
	return &SyncAgent{
		roomID:  roomID,
		emitter: emitter,
		options: options,
		cursor:  -1,
	}
}

func (a *SyncAgent) RoomID() string { return a.roomID }

// SetSelfID records our connection id, learned from the join snapshot. Changes
// carrying it as their origin are confirmations of our own sends.
func (a *SyncAgent) SetSelfID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selfID = id
}

// Content returns the locally displayed document.
func (a *SyncAgent) Content() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.content
}

// Version returns the last version this agent saw or sent.
func (a *SyncAgent) Version() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.localVersion
}

func (a *SyncAgent) LastSent() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSent
}

func (a *SyncAgent) IsTyping() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.typing
}

// LocalEdit records a keystroke-level change made in the local editor.
func (a *SyncAgent) LocalEdit(content string) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.content = content
	startTyping := !a.typing
	a.typing = true
	a.typingGen++
	typingGen := a.typingGen
	if a.typingTimer != nil {
		a.typingTimer.Stop()
	}
	a.typingTimer = time.AfterFunc(a.options.TypingTimeout, func() { a.expireTyping(typingGen) })
	a.debounceGen++
	debounceGen := a.debounceGen
	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
	}
	a.debounceTimer = time.AfterFunc(a.options.Debounce, func() { a.fireDebounce(debounceGen) })
	a.mu.Unlock()

	if startTyping {
		a.emit(SetTypingEvent{RoomID: a.roomID, IsTyping: true})
	}
}

// MoveCursor reports the local cursor offset; repeats of the same offset are not sent.
func (a *SyncAgent) MoveCursor(position int) {
	if position < 0 {
		return
	}
	a.mu.Lock()
	if a.closed || position == a.cursor {
		a.mu.Unlock()
		return
	}
	a.cursor = position
	a.mu.Unlock()
	a.emit(CursorMoveEvent{RoomID: a.roomID, Position: position})
}

// ReceiveDocUpdate reconciles a docUpdate (snapshot or change) with local
// state. origin is the sender's connection id, empty for a snapshot.
func (a *SyncAgent) ReceiveDocUpdate(content string, version int64, origin string) Reconciliation {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ReconcileNoop
	}
	if origin != "" && a.selfID != "" {
		if origin == a.selfID {
			return a.confirmLocked(content, version)
		}
		a.localVersion = version
		if content == a.content {
			return ReconcileNoop
		}
		return a.adoptLocked(content)
	}

	a.localVersion = version
	switch {
	case a.hasSent && content == a.lastSent:
		return ReconcileEcho
	case content == a.content:
		return ReconcileNoop
	}
	return a.adoptLocked(content)
}

// confirmLocked handles our own change coming back. It never overwrites local
// edits. The one exception is the echo of our latest send with nothing
// pending: the server now holds exactly that, so a remote change applied in
// between is replaced.
func (a *SyncAgent) confirmLocked(content string, version int64) Reconciliation {
	if version > a.localVersion {
		a.localVersion = version
	}
	latest := a.sentVersion != 0 && version == a.sentVersion
	if latest && a.debounceTimer == nil && content != a.content {
		a.content = content
		return ReconcileRemote
	}
	return ReconcileEcho
}

// adoptLocked replaces the document with a remote change. Whatever we had not
// sent yet is discarded, and our last send is superseded too.
func (a *SyncAgent) adoptLocked(content string) Reconciliation {
	a.content = content
	a.hasSent = false
	a.debounceGen++
	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
		a.debounceTimer = nil
	}
	return ReconcileRemote
}

// Flush sends a pending debounced change immediately.
func (a *SyncAgent) Flush() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrAgentClosed
	}
	if a.debounceTimer == nil {
		a.mu.Unlock()
		return nil
	}
	a.debounceTimer.Stop()
	a.debounceTimer = nil
	a.debounceGen++
	event := a.prepareChangeLocked()
	a.mu.Unlock()
	return a.emitter.Emit(event)
}

// Close cancels both timers; a timer that has not fired yet never will.
func (a *SyncAgent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.debounceGen++
	a.typingGen++
	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
		a.debounceTimer = nil
	}
	if a.typingTimer != nil {
		a.typingTimer.Stop()
		a.typingTimer = nil
	}
}

func (a *SyncAgent) fireDebounce(gen uint64) {
	a.mu.Lock()
	if a.closed || gen != a.debounceGen {
		a.mu.Unlock()
		return
	}
	a.debounceTimer = nil
	event := a.prepareChangeLocked()
	a.mu.Unlock()
	a.emit(event)
}

func (a *SyncAgent) prepareChangeLocked() DocChangeEvent {
	a.localVersion++
	a.lastSent = a.content
	a.hasSent = true
	a.sentVersion = a.localVersion
	return DocChangeEvent{RoomID: a.roomID, Content: a.content, Version: a.localVersion}
}

func (a *SyncAgent) expireTyping(gen uint64) {
	a.mu.Lock()
	if a.closed || gen != a.typingGen || !a.typing {
		a.mu.Unlock()
		return
	}
	a.typing = false
	a.typingTimer = nil
	a.mu.Unlock()
	a.emit(SetTypingEvent{RoomID: a.roomID, IsTyping: false})
}

func (a *SyncAgent) emit(event InboundEvent) {
	if err := a.emitter.Emit(event); err != nil {
		log.Printf("sync agent: emit %s: %v", event.Type(), err)
	}
}
