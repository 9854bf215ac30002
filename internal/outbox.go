package internal

import (
	"fmt"
	"strings"
	"sync"
)

// OverflowPolicy decides what happens when a connection's outbound queue is full.
type OverflowPolicy int

const (
	// OverflowDisconnect drops the slow connection.
	OverflowDisconnect OverflowPolicy = iota
	// OverflowDropOldest discards the oldest queued frame to make room.
	OverflowDropOldest
)

func (policy OverflowPolicy) String() string {
	if policy == OverflowDropOldest {
		return "drop-oldest"
	}
	return "disconnect"
}

// ParseOverflowPolicy accepts "disconnect" or "drop-oldest".
func ParseOverflowPolicy(value string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "disconnect":
		return OverflowDisconnect, nil
	case "drop-oldest", "drop_oldest", "dropoldest":
		return OverflowDropOldest, nil
	}
	return OverflowDisconnect, fmt.Errorf("unknown overflow policy %q", value)
}

const defaultOutboxSize = 256

// outbox is a bounded frame queue with many producers (room actors, the
// connection's own read loop) and a single consumer (the write pump). The
// mutex makes push and close safe to race, so no producer ever sends on a
// closed channel.
type outbox struct {
	mutex      sync.Mutex
	frames     chan []byte
	closed     bool
	policy     OverflowPolicy
	onOverflow func()
}

func newOutbox(size int, policy OverflowPolicy, onOverflow func()) *outbox {
	if size <= 0 {
		size = defaultOutboxSize
	}
	return &outbox{
		frames:     make(chan []byte, size),
		policy:     policy,
		onOverflow: onOverflow,
	}
}

// push never blocks. It reports whether the frame was queued.
func (box *outbox) push(frame []byte) bool {
	box.mutex.Lock()
	if box.closed {
		box.mutex.Unlock()
		return false
	}
	select {
	case box.frames <- frame:
		box.mutex.Unlock()
		return true
	default:
	}

	if box.policy == OverflowDropOldest {
		// the consumer may drain concurrently, so both selects stay non-blocking
		select {
		case <-box.frames:
		default:
		}
		select {
		case box.frames <- frame:
		default:
		}
		box.mutex.Unlock()
		if box.onOverflow != nil {
			box.onOverflow()
		}
		return true
	}

	box.closed = true
	close(box.frames)
	box.mutex.Unlock()
	if box.onOverflow != nil {
		box.onOverflow()
	}
	return false
}

func (box *outbox) close() {
	box.mutex.Lock()
	defer box.mutex.Unlock()
	if box.closed {
		return
	}
	box.closed = true
	close(box.frames)
}

func (box *outbox) isClosed() bool {
	box.mutex.Lock()
	defer box.mutex.Unlock()
	return box.closed
}
