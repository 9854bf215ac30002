// Package mirror copies room broadcasts onto Redis pub/sub so processes
// outside the hub can observe room traffic.
package mirror

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix    = "collabroom:room:"
	defaultQueueSize = 1024
	publishTimeout   = 2 * time.Second
)

// Channel returns the pub/sub channel carrying frames for roomID.
func Channel(roomID string) string {
	return channelPrefix + roomID
}

type message struct {
	channel string
	payload []byte
}

// RedisMirror publishes frames from a background goroutine. Publish never
// blocks the caller: when the queue is full the frame is dropped.
type RedisMirror struct {
	client  *redis.Client
	queue   chan message
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

// NewRedisMirror connects to addr, which is either host:port or a redis:// URL.
func NewRedisMirror(ctx context.Context, addr string) (*RedisMirror, error) {
	options := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		options = parsed
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	mirror := &RedisMirror{
		client: client,
		queue:  make(chan message, defaultQueueSize),
		done:   make(chan struct{}),
	}
	mirror.wg.Add(1)
	go mirror.run()
	return mirror, nil
}

func (m *RedisMirror) Publish(roomID string, frame []byte) {
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.queue <- message{channel: Channel(roomID), payload: frame}:
	default:
		if m.dropped.Add(1)%100 == 1 {
			log.Printf("redis mirror queue full, dropped %d frames so far", m.dropped.Load())
		}
	}
}

// Dropped reports how many frames never reached Redis because the queue was full.
func (m *RedisMirror) Dropped() uint64 {
	return m.dropped.Load()
}

// Subscribe streams frames published for roomID until ctx ends.
func (m *RedisMirror) Subscribe(ctx context.Context, roomID string) (<-chan []byte, error) {
	pubsub := m.client.Subscribe(ctx, Channel(roomID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *RedisMirror) run() {
	defer m.wg.Done()
	for {
		select {
		case msg := <-m.queue:
			m.publish(msg)
		case <-m.done:
			// flush what is already queued
			for {
				select {
				case msg := <-m.queue:
					m.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (m *RedisMirror) publish(msg message) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := m.client.Publish(ctx, msg.channel, msg.payload).Err(); err != nil {
		log.Printf("redis mirror publish %s: %v", msg.channel, err)
	}
}

// Close drains the queue and closes the client.
func (m *RedisMirror) Close() error {
	var err error
	m.once.Do(func() {
		close(m.done)
		m.wg.Wait()
		err = m.client.Close()
	})
	return err
}
