package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Relay scopes.
const (
	ScopeBroadcast = "broadcast"
	ScopeUnicast   = "unicast"
)

// RelayMessage carries a dispatched event to the other instances sharing a
// relay. Origin identifies the publishing instance so it can skip its own
// messages.
type RelayMessage struct {
	Origin   string          `json:"origin"`
	Scope    string          `json:"scope"`
	Identity string          `json:"identity,omitempty"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func (m RelayMessage) validate() error {
	if m.Event == "" {
		return errors.New("relay event is required")
	}
	if m.Scope != ScopeBroadcast && m.Scope != ScopeUnicast {
		return errors.New("relay scope must be broadcast or unicast")
	}
	return nil
}

// Queue fans relay messages out to every subscribed instance.
type Queue interface {
	Publish(ctx context.Context, msg RelayMessage) error
	Subscribe() Subscription
	Ping(ctx context.Context) error
	Close() error
}

// Subscription is an active message stream. Messages is closed once the
// subscription ends.
type Subscription interface {
	Messages() <-chan RelayMessage
	Close()
}

// NewMemoryQueue returns an in-process queue, useful for tests and for
// wiring several hubs inside one process.
func NewMemoryQueue(buffer int) Queue {
	if buffer <= 0 {
		buffer = 32
	}
	return &memoryQueue{
		subs:   make(map[*memorySubscription]struct{}),
		buffer: buffer,
	}
}

type memoryQueue struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	buffer int
}

func (q *memoryQueue) Publish(ctx context.Context, msg RelayMessage) error {
	if err := msg.validate(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	for sub := range q.subs {
		select {
		case sub.ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Slow subscribers lose messages rather than stall publishers.
		}
	}
	return nil
}

func (q *memoryQueue) Subscribe() Subscription {
	sub := &memorySubscription{
		queue: q,
		ch:    make(chan RelayMessage, q.buffer),
	}
	q.mu.Lock()
	q.subs[sub] = struct{}{}
	q.mu.Unlock()
	return sub
}

func (q *memoryQueue) Ping(context.Context) error { return nil }

func (q *memoryQueue) Close() error {
	q.mu.Lock()
	subs := q.subs
	q.subs = make(map[*memorySubscription]struct{})
	q.mu.Unlock()
	for sub := range subs {
		sub.closeChannel()
	}
	return nil
}

type memorySubscription struct {
	once  sync.Once
	queue *memoryQueue
	ch    chan RelayMessage
}

func (s *memorySubscription) Messages() <-chan RelayMessage {
	return s.ch
}

func (s *memorySubscription) Close() {
	s.queue.mu.Lock()
	delete(s.queue.subs, s)
	s.queue.mu.Unlock()
	s.closeChannel()
}

func (s *memorySubscription) closeChannel() {
	s.once.Do(func() { close(s.ch) })
}
