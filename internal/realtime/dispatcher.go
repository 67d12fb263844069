package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"blogane-live/internal/observability/logging"
	"blogane-live/internal/observability/metrics"
	"blogane-live/internal/session"
)

const relayPublishTimeout = 2 * time.Second

// Dispatcher delivers events either to every connected session or to the one
// session bound to an identity. With a relay configured, events are mirrored
// to other instances, which deliver them to their own sessions.
type Dispatcher struct {
	registry *session.Registry
	relay    Queue
	origin   string
	logger   *slog.Logger
	metrics  *metrics.Recorder

	mu      sync.RWMutex
	clients map[string]*client
}

func newDispatcher(registry *session.Registry, relay Queue, origin string, logger *slog.Logger, recorder *metrics.Recorder) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		relay:    relay,
		origin:   origin,
		logger:   logging.WithComponent(logger, "dispatcher"),
		metrics:  recorder,
		clients:  make(map[string]*client),
	}
}

func (d *Dispatcher) add(c *client) {
	d.mu.Lock()
	d.clients[c.id] = c
	d.mu.Unlock()
}

func (d *Dispatcher) remove(c *client) {
	d.mu.Lock()
	delete(d.clients, c.id)
	d.mu.Unlock()
}

func (d *Dispatcher) snapshot() []*client {
	d.mu.RLock()
	defer d.mu.RUnlock()
	clients := make([]*client, 0, len(d.clients))
	for _, c := range d.clients {
		clients = append(clients, c)
	}
	return clients
}

// Sessions reports the number of connected channels, logged in or not.
func (d *Dispatcher) Sessions() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.clients)
}

// Origin is this instance's relay id.
func (d *Dispatcher) Origin() string {
	return d.origin
}

// Broadcast delivers event to every connected session, anonymous ones
// included, and returns the number of local deliveries.
func (d *Dispatcher) Broadcast(event string, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("failed to encode broadcast", "event", event, "error", err)
		return 0
	}
	delivered := d.broadcastLocal(event, data)
	d.publish(RelayMessage{Scope: ScopeBroadcast, Event: event, Data: data})
	return delivered
}

// Unicast delivers event to the session bound to identity. It reports false
// when the identity has no local session or the channel is already gone.
func (d *Dispatcher) Unicast(identity, event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("failed to encode unicast", "event", event, "error", err)
		return false
	}
	if d.unicastLocal(identity, event, data) {
		return true
	}
	d.publish(RelayMessage{Scope: ScopeUnicast, Identity: identity, Event: event, Data: data})
	return false
}

func (d *Dispatcher) broadcastLocal(event string, data json.RawMessage) int {
	frame, err := encodeRawFrame(event, data)
	if err != nil {
		d.logger.Error("failed to encode broadcast frame", "event", event, "error", err)
		return 0
	}
	delivered := 0
	for _, c := range d.snapshot() {
		ok := c.enqueue(frame)
		d.metrics.ObserveDelivery(ScopeBroadcast, ok)
		if ok {
			delivered++
		}
	}
	return delivered
}

func (d *Dispatcher) unicastLocal(identity, event string, data json.RawMessage) bool {
	conn, ok := d.registry.ChannelOf(identity)
	if !ok {
		return false
	}
	c, ok := conn.(*client)
	if !ok {
		return false
	}
	frame, err := encodeRawFrame(event, data)
	if err != nil {
		d.logger.Error("failed to encode unicast frame", "event", event, "error", err)
		return false
	}
	delivered := c.enqueue(frame)
	d.metrics.ObserveDelivery(ScopeUnicast, delivered)
	return delivered
}

func (d *Dispatcher) publish(msg RelayMessage) {
	if d.relay == nil {
		return
	}
	msg.Origin = d.origin
	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()
	if err := d.relay.Publish(ctx, msg); err != nil {
		d.logger.Warn("failed to publish relay message", "event", msg.Event, "error", err)
	}
}

// Run delivers relay messages from other instances until ctx is cancelled.
// Without a relay it just waits for cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.relay == nil {
		<-ctx.Done()
		return nil
	}
	sub := d.relay.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			d.deliverRemote(msg)
		}
	}
}

func (d *Dispatcher) deliverRemote(msg RelayMessage) {
	defer logging.Recover(d.logger, "relay delivery")
	if msg.Origin == d.origin {
		return
	}
	switch msg.Scope {
	case ScopeBroadcast:
		d.broadcastLocal(msg.Event, msg.Data)
	case ScopeUnicast:
		d.unicastLocal(msg.Identity, msg.Event, msg.Data)
	}
}

// close shuts every channel down.
func (d *Dispatcher) close() {
	for _, c := range d.snapshot() {
		c.close()
	}
}
