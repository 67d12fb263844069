// Package session maps authenticated identities onto live realtime channels.
// The mapping is process memory only and starts empty after a restart.
package session

import (
	"sort"
	"strings"
	"sync"
)

// Conn is the minimal view of a realtime channel the registry needs.
type Conn interface {
	ID() string
}

// Registry is a bidirectional identity to channel map. At most one channel is
// bound per identity and one identity per channel.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[string]Conn
	byConn     map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[string]Conn),
		byConn:     make(map[string]string),
	}
}

func normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Bind maps identity to conn, last write wins. The channel previously bound to
// identity is returned so the caller may notify it; it is not closed here.
func (r *Registry) Bind(identity string, conn Conn) Conn {
	identity = normalize(identity)
	if identity == "" || conn == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.byConn[conn.ID()]; ok && previous != identity {
		if bound, exists := r.byIdentity[previous]; exists && bound.ID() == conn.ID() {
			delete(r.byIdentity, previous)
		}
	}

	replaced := r.byIdentity[identity]
	if replaced != nil {
		if replaced.ID() == conn.ID() {
			replaced = nil
		} else {
			delete(r.byConn, replaced.ID())
		}
	}
	r.byIdentity[identity] = conn
	r.byConn[conn.ID()] = identity
	return replaced
}

// Unbind forgets conn. The identity goes offline only when conn is still the
// channel bound to it; a replaced channel disconnecting changes nothing.
func (r *Registry) Unbind(conn Conn) (string, bool) {
	if conn == nil {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byConn[conn.ID()]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn.ID())
	bound, exists := r.byIdentity[identity]
	if !exists || bound.ID() != conn.ID() {
		return "", false
	}
	delete(r.byIdentity, identity)
	return identity, true
}

func (r *Registry) ChannelOf(identity string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byIdentity[normalize(identity)]
	return conn, ok
}

func (r *Registry) IdentityOf(conn Conn) (string, bool) {
	if conn == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.byConn[conn.ID()]
	return identity, ok
}

func (r *Registry) IsOnline(identity string) bool {
	_, ok := r.ChannelOf(identity)
	return ok
}

// Online lists the bound identities in lexical order.
func (r *Registry) Online() []string {
	r.mu.RLock()
	identities := make([]string, 0, len(r.byIdentity))
	for identity := range r.byIdentity {
		identities = append(identities, identity)
	}
	r.mu.RUnlock()
	sort.Strings(identities)
	return identities
}

// Count returns the number of bound identities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}
