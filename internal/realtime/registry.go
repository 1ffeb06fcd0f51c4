package realtime

import (
	"sort"
	"sync"

	"example.com/competition/internal/observability"
)

// Conn is a live duplex channel to one connected user.
type Conn interface {
	Send(msg Message) error
	Close() error
}

// Registry is the single-process connection registry. Entries are ephemeral:
// they exist only while a connection is live and are never persisted.
// Delivery is strictly best-effort; there is no queueing or retry.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register associates the user with a live channel, replacing and closing
// any prior channel for that user.
func (r *Registry) Register(userID string, conn Conn) {
	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = conn
	size := len(r.conns)
	r.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	observability.SetConnectedUsers(size)
}

// Unregister removes the user's entry if conn is still the registered
// channel. A stale handler racing a reconnect must not evict the new channel.
func (r *Registry) Unregister(userID string, conn Conn) {
	r.mu.Lock()
	if current, ok := r.conns[userID]; ok && (conn == nil || current == conn) {
		delete(r.conns, userID)
	}
	size := len(r.conns)
	r.mu.Unlock()

	observability.SetConnectedUsers(size)
}

// Send pushes a message to the user. It is a silent no-op when the user has
// no open or writable channel.
func (r *Registry) Send(userID string, msg Message) {
	r.mu.RLock()
	conn := r.conns[userID]
	r.mu.RUnlock()

	if conn == nil {
		observability.RecordFanoutDropped()
		return
	}
	if err := conn.Send(msg); err != nil {
		observability.RecordFanoutDropped()
		return
	}
	observability.RecordFanoutDelivered(msg.Type)
}

// ConnectedIDs returns the ids of all currently connected users in a
// deterministic order.
func (r *Registry) ConnectedIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
