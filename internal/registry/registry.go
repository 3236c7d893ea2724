// Package registry implements the process-local mapping from user id to
// live connection. It is intentionally the simplest piece of shared state
// in the service: one mutex, one map, never held across a Store or
// PubSubBus call.
package registry

import "sync"

// Conn is the minimal surface ConnRegistry needs from a live connection.
// The concrete type (a websocket client) lives in package server; this
// interface keeps the registry ignorant of transport details.
type Conn interface {
	Send([]byte)
}

// Registry maps user id to a live Conn, guarded by a single mutex.
type Registry struct {
	mu    sync.Mutex
	conns map[int64]Conn
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{conns: make(map[int64]Conn)}
}

// Bind associates userID with conn, replacing any previous binding.
func (r *Registry) Bind(userID int64, conn Conn) {
	r.mu.Lock()
	r.conns[userID] = conn
	r.mu.Unlock()
}

// Unbind removes userID's binding, if any.
func (r *Registry) Unbind(userID int64) {
	r.mu.Lock()
	delete(r.conns, userID)
	r.mu.Unlock()
}

// UnbindByConn searches the registry for conn and removes it, returning the
// user id it was bound to. Used on an unexpected disconnect, where the
// caller knows the connection but not which user (if any) was logged in on
// it.
func (r *Registry) UnbindByConn(conn Conn) (userID int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.conns {
		if c == conn {
			delete(r.conns, id)
			return id, true
		}
	}
	return 0, false
}

// Lookup returns the connection bound to userID, if any.
func (r *Registry) Lookup(userID int64) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[userID]
	return c, ok
}

// ForEachSend takes the lock once, sends payload to every userID that is
// currently bound, and returns the ids that were not found so the caller
// can apply its fallback (cross-node publish, or offline persistence)
// after the lock is released. The lock is never held across that
// fallback — holding it across a Store or PubSubBus call would stall every
// other connection's lookup behind one slow call.
func (r *Registry) ForEachSend(userIDs []int64, payload []byte) (missing []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range userIDs {
		if c, ok := r.conns[id]; ok {
			c.Send(payload)
		} else {
			missing = append(missing, id)
		}
	}
	return missing
}
