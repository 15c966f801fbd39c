// Package presence tracks which users currently have a live connection. It is
// the single source of truth for "is user X reachable right now".
package presence

import (
	"sync"

	"github.com/Yuzoo0703/Trae-chat-room/pkg/protocol"
)

// Conn is the outbound half of a client connection. Push must not block the
// caller for unbounded time; implementations buffer and fail fast instead.
type Conn interface {
	Push(frame protocol.Frame) error
	Close() error
}

// Registry is a bidirectional connection/user map. One active connection per
// user id: registering an id that is already present silently replaces the old
// reference. Closing the displaced connection is the caller's responsibility.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Conn
	byConn map[Conn]string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]Conn),
		byConn: make(map[Conn]string),
	}
}

// Register binds conn to userID, returning the displaced connection if the
// user was already registered.
func (r *Registry) Register(userID string, conn Conn) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, had := r.byUser[userID]
	if had {
		delete(r.byConn, old)
	}
	r.byUser[userID] = conn
	r.byConn[conn] = userID
	return old, had
}

// Lookup fetches the live connection for a user, if any.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.byUser[userID]
	return conn, ok
}

// Unregister drops the mapping for conn, if it is still current. Idempotent:
// unknown or already-displaced connections are ignored. Returns the user id
// that was unbound.
func (r *Registry) Unregister(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn)
	if current, live := r.byUser[userID]; live && current == conn {
		delete(r.byUser, userID)
	}
	return userID, true
}

// Count reports the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// Snapshot returns every live connection, for teardown paths.
func (r *Registry) Snapshot() map[string]Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Conn, len(r.byUser))
	for id, conn := range r.byUser {
		out[id] = conn
	}
	return out
}

// Clear drops every mapping without closing connections.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byUser = make(map[string]Conn)
	r.byConn = make(map[Conn]string)
}
