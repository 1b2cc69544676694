package registry

import "sync"

// Registry is the concurrency-safe mapping from user id to that user's
// active connections. It holds no durable state: on process restart clients
// re-authenticate and re-join their rooms.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int]map[string]*Conn
	byConn map[string]*Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[int]map[string]*Conn),
		byConn: make(map[string]*Conn),
	}
}

// Admit registers a connection and reports whether it is the user's first,
// i.e. the 0-to-1 presence edge.
func (r *Registry) Admit(conn *Conn) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.byUser[conn.UserID]
	if !ok {
		conns = make(map[string]*Conn)
		r.byUser[conn.UserID] = conns
	}
	first = len(conns) == 0
	conns[conn.ID] = conn
	r.byConn[conn.ID] = conn
	return first
}

// Remove deregisters a connection. last reports the 1-to-0 presence edge;
// ok is false when the connection was already absent (removal is idempotent
// and an absent id is a no-op).
func (r *Registry) Remove(userID int, connID string) (last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, exists := r.byUser[userID]
	if !exists {
		return false, false
	}
	if _, exists := conns[connID]; !exists {
		return false, false
	}
	delete(conns, connID)
	delete(r.byConn, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
		return true, true
	}
	return false, true
}

// Get resolves a connection id, or nil when it is no longer registered.
func (r *Registry) Get(connID string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID]
}

// ConnectionsFor returns the user's active connections.
func (r *Registry) ConnectionsFor(userID int) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		conns = append(conns, c)
	}
	return conns
}

// CountFor returns the user's active connection count.
func (r *Registry) CountFor(userID int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// All returns every registered connection id. Used for the global presence
// broadcast.
func (r *Registry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byConn))
	for id := range r.byConn {
		ids = append(ids, id)
	}
	return ids
}
