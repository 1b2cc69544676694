package rooms

import "sync"

// Tracker maps room ids to the set of connection ids currently subscribed to
// that room's broadcasts. Authorization happens before Join is called; the
// tracker itself accepts any room id.
type Tracker struct {
	mu      sync.RWMutex
	members map[int]map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{members: make(map[int]map[string]struct{})}
}

// Join subscribes a connection to a room.
func (t *Tracker) Join(roomID int, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.members[roomID]; !ok {
		t.members[roomID] = make(map[string]struct{})
	}
	t.members[roomID][connID] = struct{}{}
}

// Leave unsubscribes a connection from a room. Leaving a room the connection
// never joined is a no-op.
func (t *Tracker) Leave(roomID int, connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conns, ok := t.members[roomID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(t.members, roomID)
		}
	}
}

// MembersOf returns the connection ids subscribed to a room.
func (t *Tracker) MembersOf(roomID int) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conns := make([]string, 0, len(t.members[roomID]))
	for id := range t.members[roomID] {
		conns = append(conns, id)
	}
	return conns
}
