package delivery

import (
	"encoding/json"
	"log"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/registry"
)

// Broadcaster pushes outbound events to sets of connections. A failed send
// to one connection never aborts delivery to the rest of the set; the failed
// connection is handed to the disconnect callback instead.
type Broadcaster struct {
	registry   *registry.Registry
	onDeadConn func(*registry.Conn)
}

// NewBroadcaster constructs a Broadcaster over the connection registry.
func NewBroadcaster(reg *registry.Registry) *Broadcaster {
	return &Broadcaster{registry: reg}
}

// SetDisconnectFunc installs the callback invoked when a send reveals a dead
// connection. Must be set before traffic flows.
func (b *Broadcaster) SetDisconnectFunc(fn func(*registry.Conn)) {
	b.onDeadConn = fn
}

// Deliver marshals the event once and enqueues it on every target
// connection. Per-connection ordering is guaranteed by each connection's
// single writer; no ordering holds across different connections.
func (b *Broadcaster) Deliver(connIDs []string, event models.OutboundEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	for _, id := range connIDs {
		conn := b.registry.Get(id)
		if conn == nil {
			continue
		}
		if err := conn.Enqueue(payload); err != nil {
			log.Printf("websocket send error conn=%s: %v", conn.ID, err)
			observability.IncBroadcast("error")
			if b.onDeadConn != nil {
				b.onDeadConn(conn)
			}
			continue
		}
		observability.IncBroadcast("ok")
	}
}

// DeliverAll pushes an event to every registered connection.
func (b *Broadcaster) DeliverAll(event models.OutboundEvent) {
	b.Deliver(b.registry.All(), event)
}
