package presence

import (
	"context"
	"log"
	"time"

	"chat-realtime/internal/delivery"
	"chat-realtime/internal/models"
	"chat-realtime/internal/store"
)

// Manager turns registry population edges into presence events. A user is
// online iff they hold at least one registered connection; the broadcast
// fires only on the 0-to-1 and 1-to-0 edges.
//
// Presence events go to every connected client. Small deployments tolerate
// this; room-scoped presence would need a reverse user-to-rooms index.
const defaultStoreTimeout = 5 * time.Second

type Manager struct {
	store        store.Store
	broadcaster  *delivery.Broadcaster
	storeTimeout time.Duration
}

// NewManager constructs a presence Manager. storeTimeout bounds the last-seen
// writes; OnRemove runs in disconnect cleanup, so a hung store must not stall
// the offline broadcast.
func NewManager(st store.Store, broadcaster *delivery.Broadcaster, storeTimeout time.Duration) *Manager {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Manager{store: st, broadcaster: broadcaster, storeTimeout: storeTimeout}
}

// OnAdmit handles a registry admission. first is the registry's report of
// the 0-to-1 edge.
func (m *Manager) OnAdmit(ctx context.Context, userID int, first bool) {
	if !first {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	if err := m.store.SetUserOnline(sctx, userID, true, time.Now()); err != nil {
		log.Printf("presence: set online failed user=%d: %v", userID, err)
	}
	m.broadcaster.DeliverAll(models.OutboundEvent{
		Event: models.EventUserOnline,
		Data:  models.PresencePayload{UserID: userID},
	})
}

// OnRemove handles a registry removal. last is the registry's report of the
// 1-to-0 edge. The last-seen write is best effort: a store failure is logged
// and the offline broadcast still goes out.
func (m *Manager) OnRemove(ctx context.Context, userID int, last bool) {
	if !last {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	if err := m.store.SetUserOnline(sctx, userID, false, time.Now()); err != nil {
		log.Printf("presence: set offline failed user=%d: %v", userID, err)
	}
	m.broadcaster.DeliverAll(models.OutboundEvent{
		Event: models.EventUserOffline,
		Data:  models.PresencePayload{UserID: userID},
	})
}
