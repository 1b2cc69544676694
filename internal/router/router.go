package router

import (
	"context"
	"errors"
	"log"
	"time"

	"chat-realtime/internal/delivery"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/registry"
	"chat-realtime/internal/rooms"
	"chat-realtime/internal/store"
)

const defaultStoreTimeout = 5 * time.Second

// Router validates inbound client events, consults the durable store and
// computes the broadcast set for each outbound event. It is the only
// component that mutates the room tracker or calls the store on the event
// path.
type Router struct {
	registry     *registry.Registry
	tracker      *rooms.Tracker
	presence     *presence.Manager
	broadcaster  *delivery.Broadcaster
	store        store.Store
	storeTimeout time.Duration
}

// New constructs a Router. storeTimeout bounds every store call made while
// handling an event; zero selects a default.
func New(reg *registry.Registry, tracker *rooms.Tracker, pres *presence.Manager, broadcaster *delivery.Broadcaster, st store.Store, storeTimeout time.Duration) *Router {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Router{
		registry:     reg,
		tracker:      tracker,
		presence:     pres,
		broadcaster:  broadcaster,
		store:        st,
		storeTimeout: storeTimeout,
	}
}

// HandleJoinRoom authorizes the caller against the room's persisted
// participant set and subscribes the connection on success.
func (r *Router) HandleJoinRoom(ctx context.Context, conn *registry.Conn, roomID int) Ack {
	if roomID <= 0 {
		return errAck(models.EventChatJoin, CodeValidationError)
	}

	participants, err := r.findParticipants(ctx, roomID)
	if err != nil {
		return r.storeErrAck(models.EventChatJoin, err)
	}
	if !contains(participants, conn.UserID) {
		return errAck(models.EventChatJoin, CodeNotAuthorized)
	}

	r.tracker.Join(roomID, conn.ID)
	conn.JoinRoom(roomID)
	return okAck(models.EventChatJoin)
}

// HandleLeaveRoom unsubscribes unconditionally; leaving is always safe.
func (r *Router) HandleLeaveRoom(conn *registry.Conn, roomID int) Ack {
	if roomID <= 0 {
		return errAck(models.EventChatLeave, CodeValidationError)
	}
	r.tracker.Leave(roomID, conn.ID)
	conn.LeaveRoom(roomID)
	return okAck(models.EventChatLeave)
}

// HandleTyping relays an ephemeral typing indicator to the room, excluding
// every connection owned by the sender. Nothing is persisted.
func (r *Router) HandleTyping(conn *registry.Conn, roomID int, isTyping bool) Ack {
	if roomID <= 0 {
		return errAck(models.EventTyping, CodeValidationError)
	}

	targets := excludeUser(r.registry, r.tracker.MembersOf(roomID), conn.UserID)
	r.broadcaster.Deliver(targets, models.OutboundEvent{
		Event: models.EventTyping,
		Data:  models.TypingPayload{ChatID: roomID, UserID: conn.UserID, IsTyping: isTyping},
	})
	return okAck(models.EventTyping)
}

// HandleSendMessage authorizes, persists, then broadcasts. The broadcast
// only happens after the store confirms creation: either the message is
// persisted and broadcast, or neither.
func (r *Router) HandleSendMessage(ctx context.Context, conn *registry.Conn, payload models.SendPayload) Ack {
	if payload.ChatID <= 0 || !models.ValidMessageType(payload.Type) {
		return errAck(models.EventMessageSend, CodeValidationError)
	}
	if payload.Text == "" && payload.MediaURL == "" {
		return errAck(models.EventMessageSend, CodeValidationError)
	}

	participants, err := r.findParticipants(ctx, payload.ChatID)
	if err != nil {
		return r.storeErrAck(models.EventMessageSend, err)
	}
	if !contains(participants, conn.UserID) {
		return errAck(models.EventMessageSend, CodeNotAuthorized)
	}

	msg, err := r.createMessage(ctx, conn.UserID, payload)
	if err != nil {
		log.Printf("router: create message failed room=%d sender=%d: %v", payload.ChatID, conn.UserID, err)
		return errAck(models.EventMessageSend, CodeStoreUnavailable)
	}

	if err := r.updateLastMessage(ctx, msg); err != nil {
		// The message is already durable; the pointer catches up on the
		// next send.
		log.Printf("router: update last message failed room=%d: %v", msg.RoomID, err)
	}

	r.broadcaster.Deliver(r.tracker.MembersOf(msg.RoomID), models.OutboundEvent{
		Event: models.EventMessageNew,
		Data:  &msg,
	})

	ack := okAck(models.EventMessageSend)
	ack.Message = &msg
	return ack
}

// HandleMarkRead appends the caller to the message's read-by set and
// broadcasts a read receipt to the message's room. The append is idempotent
// at the store, so repeated receipts are harmless.
func (r *Router) HandleMarkRead(ctx context.Context, conn *registry.Conn, messageID int) Ack {
	if messageID <= 0 {
		return errAck(models.EventMessageRead, CodeValidationError)
	}

	msg, err := r.getMessage(ctx, messageID)
	if err != nil {
		return r.storeErrAck(models.EventMessageRead, err)
	}

	sctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	start := time.Now()
	err = r.store.AddReader(sctx, messageID, conn.UserID)
	observability.ObserveStoreCall("add_reader", start)
	if err != nil {
		log.Printf("router: add reader failed message=%d user=%d: %v", messageID, conn.UserID, err)
		return errAck(models.EventMessageRead, CodeStoreUnavailable)
	}

	r.broadcaster.Deliver(r.tracker.MembersOf(msg.RoomID), models.OutboundEvent{
		Event: models.EventMessageRead,
		Data:  models.ReceiptPayload{MessageID: messageID, UserID: conn.UserID},
	})
	return okAck(models.EventMessageRead)
}

// HandleMarkDelivered relays a delivery receipt to the message's room.
// Nothing is persisted.
func (r *Router) HandleMarkDelivered(ctx context.Context, conn *registry.Conn, messageID int) Ack {
	if messageID <= 0 {
		return errAck(models.EventMessageDelivered, CodeValidationError)
	}

	msg, err := r.getMessage(ctx, messageID)
	if err != nil {
		return r.storeErrAck(models.EventMessageDelivered, err)
	}

	r.broadcaster.Deliver(r.tracker.MembersOf(msg.RoomID), models.OutboundEvent{
		Event: models.EventMessageDelivered,
		Data:  models.ReceiptPayload{MessageID: messageID, UserID: conn.UserID},
	})
	return okAck(models.EventMessageDelivered)
}

// Disconnect runs the full cleanup for a connection: registry removal, room
// membership release, presence transition, in that order. It is idempotent;
// only the first call for a connection does any work. Every step runs
// unconditionally.
func (r *Router) Disconnect(ctx context.Context, conn *registry.Conn) {
	last, ok := r.registry.Remove(conn.UserID, conn.ID)
	if !ok {
		return
	}
	for _, roomID := range conn.Rooms() {
		r.tracker.Leave(roomID, conn.ID)
	}
	conn.Close()
	r.presence.OnRemove(ctx, conn.UserID, last)
}

// DisconnectDead is the callback wired into the broadcaster and each
// connection's writer for send failures discovered mid-delivery. It uses a
// detached context because the failure is not tied to any client request.
func (r *Router) DisconnectDead(conn *registry.Conn) {
	r.Disconnect(context.Background(), conn)
}

func (r *Router) findParticipants(ctx context.Context, roomID int) ([]int, error) {
	sctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	start := time.Now()
	participants, err := r.store.FindRoomParticipants(sctx, roomID)
	observability.ObserveStoreCall("find_room_participants", start)
	return participants, err
}

func (r *Router) createMessage(ctx context.Context, senderID int, payload models.SendPayload) (models.Message, error) {
	// Detached from the connection's context: a sender disconnecting right
	// after the send must not cancel persistence or the broadcast to the
	// rest of the room.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storeTimeout)
	defer cancel()
	start := time.Now()
	msg, err := r.store.CreateMessage(sctx, payload.ChatID, senderID, payload.Type, payload.Text, payload.MediaURL, payload.MediaMeta)
	observability.ObserveStoreCall("create_message", start)
	return msg, err
}

func (r *Router) updateLastMessage(ctx context.Context, msg models.Message) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storeTimeout)
	defer cancel()
	start := time.Now()
	err := r.store.UpdateRoomLastMessage(sctx, msg.RoomID, msg.ID, msg.CreatedAt)
	observability.ObserveStoreCall("update_room_last_message", start)
	return err
}

func (r *Router) getMessage(ctx context.Context, messageID int) (models.Message, error) {
	sctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	start := time.Now()
	msg, err := r.store.GetMessage(sctx, messageID)
	observability.ObserveStoreCall("get_message", start)
	return msg, err
}

// storeErrAck maps store failures to client-facing codes. Not-found answers
// the same as not-authorized so probing for resource existence learns
// nothing.
func (r *Router) storeErrAck(event string, err error) Ack {
	if errors.Is(err, store.ErrRoomNotFound) || errors.Is(err, store.ErrMessageNotFound) {
		return errAck(event, CodeNotAuthorized)
	}
	log.Printf("router: store error on %s: %v", event, err)
	return errAck(event, CodeStoreUnavailable)
}

func contains(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// excludeUser filters out every connection id owned by userID.
func excludeUser(reg *registry.Registry, connIDs []string, userID int) []string {
	filtered := make([]string, 0, len(connIDs))
	for _, id := range connIDs {
		if conn := reg.Get(id); conn != nil && conn.UserID == userID {
			continue
		}
		filtered = append(filtered, id)
	}
	return filtered
}
