package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/registry"
	"chat-realtime/internal/router"
)

// Handler owns the websocket endpoint: handshake authentication, admission,
// the per-connection read loop and disconnect cleanup.
type Handler struct {
	verifier  *auth.Verifier
	registry  *registry.Registry
	presence  *presence.Manager
	router    *router.Router
	queueSize int
}

// NewHandler constructs the websocket Handler.
func NewHandler(verifier *auth.Verifier, reg *registry.Registry, pres *presence.Manager, rt *router.Router, queueSize int) *Handler {
	return &Handler{
		verifier:  verifier,
		registry:  reg,
		presence:  pres,
		router:    rt,
		queueSize: queueSize,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the handshake, upgrades the connection and runs the
// read loop until the client goes away.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-realtime/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	userID, err := h.verifier.Verify(token)
	if err != nil {
		// The kind stays server-side; clients get a uniform rejection.
		log.Printf("ws: token rejected: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	conn := registry.NewConn(userID, &gorillaTransport{conn: wsConn}, h.queueSize)
	conn.Start(h.router.DisconnectDead)
	first := h.registry.Admit(conn)

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	deviceID := observability.DeviceIDFromRequest(c.Request)
	ip := observability.IPFromRequest(c.Request)
	connectedAt := time.Now()

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	publishLifecycle(ctx, "ws_connect", conn, deviceID, ip, requestID, traceID, 0, "")

	h.presence.OnAdmit(ctx, userID, first)
	h.enqueueEvent(conn, models.OutboundEvent{
		Event: models.EventConnected,
		Data:  models.ConnectedPayload{UserID: userID},
	})

	// The request context dies when this handler returns; the read loop
	// needs the trace values without the cancellation.
	connCtx := context.WithoutCancel(ctx)
	go h.readLoop(connCtx, wsConn, conn, deviceID, ip, requestID, traceID, connectedAt)
}

func (h *Handler) readLoop(ctx context.Context, wsConn *websocket.Conn, conn *registry.Conn, deviceID, ip, requestID, traceID string, connectedAt time.Time) {
	var closeReason string
	defer func() {
		h.router.Disconnect(ctx, conn)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		publishLifecycle(ctx, "ws_disconnect", conn, deviceID, ip, requestID, traceID,
			time.Since(connectedAt).Milliseconds(), closeReason)
	}()

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				publishLifecycle(ctx, "ws_error", conn, deviceID, ip, requestID, traceID,
					time.Since(connectedAt).Milliseconds(), closeReason)
			}
			return
		}
		h.dispatch(ctx, conn, data)
	}
}

// dispatch decodes one inbound frame and routes it. Every event answers the
// caller with an ack; failures never reach other participants.
func (h *Handler) dispatch(ctx context.Context, conn *registry.Conn, data []byte) {
	var event models.InboundEvent
	if err := json.Unmarshal(data, &event); err != nil {
		h.enqueueAck(conn, router.Ack{Event: "unknown", Status: "error", Code: router.CodeValidationError})
		return
	}
	observability.IncWSEvent(event.Event)

	var ack router.Ack
	switch event.Event {
	case models.EventChatJoin:
		var payload models.JoinPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			ack = router.Ack{Event: event.Event, Status: "error", Code: router.CodeValidationError}
			break
		}
		ack = h.router.HandleJoinRoom(ctx, conn, payload.ChatID)
	case models.EventChatLeave:
		var payload models.JoinPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			ack = router.Ack{Event: event.Event, Status: "error", Code: router.CodeValidationError}
			break
		}
		ack = h.router.HandleLeaveRoom(conn, payload.ChatID)
	case models.EventTyping:
		var payload models.TypingPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			ack = router.Ack{Event: event.Event, Status: "error", Code: router.CodeValidationError}
			break
		}
		ack = h.router.HandleTyping(conn, payload.ChatID, payload.IsTyping)
	case models.EventMessageSend:
		var payload models.SendPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			ack = router.Ack{Event: event.Event, Status: "error", Code: router.CodeValidationError}
			break
		}
		if payload.Type == "" {
			payload.Type = models.MessageTypeText
		}
		ack = h.router.HandleSendMessage(ctx, conn, payload)
	case models.EventMessageRead:
		var payload models.ReceiptPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			ack = router.Ack{Event: event.Event, Status: "error", Code: router.CodeValidationError}
			break
		}
		ack = h.router.HandleMarkRead(ctx, conn, payload.MessageID)
	case models.EventMessageDelivered:
		var payload models.ReceiptPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			ack = router.Ack{Event: event.Event, Status: "error", Code: router.CodeValidationError}
			break
		}
		ack = h.router.HandleMarkDelivered(ctx, conn, payload.MessageID)
	default:
		ack = router.Ack{Event: event.Event, Status: "error", Code: router.CodeValidationError}
	}

	// Successful typing and receipt relays are fire-and-forget on the wire;
	// joins, leaves, sends and every failure answer the caller explicitly.
	if !ack.OK() || wantsAck(event.Event) {
		h.enqueueAck(conn, ack)
	}
}

func wantsAck(event string) bool {
	switch event {
	case models.EventChatJoin, models.EventChatLeave, models.EventMessageSend:
		return true
	}
	return false
}

func (h *Handler) enqueueAck(conn *registry.Conn, ack router.Ack) {
	h.enqueueEvent(conn, models.OutboundEvent{Event: models.EventAck, Data: ack})
}

// enqueueEvent writes through the connection's ordered queue so acks
// interleave correctly with broadcasts.
func (h *Handler) enqueueEvent(conn *registry.Conn, event models.OutboundEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws: marshal outbound event: %v", err)
		return
	}
	if err := conn.Enqueue(payload); err != nil && !errors.Is(err, registry.ErrConnClosed) {
		log.Printf("ws: enqueue failed conn=%s: %v", conn.ID, err)
	}
}

func publishLifecycle(ctx context.Context, name string, conn *registry.Conn, deviceID, ip, requestID, traceID string, durationMs int64, reason string) {
	_ = observability.PublishEvent(ctx, "ws_events.realtime", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload: observability.WSEventPayload{
			ConnID:     conn.ID,
			UserID:     conn.UserID,
			DeviceID:   deviceID,
			IP:         ip,
			Event:      name,
			DurationMs: durationMs,
			Reason:     reason,
		},
	}, observability.BuildHeaders(requestID, traceID))
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
