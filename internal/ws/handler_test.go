package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/delivery"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/registry"
	"chat-realtime/internal/rooms"
	"chat-realtime/internal/router"
)

const testSecret = "ws-test-secret"

func signToken(t *testing.T, userID int) string {
	t.Helper()
	claims := auth.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func newTestServer(t *testing.T, st *mocks.StoreMock) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.NewRegistry()
	tracker := rooms.NewTracker()
	broadcaster := delivery.NewBroadcaster(reg)
	pres := presence.NewManager(st, broadcaster, time.Second)
	rt := router.New(reg, tracker, pres, broadcaster, st, time.Second)
	broadcaster.SetDisconnectFunc(rt.DisconnectDead)
	handler := NewHandler(auth.NewVerifier(testSecret), reg, pres, rt, 32)

	engine := gin.New()
	engine.GET("/ws", handler.Handle)

	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads frames until one with the wanted event name arrives,
// skipping interleaved presence traffic.
func readEvent(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		var event models.InboundEvent
		require.NoError(t, json.Unmarshal(frame, &event))
		if event.Event == want {
			return event.Data
		}
	}
	t.Fatalf("never received %q", want)
	return nil
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	server := newTestServer(t, new(mocks.StoreMock))

	resp, err := http.Get(server.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	server := newTestServer(t, new(mocks.StoreMock))

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeAcceptsBearerHeader(t *testing.T) {
	st := new(mocks.StoreMock)
	st.On("SetUserOnline", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	server := newTestServer(t, st)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	header := http.Header{"Authorization": []string{"Bearer " + signToken(t, 1)}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	data := readEvent(t, conn, models.EventConnected)
	var payload models.ConnectedPayload
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, 1, payload.UserID)
}

func TestJoinSendReceiveFlow(t *testing.T) {
	st := new(mocks.StoreMock)
	st.On("SetUserOnline", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	st.On("FindRoomParticipants", mock.Anything, 5).Return([]int{1, 2}, nil)
	created := models.Message{ID: 7, RoomID: 5, SenderID: 1, Type: "text", Body: "hi", CreatedAt: time.Now()}
	st.On("CreateMessage", mock.Anything, 5, 1, "text", "hi", "", (*models.MediaMeta)(nil)).Return(created, nil).Once()
	st.On("UpdateRoomLastMessage", mock.Anything, 5, 7, mock.Anything).Return(nil).Once()

	server := newTestServer(t, st)
	alice := dial(t, server, signToken(t, 1))
	bob := dial(t, server, signToken(t, 2))

	readEvent(t, alice, models.EventConnected)
	readEvent(t, bob, models.EventConnected)

	join := `{"event":"chat:join","data":{"chat_id":5}}`
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(join)))
	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte(join)))

	var ack router.Ack
	require.NoError(t, json.Unmarshal(readEvent(t, alice, models.EventAck), &ack))
	assert.True(t, ack.OK())
	require.NoError(t, json.Unmarshal(readEvent(t, bob, models.EventAck), &ack))
	assert.True(t, ack.OK())

	send := `{"event":"message:send","data":{"chat_id":5,"type":"text","text":"hi"}}`
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(send)))

	var msg models.Message
	require.NoError(t, json.Unmarshal(readEvent(t, bob, models.EventMessageNew), &msg))
	assert.Equal(t, 7, msg.ID)
	assert.Equal(t, "hi", msg.Body)

	require.NoError(t, json.Unmarshal(readEvent(t, alice, models.EventAck), &ack))
	require.True(t, ack.OK())
	require.NotNil(t, ack.Message)
	assert.Equal(t, 7, ack.Message.ID)
	st.AssertExpectations(t)
}

func TestJoinUnauthorizedOverWire(t *testing.T) {
	st := new(mocks.StoreMock)
	st.On("SetUserOnline", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	st.On("FindRoomParticipants", mock.Anything, 5).Return([]int{1, 2}, nil)

	server := newTestServer(t, st)
	mallory := dial(t, server, signToken(t, 3))
	readEvent(t, mallory, models.EventConnected)

	join := `{"event":"chat:join","data":{"chat_id":5}}`
	require.NoError(t, mallory.WriteMessage(websocket.TextMessage, []byte(join)))

	var ack router.Ack
	require.NoError(t, json.Unmarshal(readEvent(t, mallory, models.EventAck), &ack))
	assert.False(t, ack.OK())
	assert.Equal(t, router.CodeNotAuthorized, ack.Code)
}

func TestUnknownEventGetsValidationError(t *testing.T) {
	st := new(mocks.StoreMock)
	st.On("SetUserOnline", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	server := newTestServer(t, st)
	conn := dial(t, server, signToken(t, 1))
	readEvent(t, conn, models.EventConnected)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"time:travel","data":{}}`)))

	var ack router.Ack
	require.NoError(t, json.Unmarshal(readEvent(t, conn, models.EventAck), &ack))
	assert.Equal(t, router.CodeValidationError, ack.Code)
}

// Connect and disconnect publish telemetry envelopes through the configured
// publisher.
func TestLifecycleTelemetryPublished(t *testing.T) {
	st := new(mocks.StoreMock)
	st.On("SetUserOnline", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	pub := new(mocks.PublisherMock)
	var mu sync.Mutex
	var published []observability.EventEnvelope
	pub.On("PublishJSON", mock.Anything, "ws_events.realtime", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			published = append(published, args.Get(2).(observability.EventEnvelope))
			mu.Unlock()
		}).Return(nil)
	observability.SetPublisher(pub)
	t.Cleanup(func() { observability.SetPublisher(nil) })

	server := newTestServer(t, st)
	conn := dial(t, server, signToken(t, 1))
	readEvent(t, conn, models.EventConnected)
	require.NoError(t, conn.Close())

	names := func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := make([]string, len(published))
		for i, env := range published {
			out[i] = env.EventName
		}
		return out
	}
	require.Eventually(t, func() bool { return len(names()) >= 2 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"ws_connect", "ws_disconnect"}, names()[:2])
	mu.Lock()
	defer mu.Unlock()
	for _, env := range published[:2] {
		assert.Equal(t, "ws_events", env.EventType)
		payload, ok := env.Payload.(observability.WSEventPayload)
		require.True(t, ok)
		assert.Equal(t, 1, payload.UserID)
		assert.NotEmpty(t, payload.ConnID)
	}
}

func TestPresenceOfflineOnLastDisconnect(t *testing.T) {
	st := new(mocks.StoreMock)
	st.On("SetUserOnline", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	server := newTestServer(t, st)
	watcher := dial(t, server, signToken(t, 1))
	readEvent(t, watcher, models.EventConnected)

	other := dial(t, server, signToken(t, 2))
	readEvent(t, other, models.EventConnected)

	var payload models.PresencePayload
	require.NoError(t, json.Unmarshal(readEvent(t, watcher, models.EventUserOnline), &payload))
	assert.Equal(t, 2, payload.UserID)

	require.NoError(t, other.Close())

	require.NoError(t, json.Unmarshal(readEvent(t, watcher, models.EventUserOffline), &payload))
	assert.Equal(t, 2, payload.UserID)
}
