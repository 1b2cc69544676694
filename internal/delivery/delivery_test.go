package delivery

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/models"
	"chat-realtime/internal/registry"
)

type captureTransport struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (c *captureTransport) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("write on closed transport")
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *captureTransport) Close() error { return nil }

func (c *captureTransport) waitFrames(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.frames) >= n {
			frames := make([][]byte, len(c.frames))
			copy(frames, c.frames)
			c.mu.Unlock()
			return frames
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames", n)
	return nil
}

func newConn(t *testing.T, reg *registry.Registry, userID int, tr registry.Transport, onWriteError func(*registry.Conn)) *registry.Conn {
	t.Helper()
	conn := registry.NewConn(userID, tr, 32)
	conn.Start(onWriteError)
	reg.Admit(conn)
	return conn
}

func TestDeliverPreservesPerConnectionOrder(t *testing.T) {
	reg := registry.NewRegistry()
	b := NewBroadcaster(reg)

	tr := &captureTransport{}
	conn := newConn(t, reg, 1, tr, nil)

	for i := 0; i < 10; i++ {
		b.Deliver([]string{conn.ID}, models.OutboundEvent{
			Event: models.EventMessageNew,
			Data:  models.ReceiptPayload{MessageID: i + 1},
		})
	}

	frames := tr.waitFrames(t, 10)
	for i, frame := range frames {
		var event struct {
			Data models.ReceiptPayload `json:"data"`
		}
		require.NoError(t, json.Unmarshal(frame, &event))
		assert.Equal(t, i+1, event.Data.MessageID)
	}
}

func TestDeliverSurvivesDeadConnection(t *testing.T) {
	reg := registry.NewRegistry()
	b := NewBroadcaster(reg)

	var deadMu sync.Mutex
	var dead []string
	b.SetDisconnectFunc(func(c *registry.Conn) {
		deadMu.Lock()
		dead = append(dead, c.ID)
		deadMu.Unlock()
	})

	healthy := &captureTransport{}
	healthyConn := newConn(t, reg, 1, healthy, nil)

	closedConn := newConn(t, reg, 2, &captureTransport{}, nil)
	closedConn.Close()

	b.Deliver([]string{closedConn.ID, healthyConn.ID}, models.OutboundEvent{Event: models.EventTyping})

	healthy.waitFrames(t, 1)
	deadMu.Lock()
	assert.Equal(t, []string{closedConn.ID}, dead)
	deadMu.Unlock()
}

func TestDeliverSkipsUnknownConnIDs(t *testing.T) {
	reg := registry.NewRegistry()
	b := NewBroadcaster(reg)

	tr := &captureTransport{}
	conn := newConn(t, reg, 1, tr, nil)

	b.Deliver([]string{"gone", conn.ID}, models.OutboundEvent{Event: models.EventTyping})

	tr.waitFrames(t, 1)
}

func TestWriteErrorTriggersDisconnectCallback(t *testing.T) {
	reg := registry.NewRegistry()
	b := NewBroadcaster(reg)

	failed := make(chan string, 1)
	tr := &captureTransport{fail: true}
	conn := newConn(t, reg, 1, tr, func(c *registry.Conn) {
		failed <- c.ID
	})

	b.Deliver([]string{conn.ID}, models.OutboundEvent{Event: models.EventTyping})

	select {
	case id := <-failed:
		assert.Equal(t, conn.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("write error callback never fired")
	}
}

func TestDeliverAllReachesEveryConnection(t *testing.T) {
	reg := registry.NewRegistry()
	b := NewBroadcaster(reg)

	trs := []*captureTransport{{}, {}, {}}
	for i, tr := range trs {
		newConn(t, reg, i+1, tr, nil)
	}

	b.DeliverAll(models.OutboundEvent{Event: models.EventUserOnline, Data: models.PresencePayload{UserID: 1}})

	for _, tr := range trs {
		tr.waitFrames(t, 1)
	}
}
