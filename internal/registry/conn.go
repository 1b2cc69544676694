package registry

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrConnClosed is returned when enqueueing to a closed connection.
var ErrConnClosed = errors.New("connection closed")

// Transport is the minimal write side of a client connection. The websocket
// layer wraps the underlying *websocket.Conn behind it so the registry never
// depends on the transport library.
type Transport interface {
	Write(data []byte) error
	Close() error
}

// Conn is the server-side record of one live client connection. It is owned
// by the Registry from admission to removal; other components reference it
// only through the registry.
//
// Outbound writes go through a single writer goroutine draining the send
// queue, which preserves per-connection delivery order.
type Conn struct {
	ID     string
	UserID int

	transport Transport
	send      chan []byte
	done      chan struct{}

	mu     sync.Mutex
	rooms  map[int]struct{}
	closed bool
}

// NewConn builds a connection record for an authenticated user. The queue
// buffer bounds how far a slow consumer may fall behind before it is treated
// as dead.
func NewConn(userID int, transport Transport, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Conn{
		ID:        uuid.NewString(),
		UserID:    userID,
		transport: transport,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
		rooms:     make(map[int]struct{}),
	}
}

// Start launches the writer goroutine. onWriteError is invoked at most once,
// from the writer goroutine, when a transport write fails.
func (c *Conn) Start(onWriteError func(*Conn)) {
	go func() {
		for {
			select {
			case payload := <-c.send:
				if err := c.transport.Write(payload); err != nil {
					c.Close()
					if onWriteError != nil {
						onWriteError(c)
					}
					return
				}
			case <-c.done:
				return
			}
		}
	}()
}

// Enqueue queues a payload for ordered delivery. It never blocks: a full
// queue means the client is not draining and the send fails.
func (c *Conn) Enqueue(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrConnClosed
	}
}

// Close stops the writer and closes the transport. Safe to call repeatedly.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	_ = c.transport.Close()
}

// JoinRoom records a joined room alongside the connection so disconnect
// cleanup knows which memberships to release.
func (c *Conn) JoinRoom(roomID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = struct{}{}
}

// LeaveRoom forgets a joined room.
func (c *Conn) LeaveRoom(roomID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

// Rooms returns a snapshot of the rooms this connection has joined.
func (c *Conn) Rooms() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}
