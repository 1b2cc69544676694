package ws

import "github.com/gorilla/websocket"

// gorillaTransport adapts a gorilla connection to the registry's write-side
// Transport. All writes funnel through the connection's single writer
// goroutine, satisfying gorilla's one-concurrent-writer rule.
type gorillaTransport struct {
	conn *websocket.Conn
}

func (t *gorillaTransport) Write(data []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *gorillaTransport) Close() error {
	return t.conn.Close()
}
