package models

import "encoding/json"

// Inbound event names (client to server).
const (
	EventChatJoin         = "chat:join"
	EventChatLeave        = "chat:leave"
	EventTyping           = "typing"
	EventMessageSend      = "message:send"
	EventMessageRead      = "message:read"
	EventMessageDelivered = "message:delivered"
)

// Outbound event names (server to client).
const (
	EventConnected   = "connected"
	EventMessageNew  = "message:new"
	EventUserOnline  = "user:online"
	EventUserOffline = "user:offline"
	EventAck         = "ack"
)

// InboundEvent is the tagged envelope read off a client connection.
type InboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// OutboundEvent is the tagged envelope written to client connections.
type OutboundEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// JoinPayload carries chat:join and chat:leave data.
type JoinPayload struct {
	ChatID int `json:"chat_id"`
}

// TypingPayload carries typing data in both directions; UserID is only set
// on the outbound copy.
type TypingPayload struct {
	ChatID   int  `json:"chat_id"`
	UserID   int  `json:"user_id,omitempty"`
	IsTyping bool `json:"is_typing"`
}

// SendPayload carries message:send data.
type SendPayload struct {
	ChatID    int        `json:"chat_id"`
	Type      string     `json:"type"`
	Text      string     `json:"text,omitempty"`
	MediaURL  string     `json:"media_url,omitempty"`
	MediaMeta *MediaMeta `json:"media_meta,omitempty"`
}

// ReceiptPayload carries message:read and message:delivered data; UserID is
// only set on the outbound copy.
type ReceiptPayload struct {
	MessageID int `json:"message_id"`
	UserID    int `json:"user_id,omitempty"`
}

// ConnectedPayload greets a freshly admitted connection.
type ConnectedPayload struct {
	UserID int `json:"user_id"`
}

// PresencePayload carries user:online and user:offline data.
type PresencePayload struct {
	UserID int `json:"user_id"`
}
