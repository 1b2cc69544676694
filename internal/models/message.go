package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Message types accepted by the send-message event.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
	MessageTypeAudio = "audio"
	MessageTypeFile  = "file"
)

// ValidMessageType reports whether t is one of the known message types.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}

// MediaMeta describes an attached media file. Duration is seconds and only
// set for audio/video.
type MediaMeta struct {
	Size     int64   `json:"size,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	MimeType string  `json:"mime_type,omitempty"`
}

// Value marshals the metadata for a jsonb column. A nil receiver stores NULL.
func (m *MediaMeta) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan reads the metadata back from a jsonb column.
func (m *MediaMeta) Scan(src any) error {
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return errors.New("media meta: unsupported column type")
}

// Message represents a persisted chat message. Messages are immutable once
// created; only the read-by set grows afterwards.
type Message struct {
	ID           int        `db:"id" json:"id"`
	RoomID       int        `db:"room_id" json:"room_id"`
	SenderID     int        `db:"sender_id" json:"sender_id"`
	SenderName   string     `db:"sender_name" json:"sender_name,omitempty"`
	SenderAvatar string     `db:"sender_avatar" json:"sender_avatar,omitempty"`
	Type         string     `db:"type" json:"type"`
	Body         string     `db:"body" json:"body,omitempty"`
	MediaURL     string     `db:"media_url" json:"media_url,omitempty"`
	MediaMeta    *MediaMeta `db:"media_meta" json:"media_meta,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}
