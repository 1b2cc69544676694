package store

import (
	"context"
	"errors"
	"time"

	"chat-realtime/internal/models"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")
)

// Store is the durable persistence collaborator for rooms, messages and
// presence. Rooms, participants and user profiles are created by the CRUD
// layer; this service reads them and appends messages and read receipts.
type Store interface {
	FindRoomParticipants(ctx context.Context, roomID int) ([]int, error)
	CreateMessage(ctx context.Context, roomID, senderID int, msgType, body, mediaURL string, mediaMeta *models.MediaMeta) (models.Message, error)
	UpdateRoomLastMessage(ctx context.Context, roomID, messageID int, at time.Time) error
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	AddReader(ctx context.Context, messageID, userID int) error
	SetUserOnline(ctx context.Context, userID int, online bool, lastSeen time.Time) error
}
