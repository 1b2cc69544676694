package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-realtime/internal/models"
	"chat-realtime/internal/store"
)

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) FindRoomParticipants(ctx context.Context, roomID int) ([]int, error) {
	args := m.Called(ctx, roomID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *StoreMock) CreateMessage(ctx context.Context, roomID, senderID int, msgType, body, mediaURL string, mediaMeta *models.MediaMeta) (models.Message, error) {
	args := m.Called(ctx, roomID, senderID, msgType, body, mediaURL, mediaMeta)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *StoreMock) UpdateRoomLastMessage(ctx context.Context, roomID, messageID int, at time.Time) error {
	args := m.Called(ctx, roomID, messageID, at)
	return args.Error(0)
}

func (m *StoreMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *StoreMock) AddReader(ctx context.Context, messageID, userID int) error {
	args := m.Called(ctx, messageID, userID)
	return args.Error(0)
}

func (m *StoreMock) SetUserOnline(ctx context.Context, userID int, online bool, lastSeen time.Time) error {
	args := m.Called(ctx, userID, online, lastSeen)
	return args.Error(0)
}

var _ store.Store = (*StoreMock)(nil)
