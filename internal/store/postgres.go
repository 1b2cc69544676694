package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

// PostgresStore is the sqlx implementation of Store.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindRoomParticipants returns the user ids allowed in a room.
func (s *PostgresStore) FindRoomParticipants(ctx context.Context, roomID int) ([]int, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id=$1)`, roomID); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrRoomNotFound
	}

	var participants []int
	err := s.db.SelectContext(ctx, &participants, `SELECT user_id FROM room_participants WHERE room_id=$1`, roomID)
	return participants, err
}

// CreateMessage persists a message and returns it with the assigned id,
// timestamp and the sender's denormalized profile fields.
func (s *PostgresStore) CreateMessage(ctx context.Context, roomID, senderID int, msgType, body, mediaURL string, mediaMeta *models.MediaMeta) (models.Message, error) {
	var msg models.Message
	var meta models.MediaMeta
	err := s.db.QueryRowxContext(ctx, `
        WITH inserted AS (
            INSERT INTO messages (room_id, sender_id, type, body, media_url, media_meta)
            VALUES ($1, $2, $3, $4, $5, $6)
            RETURNING id, room_id, sender_id, type, body, media_url, media_meta, created_at
        )
        SELECT i.id, i.room_id, i.sender_id,
               COALESCE(u.name, '') AS sender_name,
               COALESCE(u.avatar_url, '') AS sender_avatar,
               i.type, i.body, i.media_url, i.media_meta, i.created_at
        FROM inserted i LEFT JOIN users u ON u.id = i.sender_id`,
		roomID, senderID, msgType, body, mediaURL, mediaMeta).
		Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderName, &msg.SenderAvatar, &msg.Type, &msg.Body, &msg.MediaURL, &meta, &msg.CreatedAt)
	if meta != (models.MediaMeta{}) {
		msg.MediaMeta = &meta
	}
	return msg, err
}

// UpdateRoomLastMessage moves the room's latest-message pointer.
func (s *PostgresStore) UpdateRoomLastMessage(ctx context.Context, roomID, messageID int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE rooms SET last_message_id=$2, last_message_at=$3 WHERE id=$1`, roomID, messageID, at)
	return err
}

// GetMessage retrieves a single message.
func (s *PostgresStore) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	var meta models.MediaMeta
	err := s.db.QueryRowxContext(ctx, `
        SELECT m.id, m.room_id, m.sender_id,
               COALESCE(u.name, '') AS sender_name,
               COALESCE(u.avatar_url, '') AS sender_avatar,
               m.type, m.body, m.media_url, m.media_meta, m.created_at
        FROM messages m LEFT JOIN users u ON u.id = m.sender_id
        WHERE m.id=$1`, messageID).
		Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderName, &msg.SenderAvatar, &msg.Type, &msg.Body, &msg.MediaURL, &meta, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if meta != (models.MediaMeta{}) {
		msg.MediaMeta = &meta
	}
	return msg, err
}

// AddReader appends a user to the message's read-by set. Re-adding an
// existing reader is a no-op.
func (s *PostgresStore) AddReader(ctx context.Context, messageID, userID int) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id) VALUES ($1, $2)
        ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID)
	if err != nil {
		return err
	}
	_, err = res.RowsAffected()
	return err
}

// SetUserOnline upserts the user's presence row.
func (s *PostgresStore) SetUserOnline(ctx context.Context, userID int, online bool, lastSeen time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_presence (user_id, online, last_seen) VALUES ($1, $2, $3)
        ON CONFLICT (user_id) DO UPDATE SET online = EXCLUDED.online, last_seen = EXCLUDED.last_seen`, userID, online, lastSeen)
	return err
}

var _ Store = (*PostgresStore)(nil)
