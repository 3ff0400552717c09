package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roomcast/roomcast/models"
)

type SQLiteMessageStore struct {
	db *sql.DB
}

func NewSQLiteMessageStore(db *sql.DB) *SQLiteMessageStore {
	return &SQLiteMessageStore{
		db: db,
	}
}

func (s *SQLiteMessageStore) BatchInsert(ctx context.Context, roomID string, messages []models.ChatMessage) error {
	if len(messages) == 0 {
		return ErrEmptyBatch
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("BeginTx: %w", err)
	}

	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (room_id, user_id, username, color, content, metadata, created_at)
		VALUES (@room_id, @user_id, @username, @color, @content, @metadata, @created_at)`)
	if err != nil {
		return fmt.Errorf("PrepareContext: %w", err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		var metadata sql.NullString
		if len(msg.Metadata) > 0 {
			metadata = sql.NullString{String: string(msg.Metadata), Valid: true}
		}

		_, err = stmt.ExecContext(ctx,
			sql.Named("room_id", roomID),
			sql.Named("user_id", msg.UserID),
			sql.Named("username", msg.Username),
			sql.Named("color", msg.Color),
			sql.Named("content", msg.Content),
			sql.Named("metadata", metadata),
			sql.Named("created_at", msg.Timestamp))
		if err != nil {
			return fmt.Errorf("ExecContext(insert messages): %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}

	return nil
}

func (s *SQLiteMessageStore) ListMessages(ctx context.Context, roomID string, limit int, before int64) ([]StoredMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `SELECT id, room_id, user_id, username, color, content, metadata, created_at
	FROM messages WHERE room_id = @room_id`

	args := []interface{}{sql.Named("room_id", roomID)}

	if before > 0 {
		query += ` AND created_at < @before`
		args = append(args, sql.Named("before", before))
	}

	// Newest rows first so the limit selects the tail of the history.
	query += ` ORDER BY created_at DESC, id DESC LIMIT @limit`
	args = append(args, sql.Named("limit", limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var messages []StoredMessage
	for rows.Next() {
		var msg StoredMessage
		var metadata sql.NullString
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.UserID, &msg.Username,
			&msg.Color, &msg.Content, &metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		if metadata.Valid {
			msg.Metadata = []byte(metadata.String)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	// Reverse into chronological order for the client.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (s *SQLiteMessageStore) DeleteRoomMessages(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE room_id = @room_id`, sql.Named("room_id", roomID))
	if err != nil {
		return fmt.Errorf("ExecContext(delete messages): %w", err)
	}
	return nil
}
