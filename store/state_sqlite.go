package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roomcast/roomcast/models"
)

// SQLiteStateStore implements both BufferMirror and AlarmStore on the
// room_buffers and room_alarms tables.
type SQLiteStateStore struct {
	db *sql.DB
}

func NewSQLiteStateStore(db *sql.DB) *SQLiteStateStore {
	return &SQLiteStateStore{
		db: db,
	}
}

func (s *SQLiteStateStore) PutBuffer(ctx context.Context, roomID string, messages []models.ChatMessage) error {
	buf, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO room_buffers (room_id, buffer, updated_at) VALUES (@room_id, @buffer, @updated_at)
		ON CONFLICT (room_id) DO UPDATE SET buffer = @buffer, updated_at = @updated_at`,
		sql.Named("room_id", roomID),
		sql.Named("buffer", string(buf)),
		sql.Named("updated_at", time.Now().UnixMilli()))
	if err != nil {
		return fmt.Errorf("ExecContext(upsert room_buffers): %w", err)
	}

	return nil
}

func (s *SQLiteStateStore) GetBuffer(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT buffer FROM room_buffers WHERE room_id = @room_id`, sql.Named("room_id", roomID))

	var buf string
	if err := row.Scan(&buf); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("row.Scan: %w", err)
	}

	var messages []models.ChatMessage
	if err := json.Unmarshal([]byte(buf), &messages); err != nil {
		return nil, fmt.Errorf("json.Unmarshal: %w", err)
	}

	return messages, nil
}

func (s *SQLiteStateStore) DeleteBuffer(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM room_buffers WHERE room_id = @room_id`, sql.Named("room_id", roomID))
	if err != nil {
		return fmt.Errorf("ExecContext(delete room_buffers): %w", err)
	}
	return nil
}

func (s *SQLiteStateStore) SetAlarm(ctx context.Context, roomID string, fireAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_alarms (room_id, fire_at) VALUES (@room_id, @fire_at)
		ON CONFLICT (room_id) DO UPDATE SET fire_at = @fire_at`,
		sql.Named("room_id", roomID),
		sql.Named("fire_at", fireAt.UnixMilli()))
	if err != nil {
		return fmt.Errorf("ExecContext(upsert room_alarms): %w", err)
	}
	return nil
}

func (s *SQLiteStateStore) DeleteAlarm(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM room_alarms WHERE room_id = @room_id`, sql.Named("room_id", roomID))
	if err != nil {
		return fmt.Errorf("ExecContext(delete room_alarms): %w", err)
	}
	return nil
}

func (s *SQLiteStateStore) DueAlarms(ctx context.Context, now time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}

	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT room_id FROM room_alarms WHERE fire_at <= @now`, sql.Named("now", now.UnixMilli()))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}

	var due []string
	for rows.Next() {
		var roomID string
		if err := rows.Scan(&roomID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		due = append(due, roomID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("rows.Err: %w", err)
	}
	rows.Close()

	if len(due) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM room_alarms WHERE fire_at <= @now`, sql.Named("now", now.UnixMilli()))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(delete room_alarms): %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Commit: %w", err)
	}

	return due, nil
}
