package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/roomcast/roomcast/models"
)

var (
	// ErrEmptyBatch is returned when a batch insert is attempted with no rows.
	ErrEmptyBatch = errors.New("empty batch")
)

// MaxListLimit bounds the number of rows a single history read may return.
const MaxListLimit = 100

// StoredMessage is a persisted chat message row.
type StoredMessage struct {
	ID       int64           `json:"id"`
	RoomID   string          `json:"room_id"`
	UserID   string          `json:"user_id"`
	Username string          `json:"username"`
	Color    string          `json:"color"`
	Content  string          `json:"content"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	// CreatedAt is the message timestamp in unix milliseconds.
	CreatedAt int64 `json:"created_at"`
}

type MessageStore interface {
	// BatchInsert writes all messages to the durable store in a single
	// transaction. Either every row is persisted or none are.
	BatchInsert(ctx context.Context, roomID string, messages []models.ChatMessage) error

	// ListMessages returns up to limit messages of the room in ascending
	// timestamp order. If before is non-zero only messages strictly older
	// than that unix millisecond timestamp are returned, which is how
	// clients paginate backwards through history.
	// A zero limit defaults to 50. The limit is clamped to MaxListLimit.
	ListMessages(ctx context.Context, roomID string, limit int, before int64) ([]StoredMessage, error)

	// DeleteRoomMessages removes all persisted messages of the room.
	DeleteRoomMessages(ctx context.Context, roomID string) error
}
