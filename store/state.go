package store

import (
	"context"
	"time"

	"github.com/roomcast/roomcast/models"
)

// BufferMirror is the crash-safe copy of a room's pending message buffer.
// Every mutation of the in-memory buffer is written through here so a
// restarted room can rehydrate the exact pending set.
type BufferMirror interface {
	// PutBuffer replaces the mirrored buffer of the room with messages.
	PutBuffer(ctx context.Context, roomID string, messages []models.ChatMessage) error

	// GetBuffer returns the mirrored buffer of the room. A room with no
	// mirrored buffer yields a nil slice and no error.
	GetBuffer(ctx context.Context, roomID string) ([]models.ChatMessage, error)

	// DeleteBuffer removes the mirrored buffer of the room.
	DeleteBuffer(ctx context.Context, roomID string) error
}

// AlarmStore is the durable wake-up primitive. A room schedules flushes
// and retries as persisted fire-at timestamps rather than in-process
// timers, so a pending flush survives room eviction and process restart.
type AlarmStore interface {
	// SetAlarm schedules (or reschedules) the room's wake-up.
	// A room has at most one pending alarm.
	SetAlarm(ctx context.Context, roomID string, fireAt time.Time) error

	// DeleteAlarm cancels the room's pending alarm, if any.
	DeleteAlarm(ctx context.Context, roomID string) error

	// DueAlarms removes and returns the ids of all rooms whose alarm is
	// due at now. Callers are expected to deliver a wake event to each.
	DueAlarms(ctx context.Context, now time.Time) ([]string, error)
}
