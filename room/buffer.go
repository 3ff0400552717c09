package room

import (
	"context"
	"log/slog"
	"time"

	"github.com/roomcast/roomcast/models"
	"github.com/roomcast/roomcast/store"
)

// durabilityBuffer holds a room's chat messages between batched writes
// to the durable store. Every mutation is written through to the
// crash-safe mirror so a restarted room rehydrates the exact pending
// set. Flushes and retries are scheduled as durable alarms rather than
// in-process timers; the owning actor delivers the resulting wake
// events. All methods must be called from the room actor only.
type durabilityBuffer struct {
	roomID   string
	cfg      Config
	logger   *slog.Logger
	messages store.MessageStore
	mirror   store.BufferMirror
	alarms   store.AlarmStore

	pending  []models.ChatMessage
	flushing bool
	alarmSet bool
	// attempts counts consecutive failed flushes of the current batch.
	attempts int
}

func newDurabilityBuffer(roomID string, cfg Config, messages store.MessageStore,
	mirror store.BufferMirror, alarms store.AlarmStore, logger *slog.Logger) *durabilityBuffer {
	return &durabilityBuffer{
		roomID:   roomID,
		cfg:      cfg,
		logger:   logger,
		messages: messages,
		mirror:   mirror,
		alarms:   alarms,
	}
}

func (b *durabilityBuffer) size() int {
	return len(b.pending)
}

// rehydrate loads the mirrored pending set. It runs once, before the
// owning actor accepts any event.
func (b *durabilityBuffer) rehydrate(ctx context.Context) error {
	pending, err := b.mirror.GetBuffer(ctx, b.roomID)
	if err != nil {
		return err
	}
	b.pending = pending
	if len(pending) > 0 {
		b.logger.Info("rehydrated pending messages", "room", b.roomID, "count", len(pending))
		// The alarm that covered these messages may have been consumed
		// by the wake that recreated the room, or lost with the old
		// process. Reschedule so they cannot wait indefinitely.
		if err := b.alarms.SetAlarm(ctx, b.roomID, time.Now().Add(b.cfg.FlushDelay)); err != nil {
			b.logger.Error("schedule flush", "room", b.roomID, "error", err)
		} else {
			b.alarmSet = true
		}
	}
	return nil
}

// append admits one chat message. The message is mirrored before append
// returns, so a buffered-but-unflushed message survives a restart. If
// the buffer is at capacity a flush is forced first; if the eager
// threshold is reached a flush follows immediately.
func (b *durabilityBuffer) append(ctx context.Context, msg models.ChatMessage) {
	if len(b.pending) >= b.cfg.BufferCap {
		b.logger.Warn("buffer at capacity, forcing flush", "room", b.roomID)
		b.flush(ctx)
	}

	b.pending = append(b.pending, msg)

	if err := b.mirror.PutBuffer(ctx, b.roomID, b.pending); err != nil {
		b.logger.Error("mirror buffer", "room", b.roomID, "error", err)
	}

	// First message of a new batch: schedule the batching flush.
	if len(b.pending) == 1 && !b.alarmSet {
		if err := b.alarms.SetAlarm(ctx, b.roomID, time.Now().Add(b.cfg.FlushDelay)); err != nil {
			b.logger.Error("schedule flush", "room", b.roomID, "error", err)
		} else {
			b.alarmSet = true
		}
	}

	if len(b.pending) >= b.cfg.EagerFlushAt && !b.flushing {
		b.flush(ctx)
	}
}

// flush swaps the pending set out and writes it to the durable store in
// one batch. On failure the batch is pushed back to the front of the
// buffer, re-mirrored, and a retry alarm is set with exponential
// backoff. After MaxFlushAttempts consecutive failures the batch is
// dropped; bounded loss is preferred over livelock on a dead store.
func (b *durabilityBuffer) flush(ctx context.Context) {
	if len(b.pending) == 0 || b.flushing {
		return
	}

	b.flushing = true
	b.alarmSet = false
	if err := b.alarms.DeleteAlarm(ctx, b.roomID); err != nil {
		b.logger.Error("delete alarm", "room", b.roomID, "error", err)
	}

	batch := b.pending
	b.pending = nil

	if err := b.mirror.DeleteBuffer(ctx, b.roomID); err != nil {
		b.logger.Error("clear mirror", "room", b.roomID, "error", err)
	}

	err := b.messages.BatchInsert(ctx, b.roomID, batch)
	b.flushing = false

	if err == nil {
		b.attempts = 0
		b.logger.Info("flushed messages", "room", b.roomID, "count", len(batch))
		return
	}

	b.attempts++
	b.logger.Error("flush failed", "room", b.roomID,
		"attempt", b.attempts, "maxAttempts", b.cfg.MaxFlushAttempts, "error", err)

	if b.attempts >= b.cfg.MaxFlushAttempts {
		b.logger.Error("dropping messages after max flush attempts",
			"room", b.roomID, "count", len(batch))
		b.attempts = 0
		if len(b.pending) == 0 {
			if err := b.mirror.DeleteBuffer(ctx, b.roomID); err != nil {
				b.logger.Error("clear mirror", "room", b.roomID, "error", err)
			}
		}
		return
	}

	// Push the batch back to the front so order is preserved across the
	// retry, and mirror the restored set.
	b.pending = append(batch, b.pending...)
	if err := b.mirror.PutBuffer(ctx, b.roomID, b.pending); err != nil {
		b.logger.Error("mirror buffer", "room", b.roomID, "error", err)
	}

	delay := time.Duration(1<<(b.attempts-1)) * time.Second
	if err := b.alarms.SetAlarm(ctx, b.roomID, time.Now().Add(delay)); err != nil {
		b.logger.Error("schedule retry", "room", b.roomID, "error", err)
	} else {
		b.alarmSet = true
	}
}
