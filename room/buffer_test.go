package room

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/roomcast/roomcast/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferFixture struct {
	buffer   *durabilityBuffer
	messages *memoryMessageStore
	mirror   *memoryMirror
	alarms   *memoryAlarms
}

func newBufferFixture(cfg Config) *bufferFixture {
	messages := newMemoryMessageStore()
	mirror := newMemoryMirror()
	alarms := newMemoryAlarms()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &bufferFixture{
		buffer:   newDurabilityBuffer("general", cfg, messages, mirror, alarms, logger),
		messages: messages,
		mirror:   mirror,
		alarms:   alarms,
	}
}

func chatMsg(content string) models.ChatMessage {
	return models.ChatMessage{
		Type:      models.MessageChat,
		UserID:    "user-1",
		Username:  "alice",
		Color:     "#ff0000",
		Content:   content,
		Timestamp: models.NowMillis(),
	}
}

func TestBufferAppend(t *testing.T) {
	ctx := context.Background()

	t.Run("first message schedules exactly one flush alarm", func(t *testing.T) {
		f := newBufferFixture(DefaultConfig())

		f.buffer.append(ctx, chatMsg("one"))
		first, ok := f.alarms.fireAt("general")
		require.True(t, ok)

		f.buffer.append(ctx, chatMsg("two"))
		second, ok := f.alarms.fireAt("general")
		require.True(t, ok)
		assert.Equal(t, first, second, "later appends must not reschedule the alarm")
	})

	t.Run("every append is mirrored before returning", func(t *testing.T) {
		f := newBufferFixture(DefaultConfig())

		f.buffer.append(ctx, chatMsg("one"))
		f.buffer.append(ctx, chatMsg("two"))

		mirrored := f.mirror.get("general")
		require.Len(t, mirrored, 2)
		assert.Equal(t, "one", mirrored[0].Content)
		assert.Equal(t, "two", mirrored[1].Content)
	})

	t.Run("reaching the eager threshold flushes immediately", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.EagerFlushAt = 3
		f := newBufferFixture(cfg)

		f.buffer.append(ctx, chatMsg("one"))
		f.buffer.append(ctx, chatMsg("two"))
		assert.Zero(t, f.messages.calls)

		f.buffer.append(ctx, chatMsg("three"))

		assert.Len(t, f.messages.get("general"), 3)
		assert.Zero(t, f.buffer.size())
		assert.Empty(t, f.mirror.get("general"))
		_, ok := f.alarms.fireAt("general")
		assert.False(t, ok, "flush must consume the alarm")
	})

	t.Run("a full buffer is force-flushed before accepting more", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.BufferCap = 5
		cfg.EagerFlushAt = 100
		f := newBufferFixture(cfg)

		for i := 0; i < 6; i++ {
			f.buffer.append(ctx, chatMsg(fmt.Sprintf("m%d", i)))
		}

		assert.Len(t, f.messages.get("general"), 5)
		assert.Equal(t, 1, f.buffer.size())
	})
}

func TestBufferFlush(t *testing.T) {
	ctx := context.Background()

	t.Run("flush writes the whole batch and clears the mirror", func(t *testing.T) {
		f := newBufferFixture(DefaultConfig())
		f.buffer.append(ctx, chatMsg("one"))
		f.buffer.append(ctx, chatMsg("two"))

		f.buffer.flush(ctx)

		got := f.messages.get("general")
		require.Len(t, got, 2)
		assert.Equal(t, "one", got[0].Content)
		assert.Equal(t, "two", got[1].Content)
		assert.Zero(t, f.buffer.size())
		assert.Empty(t, f.mirror.get("general"))
		assert.Equal(t, 1, f.messages.calls, "the batch goes out as a single insert")
	})

	t.Run("flushing an empty buffer is a no-op", func(t *testing.T) {
		f := newBufferFixture(DefaultConfig())
		f.buffer.flush(ctx)
		assert.Zero(t, f.messages.calls)
	})

	t.Run("a failed flush restores the batch in order with backoff", func(t *testing.T) {
		f := newBufferFixture(DefaultConfig())
		f.buffer.append(ctx, chatMsg("one"))
		f.buffer.append(ctx, chatMsg("two"))
		f.messages.failures = 1

		f.buffer.flush(ctx)

		assert.Equal(t, 2, f.buffer.size())
		mirrored := f.mirror.get("general")
		require.Len(t, mirrored, 2)
		assert.Equal(t, "one", mirrored[0].Content)

		fireAt, ok := f.alarms.fireAt("general")
		require.True(t, ok, "a retry alarm must be scheduled")
		assert.WithinDuration(t, time.Now().Add(time.Second), fireAt, 500*time.Millisecond)
	})

	t.Run("messages appended during a retry window flush after the restored batch", func(t *testing.T) {
		f := newBufferFixture(DefaultConfig())
		f.buffer.append(ctx, chatMsg("one"))
		f.messages.failures = 1
		f.buffer.flush(ctx)

		f.buffer.append(ctx, chatMsg("two"))
		f.buffer.flush(ctx)

		got := f.messages.get("general")
		require.Len(t, got, 2)
		assert.Equal(t, "one", got[0].Content)
		assert.Equal(t, "two", got[1].Content)
	})

	t.Run("retry backoff doubles with each consecutive failure", func(t *testing.T) {
		f := newBufferFixture(DefaultConfig())
		f.buffer.append(ctx, chatMsg("one"))
		f.messages.failures = 2

		f.buffer.flush(ctx)
		first, ok := f.alarms.fireAt("general")
		require.True(t, ok)

		f.buffer.alarmSet = false
		f.buffer.flush(ctx)
		second, ok := f.alarms.fireAt("general")
		require.True(t, ok)

		assert.WithinDuration(t, first.Add(time.Second), second, 500*time.Millisecond,
			"second retry waits two seconds instead of one")
	})

	t.Run("a transient failure loses nothing", func(t *testing.T) {
		f := newBufferFixture(DefaultConfig())
		f.buffer.append(ctx, chatMsg("one"))
		f.buffer.append(ctx, chatMsg("two"))
		f.messages.failures = 2

		f.buffer.flush(ctx)
		f.buffer.alarmSet = false
		f.buffer.flush(ctx)
		f.buffer.alarmSet = false
		f.buffer.flush(ctx)

		got := f.messages.get("general")
		require.Len(t, got, 2)
		assert.Equal(t, "one", got[0].Content)
		assert.Equal(t, "two", got[1].Content)
		assert.Zero(t, f.buffer.attempts)
	})

	t.Run("the batch is dropped after the attempt limit", func(t *testing.T) {
		f := newBufferFixture(DefaultConfig())
		f.buffer.append(ctx, chatMsg("doomed"))
		f.messages.failures = 3

		f.buffer.flush(ctx)
		f.buffer.alarmSet = false
		f.buffer.flush(ctx)
		f.buffer.alarmSet = false
		f.buffer.flush(ctx)

		assert.Zero(t, f.buffer.size())
		assert.Empty(t, f.mirror.get("general"), "no crash-safe remnant after a drop")
		assert.Empty(t, f.messages.get("general"))
		assert.Zero(t, f.buffer.attempts, "the next batch starts with a clean slate")
		_, ok := f.alarms.fireAt("general")
		assert.False(t, ok)
	})

	t.Run("buffering continues after a dropped batch", func(t *testing.T) {
		f := newBufferFixture(DefaultConfig())
		f.buffer.append(ctx, chatMsg("doomed"))
		f.messages.failures = 3
		for i := 0; i < 3; i++ {
			f.buffer.flush(ctx)
			f.buffer.alarmSet = false
		}

		f.buffer.append(ctx, chatMsg("survivor"))
		f.buffer.flush(ctx)

		got := f.messages.get("general")
		require.Len(t, got, 1)
		assert.Equal(t, "survivor", got[0].Content)
	})
}

func TestBufferRehydrate(t *testing.T) {
	ctx := context.Background()

	t.Run("restores the mirrored pending set and reschedules a flush", func(t *testing.T) {
		f := newBufferFixture(DefaultConfig())
		require.NoError(t, f.mirror.PutBuffer(ctx, "general", []models.ChatMessage{
			chatMsg("stranded-1"), chatMsg("stranded-2"),
		}))

		require.NoError(t, f.buffer.rehydrate(ctx))

		assert.Equal(t, 2, f.buffer.size())
		_, ok := f.alarms.fireAt("general")
		assert.True(t, ok)

		f.buffer.flush(ctx)
		got := f.messages.get("general")
		require.Len(t, got, 2)
		assert.Equal(t, "stranded-1", got[0].Content)
	})

	t.Run("an empty mirror leaves the buffer idle", func(t *testing.T) {
		f := newBufferFixture(DefaultConfig())

		require.NoError(t, f.buffer.rehydrate(ctx))

		assert.Zero(t, f.buffer.size())
		_, ok := f.alarms.fireAt("general")
		assert.False(t, ok)
	})
}
