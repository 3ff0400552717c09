package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roomcast/roomcast/models"
	"github.com/roomcast/roomcast/store"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	mu       sync.Mutex
	sent     [][]byte
	failSend bool
	closed   bool
}

func (c *mockConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("send failed")
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *mockConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// received decodes everything sent to the connection so far. Signal
// frames carry an opaque content blob and are decoded separately by
// receivedSignals; here they only count towards presence.
func (c *mockConn) received(t *testing.T) []models.ChatMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]models.ChatMessage, 0, len(c.sent))
	for _, data := range c.sent {
		var head struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(data, &head))
		if head.Type == models.MessageSignal {
			msgs = append(msgs, models.ChatMessage{Type: head.Type})
			continue
		}
		var msg models.ChatMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		msgs = append(msgs, msg)
	}
	return msgs
}

func (c *mockConn) receivedSignals(t *testing.T) []models.SignalMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.SignalMessage
	for _, data := range c.sent {
		var msg models.SignalMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == models.MessageSignal {
			out = append(out, msg)
		}
	}
	return out
}

func (c *mockConn) receivedOfType(t *testing.T, msgType string) []models.ChatMessage {
	t.Helper()
	var out []models.ChatMessage
	for _, msg := range c.received(t) {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

func (c *mockConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

type memoryMirror struct {
	mu      sync.Mutex
	buffers map[string][]models.ChatMessage
	putErr  error
}

func newMemoryMirror() *memoryMirror {
	return &memoryMirror{buffers: make(map[string][]models.ChatMessage)}
}

func (m *memoryMirror) PutBuffer(_ context.Context, roomID string, messages []models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.buffers[roomID] = append([]models.ChatMessage(nil), messages...)
	return nil
}

func (m *memoryMirror) GetBuffer(_ context.Context, roomID string) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ChatMessage(nil), m.buffers[roomID]...), nil
}

func (m *memoryMirror) DeleteBuffer(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buffers, roomID)
	return nil
}

func (m *memoryMirror) get(roomID string) []models.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ChatMessage(nil), m.buffers[roomID]...)
}

type memoryAlarms struct {
	mu     sync.Mutex
	alarms map[string]time.Time
}

func newMemoryAlarms() *memoryAlarms {
	return &memoryAlarms{alarms: make(map[string]time.Time)}
}

func (a *memoryAlarms) SetAlarm(_ context.Context, roomID string, fireAt time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alarms[roomID] = fireAt
	return nil
}

func (a *memoryAlarms) DeleteAlarm(_ context.Context, roomID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.alarms, roomID)
	return nil
}

func (a *memoryAlarms) DueAlarms(_ context.Context, now time.Time) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var due []string
	for roomID, fireAt := range a.alarms {
		if !fireAt.After(now) {
			due = append(due, roomID)
			delete(a.alarms, roomID)
		}
	}
	return due, nil
}

func (a *memoryAlarms) fireAt(roomID string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fireAt, ok := a.alarms[roomID]
	return fireAt, ok
}

type memoryMessageStore struct {
	mu       sync.Mutex
	inserted map[string][]models.ChatMessage
	// failures makes the next n BatchInsert calls fail.
	failures int
	calls    int
}

func newMemoryMessageStore() *memoryMessageStore {
	return &memoryMessageStore{inserted: make(map[string][]models.ChatMessage)}
}

func (s *memoryMessageStore) BatchInsert(_ context.Context, roomID string, messages []models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("insert failed")
	}
	s.inserted[roomID] = append(s.inserted[roomID], messages...)
	return nil
}

func (s *memoryMessageStore) ListMessages(_ context.Context, roomID string, _ int, _ int64) ([]store.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.StoredMessage
	for _, msg := range s.inserted[roomID] {
		out = append(out, store.StoredMessage{
			RoomID:    roomID,
			UserID:    msg.UserID,
			Username:  msg.Username,
			Color:     msg.Color,
			Content:   msg.Content,
			Metadata:  msg.Metadata,
			CreatedAt: msg.Timestamp,
		})
	}
	return out, nil
}

func (s *memoryMessageStore) DeleteRoomMessages(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inserted, roomID)
	return nil
}

func (s *memoryMessageStore) get(roomID string) []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.inserted[roomID]...)
}
