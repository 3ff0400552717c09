package room

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roomcast/roomcast/store"
)

// alarmPollInterval is how often the manager checks for due wake-ups.
const alarmPollInterval = time.Second

// Manager owns the set of live room actors. Rooms are created lazily on
// first use, rehydrate their pending buffer from the crash-safe mirror,
// and are retired once they hold no connections and no pending
// messages. A single scheduler goroutine polls the durable alarm store
// and wakes rooms, recreating retired ones when their alarm fires.
type Manager struct {
	cfg      Config
	logger   *slog.Logger
	baseCtx  context.Context
	messages store.MessageStore
	mirror   store.BufferMirror
	alarms   store.AlarmStore

	mu    sync.Mutex
	rooms map[string]*Room

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewManager(ctx context.Context, cfg Config, messages store.MessageStore,
	mirror store.BufferMirror, alarms store.AlarmStore, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		baseCtx:  ctx,
		messages: messages,
		mirror:   mirror,
		alarms:   alarms,
		rooms:    make(map[string]*Room),
		stop:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.runScheduler()

	return m
}

// Connect attaches a connection to the room, creating the room if it
// does not exist. The returned room stays valid for the lifetime of the
// connection: a room with a live connection is never retired.
func (m *Manager) Connect(roomID string, c Conn) *Room {
	for {
		r := m.getOrCreate(roomID)

		// Enqueue under the lock so retirement cannot race the join.
		m.mu.Lock()
		if m.rooms[roomID] != r {
			m.mu.Unlock()
			continue
		}
		ok := r.tryEnqueue(event{kind: evtJoin, conn: c})
		m.mu.Unlock()

		if ok {
			return r
		}
		// Event queue full; the room is busy and will not retire soon.
		if r.Join(c) {
			return r
		}
	}
}

// Clear broadcasts a clear notice to the room's live connections. A
// room with no live actor has no one to notify, so nothing happens.
func (m *Manager) Clear(roomID string) {
	m.mu.Lock()
	r := m.rooms[roomID]
	m.mu.Unlock()

	if r != nil {
		r.Clear()
	}
}

// Close stops the scheduler and shuts down every room, letting each
// attempt a final flush of pending messages. It returns once all rooms
// have exited or the context is done.
func (m *Manager) Close(ctx context.Context) {
	close(m.stop)

	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		r.enqueue(event{kind: evtShutdown})
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("room manager closed")
	case <-ctx.Done():
		m.logger.Error("room manager close timed out")
	}
}

func (m *Manager) getOrCreate(roomID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[roomID]; ok {
		return r
	}

	r := newRoom(m.baseCtx, roomID, m.cfg, m.messages, m.mirror, m.alarms, m.logger, m.retireRoom)
	m.rooms[roomID] = r

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := r.buffer.rehydrate(r.ctx); err != nil {
			r.logger.Error("rehydrate buffer", "error", err)
		}
		r.run()
	}()

	m.logger.Info("room created", "room", roomID)
	return r
}

// retireRoom drops an idle room. It declines if events arrived after
// the room decided it was idle.
func (m *Manager) retireRoom(r *Room) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(r.events) > 0 {
		return false
	}

	delete(m.rooms, r.id)
	close(r.done)
	m.logger.Info("room retired", "room", r.id)
	return true
}

// runScheduler delivers durable wake-ups. A due alarm for a retired
// room recreates it, which rehydrates the pending buffer before the
// wake event flushes it.
func (m *Manager) runScheduler() {
	defer m.wg.Done()

	ticker := time.NewTicker(alarmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			due, err := m.alarms.DueAlarms(m.baseCtx, now)
			if err != nil {
				m.logger.Error("poll alarms", "error", err)
				continue
			}
			for _, roomID := range due {
				m.wakeRoom(roomID)
			}
		}
	}
}

func (m *Manager) wakeRoom(roomID string) {
	for {
		r := m.getOrCreate(roomID)

		m.mu.Lock()
		if m.rooms[roomID] != r {
			m.mu.Unlock()
			continue
		}
		ok := r.tryEnqueue(event{kind: evtWake})
		m.mu.Unlock()

		if ok {
			return
		}
		if r.Wake() {
			return
		}
	}
}
