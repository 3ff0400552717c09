package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/roomcast/roomcast/models"
	"github.com/roomcast/roomcast/store"
)

// Conn is the broker's view of one transport connection. Send must be
// non-blocking; a send that cannot be accepted reports an error and the
// broker skips that connection only.
type Conn interface {
	Send(data []byte) error
	Close()
}

// Config tunes a room's buffering and rate limiting. The zero value is
// not usable; start from DefaultConfig.
type Config struct {
	// FlushDelay is how long the first buffered message may wait before
	// the batch is flushed.
	FlushDelay time.Duration
	// BufferCap is the hard buffer capacity. Reaching it forces an
	// immediate flush before more messages are accepted.
	BufferCap int
	// EagerFlushAt triggers a flush early once this many messages are
	// pending, without waiting for FlushDelay.
	EagerFlushAt int
	// MaxFlushAttempts bounds consecutive flush failures before the
	// affected batch is dropped.
	MaxFlushAttempts int
	// MessageLimit and MessageWindow bound chat messages per user.
	MessageLimit  int
	MessageWindow time.Duration
	// TypingInterval is the minimum gap between typing broadcasts of one
	// user.
	TypingInterval time.Duration
	// TypingSuppressAt disables typing broadcasts entirely once the room
	// has this many live connections.
	TypingSuppressAt int
}

func DefaultConfig() Config {
	return Config{
		FlushDelay:       5 * time.Second,
		BufferCap:        100,
		EagerFlushAt:     10,
		MaxFlushAttempts: 3,
		MessageLimit:     30,
		MessageWindow:    time.Minute,
		TypingInterval:   2 * time.Second,
		TypingSuppressAt: 100,
	}
}

// Room is a single-threaded actor owning all state of one chat room:
// live connections and their sessions, the durability buffer, and the
// per-user rate limits. Every event enters through the events channel
// and is handled one at a time, so the state needs no locks.
type Room struct {
	id      string
	cfg     Config
	logger  *slog.Logger
	ctx     context.Context
	conns   map[Conn]*models.Session
	limiter *rateLimiter
	buffer  *durabilityBuffer
	events  chan event
	done    chan struct{}
	// retire asks the owning manager to drop the room. It reports false
	// if the room picked up new work in the meantime.
	retire func(*Room) bool
}

func newRoom(ctx context.Context, id string, cfg Config,
	messages store.MessageStore, mirror store.BufferMirror, alarms store.AlarmStore,
	logger *slog.Logger, retire func(*Room) bool) *Room {
	logger = logger.With(slog.String("room", id))
	return &Room{
		id:      id,
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		conns:   make(map[Conn]*models.Session),
		limiter: newRateLimiter(cfg.MessageLimit, cfg.MessageWindow),
		buffer:  newDurabilityBuffer(id, cfg, messages, mirror, alarms, logger),
		events:  make(chan event, 256),
		done:    make(chan struct{}),
		retire:  retire,
	}
}

func (r *Room) ID() string {
	return r.id
}

// Join attaches a connection to the room. It reports false if the room
// has been retired; callers should fetch a fresh instance and retry.
func (r *Room) Join(c Conn) bool {
	return r.enqueue(event{kind: evtJoin, conn: c})
}

// Leave detaches a connection. The connection's session, if any, is
// announced as leaving and a best-effort flush of pending messages is
// attempted.
func (r *Room) Leave(c Conn) {
	r.enqueue(event{kind: evtLeave, conn: c})
}

// HandleFrame delivers one raw inbound frame from a connection.
func (r *Room) HandleFrame(c Conn, data []byte) {
	r.enqueue(event{kind: evtFrame, conn: c, data: data})
}

// Wake delivers a durable-alarm wake-up. It reports false if the room
// has been retired.
func (r *Room) Wake() bool {
	return r.enqueue(event{kind: evtWake})
}

// Clear broadcasts a clear notice to every live connection. It does not
// touch the buffer.
func (r *Room) Clear() {
	r.enqueue(event{kind: evtClear})
}

func (r *Room) enqueue(e event) bool {
	select {
	case r.events <- e:
		return true
	case <-r.done:
		return false
	}
}

// tryEnqueue is the non-blocking variant, used by the manager while it
// holds its own lock.
func (r *Room) tryEnqueue(e event) bool {
	select {
	case r.events <- e:
		return true
	case <-r.done:
		return false
	default:
		return false
	}
}

// run is the actor loop. Exactly one goroutine runs it per room.
func (r *Room) run() {
	for {
		select {
		case e := <-r.events:
			if e.kind == evtShutdown {
				if r.buffer.size() > 0 {
					r.buffer.flush(r.ctx)
				}
				return
			}
			r.handle(e)
			if len(r.conns) == 0 && r.buffer.size() == 0 && r.retire(r) {
				return
			}
		case <-r.done:
			return
		}
	}
}

func (r *Room) handle(e event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event handler panic", "recovered", rec)
		}
	}()

	switch e.kind {
	case evtJoin:
		r.conns[e.conn] = nil
		r.logger.Info("connection joined", "connections", len(r.conns))
	case evtLeave:
		r.handleLeave(e.conn)
	case evtFrame:
		r.handleFrame(e.conn, e.data)
	case evtWake:
		r.buffer.alarmSet = false
		r.buffer.flush(r.ctx)
	case evtClear:
		data, err := json.Marshal(models.ChatMessage{Type: models.MessageClear})
		if err != nil {
			r.logger.Error("marshal clear", "error", err)
			return
		}
		r.broadcast(data, "", nil)
	}
}

func (r *Room) handleLeave(c Conn) {
	sess, ok := r.conns[c]
	if !ok {
		return
	}
	delete(r.conns, c)

	if sess != nil {
		r.broadcastMessage(&models.ChatMessage{
			Type:      models.MessageLeave,
			UserID:    sess.UserID,
			Username:  sess.Username,
			Color:     sess.Color,
			Content:   fmt.Sprintf("%s left the chat", sess.Username),
			Timestamp: models.NowMillis(),
		}, nil)
	}

	// Best-effort drain when a connection goes away.
	if r.buffer.size() > 0 {
		r.buffer.flush(r.ctx)
	}
}

// handleFrame dispatches one decoded client event. Malformed input is
// dropped without closing the connection, and every message type other
// than identify is a no-op until the connection has identified.
func (r *Room) handleFrame(c Conn, data []byte) {
	sess, ok := r.conns[c]
	if !ok {
		return
	}

	var ev clientEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		r.logger.Debug("malformed frame", "error", err)
		return
	}

	if ev.Type == eventIdentify {
		r.handleIdentify(c, &ev)
		return
	}

	if sess == nil {
		return
	}

	switch ev.Type {
	case eventMessage:
		r.handleChatMessage(c, sess, &ev)
	case eventUpdateProfile:
		r.handleUpdateProfile(c, sess, &ev)
	case eventTyping:
		r.handleTyping(c, sess)
	case eventStopTyping:
		r.handleStopTyping(c, sess)
	case eventSignal:
		r.handleSignal(sess, &ev)
	default:
		r.logger.Debug("unknown event type", "type", ev.Type)
	}
}

func (r *Room) handleIdentify(c Conn, ev *clientEvent) {
	sess := &models.Session{
		UserID:   ev.UserID,
		Username: ev.Username,
		Color:    ev.Color,
	}
	if sess.UserID == "" {
		sess.UserID = uuid.NewString()
	}
	if sess.Username == "" {
		sess.Username = models.DefaultUsername
	}
	if sess.Color == "" {
		sess.Color = models.DefaultColor
	}

	if err := validate.Struct(profileInput{
		UserID:   sess.UserID,
		Username: sess.Username,
		Color:    sess.Color,
	}); err != nil {
		r.logger.Debug("invalid identify", "error", err)
		return
	}

	r.conns[c] = sess

	r.broadcastMessage(&models.ChatMessage{
		Type:      models.MessageJoin,
		UserID:    sess.UserID,
		Username:  sess.Username,
		Color:     sess.Color,
		Content:   fmt.Sprintf("%s joined the chat", sess.Username),
		Timestamp: models.NowMillis(),
	}, c)

	r.sendOnlineUsers(c)
}

func (r *Room) handleChatMessage(c Conn, sess *models.Session, ev *clientEvent) {
	var content string
	if err := json.Unmarshal(ev.Content, &content); err != nil {
		r.logger.Debug("malformed message content", "error", err)
		return
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}

	if !r.limiter.allow(sess.UserID, time.Now()) {
		r.logger.Warn("rate limit exceeded", "userId", sess.UserID)
		return
	}

	msg := models.ChatMessage{
		Type:      models.MessageChat,
		UserID:    sess.UserID,
		Username:  sess.Username,
		Color:     sess.Color,
		Content:   content,
		Timestamp: models.NowMillis(),
		Metadata:  ev.Metadata,
	}

	// The sender renders its own message optimistically; no echo.
	r.broadcastMessage(&msg, c)

	r.buffer.append(r.ctx, msg)
}

func (r *Room) handleUpdateProfile(c Conn, sess *models.Session, ev *clientEvent) {
	oldUsername := sess.Username

	updated := *sess
	if ev.Username != "" {
		updated.Username = ev.Username
	}
	if ev.Color != "" {
		updated.Color = ev.Color
	}

	if err := validate.Struct(profileInput{
		UserID:   updated.UserID,
		Username: updated.Username,
		Color:    updated.Color,
	}); err != nil {
		r.logger.Debug("invalid profile update", "error", err)
		return
	}

	*sess = updated
	r.conns[c] = sess

	// A rename rides on a join-type message, delivered to everyone
	// including the renaming connection.
	r.broadcastMessage(&models.ChatMessage{
		Type:      models.MessageJoin,
		UserID:    sess.UserID,
		Username:  sess.Username,
		Color:     sess.Color,
		Content:   fmt.Sprintf("%s is now %s", oldUsername, sess.Username),
		Timestamp: models.NowMillis(),
	}, nil)
}

func (r *Room) handleTyping(c Conn, sess *models.Session) {
	now := models.NowMillis()
	if now-sess.LastTypingBroadcast <= r.cfg.TypingInterval.Milliseconds() {
		return
	}
	sess.LastTypingBroadcast = now

	// Room-wide circuit breaker: typing fan-out is not worth the cost in
	// large rooms.
	if len(r.conns) >= r.cfg.TypingSuppressAt {
		return
	}

	r.broadcastMessage(&models.ChatMessage{
		Type:      models.MessageTyping,
		UserID:    sess.UserID,
		Username:  sess.Username,
		Color:     sess.Color,
		Timestamp: now,
	}, c)
}

func (r *Room) handleStopTyping(c Conn, sess *models.Session) {
	if len(r.conns) >= r.cfg.TypingSuppressAt {
		return
	}

	r.broadcastMessage(&models.ChatMessage{
		Type:      models.MessageStopTyping,
		UserID:    sess.UserID,
		Username:  sess.Username,
		Color:     sess.Color,
		Timestamp: models.NowMillis(),
	}, c)
}

func (r *Room) handleSignal(sess *models.Session, ev *clientEvent) {
	if ev.To == "" {
		return
	}

	data, err := json.Marshal(models.SignalMessage{
		Type:      models.MessageSignal,
		UserID:    sess.UserID,
		Username:  sess.Username,
		Color:     sess.Color,
		Content:   ev.Content,
		Timestamp: models.NowMillis(),
	})
	if err != nil {
		r.logger.Error("marshal signal", "error", err)
		return
	}

	r.broadcast(data, ev.To, nil)
}

func (r *Room) broadcastMessage(msg *models.ChatMessage, exclude Conn) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal message", "type", msg.Type, "error", err)
		return
	}
	r.broadcast(data, msg.To, exclude)
}

// broadcast delivers data to live connections. A non-empty to restricts
// delivery to connections identified as that user. A failed send is
// logged and skipped; it never affects the remaining recipients.
func (r *Room) broadcast(data []byte, to string, exclude Conn) {
	for c, sess := range r.conns {
		if to != "" && (sess == nil || sess.UserID != to) {
			continue
		}
		if c == exclude {
			continue
		}
		if err := c.Send(data); err != nil {
			r.logger.Warn("send failed", "error", err)
		}
	}
}

// sendOnlineUsers delivers the online-user list, deduplicated by user
// id, to a single connection.
func (r *Room) sendOnlineUsers(c Conn) {
	seen := make(map[string]struct{}, len(r.conns))
	users := make([]models.OnlineUser, 0, len(r.conns))
	for _, sess := range r.conns {
		if sess == nil {
			continue
		}
		if _, ok := seen[sess.UserID]; ok {
			continue
		}
		seen[sess.UserID] = struct{}{}
		users = append(users, sess.OnlineUser())
	}

	data, err := json.Marshal(models.ChatMessage{
		Type:      models.MessageOnlineUsers,
		Users:     users,
		Timestamp: models.NowMillis(),
	})
	if err != nil {
		r.logger.Error("marshal online users", "error", err)
		return
	}

	if err := c.Send(data); err != nil {
		r.logger.Warn("send online users failed", "error", err)
	}
}
