package models

import (
	"encoding/json"
	"time"
)

const (
	// MessageChat is a user chat message. It is the only kind that is
	// persisted to the durable store.
	MessageChat = "message"
	// MessageJoin announces a user joining the room. It is also reused to
	// announce profile updates.
	MessageJoin = "join"
	// MessageLeave announces a user leaving the room.
	MessageLeave = "leave"
	// MessageTyping and MessageStopTyping are ephemeral typing indicators.
	MessageTyping     = "typing"
	MessageStopTyping = "stop_typing"
	// MessageOnlineUsers carries the deduplicated list of online users.
	// It is only ever sent to a single connection.
	MessageOnlineUsers = "online_users"
	// MessageSignal carries an opaque call-negotiation payload addressed
	// to a single recipient.
	MessageSignal = "signal"
	// MessageClear instructs clients to drop their local history.
	MessageClear = "clear"
)

const (
	// DefaultUsername and DefaultColor are assigned to connections that
	// identify without a profile.
	DefaultUsername = "Anonymous"
	DefaultColor    = "#3b82f6"
)

// ChatMessage is the wire representation of an outbound room event.
// It is immutable once constructed. Fields that do not apply to a given
// message kind are omitted from the encoding.
type ChatMessage struct {
	Type     string `json:"type"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Color    string `json:"color,omitempty"`
	Content  string `json:"content,omitempty"`
	// Timestamp is in unix milliseconds.
	Timestamp int64        `json:"timestamp,omitempty"`
	Users     []OnlineUser `json:"users,omitempty"`
	// To addresses the message to a single recipient user id. The broker
	// only routes on it.
	To       string          `json:"to,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// SignalMessage is the outbound form of a forwarded call signal. The
// content is an opaque blob negotiated between the two peers; the broker
// never looks inside it. Signals are broadcast-only and never persisted.
type SignalMessage struct {
	Type      string          `json:"type"`
	UserID    string          `json:"userId"`
	Username  string          `json:"username"`
	Color     string          `json:"color"`
	Content   json.RawMessage `json:"content"`
	Timestamp int64           `json:"timestamp"`
}

// OnlineUser is one entry of the online-user list.
type OnlineUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Color    string `json:"color"`
}

// Session is the per-connection identity record. It must stay small and
// self-contained so the transport layer can serialize it across
// connection suspensions.
type Session struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Color    string `json:"color"`
	// LastTypingBroadcast is the unix millisecond timestamp of the last
	// typing indicator broadcast for this session.
	LastTypingBroadcast int64 `json:"lastTypingBroadcast,omitempty"`
}

// OnlineUser returns the session projected to an online-list entry.
func (s Session) OnlineUser() OnlineUser {
	return OnlineUser{UserID: s.UserID, Username: s.Username, Color: s.Color}
}

// NowMillis returns the current time as unix milliseconds, the timestamp
// unit used on the wire and in the durable store.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
