package room

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

const (
	eventIdentify      = "identify"
	eventMessage       = "message"
	eventUpdateProfile = "update_profile"
	eventTyping        = "typing"
	eventStopTyping    = "stop_typing"
	eventSignal        = "signal"
)

var validate = validator.New()

// clientEvent is the partially decoded inbound frame. Content is left
// raw: chat messages carry a JSON string, signals carry an opaque blob.
type clientEvent struct {
	Type     string          `json:"type"`
	UserID   string          `json:"userId"`
	Username string          `json:"username"`
	Color    string          `json:"color"`
	Content  json.RawMessage `json:"content"`
	To       string          `json:"to"`
	Metadata json.RawMessage `json:"metadata"`
}

// profileInput is the validated shape of identify and update_profile
// payloads after defaults are applied. Invalid profiles are dropped
// silently like any other malformed input.
type profileInput struct {
	UserID   string `validate:"required,max=64"`
	Username string `validate:"required,max=64"`
	Color    string `validate:"required,hexcolor"`
}

type eventKind int

const (
	evtJoin eventKind = iota
	evtFrame
	evtLeave
	evtWake
	evtClear
	evtShutdown
)

// event is one unit of work for the room actor. All inbound activity of
// a room, whatever its origin, is funneled through these.
type event struct {
	kind eventKind
	conn Conn
	data []byte
}
