package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/roomcast/roomcast/room"
	"github.com/roomcast/roomcast/store"
	"github.com/roomcast/roomcast/ws"
)

type MessageHandler struct {
	messages store.MessageStore
	manager  *room.Manager
}

func NewMessageHandler(messages store.MessageStore, manager *room.Manager) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		manager:  manager,
	}
}

type MessagesResponse struct {
	Messages []store.StoredMessage `json:"messages"`
}

type ClearResponse struct {
	Success bool `json:"success"`
}

// GetMessagesHandler serves paginated history: the latest messages by
// default, or those older than the before cursor (unix milliseconds),
// returned in chronological order.
func (h *MessageHandler) GetMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = ws.DefaultRoom
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return NewApiError("invalid limit", http.StatusBadRequest)
		}
		limit = parsed
	}

	var before int64
	if v := r.URL.Query().Get("before"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return NewApiError("invalid before cursor", http.StatusBadRequest)
		}
		before = parsed
	}

	messages, err := h.messages.ListMessages(r.Context(), roomID, limit, before)
	if err != nil {
		return fmt.Errorf("ListMessages: %w", err)
	}
	if messages == nil {
		messages = []store.StoredMessage{}
	}

	// History moves slowly enough to absorb in a short shared cache.
	w.Header().Set("Cache-Control", "public, max-age=30, stale-while-revalidate=60")

	return WriteJsonResponse(w, MessagesResponse{Messages: messages})
}

// ClearMessagesHandler deletes a room's persisted history and tells the
// broker to broadcast a clear notice to live connections. The pending
// buffer is deliberately untouched.
func (h *MessageHandler) ClearMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = ws.DefaultRoom
	}

	if err := h.messages.DeleteRoomMessages(r.Context(), roomID); err != nil {
		return fmt.Errorf("DeleteRoomMessages: %w", err)
	}

	h.manager.Clear(roomID)

	return WriteJsonResponse(w, ClearResponse{Success: true})
}
