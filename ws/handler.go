package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/roomcast/roomcast/room"
)

// DefaultRoom is used when a client connects without naming a room.
const DefaultRoom = "general"

// Handler upgrades HTTP requests to websocket connections and attaches
// them to their room.
type Handler struct {
	manager  *room.Manager
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHandler(manager *room.Manager, allowedOrigins []string, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = DefaultRoom
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "error", err)
		return
	}

	c := newConn(conn, h.logger.With(slog.String("room", roomID)))
	rm := h.manager.Connect(roomID, c)

	go c.writeLoop()
	go c.readLoop(rm)
}
