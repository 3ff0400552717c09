package api

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/roomcast/roomcast/room"
	"github.com/roomcast/roomcast/store"
)

type ApiConfig struct {
	// AdminSecret signs and verifies admin bearer tokens.
	AdminSecret    []byte
	AllowedOrigins []string
}

type Api struct {
	mux     *ApiMux
	config  ApiConfig
	manager *room.Manager
}

// NewApi assembles the HTTP surface: the websocket entry point, the
// history read path, and the admin clear endpoint.
func NewApi(manager *room.Manager, messages store.MessageStore, wsHandler http.Handler, config ApiConfig) *Api {
	api := &Api{
		mux:     NewApiRouter(),
		config:  config,
		manager: manager,
	}
	api.mountHandlers(messages, wsHandler)
	return api
}

func (a *Api) Mux() http.Handler {
	return a.mux
}

func (a *Api) mountHandlers(messages store.MessageStore, wsHandler http.Handler) {
	messageHandler := NewMessageHandler(messages, a.manager)

	a.mux.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.config.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
	}))

	a.mux.Router.Method(http.MethodGet, "/ws", wsHandler)

	a.mux.Route("/api", func(r *ApiMux) {
		r.Get("/messages", messageHandler.GetMessagesHandler)
		r.With(AdminAuth(a.config.AdminSecret)).Delete("/messages", messageHandler.ClearMessagesHandler)
	})
}
