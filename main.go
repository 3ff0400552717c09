package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	roomcast "github.com/roomcast/roomcast/app"
	"github.com/roomcast/roomcast/internal/api"
	"github.com/roomcast/roomcast/pkg/server"
	"github.com/roomcast/roomcast/room"
	"github.com/roomcast/roomcast/store"
	"github.com/roomcast/roomcast/ws"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	config, err := roomcast.LoadConfig(".")
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := config.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		if msg := roomcast.FormatValidationErrors(err); msg != "" {
			fmt.Fprint(os.Stderr, msg)
		}
		os.Exit(1)
	}

	serverCtx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer cancel()

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", config.SQLite.File))
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	goose.SetBaseFS(os.DirFS(config.SQLite.Migrations))

	if err := goose.SetDialect("sqlite3"); err != nil {
		logger.Error("set dialect", "error", err)
		os.Exit(1)
	}

	if err := goose.Up(db, "."); err != nil {
		logger.Error("migrate up", "error", err)
		os.Exit(1)
	}

	messageStore := store.NewSQLiteMessageStore(db)
	stateStore := store.NewSQLiteStateStore(db)

	manager := room.NewManager(serverCtx, config.RoomConfig(), messageStore, stateStore, stateStore, logger)

	wsHandler := ws.NewHandler(manager, config.AllowedOrigins, logger)

	_api := api.NewApi(manager, messageStore, wsHandler, api.ApiConfig{
		AdminSecret:    config.Admin.Secret,
		AllowedOrigins: config.AllowedOrigins,
	})

	srv := server.Server{
		Server: &http.Server{
			Handler: _api.Mux(),
			Addr:    fmt.Sprintf("%s:%d", config.Hostname, config.Port),
		},
		CleanUpFuncs: []func(ctx context.Context){
			func(ctx context.Context) {
				// Drain pending buffers before the db goes away.
				manager.Close(ctx)
			},
		},
	}

	srv.Start(serverCtx)
}
