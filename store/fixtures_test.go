package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

type Fixture struct {
	messages *SQLiteMessageStore
	state    *SQLiteStateStore
	db       *sql.DB
	ctx      context.Context
	tearDown func()
	t        *testing.T
}

func NewFixture(t *testing.T) *Fixture {
	ctx, cancel := context.WithCancel(context.Background())

	// A named in-memory db keeps tests in the same process isolated.
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatal(err)
	}

	migrationfs := os.DirFS("../migrations")
	goose.SetBaseFS(migrationfs)

	if err := goose.SetDialect("sqlite3"); err != nil {
		t.Fatal(err)
	}

	if err := goose.Up(db, "."); err != nil {
		t.Fatal(err)
	}

	f := &Fixture{
		messages: NewSQLiteMessageStore(db),
		state:    NewSQLiteStateStore(db),
		ctx:      ctx,
		db:       db,
		tearDown: func() {
			cancel()
			db.Close()
		},
		t: t,
	}

	return f
}
