package handler

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/localspeed/internal/backup"
	"github.com/dukerupert/localspeed/internal/database"
	"github.com/dukerupert/localspeed/internal/store"
)

type published struct {
	typ  string
	data any
}

type recordingHub struct {
	mu   sync.Mutex
	msgs []published
}

func (h *recordingHub) Publish(typ string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, published{typ, data})
}

func (h *recordingHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, m := range h.msgs {
		out = append(out, m.typ)
	}
	return out
}

type fakeRunner struct {
	run   backup.Run
	calls int
	ctx   context.Context
}

func (f *fakeRunner) Run(ctx context.Context) backup.Run {
	f.calls++
	f.ctx = ctx
	return f.run
}

type fixture struct {
	db       *sql.DB
	settings *store.SettingsStore
	results  *store.ResultStore
	hub      *recordingHub
	runner   *fakeRunner
}

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &fixture{
		db:       db,
		settings: store.NewSettingsStore(db),
		results:  store.NewResultStore(db),
		hub:      &recordingHub{},
		runner:   &fakeRunner{},
	}
}

func (f *fixture) backupHandler(passphrase string) *BackupHandler {
	return NewBackupHandler(BackupConfig{
		DB:         f.db,
		Settings:   f.settings,
		Runner:     f.runner,
		Dumper:     backup.NewDumper(f.settings, f.results, func() time.Time { return testNow }),
		Hub:        f.hub,
		Passphrase: passphrase,
		PublicURL:  "https://speed.example.com",
		Now:        func() time.Time { return testNow },
		Logger:     testLogger(),
	})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}

func timeStep(i int) time.Duration {
	return time.Duration(i) * time.Hour
}
