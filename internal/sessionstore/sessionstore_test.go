package sessionstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gotd/td/session"
	"go.uber.org/zap"

	"github.com/danhigham/telecharm-web/internal/config"
)

func TestOpen_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	store, closeFn, err := Open(ctx, config.SessionConfig{Backend: config.BackendFile, Path: path}, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer closeFn()

	if _, err := store.LoadSession(ctx); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("LoadSession on fresh file = %v, want session.ErrNotFound", err)
	}
	if err := store.StoreSession(ctx, []byte("data")); err != nil {
		t.Fatalf("StoreSession() error: %v", err)
	}
	got, err := store.LoadSession(ctx)
	if err != nil {
		t.Fatalf("LoadSession() error: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("LoadSession() = %q, want %q", got, "data")
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, _, err := Open(context.Background(), config.SessionConfig{Backend: "memcache"}, zap.NewNop())
	if err == nil {
		t.Error("expected error for unknown backend")
	}
}
