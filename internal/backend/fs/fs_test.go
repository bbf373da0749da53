package fs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/banux/caderneta/internal/album"
)

func newTestBackend(t *testing.T, capacity int64) *Backend {
	t.Helper()
	b, err := New(t.TempDir(), capacity)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return b
}

func TestFSBackend_GetMissing(t *testing.T) {
	b := newTestBackend(t, 0)
	if _, err := b.Get(context.Background(), "caderneta_v1"); !errors.Is(err, album.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFSBackend_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, 0)

	if err := b.Put(ctx, "k", []byte(`[null]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := b.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `[null]` {
		t.Errorf("Get: got %q", got)
	}
	if _, err := os.Stat(filepath.Join(b.root, "k.json")); err != nil {
		t.Errorf("expected k.json on disk: %v", err)
	}

	// Overwrite.
	if err := b.Put(ctx, "k", []byte(`[1]`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, _ = b.Get(ctx, "k")
	if string(got) != `[1]` {
		t.Errorf("after overwrite: got %q", got)
	}

	if err := b.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Get(ctx, "k"); !errors.Is(err, album.ErrNotFound) {
		t.Errorf("after Delete: expected ErrNotFound, got %v", err)
	}
	// Deleting again is fine.
	if err := b.Delete(ctx, "k"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestFSBackend_QuotaExceeded_KeepsPrevious(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, 100)

	if err := b.Put(ctx, "k", bytes.Repeat([]byte("a"), 60)); err != nil {
		t.Fatalf("Put within quota: %v", err)
	}
	// Replacing the same key only counts the new value.
	if err := b.Put(ctx, "k", bytes.Repeat([]byte("b"), 90)); err != nil {
		t.Fatalf("replace within quota: %v", err)
	}
	err := b.Put(ctx, "k", bytes.Repeat([]byte("c"), 101))
	if !errors.Is(err, album.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	got, _ := b.Get(ctx, "k")
	if !bytes.Equal(got, bytes.Repeat([]byte("b"), 90)) {
		t.Error("previous value was not preserved after quota failure")
	}
}

func TestFSBackend_QuotaCountsOtherKeys(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, 100)

	if err := b.Put(ctx, "other", bytes.Repeat([]byte("x"), 70)); err != nil {
		t.Fatalf("Put other: %v", err)
	}
	if err := b.Put(ctx, "k", bytes.Repeat([]byte("y"), 40)); !errors.Is(err, album.ErrQuotaExceeded) {
		t.Errorf("expected ErrQuotaExceeded, got %v", err)
	}
	used, capacity, err := b.Usage(ctx)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if used != 70 || capacity != 100 {
		t.Errorf("Usage: got (%d,%d), want (70,100)", used, capacity)
	}
}

func TestFSBackend_InvalidKey(t *testing.T) {
	b := newTestBackend(t, 0)
	for _, key := range []string{"", "../escape", "a/b", ".hidden"} {
		if err := b.Put(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("Put(%q): expected error", key)
		}
	}
}
