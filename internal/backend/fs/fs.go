// Package fs implements a filesystem-based key-value backend for caderneta.
// Each key is stored as {dir}/{key}.json and replaced atomically on write.
// The backend enforces a byte capacity across all keys, mimicking the
// finite per-origin storage a browser offers.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"

	"github.com/banux/caderneta/internal/album"
)

const ext = ".json"

var validKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Backend is a filesystem-based key-value backend.
type Backend struct {
	root     string
	capacity int64 // bytes across all keys; 0 = unlimited

	mu sync.Mutex
}

// New creates the directory dir if needed and returns a Backend storing at
// most capacity bytes (0 = unlimited).
func New(dir string, capacity int64) (*Backend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Backend{root: dir, capacity: capacity}, nil
}

func (b *Backend) path(key string) (string, error) {
	if !validKey.MatchString(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(b.root, key+ext), nil
}

// Get returns the value stored under key.
func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, album.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	return data, nil
}

// Put replaces the value stored under key. The write goes to a temp file in
// the same directory which is then renamed over the target, so a failed
// write leaves the previous value untouched.
func (b *Backend) Put(_ context.Context, key string, value []byte) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.capacity > 0 {
		others, err := b.usedExcept(p)
		if err != nil {
			return err
		}
		if others+int64(len(value)) > b.capacity {
			return fmt.Errorf("write %q (%d bytes, %d in use of %d): %w",
				key, len(value), others, b.capacity, album.ErrQuotaExceeded)
		}
	}

	if err := writeFileAtomic(p, value); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return fmt.Errorf("write %q: %v: %w", key, err, album.ErrQuotaExceeded)
		}
		return fmt.Errorf("write %q: %w", key, err)
	}
	return nil
}

// Delete removes key; a missing key is not an error.
func (b *Backend) Delete(_ context.Context, key string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Usage reports the bytes held across all keys and the configured capacity.
func (b *Backend) Usage(_ context.Context) (int64, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	used, err := b.usedExcept("")
	return used, b.capacity, err
}

// Close is a no-op; it exists to satisfy album.Backend.
func (b *Backend) Close() error { return nil }

// usedExcept sums the sizes of all stored values except the one at skip.
// Must be called with b.mu held.
func (b *Backend) usedExcept(skip string) (int64, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return 0, fmt.Errorf("scan data dir: %w", err)
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		p := filepath.Join(b.root, e.Name())
		if p == skip {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
