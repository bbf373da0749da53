// Package persist loads and saves the whole album as a single record in an
// album.Backend.
//
// Record layout: a JSON array with exactly one element per slot. An element
// is either null (empty slot) or {"image": <data URL>, "hash": <string>}.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/banux/caderneta/internal/album"
	"github.com/banux/caderneta/internal/normalize"
)

// DefaultKey is the key the album record is stored under.
const DefaultKey = "caderneta_v1"

type record struct {
	Image string `json:"image"`
	Hash  string `json:"hash"`
}

// SaveError is returned by Save when the backend rejects the record.
type SaveError struct {
	Size int // encoded record size in bytes
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save album (%d bytes): %v", e.Size, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// Manager persists albums of a fixed size under one key.
type Manager struct {
	backend album.Backend
	key     string
	total   int
	logger  zerolog.Logger
}

// New returns a Manager storing albums of total slots under key.
func New(backend album.Backend, key string, total int) *Manager {
	if key == "" {
		key = DefaultKey
	}
	return &Manager{backend: backend, key: key, total: total, logger: zerolog.Nop()}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger zerolog.Logger) {
	m.logger = logger
}

// Total returns the album size this manager reads and writes.
func (m *Manager) Total() int { return m.total }

// Load returns the stored album. It never fails: a missing, malformed or
// wrongly sized record yields an all-empty album.
func (m *Manager) Load(ctx context.Context) *album.Album {
	data, err := m.backend.Get(ctx, m.key)
	if err != nil {
		if !errors.Is(err, album.ErrNotFound) {
			m.logger.Warn().Err(err).Str("key", m.key).Msg("read album record failed; starting empty")
		}
		return album.New(m.total)
	}
	a, err := m.decode(data)
	if err != nil {
		m.logger.Debug().Err(err).Str("key", m.key).Msg("discarding album record")
		return album.New(m.total)
	}
	return a
}

// Save overwrites the stored record with a. The returned error wraps
// album.ErrQuotaExceeded when the medium rejected the write for capacity.
// The in-memory album is never modified.
func (m *Manager) Save(ctx context.Context, a *album.Album) error {
	data, err := m.Encode(a)
	if err != nil {
		return err
	}
	if err := m.backend.Put(ctx, m.key, data); err != nil {
		return &SaveError{Size: len(data), Err: err}
	}
	return nil
}

// Reset wipes the stored record.
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.backend.Delete(ctx, m.key); err != nil {
		return fmt.Errorf("reset album: %w", err)
	}
	return nil
}

// Encode renders a as the durable record.
func (m *Manager) Encode(a *album.Album) ([]byte, error) {
	if a.Len() != m.total {
		return nil, fmt.Errorf("album has %d slots, want %d", a.Len(), m.total)
	}
	recs := make([]*record, a.Len())
	for i := range recs {
		s, _ := a.Get(i)
		if st, ok := s.Sticker(); ok {
			recs[i] = &record{Image: normalize.DataURL(st.Image), Hash: st.Hash}
		}
	}
	return json.Marshal(recs)
}

func (m *Manager) decode(data []byte) (*album.Album, error) {
	var recs []*record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	if len(recs) != m.total {
		return nil, fmt.Errorf("record has %d slots, want %d", len(recs), m.total)
	}
	a := album.New(m.total)
	for i, r := range recs {
		if r == nil {
			continue
		}
		img, err := normalize.ParseDataURL(r.Image)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		w, h, err := normalize.Dimensions(img)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		if w != normalize.TargetWidth || h != normalize.TargetHeight {
			return nil, fmt.Errorf("slot %d: image is %dx%d", i, w, h)
		}
		if r.Hash == "" || a.ContainsHash(r.Hash) {
			return nil, fmt.Errorf("slot %d: missing or repeated hash %q", i, r.Hash)
		}
		_ = a.Set(i, album.Sticker{Image: img, Hash: r.Hash})
	}
	return a, nil
}
