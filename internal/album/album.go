// Package album provides the sticker album abstraction for caderneta.
// It defines the core data types, the fixed-length slot collection and the
// Backend interface that durable key-value media implement.
package album

import (
	"context"
	"errors"
	"fmt"
)

// Default capacities.
const (
	DefaultTotal    = 1000
	DefaultPageSize = 16
)

var (
	// ErrOutOfRange is returned for slot indices outside [0, Len()).
	ErrOutOfRange = errors.New("slot index out of range")

	// ErrQuotaExceeded is returned by a Backend when the durable medium
	// rejects a write because its capacity would be exceeded.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrNotFound is returned by Backend.Get when no record exists for a key.
	ErrNotFound = errors.New("record not found")
)

// Sticker is the content of an occupied slot.
type Sticker struct {
	// Image is the normalized JPEG payload (400×600).
	Image []byte

	// Hash is the content fingerprint of the raw bytes the image was made from.
	Hash string
}

// Slot is either empty or holds a Sticker.
type Slot struct {
	sticker *Sticker
}

// Occupied reports whether the slot holds a sticker.
func (s Slot) Occupied() bool { return s.sticker != nil }

// Sticker returns the slot content and whether the slot is occupied.
func (s Slot) Sticker() (Sticker, bool) {
	if s.sticker == nil {
		return Sticker{}, false
	}
	return *s.sticker, true
}

// Direction selects the scan direction of ScanOccupied.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Album is a fixed-length ordered collection of slots. The index of a slot
// is the sticker's canonical number. An Album is not safe for concurrent use;
// callers serialize access.
type Album struct {
	slots []Slot
}

// New returns an all-empty album with total slots.
func New(total int) *Album {
	if total < 0 {
		total = 0
	}
	return &Album{slots: make([]Slot, total)}
}

// Len returns the fixed number of slots.
func (a *Album) Len() int { return len(a.slots) }

func (a *Album) check(i int) error {
	if i < 0 || i >= len(a.slots) {
		return fmt.Errorf("slot %d of %d: %w", i, len(a.slots), ErrOutOfRange)
	}
	return nil
}

// Get returns slot i.
func (a *Album) Get(i int) (Slot, error) {
	if err := a.check(i); err != nil {
		return Slot{}, err
	}
	return a.slots[i], nil
}

// Set overwrites slot i with s. No duplicate check is made here; callers
// use ContainsHash first.
func (a *Album) Set(i int, s Sticker) error {
	if err := a.check(i); err != nil {
		return err
	}
	a.slots[i] = Slot{sticker: &s}
	return nil
}

// Clear empties slot i.
func (a *Album) Clear(i int) error {
	if err := a.check(i); err != nil {
		return err
	}
	a.slots[i] = Slot{}
	return nil
}

// FindFirstEmpty returns the lowest empty index, or false when the album is full.
func (a *Album) FindFirstEmpty() (int, bool) {
	for i, s := range a.slots {
		if !s.Occupied() {
			return i, true
		}
	}
	return -1, false
}

// ContainsHash reports whether any occupied slot carries hash h.
// The answer is re-derived from the slots on every call.
func (a *Album) ContainsHash(h string) bool {
	for _, s := range a.slots {
		if s.sticker != nil && s.sticker.Hash == h {
			return true
		}
	}
	return false
}

// ScanOccupied returns the first occupied index strictly beyond from in
// direction dir. There is no wraparound.
func (a *Album) ScanOccupied(from int, dir Direction) (int, bool) {
	step := 1
	if dir == Backward {
		step = -1
	}
	for i := from + step; i >= 0 && i < len(a.slots); i += step {
		if a.slots[i].Occupied() {
			return i, true
		}
	}
	return -1, false
}

// Occupied returns the number of occupied slots.
func (a *Album) Occupied() int {
	n := 0
	for _, s := range a.slots {
		if s.Occupied() {
			n++
		}
	}
	return n
}

// Clone returns a copy of the album. Sticker payloads are shared; they are
// never mutated in place.
func (a *Album) Clone() *Album {
	c := &Album{slots: make([]Slot, len(a.slots))}
	copy(c.slots, a.slots)
	return c
}

// Replace overwrites every slot of a with the slots of next, which must have
// the same length.
func (a *Album) Replace(next *Album) error {
	if next.Len() != a.Len() {
		return fmt.Errorf("replace %d slots with %d: %w", a.Len(), next.Len(), ErrOutOfRange)
	}
	copy(a.slots, next.slots)
	return nil
}

// Backend is the interface that durable key-value media implement.
// A Backend has a finite capacity; a Put that would exceed it fails with an
// error wrapping ErrQuotaExceeded and leaves the previous value in place.
type Backend interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put replaces the value stored under key.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the backend.
	Close() error
}

// Usage is an optional interface for backends that can report how many
// bytes they currently hold and their capacity (0 = unlimited).
type Usage interface {
	Usage(ctx context.Context) (used, capacity int64, err error)
}
