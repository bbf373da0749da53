// Package viewer implements the full-screen sticker viewer: a small state
// machine that is either closed or showing one occupied slot, and moves to
// the nearest occupied slot on either side.
package viewer

import (
	"errors"
	"fmt"

	"github.com/banux/caderneta/internal/album"
)

// ErrNotOccupied is returned by Open for an empty slot.
var ErrNotOccupied = errors.New("slot is empty")

// Slots is the read side of the album the viewer browses.
type Slots interface {
	Get(i int) (album.Slot, error)
	ScanOccupied(from int, dir album.Direction) (int, bool)
}

// Viewer is closed or open at an occupied index. It is not safe for
// concurrent use.
type Viewer struct {
	slots Slots
	open  bool
	index int
}

// New returns a closed Viewer over slots.
func New(slots Slots) *Viewer {
	return &Viewer{slots: slots}
}

// State returns the shown index and whether the viewer is open.
func (v *Viewer) State() (int, bool) {
	if !v.open {
		return -1, false
	}
	return v.index, true
}

// Open shows slot i, which must be occupied.
func (v *Viewer) Open(i int) error {
	s, err := v.slots.Get(i)
	if err != nil {
		return err
	}
	if !s.Occupied() {
		return fmt.Errorf("open slot %d: %w", i, ErrNotOccupied)
	}
	v.open = true
	v.index = i
	return nil
}

// Close closes the viewer from any state.
func (v *Viewer) Close() {
	v.open = false
	v.index = 0
}

// Next moves to the next occupied slot. It reports whether it moved; at the
// last occupied slot, or when closed, it stays put.
func (v *Viewer) Next() bool { return v.step(album.Forward) }

// Prev moves to the previous occupied slot, like Next.
func (v *Viewer) Prev() bool { return v.step(album.Backward) }

func (v *Viewer) step(dir album.Direction) bool {
	if !v.open {
		return false
	}
	i, ok := v.slots.ScanOccupied(v.index, dir)
	if !ok {
		return false
	}
	v.index = i
	return true
}

// Revalidate closes the viewer when the slot it shows is no longer
// occupied. It returns true if it closed.
func (v *Viewer) Revalidate() bool {
	if !v.open {
		return false
	}
	if s, err := v.slots.Get(v.index); err == nil && s.Occupied() {
		return false
	}
	v.Close()
	return true
}
