// Package gesture turns raw input (taps on slots, swipes and drags on the
// viewer image, key presses) into discrete commands.
//
// Tap disambiguation is an explicit state machine: a tap on an occupied
// slot arms a deadline for that slot; a second tap on the same slot before
// the deadline is a double tap (remove), while reaching the deadline with no
// second tap opens the viewer.
package gesture

import (
	"fmt"
	"time"
)

// Default thresholds.
const (
	DefaultDoubleTapDelay = 300 * time.Millisecond
	TouchThreshold        = 50.0 // px, touch release
	DragThreshold         = 80.0 // px, pointer-drag release
)

// Kind identifies a command.
type Kind int

const (
	OpenViewer Kind = iota + 1
	Remove
	ViewerNext
	ViewerPrev
	ViewerClose
	// PickTarget records an empty slot as the target of the next single import.
	PickTarget
)

var kindNames = map[Kind]string{
	OpenViewer:  "open-viewer",
	Remove:      "remove",
	ViewerNext:  "viewer-next",
	ViewerPrev:  "viewer-prev",
	ViewerClose: "viewer-close",
	PickTarget:  "pick-target",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Command is one semantic action. Index is meaningful for OpenViewer,
// Remove and PickTarget.
type Command struct {
	Kind  Kind
	Index int
}

func (c Command) String() string {
	switch c.Kind {
	case OpenViewer, Remove, PickTarget:
		return fmt.Sprintf("%s(%d)", c.Kind, c.Index)
	}
	return c.Kind.String()
}

// TapTracker is the armed/disarmed tap state machine. It does no timing of
// its own: callers pass the current time and call Expire once the deadline
// has passed.
type TapTracker struct {
	threshold time.Duration
	armed     bool
	index     int
	deadline  time.Time
}

// NewTapTracker returns a disarmed tracker with the given double-tap window.
func NewTapTracker(threshold time.Duration) *TapTracker {
	if threshold <= 0 {
		threshold = DefaultDoubleTapDelay
	}
	return &TapTracker{threshold: threshold}
}

// Pending returns the armed index and its deadline.
func (t *TapTracker) Pending() (index int, deadline time.Time, armed bool) {
	return t.index, t.deadline, t.armed
}

// Tap registers a tap on slot i at now. A pending tap whose deadline has
// already passed is resolved first. A tap on a different slot replaces the
// pending one, which then never opens.
func (t *TapTracker) Tap(i int, now time.Time) []Command {
	out := t.Expire(now)
	if t.armed && t.index == i {
		t.armed = false
		return append(out, Command{Kind: Remove, Index: i})
	}
	t.armed = true
	t.index = i
	t.deadline = now.Add(t.threshold)
	return out
}

// Expire resolves the pending tap into OpenViewer if its deadline is not
// after now.
func (t *TapTracker) Expire(now time.Time) []Command {
	if !t.armed || now.Before(t.deadline) {
		return nil
	}
	t.armed = false
	return []Command{{Kind: OpenViewer, Index: t.index}}
}

// Reset disarms the tracker.
func (t *TapTracker) Reset() {
	t.armed = false
}

// Pointer distinguishes touch swipes from pointer drags.
type Pointer int

const (
	Touch Pointer = iota
	Drag
)

// Threshold returns the horizontal distance a release must exceed.
func (p Pointer) Threshold() float64 {
	if p == Drag {
		return DragThreshold
	}
	return TouchThreshold
}

// Swipe translates the displacement of a touch or drag on the viewer image.
// Moving right shows the previous sticker, moving left the next one.
// Vertical movement is ignored.
func Swipe(p Pointer, dx, _ float64) (Command, bool) {
	thr := p.Threshold()
	switch {
	case dx > thr:
		return Command{Kind: ViewerPrev}, true
	case dx < -thr:
		return Command{Kind: ViewerNext}, true
	}
	return Command{}, false
}

// Key translates a key name (DOM KeyboardEvent.key values) while the viewer
// is open. Keys are ignored while it is closed.
func Key(name string, viewerOpen bool) (Command, bool) {
	if !viewerOpen {
		return Command{}, false
	}
	switch name {
	case "ArrowLeft":
		return Command{Kind: ViewerPrev}, true
	case "ArrowRight":
		return Command{Kind: ViewerNext}, true
	case "Escape":
		return Command{Kind: ViewerClose}, true
	}
	return Command{}, false
}
