package gesture

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// EventType names a raw input event.
type EventType string

const (
	EventTap   EventType = "tap"
	EventTouch EventType = "touch"
	EventDrag  EventType = "drag"
	EventKey   EventType = "key"
)

// Event is a raw input event as sent by the client.
type Event struct {
	Type  EventType `json:"type"`
	Index int       `json:"index,omitempty"`
	DX    float64   `json:"dx,omitempty"`
	DY    float64   `json:"dy,omitempty"`
	Key   string    `json:"key,omitempty"`
}

// ErrUnknownEvent is returned by Handle for unsupported event types.
var ErrUnknownEvent = errors.New("unknown input event")

// State is what the router needs to know about the application.
type State interface {
	ViewerOpen() bool
	SlotOccupied(i int) bool
}

// Timer is the part of *time.Timer the router uses.
type Timer interface {
	Stop() bool
}

// Router feeds events through a TapTracker driven by real timers and hands
// the resulting commands to dispatch, outside its own lock.
type Router struct {
	state    State
	dispatch func(Command)

	mu        sync.Mutex
	tracker   *TapTracker
	timer     Timer
	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer
}

// NewRouter returns a Router with the given double-tap window.
func NewRouter(threshold time.Duration, state State, dispatch func(Command)) *Router {
	return &Router{
		state:    state,
		dispatch: dispatch,
		tracker:  NewTapTracker(threshold),
		now:      time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
}

// Handle processes one event.
func (r *Router) Handle(ev Event) error {
	switch ev.Type {
	case EventTap:
		r.Tap(ev.Index)
	case EventTouch:
		r.swipe(Touch, ev.DX, ev.DY)
	case EventDrag:
		r.swipe(Drag, ev.DX, ev.DY)
	case EventKey:
		if cmd, ok := Key(ev.Key, r.state.ViewerOpen()); ok {
			r.dispatch(cmd)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	return nil
}

// Tap registers a tap on slot i. Empty slots become the import target
// immediately; occupied slots go through the double-tap machine.
func (r *Router) Tap(i int) {
	if !r.state.SlotOccupied(i) {
		r.dispatch(Command{Kind: PickTarget, Index: i})
		return
	}

	r.mu.Lock()
	cmds := r.tracker.Tap(i, r.now())
	r.rearm()
	r.mu.Unlock()

	for _, c := range cmds {
		r.dispatch(c)
	}
}

// Reset disarms any pending tap.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracker.Reset()
	r.rearm()
}

func (r *Router) swipe(p Pointer, dx, dy float64) {
	if !r.state.ViewerOpen() {
		return
	}
	if cmd, ok := Swipe(p, dx, dy); ok {
		r.dispatch(cmd)
	}
}

// rearm stops the running timer and starts one for the pending deadline.
// Must be called with r.mu held.
func (r *Router) rearm() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	_, deadline, armed := r.tracker.Pending()
	if !armed {
		return
	}
	r.timer = r.afterFunc(deadline.Sub(r.now()), r.fire)
}

func (r *Router) fire() {
	r.mu.Lock()
	cmds := r.tracker.Expire(r.now())
	if len(cmds) > 0 {
		r.timer = nil
	}
	r.mu.Unlock()

	for _, c := range cmds {
		r.dispatch(c)
	}
}
