// Package app holds the single application state of a running album (slots,
// pending import target, viewer, current page) and serializes every change
// to it.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/banux/caderneta/internal/album"
	"github.com/banux/caderneta/internal/gesture"
	"github.com/banux/caderneta/internal/importer"
	"github.com/banux/caderneta/internal/pager"
	"github.com/banux/caderneta/internal/persist"
	"github.com/banux/caderneta/internal/viewer"
)

var (
	// ErrImportInProgress is returned by Reset while an import runs.
	ErrImportInProgress = errors.New("an import is in progress")

	// ErrNoTarget is returned by ImportPending when no empty slot was picked.
	ErrNoTarget = errors.New("no target slot selected")
)

// Options configures a Controller.
type Options struct {
	PageSize       int
	PageTurnDelay  time.Duration
	DoubleTapDelay time.Duration
}

// Controller owns the album and every piece of state derived from it.
// All methods are safe for concurrent use; they run one at a time.
type Controller struct {
	manager  *persist.Manager
	importer *importer.Coordinator
	router   *gesture.Router
	logger   zerolog.Logger

	mu      sync.Mutex
	album   *album.Album
	viewer  *viewer.Viewer
	pager   *pager.Pager
	pending int // -1 when unset
	warning string
	version uint64
	changed chan struct{}

	// importing counts running and queued imports.
	importing atomic.Int32
}

// New loads the album through m and returns a Controller over it.
func New(ctx context.Context, m *persist.Manager, imp *importer.Coordinator, opts Options) *Controller {
	if opts.PageSize <= 0 {
		opts.PageSize = album.DefaultPageSize
	}
	c := &Controller{
		manager:  m,
		importer: imp,
		logger:   zerolog.Nop(),
		album:    m.Load(ctx),
		pending:  -1,
		changed:  make(chan struct{}),
	}
	c.viewer = viewer.New(c.album)
	c.pager = pager.New(c.album.Len(), opts.PageSize, opts.PageTurnDelay)
	c.router = gesture.NewRouter(opts.DoubleTapDelay, c, func(cmd gesture.Command) {
		if err := c.Dispatch(context.Background(), cmd); err != nil {
			c.logger.Debug().Err(err).Stringer("command", cmd).Msg("command rejected")
		}
	})
	return c
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// HandleInput feeds one raw input event through the gesture router.
func (c *Controller) HandleInput(ev gesture.Event) error {
	return c.router.Handle(ev)
}

// ViewerOpen reports whether the viewer is open.
func (c *Controller) ViewerOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, open := c.viewer.State()
	return open
}

// SlotOccupied reports whether slot i holds a sticker.
func (c *Controller) SlotOccupied(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.album.Get(i)
	return err == nil && s.Occupied()
}

// Dispatch applies one command.
func (c *Controller) Dispatch(ctx context.Context, cmd gesture.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch cmd.Kind {
	case gesture.Remove:
		return c.remove(ctx, cmd.Index)
	case gesture.OpenViewer:
		if err := c.viewer.Open(cmd.Index); err != nil {
			return err
		}
	case gesture.ViewerNext:
		if !c.viewer.Next() {
			return nil
		}
	case gesture.ViewerPrev:
		if !c.viewer.Prev() {
			return nil
		}
	case gesture.ViewerClose:
		if _, open := c.viewer.State(); !open {
			return nil
		}
		c.viewer.Close()
	case gesture.PickTarget:
		s, err := c.album.Get(cmd.Index)
		if err != nil {
			return err
		}
		if s.Occupied() {
			return fmt.Errorf("pick slot %d: slot is occupied", cmd.Index)
		}
		c.pending = cmd.Index
	default:
		return fmt.Errorf("unsupported command %s", cmd)
	}
	c.bump()
	return nil
}

// remove clears slot i and persists, following the import persistence
// policy. Must be called with c.mu held.
func (c *Controller) remove(ctx context.Context, i int) error {
	work := c.album
	if c.importer.Policy() == importer.PolicyWriteFirst {
		work = c.album.Clone()
	}
	if err := work.Clear(i); err != nil {
		return err
	}
	c.warning = ""
	if err := c.manager.Save(ctx, work); err != nil {
		w := importer.QuotaWarning(err)
		if w == "" {
			c.viewer.Revalidate()
			c.bump()
			return err
		}
		c.logger.Warn().Err(err).Int("slot", i).Str("policy", string(c.importer.Policy())).Msg("album not saved after remove")
		c.warning = w
		if work != c.album {
			c.bump()
			return nil
		}
	} else if work != c.album {
		_ = c.album.Replace(work)
	}
	c.viewer.Revalidate()
	c.logger.Info().Int("slot", i).Msg("sticker removed")
	c.bump()
	return nil
}

// ImportSingle imports raw into slot target.
func (c *Controller) ImportSingle(ctx context.Context, target int, raw []byte) (importer.SingleResult, error) {
	c.importing.Add(1)
	defer c.importing.Add(-1)
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.importSingle(ctx, target, raw)
}

// ImportPending imports raw into the slot last picked with PickTarget and
// clears the pick, whatever the outcome.
func (c *Controller) ImportPending(ctx context.Context, raw []byte) (importer.SingleResult, error) {
	c.importing.Add(1)
	defer c.importing.Add(-1)
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	target := c.pending
	if target < 0 {
		return importer.SingleResult{Index: -1}, ErrNoTarget
	}
	c.pending = -1
	defer c.bump()
	return c.importSingle(ctx, target, raw)
}

func (c *Controller) importSingle(ctx context.Context, target int, raw []byte) (importer.SingleResult, error) {
	res, err := c.importer.ImportSingle(ctx, c.album, target, raw)
	if err != nil {
		if res.Assigned {
			c.bump()
		}
		return res, err
	}
	c.warning = res.Warning
	if res.Assigned {
		if c.pending == target {
			c.pending = -1
		}
		c.bump()
	}
	return res, nil
}

// ImportBatch fills empty slots with files. The request context only
// carries values: once started, a batch runs to completion.
func (c *Controller) ImportBatch(ctx context.Context, files []importer.File) (importer.BatchResult, error) {
	c.importing.Add(1)
	defer c.importing.Add(-1)
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.importer.ImportBatch(ctx, c.album, files)
	if err != nil {
		if len(res.Assigned) > 0 {
			c.bump()
		}
		return res, err
	}
	c.warning = res.Warning
	if c.pending >= 0 {
		if s, _ := c.album.Get(c.pending); s.Occupied() {
			c.pending = -1
		}
	}
	c.bump()
	return res, nil
}

// Importing reports whether an import is running or waiting for its turn.
func (c *Controller) Importing() bool { return c.importing.Load() > 0 }

// Reset wipes the stored album and returns to an empty album on page one.
func (c *Controller) Reset(ctx context.Context) error {
	if c.Importing() {
		return ErrImportInProgress
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Importing() {
		return ErrImportInProgress
	}

	if err := c.manager.Reset(ctx); err != nil {
		return err
	}
	_ = c.album.Replace(album.New(c.album.Len()))
	c.viewer.Close()
	c.pager.Jump(0)
	c.pending = -1
	c.warning = ""
	c.router.Reset()
	c.logger.Info().Msg("album reset")
	c.bump()
	return nil
}

// TurnPage moves one page forward or backward after the transition delay.
func (c *Controller) TurnPage(ctx context.Context, forward bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	moved, err := c.pager.TurnPage(ctx, forward)
	if moved {
		c.bump()
	}
	return moved, err
}

// JumpTo shows page directly.
func (c *Controller) JumpTo(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := c.pager.Current()
	c.pager.Jump(page)
	if c.pager.Current() != before {
		c.bump()
	}
}

// Image returns the normalized image of slot i.
func (c *Controller) Image(i int) (album.Sticker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.album.Get(i)
	if err != nil {
		return album.Sticker{}, err
	}
	st, ok := s.Sticker()
	if !ok {
		return album.Sticker{}, fmt.Errorf("slot %d: %w", i, viewer.ErrNotOccupied)
	}
	return st, nil
}

// Version returns the change counter. It increases on every visible change.
func (c *Controller) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Wait blocks until the version differs from since or ctx ends, and returns
// the current version.
func (c *Controller) Wait(ctx context.Context, since uint64) (uint64, error) {
	for {
		c.mu.Lock()
		v, ch := c.version, c.changed
		c.mu.Unlock()
		if v != since {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-ch:
		}
	}
}

// bump records a change and wakes waiters. Must be called with c.mu held.
func (c *Controller) bump() {
	c.version++
	close(c.changed)
	c.changed = make(chan struct{})
}
