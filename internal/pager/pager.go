// Package pager maps the album's slots onto fixed-size pages and tracks the
// page being shown.
package pager

import (
	"context"
	"time"
)

// Pager tracks the current page. It is not safe for concurrent use.
type Pager struct {
	total    int
	pageSize int
	delay    time.Duration
	current  int

	// OnChange, when set, is called after the current page changed.
	OnChange func(page int)
}

// New returns a Pager over total slots shown pageSize at a time. delay is
// the page-turn transition time waited before the page changes.
func New(total, pageSize int, delay time.Duration) *Pager {
	if pageSize <= 0 {
		pageSize = 1
	}
	if total < 0 {
		total = 0
	}
	return &Pager{total: total, pageSize: pageSize, delay: delay}
}

// Pages returns ceil(total/pageSize), at least 1.
func (p *Pager) Pages() int {
	n := (p.total + p.pageSize - 1) / p.pageSize
	if n < 1 {
		return 1
	}
	return n
}

// Current returns the zero-based current page.
func (p *Pager) Current() int { return p.current }

// PageSize returns the number of slots per page.
func (p *Pager) PageSize() int { return p.pageSize }

// View returns the slot range [start, end) of the current page.
func (p *Pager) View() (start, end int) {
	return p.Range(p.current)
}

// Range returns the slot range [start, end) of page, clamped to valid pages.
func (p *Pager) Range(page int) (start, end int) {
	page = p.clamp(page)
	start = page * p.pageSize
	end = min(start+p.pageSize, p.total)
	return start, end
}

// CanTurn reports whether TurnPage(forward) would move.
func (p *Pager) CanTurn(forward bool) bool {
	if forward {
		return p.current < p.Pages()-1
	}
	return p.current > 0
}

// TurnPage moves one page forward or backward after the transition delay.
// At the first or last page it does nothing and returns false. If ctx ends
// during the transition the page is left unchanged and ctx.Err is returned.
func (p *Pager) TurnPage(ctx context.Context, forward bool) (bool, error) {
	if !p.CanTurn(forward) {
		return false, nil
	}
	if p.delay > 0 {
		t := time.NewTimer(p.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		case <-t.C:
		}
	}
	if forward {
		p.current++
	} else {
		p.current--
	}
	p.changed()
	return true, nil
}

// Jump moves directly to page, clamped to the valid range.
func (p *Pager) Jump(page int) {
	page = p.clamp(page)
	if page == p.current {
		return
	}
	p.current = page
	p.changed()
}

// PageOf returns the page that contains slot index i.
func (p *Pager) PageOf(i int) int {
	return p.clamp(i / p.pageSize)
}

func (p *Pager) clamp(page int) int {
	if page < 0 {
		return 0
	}
	if last := p.Pages() - 1; page > last {
		return last
	}
	return page
}

func (p *Pager) changed() {
	if p.OnChange != nil {
		p.OnChange(p.current)
	}
}
