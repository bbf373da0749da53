package app

import (
	"fmt"

	"github.com/banux/caderneta/internal/album"
)

// SlotView is one cell of the rendered page.
type SlotView struct {
	Index    int    `json:"index"`
	Label    string `json:"label"`
	Occupied bool   `json:"occupied"`
	Hash     string `json:"hash,omitempty"`
}

// ViewerView is the state of the full-screen viewer.
type ViewerView struct {
	Open    bool   `json:"open"`
	Index   int    `json:"index"`
	Label   string `json:"label,omitempty"`
	Hash    string `json:"hash,omitempty"`
	HasPrev bool   `json:"has_prev"`
	HasNext bool   `json:"has_next"`
}

// PageView is a consistent snapshot of everything the page renders.
type PageView struct {
	Page     int        `json:"page"`
	Pages    int        `json:"pages"`
	Total    int        `json:"total"`
	Occupied int        `json:"occupied"`
	Slots    []SlotView `json:"slots"`
	Viewer   ViewerView `json:"viewer"`
	Pending  int        `json:"pending"`
	Warning  string     `json:"warning,omitempty"`
	Version  uint64     `json:"version"`
	CanPrev  bool       `json:"can_prev"`
	CanNext  bool       `json:"can_next"`
}

// Label returns the display number of slot i ("#001" for slot 0).
func Label(i int) string {
	return fmt.Sprintf("#%03d", i+1)
}

// View returns the current page snapshot.
func (c *Controller) View() PageView {
	c.mu.Lock()
	defer c.mu.Unlock()

	start, end := c.pager.View()
	v := PageView{
		Page:     c.pager.Current(),
		Pages:    c.pager.Pages(),
		Total:    c.album.Len(),
		Occupied: c.album.Occupied(),
		Slots:    make([]SlotView, 0, end-start),
		Pending:  c.pending,
		Warning:  c.warning,
		Version:  c.version,
		CanPrev:  c.pager.CanTurn(false),
		CanNext:  c.pager.CanTurn(true),
	}
	for i := start; i < end; i++ {
		sv := SlotView{Index: i, Label: Label(i)}
		if s, err := c.album.Get(i); err == nil {
			if st, ok := s.Sticker(); ok {
				sv.Occupied = true
				sv.Hash = st.Hash
			}
		}
		v.Slots = append(v.Slots, sv)
	}
	v.Viewer = c.viewerView()
	return v
}

// Viewer returns the viewer state alone.
func (c *Controller) Viewer() ViewerView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewerView()
}

func (c *Controller) viewerView() ViewerView {
	i, open := c.viewer.State()
	if !open {
		return ViewerView{Index: -1}
	}
	vv := ViewerView{Open: true, Index: i, Label: Label(i)}
	if s, err := c.album.Get(i); err == nil {
		if st, ok := s.Sticker(); ok {
			vv.Hash = st.Hash
		}
	}
	_, vv.HasPrev = c.album.ScanOccupied(i, album.Backward)
	_, vv.HasNext = c.album.ScanOccupied(i, album.Forward)
	return vv
}
