package dashboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskdeck/taskdeck/task"
)

// PageFetcher fetches one window of the remote task collection.
type PageFetcher func(ctx context.Context, limit, offset int) (*task.Page, error)

// Window is the currently visible page of a larger remote collection.
// Total counts the full remote collection, not just this page.
type Window struct {
	Items    []*task.Task
	Total    int
	Page     int // 1-based
	PageSize int
}

// TotalPages returns the number of pages the collection spans, at least 1.
func (w Window) TotalPages() int {
	if w.Total <= 0 || w.PageSize <= 0 {
		return 1
	}
	n := (w.Total + w.PageSize - 1) / w.PageSize
	if n < 1 {
		n = 1
	}
	return n
}

// Collection manages a single remote collection's visible window and page
// navigation. Window swaps are atomic: items, total, and page index change
// together or not at all.
type Collection struct {
	fetch    PageFetcher
	pageSize int

	mu  sync.RWMutex
	win Window
}

// NewCollection creates a Collection positioned on page 1 with no data
// loaded yet.
func NewCollection(fetch PageFetcher, pageSize int) *Collection {
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Collection{
		fetch:    fetch,
		pageSize: pageSize,
		win:      Window{Page: 1, PageSize: pageSize},
	}
}

// Window returns a copy of the current window.
func (c *Collection) Window() Window {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.win
}

// Snapshot fetches the window for the current page without applying it.
// The poll cycle uses it so the whole cycle's state can be swapped in at
// once. When the collection shrank upstream, the returned window is
// re-fetched at the clamped page rather than presenting an empty page.
func (c *Collection) Snapshot(ctx context.Context) (*Window, error) {
	return c.fetchWindow(ctx, c.Window().Page)
}

// SnapshotAt is Snapshot anchored at an explicit page index, so the caller
// can later tell whether navigation moved the window while the fetch was
// in flight.
func (c *Collection) SnapshotAt(ctx context.Context, page int) (*Window, error) {
	return c.fetchWindow(ctx, page)
}

// Apply installs a previously fetched window.
func (c *Collection) Apply(w *Window) {
	if w == nil {
		return
	}
	c.mu.Lock()
	c.win = *w
	c.mu.Unlock()
}

// ApplyIfPage installs a previously fetched window only while the live
// window is still on the page the fetch was anchored to. The check and the
// swap happen under one lock, so navigation that lands in between cannot
// be reverted by a stale fetch. Reports whether the window was installed.
func (c *Collection) ApplyIfPage(w *Window, anchor int) bool {
	if w == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.win.Page != anchor {
		return false
	}
	c.win = *w
	return true
}

// Load fetches and applies the window for the given page.
func (c *Collection) Load(ctx context.Context, page int) error {
	w, err := c.fetchWindow(ctx, page)
	if err != nil {
		return err
	}
	c.Apply(w)
	return nil
}

// Reset reloads at page 1, used when the owning scope changes or a new
// item was created in it.
func (c *Collection) Reset(ctx context.Context) error {
	return c.Load(ctx, 1)
}

// Next advances one page. At the last page it is a no-op, not an error.
func (c *Collection) Next(ctx context.Context) error {
	w := c.Window()
	if w.Page >= w.TotalPages() {
		return nil
	}
	return c.Load(ctx, w.Page+1)
}

// Previous steps back one page. At page 1 it is a no-op, not an error.
func (c *Collection) Previous(ctx context.Context) error {
	w := c.Window()
	if w.Page <= 1 {
		return nil
	}
	return c.Load(ctx, w.Page-1)
}

// fetchWindow fetches the given page, clamping the index against the total
// reported by the store. When the total shrank below the requested page's
// lower bound the fetch is repeated at the clamped index so the caller
// never sees an empty page with valid-looking navigation.
func (c *Collection) fetchWindow(ctx context.Context, page int) (*Window, error) {
	if page < 1 {
		page = 1
	}
	for attempt := 0; ; attempt++ {
		offset := (page - 1) * c.pageSize
		p, err := c.fetch(ctx, c.pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		w := &Window{Items: p.Tasks, Total: p.Total, Page: page, PageSize: c.pageSize}
		last := w.TotalPages()
		if page <= last || attempt >= 2 {
			if page > last {
				w.Page = last
			}
			return w, nil
		}
		page = last
	}
}
