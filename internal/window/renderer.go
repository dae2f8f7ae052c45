package window

import (
	"slices"
	"sync"
)

// Listener is notified with the new window after a recomputation that
// changed the visible range, offset, or total extent.
type Listener func(Window)

// Renderer tracks a list and a scrolling viewport over it. Scroll offsets
// are coalesced: Scroll only records the latest offset and Flush settles
// it, so a burst of scroll events costs one recomputation.
type Renderer[T any] struct {
	mu  sync.Mutex
	cfg Config

	items   []T
	offset  float64
	pending bool
	win     Window

	recomputes int

	listeners map[uint64]Listener
	nextID    uint64
}

// New validates cfg and returns an empty renderer.
func New[T any](cfg Config) (*Renderer[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Renderer[T]{
		cfg:       cfg,
		listeners: make(map[uint64]Listener),
	}
	r.win = Compute(0, cfg.Viewport(0))
	return r, nil
}

// Config returns the renderer geometry.
func (r *Renderer[T]) Config() Config {
	return r.cfg
}

// SetItems replaces the list. Nothing is recomputed when items is the same
// slice (same backing array and length) as the current one.
func (r *Renderer[T]) SetItems(items []T) {
	r.mu.Lock()
	if sameSlice(r.items, items) {
		r.mu.Unlock()
		return
	}
	r.items = items
	win, _ := r.recomputeLocked()
	// New items always notify: the range may be unchanged while the
	// materialized values are not.
	listeners := r.snapshotListenersLocked(true)
	r.mu.Unlock()

	notify(listeners, win)
}

// Scroll records the latest scroll offset. The window is not recomputed
// until Flush.
func (r *Renderer[T]) Scroll(offset float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset == r.offset && !r.pending {
		return
	}
	r.offset = offset
	r.pending = true
}

// Flush settles the most recent scroll offset and returns the window.
// Listeners are only notified when the window actually moved.
func (r *Renderer[T]) Flush() Window {
	r.mu.Lock()
	if !r.pending {
		win := r.win
		r.mu.Unlock()
		return win
	}
	r.pending = false
	win, changed := r.recomputeLocked()
	listeners := r.snapshotListenersLocked(changed)
	r.mu.Unlock()

	notify(listeners, win)
	return win
}

// Window returns the last settled window.
func (r *Renderer[T]) Window() Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.win
}

// Viewport returns the geometry at the last recorded offset.
func (r *Renderer[T]) Viewport() Viewport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Viewport(r.offset)
}

// Visible returns the materialized slice for the settled window. The
// returned slice shares memory with the list and must not be modified.
func (r *Renderer[T]) Visible() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.win.Range.Empty() || len(r.items) == 0 {
		return nil
	}
	return slices.Clip(r.items[r.win.Range.Start : r.win.Range.End+1])
}

// Len is the current list length.
func (r *Renderer[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Recomputes counts how many times the window has been recomputed.
func (r *Renderer[T]) Recomputes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recomputes
}

// Subscribe registers l and returns a function that removes it. The
// returned function is safe to call more than once.
func (r *Renderer[T]) Subscribe(l Listener) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = l
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, id)
			r.mu.Unlock()
		})
	}
}

func (r *Renderer[T]) recomputeLocked() (Window, bool) {
	r.recomputes++
	win := Compute(len(r.items), r.cfg.Viewport(r.offset))
	changed := win != r.win
	r.win = win
	return win, changed
}

func (r *Renderer[T]) snapshotListenersLocked(changed bool) []Listener {
	if !changed || len(r.listeners) == 0 {
		return nil
	}
	out := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		out = append(out, l)
	}
	return out
}

func notify(listeners []Listener, win Window) {
	for _, l := range listeners {
		l(win)
	}
}

func sameSlice[T any](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}
