// Package view hosts per-client reading sessions. A view owns a windowed
// list over the catalog, a chunked reader for the open post, and a cleanup
// registry that releases everything it set up when the view closes.
package view

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/reader/internal/catalog"
	"github.com/jonesrussell/north-cloud/reader/internal/chunker"
	"github.com/jonesrussell/north-cloud/reader/internal/cleanup"
	"github.com/jonesrussell/north-cloud/reader/internal/logger"
	"github.com/jonesrussell/north-cloud/reader/internal/models"
	"github.com/jonesrussell/north-cloud/reader/internal/querycache"
	"github.com/jonesrussell/north-cloud/reader/internal/session"
	"github.com/jonesrussell/north-cloud/reader/internal/window"
)

var (
	// ErrClosed is returned by operations on a closed view.
	ErrClosed = errors.New("view closed")
	// ErrStreamActive is returned when the view is already streaming.
	ErrStreamActive = errors.New("view is already streaming a post")
)

const reloadTimeout = 30 * time.Second

// Source selects what the list shows.
type Source string

const (
	SourceSummaries Source = "summaries"
	SourcePages     Source = "pages"
)

// Status is the list loading state.
type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// Options configure a new view. Zero values take the manager defaults.
type Options struct {
	Source           Source           `json:"source"`
	Page             int              `json:"page"`
	Limit            int              `json:"limit"`
	Window           *window.Config   `json:"window,omitempty"`
	Chunker          *chunker.Config  `json:"chunker,omitempty"`
	KeepPreviousData bool             `json:"keep_previous_data"`
	Session          *session.Session `json:"-"`
}

// Reading describes the post being revealed.
type Reading struct {
	PostID   string  `json:"post_id"`
	Revealed int     `json:"revealed"`
	Total    int     `json:"total"`
	Progress float64 `json:"progress"`
	Done     bool    `json:"done"`
}

// Snapshot is the externally visible state of a view.
type Snapshot struct {
	ID            string               `json:"id"`
	Source        Source               `json:"source"`
	Page          int                  `json:"page,omitempty"`
	Limit         int                  `json:"limit,omitempty"`
	Total         int                  `json:"total"`
	TotalPages    int                  `json:"total_pages,omitempty"`
	Status        Status               `json:"status"`
	Error         string               `json:"error,omitempty"`
	Window        window.Window        `json:"window"`
	WindowVersion uint64               `json:"window_version"`
	Items         []models.PostSummary `json:"items"`
	Reading       *Reading             `json:"reading,omitempty"`
	ShowProgress  bool                 `json:"show_progress"`
	Authenticated bool                 `json:"authenticated"`
}

// View is one client's reading session. Operations are safe for
// concurrent use; list loads run without holding the view lock so scrolls
// are never blocked behind the network.
type View struct {
	ID string

	catalog  *catalog.Service
	registry *cleanup.Registry
	renderer *window.Renderer[models.PostSummary]
	revealer *chunker.Revealer
	log      logger.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// windowVersion counts window changes; the renderer notifies while
	// Load holds mu.
	windowVersion atomic.Uint64

	mu           sync.Mutex
	source       Source
	page         int
	limit        int
	total        int
	keepPrevious bool
	status       Status
	err          error
	loadSeq      uint64
	readingID    string
	streaming    bool
	session      *session.Session
	lastUsed     time.Time
}

func newView(cat *catalog.Service, opts Options, log logger.Logger, now func() time.Time) (*View, error) {
	renderer, err := window.New[models.PostSummary](*opts.Window)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log = logger.OrNop(log).With(logger.String("view_id", id))
	registry := cleanup.New(log)
	revealer, err := chunker.NewRevealer(*opts.Chunker, registry, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		ID:           id,
		catalog:      cat,
		registry:     registry,
		renderer:     renderer,
		revealer:     revealer,
		log:          log,
		now:          now,
		ctx:          ctx,
		cancel:       cancel,
		source:       opts.Source,
		page:         opts.Page,
		limit:        opts.Limit,
		keepPrevious: opts.KeepPreviousData,
		status:       StatusLoading,
		session:      opts.Session,
		lastUsed:     now(),
	}
	registry.Register(cancel)
	registry.Register(renderer.Subscribe(func(window.Window) {
		v.windowVersion.Add(1)
	}))
	registry.Register(cat.Cache().Subscribe(v.onCacheEvent))
	return v, nil
}

// listKey is the cache key the list currently reads.
func (v *View) listKeyLocked() querycache.Key {
	if v.source == SourcePages {
		return querycache.PageKey(v.page, v.limit)
	}
	return querycache.SummariesKey()
}

// onCacheEvent runs on the goroutine that changed the cache, so the reload
// is handed off.
func (v *View) onCacheEvent(ev querycache.Event) {
	if ev.Type != querycache.EventInvalidated {
		return
	}
	v.mu.Lock()
	watched := ev.Key == v.listKeyLocked()
	v.mu.Unlock()
	if !watched {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(v.ctx, reloadTimeout)
		defer cancel()
		if err := v.Load(ctx); err != nil && !errors.Is(err, ErrClosed) && ctx.Err() == nil {
			v.log.Warn("Background list reload failed", logger.Error(err))
		}
	}()
}

// Load fetches the current list. Items shown before the call stay visible
// until the new list arrives; a failed load keeps them and records the
// error. A load overtaken by a newer one is discarded.
func (v *View) Load(ctx context.Context) error {
	v.mu.Lock()
	if v.registry.Done() {
		v.mu.Unlock()
		return ErrClosed
	}
	v.loadSeq++
	seq := v.loadSeq
	source, page, limit := v.source, v.page, v.limit
	opts := querycache.Options{KeepPreviousData: v.keepPrevious}
	v.status = StatusLoading
	v.lastUsed = v.now()
	v.mu.Unlock()

	var (
		items []models.PostSummary
		total int
		err   error
	)
	if source == SourcePages {
		var p *models.Page
		p, err = v.catalog.Page(ctx, page, limit, opts)
		if err == nil {
			items, total = p.Items, p.Total
		}
	} else {
		items, err = v.catalog.Summaries(ctx, opts)
		total = len(items)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if seq != v.loadSeq || v.registry.Done() {
		return err
	}
	if err != nil {
		v.status = StatusError
		v.err = err
		return err
	}
	v.renderer.SetItems(items)
	v.total = total
	v.status = StatusReady
	v.err = nil
	return nil
}

// LoadPage switches a paged view to page and loads it.
func (v *View) LoadPage(ctx context.Context, page int) error {
	v.mu.Lock()
	if v.source != SourcePages {
		v.mu.Unlock()
		return fmt.Errorf("%w: view lists summaries, not pages", models.ErrInvalidInput)
	}
	if page < 1 {
		v.mu.Unlock()
		return fmt.Errorf("%w: page must be at least 1", models.ErrInvalidInput)
	}
	v.page = page
	v.mu.Unlock()
	return v.Load(ctx)
}

// Scroll records offsets; only the last one counts once Flush runs.
func (v *View) Scroll(offsets ...float64) {
	for _, off := range offsets {
		v.renderer.Scroll(off)
	}
	v.touch()
}

// Flush settles pending scrolls and returns the resulting window.
func (v *View) Flush() window.Window {
	return v.renderer.Flush()
}

// Snapshot returns the visible items and status.
func (v *View) Snapshot() Snapshot {
	win := v.renderer.Window()
	items := v.renderer.Visible()
	cfg := v.revealer.Config()

	v.mu.Lock()
	defer v.mu.Unlock()
	snap := Snapshot{
		ID:            v.ID,
		Source:        v.source,
		Total:         v.total,
		Status:        v.status,
		Window:        win,
		WindowVersion: v.windowVersion.Load(),
		Items:         items,
		ShowProgress:  cfg.ShowProgress,
		Authenticated: v.session.IsAuthenticated(v.now()),
	}
	if v.source == SourcePages {
		snap.Page, snap.Limit = v.page, v.limit
		snap.TotalPages = models.Page{Total: v.total, Limit: v.limit}.TotalPages()
	}
	if v.err != nil {
		snap.Error = v.err.Error()
	}
	if v.readingID != "" {
		st := v.revealer.State()
		snap.Reading = &Reading{
			PostID:   v.readingID,
			Revealed: st.Revealed,
			Total:    st.Total,
			Progress: st.Progress(),
			Done:     st.Done(),
		}
	}
	return snap
}

// OpenPost loads post id into the chunked reader. Reopening the post that
// is already open keeps the reading progress unless its content changed.
func (v *View) OpenPost(ctx context.Context, id string) (*models.Post, error) {
	if v.registry.Done() {
		return nil, ErrClosed
	}
	p, err := v.catalog.Post(ctx, id, querycache.Options{})
	if err != nil {
		return nil, err
	}
	format := chunker.DetectFormat(p.Content)
	reset, err := v.revealer.Load(contentID(p), p.Content, format)
	if err != nil {
		if errors.Is(err, chunker.ErrCancelled) {
			return nil, ErrClosed
		}
		return nil, err
	}

	v.mu.Lock()
	v.readingID = p.ID
	v.lastUsed = v.now()
	v.mu.Unlock()

	if reset {
		v.log.Debug("Post opened", logger.String("post_id", p.ID), logger.String("format", string(format)))
	}
	return p, nil
}

// Stream reveals the open post, calling emit once per tick until it is
// fully revealed. Segments revealed by an earlier stream are replayed in a
// first call to emit. Only one stream runs per view; a second gets
// ErrStreamActive. It returns ErrClosed when the view closes mid-stream and
// chunker.ErrSuperseded when another post is opened.
func (v *View) Stream(ctx context.Context, emit func(chunker.Reveal)) error {
	v.mu.Lock()
	opened, busy := v.readingID != "", v.streaming
	if opened && !busy {
		v.streaming = true
	}
	v.mu.Unlock()
	switch {
	case !opened:
		return fmt.Errorf("%w: no post is open", models.ErrInvalidInput)
	case busy:
		return ErrStreamActive
	}
	defer func() {
		v.mu.Lock()
		v.streaming = false
		v.mu.Unlock()
	}()

	if v.registry.Done() {
		return ErrClosed
	}
	if replay, ok := v.replay(); ok {
		v.touch()
		emit(replay)
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	unwatch := context.AfterFunc(v.ctx, stop)
	defer unwatch()

	err := v.revealer.Run(ctx, func(r chunker.Reveal) {
		v.touch()
		emit(r)
	})
	if errors.Is(err, chunker.ErrCancelled) || (err != nil && v.registry.Done()) {
		return ErrClosed
	}
	return err
}

// replay returns the segments already revealed for the open post.
func (v *View) replay() (chunker.Reveal, bool) {
	st := v.revealer.State()
	if st.Revealed == 0 {
		return chunker.Reveal{}, false
	}
	return chunker.Reveal{
		ContentID:  st.ContentID,
		Segments:   slices.Clone(st.Segments[:st.Revealed]),
		FirstIndex: 0,
		Revealed:   st.Revealed,
		Total:      st.Total,
		Progress:   st.Progress(),
		Done:       st.Done(),
	}, true
}

// Close tears the view down. It is safe to call more than once.
func (v *View) Close() {
	v.registry.RunAll()
}

// Closed reports whether Close has run.
func (v *View) Closed() bool {
	return v.registry.Done()
}

// Session returns the session the view was opened with, if any.
func (v *View) Session() *session.Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.session
}

func (v *View) touch() {
	v.mu.Lock()
	v.lastUsed = v.now()
	v.mu.Unlock()
}

func (v *View) idleSince() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastUsed
}

func contentID(p *models.Post) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(p.Content))
	return p.ID + "@" + strconv.FormatUint(h.Sum64(), 16)
}
