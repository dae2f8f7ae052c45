package view

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/reader/internal/apperrors"
	"github.com/jonesrussell/north-cloud/reader/internal/catalog"
	"github.com/jonesrussell/north-cloud/reader/internal/chunker"
	"github.com/jonesrussell/north-cloud/reader/internal/logger"
	"github.com/jonesrussell/north-cloud/reader/internal/window"
)

var (
	// ErrNotFound is returned for unknown or expired view IDs.
	ErrNotFound = errors.New("view not found")
	// ErrTooManyViews is returned when MaxViews views are open.
	ErrTooManyViews = errors.New("too many open views")
)

// ManagerConfig holds the limits and the defaults applied to Options.
type ManagerConfig struct {
	IdleTTL         time.Duration
	JanitorInterval time.Duration
	MaxViews        int
	PageLimit       int
	Window          window.Config
	Chunker         chunker.Config
}

// Manager tracks open views and expires idle ones.
type Manager struct {
	catalog *catalog.Service
	cfg     ManagerConfig
	log     logger.Logger
	now     func() time.Time

	mu    sync.Mutex
	views map[string]*View
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock replaces time.Now for idle tracking.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager validates the default geometry and chunk settings so a bad
// deployment fails at startup rather than on the first view.
func NewManager(cat *catalog.Service, cfg ManagerConfig, log logger.Logger, opts ...ManagerOption) (*Manager, error) {
	if err := cfg.Window.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Chunker.Validate(); err != nil {
		return nil, err
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = catalog.DefaultLimit
	}
	m := &Manager{
		catalog: cat,
		cfg:     cfg,
		log:     logger.OrNop(log).With(logger.Component("views")),
		now:     time.Now,
		views:   make(map[string]*View),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) withDefaults(opts Options) (Options, error) {
	switch opts.Source {
	case "":
		opts.Source = SourceSummaries
	case SourceSummaries, SourcePages:
	default:
		return opts, apperrors.NewConfigurationError("view", "source", "must be %q or %q, got %q",
			SourceSummaries, SourcePages, opts.Source)
	}
	if opts.Source == SourcePages {
		if opts.Page == 0 {
			opts.Page = 1
		}
		if opts.Limit == 0 {
			opts.Limit = m.cfg.PageLimit
		}
		page, limit, err := catalog.NormalizePaging(opts.Page, opts.Limit)
		if err != nil {
			return opts, err
		}
		opts.Page, opts.Limit = page, limit
	}
	if opts.Window == nil {
		w := m.cfg.Window
		opts.Window = &w
	}
	if opts.Chunker == nil {
		c := m.cfg.Chunker
		opts.Chunker = &c
	}
	return opts, nil
}

// Open creates a view and performs its first list load. Invalid geometry
// or chunk settings fail with a ConfigurationError. A failed first load
// does not fail Open; the view reports it through its status.
func (m *Manager) Open(ctx context.Context, opts Options) (*View, error) {
	opts, err := m.withDefaults(opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.cfg.MaxViews > 0 && len(m.views) >= m.cfg.MaxViews {
		m.mu.Unlock()
		return nil, ErrTooManyViews
	}
	m.mu.Unlock()

	v, err := newView(m.catalog, opts, m.log, m.now)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.views[v.ID] = v
	m.mu.Unlock()

	if err := v.Load(ctx); err != nil {
		m.log.Warn("Initial view load failed", logger.String("view_id", v.ID), logger.Error(err))
	}
	m.log.Info("View opened",
		logger.String("view_id", v.ID),
		logger.String("source", string(opts.Source)),
	)
	return v, nil
}

// Get returns an open view and marks it used.
func (m *Manager) Get(id string) (*View, error) {
	m.mu.Lock()
	v, ok := m.views[id]
	m.mu.Unlock()
	if !ok || v.Closed() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	v.touch()
	return v, nil
}

// Close tears down view id.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	v, ok := m.views[id]
	delete(m.views, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	v.Close()
	m.log.Info("View closed", logger.String("view_id", id))
	return nil
}

// Len returns the number of open views.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.views)
}

// Prune closes views idle for longer than IdleTTL and returns how many.
func (m *Manager) Prune() int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.cfg.IdleTTL)

	var expired []*View
	m.mu.Lock()
	for id, v := range m.views {
		if v.idleSince().Before(cutoff) {
			expired = append(expired, v)
			delete(m.views, id)
		}
	}
	m.mu.Unlock()

	for _, v := range expired {
		v.Close()
	}
	if len(expired) > 0 {
		m.log.Info("Expired idle views", logger.Int("count", len(expired)))
	}
	return len(expired)
}

// Run prunes idle views every JanitorInterval until ctx ends, then closes
// every remaining view.
func (m *Manager) Run(ctx context.Context) {
	defer m.CloseAll()
	if m.cfg.JanitorInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(m.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Prune()
		}
	}
}

// CloseAll tears down every open view.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	views := m.views
	m.views = make(map[string]*View)
	m.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
}
