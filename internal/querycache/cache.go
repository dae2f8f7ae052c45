// Package querycache is the keyed query cache that sits between views and
// the catalog store. Concurrent reads of one key share a single backend
// load, stale values are served while a background refresh runs, and
// writes invalidate the keys they affect. An invalidated entry is never
// reported fresh again until a load issued after the invalidation lands.
package querycache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/jonesrussell/north-cloud/reader/internal/logger"
)

const tracerName = "github.com/jonesrussell/north-cloud/reader/internal/querycache"

// EventType describes what happened to a key.
type EventType string

const (
	EventUpdated     EventType = "updated"
	EventFailed      EventType = "failed"
	EventInvalidated EventType = "invalidated"
	EventEvicted     EventType = "evicted"
)

// Event is delivered to subscribers after the cache state of Key changed.
type Event struct {
	Key  Key
	Type EventType
}

// State is a read-only snapshot of one entry.
type State struct {
	Value       any
	Err         error
	FetchedAt   time.Time
	Stale       bool
	Invalidated bool
	Fetching    bool
}

// entry is the cache record of one key. Generations order loads against
// invalidations: an entry is invalidated while the load that produced its
// value was issued before the latest invalidation.
type entry struct {
	value      any
	hasValue   bool
	err        error
	fetchedAt  time.Time
	staleTime  time.Duration
	valueGen   uint64
	invalidGen uint64
	inFlight   int
	lastRead   time.Time
}

func (e *entry) invalidated() bool {
	return e.invalidGen > e.valueGen
}

func (e *entry) fresh(now time.Time) bool {
	return e.hasValue && !e.invalidated() && now.Sub(e.fetchedAt) < e.staleTime
}

type loadFunc func(ctx context.Context) (any, error)

// Cache is safe for concurrent use. Cached values are shared between
// callers and must be treated as read-only.
type Cache struct {
	mu       sync.Mutex
	entries  map[Key]*entry
	gen      uint64
	group    singleflight.Group
	defaults Defaults

	listenerMu sync.RWMutex
	listeners  map[uint64]func(Event)
	nextID     uint64

	now     func() time.Time
	log     logger.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the cache logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Cache) { c.log = logger.OrNop(log) }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithDefaults overrides the per-kind staleness windows. Kinds missing
// from d keep their built-in default.
func WithDefaults(d Defaults) Option {
	return func(c *Cache) {
		for k, v := range d {
			c.defaults[k] = v
		}
	}
}

// WithTracer sets the tracer used for load spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Cache) { c.tracer = t }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:   make(map[Key]*entry),
		defaults:  DefaultStaleTimes(),
		listeners: make(map[uint64]func(Event)),
		now:       time.Now,
		log:       logger.NewNop(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the value for key, loading it with loader when the cache
// has no usable value. See the package documentation for the freshness
// rules. Cancelling ctx stops the caller waiting, not the load.
func Fetch[T any](ctx context.Context, c *Cache, key Key, loader func(context.Context) (T, error), opts Options) (T, error) {
	var zero T
	v, err := c.fetch(ctx, key, func(ctx context.Context) (any, error) {
		return loader(ctx)
	}, opts)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, ErrTypeMismatch
	}
	return t, nil
}

// Get returns the cached value for key regardless of freshness.
func Get[T any](c *Cache, key Key) (T, bool) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.hasValue {
		return zero, false
	}
	t, ok := e.value.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

func (c *Cache) fetch(ctx context.Context, key Key, load loadFunc, opts Options) (any, error) {
	now := c.now()

	c.mu.Lock()
	e := c.entryLocked(key)
	e.lastRead = now
	e.staleTime = c.staleTime(key.Kind, opts)

	if e.fresh(now) {
		v := e.value
		c.mu.Unlock()
		c.metrics.request(key.Kind, resultHit)
		return v, nil
	}

	if e.hasValue && (!e.invalidated() || opts.KeepPreviousData) {
		v := e.value
		c.mu.Unlock()
		c.metrics.request(key.Kind, resultStale)
		_, _ = c.start(ctx, key, load)
		return v, nil
	}

	prev, hasPrev := e.value, e.hasValue
	c.mu.Unlock()
	c.metrics.request(key.Kind, resultMiss)

	ch, led := c.start(ctx, key, load)
	select {
	case res := <-ch:
		if res.Shared && !led() {
			c.metrics.dedup(key.Kind)
		}
		if res.Err != nil {
			if hasPrev && !opts.RequireFresh {
				return prev, nil
			}
			return nil, res.Err
		}
		return res.Val, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// start begins a load for key or joins the one already running. The load
// runs detached from the caller's cancellation so a late result still
// lands in the cache. led reports, once the result has arrived, whether
// this caller ran the load rather than joining another caller's.
func (c *Cache) start(ctx context.Context, key Key, load loadFunc) (<-chan singleflight.Result, func() bool) {
	loadCtx := context.WithoutCancel(ctx)
	var ran atomic.Bool
	ch := c.group.DoChan(key.String(), func() (any, error) {
		ran.Store(true)
		return c.load(loadCtx, key, load)
	})
	return ch, ran.Load
}

func (c *Cache) load(ctx context.Context, key Key, load loadFunc) (any, error) {
	c.mu.Lock()
	c.gen++
	issued := c.gen
	e := c.entryLocked(key)
	e.inFlight++
	c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "querycache.load", trace.WithAttributes(
		attribute.String("cache.key", key.String()),
		attribute.String("cache.kind", string(key.Kind)),
	))
	defer span.End()

	started := c.now()
	v, err := load(ctx)
	took := c.now().Sub(started)
	c.metrics.load(key.Kind, err, took)

	c.mu.Lock()
	e.inFlight--
	// The key was removed while loading; the result belongs to a read that
	// started before the removal and must not repopulate the cache.
	removed := c.entries[key] != e
	switch {
	case err != nil:
		err = &FetchError{Key: key, Err: err}
		if !removed {
			e.err = err
		}
	case !removed:
		e.value = v
		e.hasValue = true
		e.err = nil
		e.fetchedAt = c.now()
		e.valueGen = issued
	}
	c.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Warn("Query load failed",
			logger.String("key", key.String()),
			logger.Duration("took", took),
			logger.Error(err),
		)
		c.notify(Event{Key: key, Type: EventFailed})
		return nil, err
	}

	c.log.Debug("Query loaded",
		logger.String("key", key.String()),
		logger.Duration("took", took),
		logger.Bool("discarded", removed),
	)
	if !removed {
		c.notify(Event{Key: key, Type: EventUpdated})
	}
	return v, nil
}

// Invalidate marks keys as needing a reload. Readers that do not opt into
// previous data wait for a load issued after this call. Keys that are not
// cached are ignored.
func (c *Cache) Invalidate(keys ...Key) {
	var hit []Key
	c.mu.Lock()
	for _, key := range keys {
		if c.invalidateLocked(key) {
			hit = append(hit, key)
		}
	}
	c.mu.Unlock()
	c.afterInvalidate(hit)
}

// InvalidateKind invalidates every cached key of the given kinds.
func (c *Cache) InvalidateKind(kinds ...Kind) {
	var hit []Key
	c.mu.Lock()
	for key := range c.entries {
		for _, kind := range kinds {
			if key.Kind == kind && c.invalidateLocked(key) {
				hit = append(hit, key)
				break
			}
		}
	}
	c.mu.Unlock()
	c.afterInvalidate(hit)
}

func (c *Cache) invalidateLocked(key Key) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.gen++
	e.invalidGen = c.gen
	// A load already in flight was issued before this write; new readers
	// must not join it.
	c.group.Forget(key.String())
	return true
}

func (c *Cache) afterInvalidate(keys []Key) {
	for _, key := range keys {
		c.metrics.invalidated(key.Kind)
		c.notify(Event{Key: key, Type: EventInvalidated})
	}
	if len(keys) > 0 {
		c.log.Debug("Queries invalidated", logger.Int("count", len(keys)))
	}
}

// Remove evicts key. A load already in flight for it still answers the
// callers waiting on it, but its result is not cached and later readers
// start a new load.
func (c *Cache) Remove(key Key) {
	c.mu.Lock()
	_, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.group.Forget(key.String())
	c.mu.Unlock()
	if ok {
		c.metrics.entries(key.Kind, -1)
		c.notify(Event{Key: key, Type: EventEvicted})
	}
}

// Peek returns a snapshot of key without loading or touching it.
func (c *Cache) Peek(key Key) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return State{}, false
	}
	now := c.now()
	return State{
		Value:       e.value,
		Err:         e.err,
		FetchedAt:   e.fetchedAt,
		Stale:       !e.fresh(now),
		Invalidated: e.invalidated(),
		Fetching:    e.inFlight > 0,
	}, true
}

// Len returns the number of cached keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Subscribe registers listener for cache events and returns a function
// that removes it. Listeners run synchronously on the goroutine that
// changed the cache and must not block.
func (c *Cache) Subscribe(listener func(Event)) func() {
	c.listenerMu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = listener
	c.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenerMu.Lock()
			delete(c.listeners, id)
			c.listenerMu.Unlock()
		})
	}
}

func (c *Cache) notify(ev Event) {
	c.listenerMu.RLock()
	fns := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Prune evicts entries that have not been read for maxIdle and have no
// load in flight. It returns the number of evicted entries.
func (c *Cache) Prune(maxIdle time.Duration) int {
	now := c.now()
	var evicted []Key

	c.mu.Lock()
	for key, e := range c.entries {
		if e.inFlight == 0 && now.Sub(e.lastRead) > maxIdle {
			delete(c.entries, key)
			evicted = append(evicted, key)
		}
	}
	c.mu.Unlock()

	for _, key := range evicted {
		c.metrics.entries(key.Kind, -1)
		c.notify(Event{Key: key, Type: EventEvicted})
	}
	return len(evicted)
}

// Run prunes idle entries every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Prune(maxIdle); n > 0 {
				c.log.Debug("Pruned idle queries", logger.Int("count", n))
			}
		}
	}
}

func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{lastRead: c.now()}
		c.entries[key] = e
		c.metrics.entries(key.Kind, 1)
	}
	return e
}

func (c *Cache) staleTime(kind Kind, opts Options) time.Duration {
	switch {
	case opts.StaleTime < 0:
		return 0
	case opts.StaleTime > 0:
		return opts.StaleTime
	}
	return c.defaults[kind]
}
