// Package cleanup provides the per-view teardown registry. Anything whose
// lifetime is tied to a view (cache subscriptions, scheduled reveals,
// scroll listeners) registers a release callback when it is acquired, and
// the view calls RunAll once when it is discarded.
package cleanup

import (
	"fmt"
	"sync"

	"github.com/jonesrussell/north-cloud/reader/internal/logger"
)

// Registry is an ordered collection of zero-argument teardown callbacks.
// The zero value is not usable; call New.
type Registry struct {
	mu   sync.Mutex
	fns  []func()
	done bool
	log  logger.Logger
}

// New returns an empty registry.
func New(log logger.Logger) *Registry {
	return &Registry{log: logger.OrNop(log)}
}

// Register adds fn to the registry. Each callback runs at most once even if
// it is registered after RunAll, in which case it runs immediately.
func (r *Registry) Register(fn func()) {
	if fn == nil {
		return
	}
	once := Once(fn)

	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		r.invoke(once)
		return
	}
	r.fns = append(r.fns, once)
	r.mu.Unlock()
}

// RunAll invokes every registered callback exactly once. Calling it again
// is a no-op. A panicking callback is logged and the rest still run.
func (r *Registry) RunAll() {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	fns := r.fns
	r.fns = nil
	r.mu.Unlock()

	for _, fn := range fns {
		r.invoke(fn)
	}
	if len(fns) > 0 {
		r.log.Debug("Cleanup registry drained", logger.Int("callbacks", len(fns)))
	}
}

// Len returns the number of callbacks waiting for RunAll.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fns)
}

// Done reports whether RunAll has been called.
func (r *Registry) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Registry) invoke(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Cleanup callback panicked",
				logger.String("panic", fmt.Sprint(rec)),
			)
		}
	}()
	fn()
}

// Once wraps fn so that any number of calls run it a single time. Release
// functions handed out to callers are wrapped with it so they stay safe to
// call after the registry has already released the resource.
func Once(fn func()) func() {
	var o sync.Once
	return func() { o.Do(fn) }
}
