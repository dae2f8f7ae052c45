package querycache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/reader/internal/logger"
	"github.com/jonesrussell/north-cloud/reader/internal/querycache"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

type post struct {
	ID    string
	Title string
}

// countingLoader returns a loader that counts calls and returns values
// produced by next.
func countingLoader[T any](calls *atomic.Int32, next func(n int32) (T, error)) func(context.Context) (T, error) {
	return func(context.Context) (T, error) {
		n := calls.Add(1)
		return next(n)
	}
}

func newCache(t *testing.T, clock *fakeClock, opts ...querycache.Option) *querycache.Cache {
	t.Helper()
	base := []querycache.Option{
		querycache.WithClock(clock.Now),
		querycache.WithLogger(logger.NewTest(t)),
	}
	return querycache.New(append(base, opts...)...)
}

func TestFetch_FreshValueIsNotReloaded(t *testing.T) {
	clock := newFakeClock()
	c := newCache(t, clock)
	key := querycache.ItemKey("42")

	var calls atomic.Int32
	loader := countingLoader(&calls, func(n int32) (string, error) {
		return "v" + string(rune('0'+n)), nil
	})

	v, err := querycache.Fetch(context.Background(), c, key, loader, querycache.Options{})
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	clock.Advance(9 * time.Minute)
	v, err = querycache.Fetch(context.Background(), c, key, loader, querycache.Options{})
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_StaleServesCachedAndRefreshes(t *testing.T) {
	clock := newFakeClock()
	c := newCache(t, clock)
	key := querycache.PageKey(1, 20)

	var calls atomic.Int32
	loader := countingLoader(&calls, func(n int32) (int32, error) { return n, nil })

	v, err := querycache.Fetch(context.Background(), c, key, loader, querycache.Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	clock.Advance(31 * time.Second)
	v, err = querycache.Fetch(context.Background(), c, key, loader, querycache.Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), v, "stale value is returned immediately")

	require.Eventually(t, func() bool {
		st, ok := c.Peek(key)
		return ok && st.Value == int32(2) && !st.Fetching
	}, time.Second, 5*time.Millisecond)

	v, err = querycache.Fetch(context.Background(), c, key, loader, querycache.Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_StaleTimeOverride(t *testing.T) {
	clock := newFakeClock()
	c := newCache(t, clock)
	key := querycache.ItemKey("7")

	var calls atomic.Int32
	loader := countingLoader(&calls, func(n int32) (int32, error) { return n, nil })

	_, err := querycache.Fetch(context.Background(), c, key, loader, querycache.Options{StaleTime: querycache.AlwaysStale})
	require.NoError(t, err)

	st, ok := c.Peek(key)
	require.True(t, ok)
	assert.True(t, st.Stale)
}

func TestFetch_ConcurrentCallersShareOneLoad(t *testing.T) {
	clock := newFakeClock()
	reg := prometheus.NewRegistry()
	metrics := querycache.NewMetrics(reg)
	c := newCache(t, clock, querycache.WithMetrics(metrics))
	key := querycache.SummariesKey()

	const callers = 16
	release := make(chan struct{})
	var calls atomic.Int32
	loader := func(context.Context) ([]string, error) {
		calls.Add(1)
		<-release
		return []string{"a", "b"}, nil
	}

	var started sync.WaitGroup
	var done sync.WaitGroup
	results := make([][]string, callers)
	for i := range callers {
		started.Add(1)
		done.Add(1)
		go func() {
			defer done.Done()
			started.Done()
			v, err := querycache.Fetch(context.Background(), c, key, loader, querycache.Options{})
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	started.Wait()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, []string{"a", "b"}, r)
	}
	reads := testutil.ToFloat64(metrics.Requests.WithLabelValues("summaries", "miss")) +
		testutil.ToFloat64(metrics.Requests.WithLabelValues("summaries", "hit"))
	assert.InDelta(t, float64(callers), reads, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Loads.WithLabelValues("summaries", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Entries.WithLabelValues("summaries")), 0)
	misses := testutil.ToFloat64(metrics.Requests.WithLabelValues("summaries", "miss"))
	assert.InDelta(t, misses-1, testutil.ToFloat64(metrics.DedupJoins.WithLabelValues("summaries")), 0,
		"the caller that ran the load is not a join")
}

func TestFetch_SingleCallerIsNotCountedAsJoin(t *testing.T) {
	clock := newFakeClock()
	metrics := querycache.NewMetrics(prometheus.NewRegistry())
	c := newCache(t, clock, querycache.WithMetrics(metrics))

	_, err := querycache.Fetch(context.Background(), c, querycache.ItemKey("1"),
		func(context.Context) (int, error) { return 1, nil }, querycache.Options{})
	require.NoError(t, err)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.DedupJoins.WithLabelValues("item")), 0)
}

func TestFetch_OverlappingRequestsReceiveSameObject(t *testing.T) {
	clock := newFakeClock()
	c := newCache(t, clock)
	key := querycache.ItemKey("42")

	release := make(chan struct{})
	var calls atomic.Int32
	loader := func(context.Context) (*post, error) {
		calls.Add(1)
		<-release
		return &post{ID: "42", Title: "Answer"}, nil
	}

	first := make(chan *post, 1)
	go func() {
		p, err := querycache.Fetch(context.Background(), c, key, loader, querycache.Options{})
		assert.NoError(t, err)
		first <- p
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan *post, 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		p, err := querycache.Fetch(context.Background(), c, key, loader, querycache.Options{})
		assert.NoError(t, err)
		second <- p
	}()
	time.Sleep(30 * time.Millisecond)
	close(release)

	a, b := <-first, <-second
	assert.Same(t, a, b)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_InvalidationForcesReload(t *testing.T) {
	clock := newFakeClock()
	c := newCache(t, clock)
	key := querycache.PageKey(1, 10)

	var calls atomic.Int32
	loader := countingLoader(&calls, func(n int32) (int32, error) { return n, nil })

	_, err := querycache.Fetch(context.Background(), c, key, loader, querycache.Options{})
	require.NoError(t, err)

	c.Invalidate(key)
	st, ok := c.Peek(key)
	require.True(t, ok)
	assert.True(t, st.Invalidated)
	assert.True(t, st.Stale, "an invalidated entry is never fresh")

	v, err := querycache.Fetch(context.Background(), c, key, loader, querycache.Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), v, "reader waits for the post-write load")
}

func TestFetch_KeepPreviousDataDuringInvalidation(t *testing.T) {
	clock := newFakeClock()
	c := newCache(t, clock)
	key := querycache.PageKey(2, 10)

	var calls atomic.Int32
	loader := countingLoader(&calls, func(n int32) (int32, error) { return n, nil })

	_, err := querycache.Fetch(context.Background(), c, key, loader, querycache.Options{})
	require.NoError(t, err)
	c.InvalidateKind(querycache.KindPage)

	v, err := querycache.Fetch(context.Background(), c, key, loader, querycache.Options{KeepPreviousData: true})
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	require.Eventually(t, func() bool {
		st, _ := c.Peek(key)
		return st.Value == int32(2) && !st.Invalidated
	}, time.Second, 5*time.Millisecond)
}

func TestFetch_LoadIssuedBeforeInvalidationStaysInvalid(t *testing.T) {
	clock := newFakeClock()
	c := newCache(t, clock)
	key := querycache.ItemKey("9")

	release := make(chan struct{})
	var calls atomic.Int32
	slow := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "before-write", nil
	}

	firstDone := make(chan string, 1)
	go func() {
		v, err := querycache.Fetch(context.Background(), c, key, slow, querycache.Options{})
		assert.NoError(t, err)
		firstDone <- v
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	c.Invalidate(key)

	fast := func(context.Context) (string, error) { return "after-write", nil }
	v, err := querycache.Fetch(context.Background(), c, key, fast, querycache.Options{})
	require.NoError(t, err)
	assert.Equal(t, "after-write", v, "post-write readers do not join the pre-write load")

	close(release)
	assert.Equal(t, "before-write", <-firstDone)

	require.Eventually(t, func() bool {
		st, _ := c.Peek(key)
		return !st.Fetching
	}, time.Second, 5*time.Millisecond)

	st, ok := c.Peek(key)
	require.True(t, ok)
	assert.Equal(t, "before-write", st.Value, "completion order decides the stored value")
	assert.True(t, st.Invalidated, "a pre-write result never counts as fresh")
}

func TestRemove_DiscardsLoadInFlight(t *testing.T) {
	clock := newFakeClock()
	c := newCache(t, clock)
	key := querycache.ItemKey("42")

	release := make(chan struct{})
	var calls atomic.Int32
	slow := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "deleted-post", nil
	}

	firstDone := make(chan string, 1)
	go func() {
		v, err := querycache.Fetch(context.Background(), c, key, slow, querycache.Options{})
		assert.NoError(t, err)
		firstDone <- v
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	c.Remove(key)

	var fresh atomic.Int32
	gone := errors.New("post not found")
	missing := countingLoader(&fresh, func(int32) (string, error) { return "", gone })
	_, err := querycache.Fetch(context.Background(), c, key, missing, querycache.Options{})
	require.ErrorIs(t, err, gone, "readers after Remove do not join the earlier load")
	assert.Equal(t, int32(1), fresh.Load())

	close(release)
	assert.Equal(t, "deleted-post", <-firstDone, "the earlier reader still gets its answer")

	require.Eventually(t, func() bool {
		st, ok := c.Peek(key)
		return ok && !st.Fetching
	}, time.Second, 5*time.Millisecond)

	st, ok := c.Peek(key)
	require.True(t, ok)
	assert.Nil(t, st.Value, "the removed load's result is not cached")

	c.Remove(key)
	_, err = querycache.Fetch(context.Background(), c, key, missing, querycache.Options{})
	require.ErrorIs(t, err, gone)
	assert.Equal(t, int32(2), fresh.Load())
	clock.Advance(time.Second)
	assert.Equal(t, 1, c.Prune(0), "no entry is left pinned by a negative in-flight count")
	assert.Equal(t, 0, c.Len())
}

func TestRemove_NoLoadInFlight(t *testing.T) {
	clock := newFakeClock()
	c := newCache(t, clock)
	key := querycache.ItemKey("7")

	var calls atomic.Int32
	loader := countingLoader(&calls, func(n int32) (int32, error) { return n, nil })
	_, err := querycache.Fetch(context.Background(), c, key, loader, querycache.Options{})
	require.NoError(t, err)

	c.Remove(key)
	_, ok := c.Peek(key)
	assert.False(t, ok)

	v, err := querycache.Fetch(context.Background(), c, key, loader, querycache.Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
}

func TestFetch_ErrorWithoutPreviousValue(t *testing.T) {
	clock := newFakeClock()
	c := newCache(t, clock)
	key := querycache.ItemKey("404")
	other := querycache.ItemKey("1")
	boom := errors.New("backend down")

	_, err := querycache.Fetch(context.Background(), c, other, func(context.Context) (string, error) {
		return "ok", nil
	}, querycache.Options{})
	require.NoError(t, err)

	_, err = querycache.Fetch(context.Background(), c, key, func(context.Context) (string, error) {
		return "", boom
	}, querycache.Options{})
	require.Error(t, err)
	assert.True(t, querycache.IsFetchError(err))
	assert.ErrorIs(t, err, boom)

	st, ok := c.Peek(key)
	require.True(t, ok)
	assert.ErrorIs(t, st.Err, boom)

	st, ok = c.Peek(other)
	require.True(t, ok)
	assert.NoError(t, st.Err, "failure is isolated to its key")
	assert.Equal(t, "ok", st.Value)
}

func TestFetch_ErrorKeepsPreviousValue(t *testing.T) {
	clock := newFakeClock()
	c := newCache(t, clock)
	key := querycache.ItemKey("5")
	boom := errors.New("timeout")

	_, err := querycache.Fetch(context.Background(), c, key, func(context.Context) (string, error) {
		return "good", nil
	}, querycache.Options{})
	require.NoError(t, err)

	c.Invalidate(key)
	failing := func(context.Context) (string, error) { return "", boom }

	v, err := querycache.Fetch(context.Background(), c, key, failing, querycache.Options{})
	require.NoError(t, err)
	assert.Equal(t, "good", v)

	_, err = querycache.Fetch(context.Background(), c, key, failing, querycache.Options{RequireFresh: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestFetch_CallerTimeoutDoesNotCancelLoad(t *testing.T) {
	clock := newFakeClock()
	c := newCache(t, clock)
	key := querycache.SummariesKey()

	var calls atomic.Int32
	loader := func(ctx context.Context) (string, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "late", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := querycache.Fetch(ctx, c, key, loader, querycache.Options{})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		st, _ := c.Peek(key)
		return st.Value == "late"
	}, time.Second, 5*time.Millisecond)

	v, err := querycache.Fetch(context.Background(), c, key, loader, querycache.Options{})
	require.NoError(t, err)
	assert.Equal(t, "late", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_TypeMismatch(t *testing.T) {
	c := newCache(t, newFakeClock())
	key := querycache.ItemKey("x")

	_, err := querycache.Fetch(context.Background(), c, key, func(context.Context) (int, error) {
		return 1, nil
	}, querycache.Options{})
	require.NoError(t, err)

	_, err = querycache.Fetch(context.Background(), c, key, func(context.Context) (string, error) {
		return "", nil
	}, querycache.Options{})
	assert.ErrorIs(t, err, querycache.ErrTypeMismatch)

	v, ok := querycache.Get[int](c, key)
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = querycache.Get[string](c, key)
	assert.False(t, ok)
}

func TestSubscribe_ReceivesEventsUntilUnsubscribed(t *testing.T) {
	c := newCache(t, newFakeClock())
	key := querycache.ItemKey("s")

	var mu sync.Mutex
	var events []querycache.Event
	unsubscribe := c.Subscribe(func(ev querycache.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	_, err := querycache.Fetch(context.Background(), c, key, func(context.Context) (int, error) {
		return 1, nil
	}, querycache.Options{})
	require.NoError(t, err)
	c.Invalidate(key, querycache.ItemKey("not-cached"))

	unsubscribe()
	unsubscribe()
	c.Remove(key)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []querycache.Event{
		{Key: key, Type: querycache.EventUpdated},
		{Key: key, Type: querycache.EventInvalidated},
	}, events)
}

func TestPrune_EvictsIdleEntries(t *testing.T) {
	clock := newFakeClock()
	c := newCache(t, clock)
	loader := func(context.Context) (int, error) { return 1, nil }

	_, err := querycache.Fetch(context.Background(), c, querycache.ItemKey("old"), loader, querycache.Options{})
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	_, err = querycache.Fetch(context.Background(), c, querycache.ItemKey("new"), loader, querycache.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, c.Prune(5*time.Minute))
	assert.Equal(t, 1, c.Len())
	_, ok := c.Peek(querycache.ItemKey("old"))
	assert.False(t, ok)
}

func TestWithDefaults_OverridesKind(t *testing.T) {
	clock := newFakeClock()
	c := newCache(t, clock, querycache.WithDefaults(querycache.Defaults{querycache.KindItem: time.Second}))
	key := querycache.ItemKey("d")

	_, err := querycache.Fetch(context.Background(), c, key, func(context.Context) (int, error) {
		return 1, nil
	}, querycache.Options{})
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	st, _ := c.Peek(key)
	assert.True(t, st.Stale)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "page/2:20", querycache.PageKey(2, 20).String())
	assert.Equal(t, "summaries", querycache.SummariesKey().String())
	assert.Equal(t, "item/42", querycache.ItemKey("42").String())
	assert.Equal(t, querycache.ItemKey("42"), querycache.Key{Kind: querycache.KindItem, Params: "42"})
}
