package catalog_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/reader/internal/catalog"
	"github.com/jonesrussell/north-cloud/reader/internal/events"
	"github.com/jonesrussell/north-cloud/reader/internal/logger"
	"github.com/jonesrussell/north-cloud/reader/internal/models"
	"github.com/jonesrussell/north-cloud/reader/internal/querycache"
	"github.com/jonesrussell/north-cloud/reader/internal/repository"
	"github.com/jonesrussell/north-cloud/reader/internal/retry"
	"github.com/jonesrussell/north-cloud/reader/internal/sse"
)

type countingStore struct {
	*repository.MemoryStore
	lists     atomic.Int32
	summaries atomic.Int32
	gets      atomic.Int32
	failGets  atomic.Int32
}

func (s *countingStore) List(ctx context.Context, page, limit int) ([]models.PostSummary, int, error) {
	s.lists.Add(1)
	return s.MemoryStore.List(ctx, page, limit)
}

func (s *countingStore) Summaries(ctx context.Context) ([]models.PostSummary, error) {
	s.summaries.Add(1)
	return s.MemoryStore.Summaries(ctx)
}

func (s *countingStore) Get(ctx context.Context, id string) (*models.Post, error) {
	s.gets.Add(1)
	if s.failGets.Load() > 0 {
		s.failGets.Add(-1)
		return nil, errors.New("dial tcp: connection refused")
	}
	return s.MemoryStore.Get(ctx, id)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PostEvent
}

func (p *recordingPublisher) PublishAsync(ev events.PostEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) all() []events.PostEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.PostEvent(nil), p.events...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sse.Event
}

func (n *recordingNotifier) Publish(ev sse.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) all() []sse.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sse.Event(nil), n.events...)
}

type fixture struct {
	svc       *catalog.Service
	store     *countingStore
	cache     *querycache.Cache
	publisher *recordingPublisher
	notifier  *recordingNotifier
}

func post(id, title string, published time.Time) models.Post {
	return models.Post{
		PostSummary: models.PostSummary{
			ID:          id,
			Title:       title,
			Category:    "news",
			Tags:        []string{"go"},
			PublishedAt: published,
			ReadTime:    "1 min read",
		},
		Content: "body of " + title,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &countingStore{MemoryStore: repository.NewMemoryStore(
		post("1", "First", base),
		post("2", "Second", base.Add(time.Hour)),
		post("3", "Third", base.Add(2*time.Hour)),
	)}
	cache := querycache.New(querycache.WithLogger(logger.NewNop()))
	pub := &recordingPublisher{}
	notifier := &recordingNotifier{}
	svc, err := catalog.NewService(catalog.ServiceDeps{
		Store:    store,
		Cache:    cache,
		Events:   pub,
		Notifier: notifier,
		Retry:    retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Logger:   logger.NewNop(),
		Now:      func() time.Time { return base.Add(24 * time.Hour) },
	})
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, cache: cache, publisher: pub, notifier: notifier}
}

func TestNewService_RequiresStoreAndCache(t *testing.T) {
	_, err := catalog.NewService(catalog.ServiceDeps{Cache: querycache.New()})
	require.Error(t, err)
	_, err = catalog.NewService(catalog.ServiceDeps{Store: repository.NewMemoryStore()})
	require.Error(t, err)
}

func TestNormalizePaging(t *testing.T) {
	tests := []struct {
		name      string
		page      int
		limit     int
		wantPage  int
		wantLimit int
		wantErr   bool
	}{
		{name: "defaults limit", page: 1, limit: 0, wantPage: 1, wantLimit: catalog.DefaultLimit},
		{name: "clamps limit", page: 2, limit: 1000, wantPage: 2, wantLimit: catalog.MaxLimit},
		{name: "keeps values", page: 3, limit: 5, wantPage: 3, wantLimit: 5},
		{name: "rejects page zero", page: 0, limit: 5, wantErr: true},
		{name: "rejects negative limit", page: 1, limit: -1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, limit, err := catalog.NormalizePaging(tt.page, tt.limit)
			if tt.wantErr {
				require.ErrorIs(t, err, models.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantLimit, limit)
		})
	}
}

func TestService_PageIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Page(ctx, 1, 2, querycache.Options{})
	require.NoError(t, err)
	second, err := f.svc.Page(ctx, 1, 2, querycache.Options{})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), f.store.lists.Load())
	assert.Equal(t, 3, first.Total)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "3", first.Items[0].ID)
	assert.Equal(t, 2, first.TotalPages())
}

func TestService_CreateInvalidatesLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.svc.Summaries(ctx, querycache.Options{})
	require.NoError(t, err)
	require.Len(t, before, 3)
	_, err = f.svc.Page(ctx, 1, 20, querycache.Options{})
	require.NoError(t, err)

	created, err := f.svc.Create(ctx, &models.PostCreateRequest{Title: "Fourth", Content: "new body"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	after, err := f.svc.Summaries(ctx, querycache.Options{})
	require.NoError(t, err)
	assert.Len(t, after, 4)
	assert.Equal(t, int32(2), f.store.summaries.Load())

	page, err := f.svc.Page(ctx, 1, 20, querycache.Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)

	published := f.publisher.all()
	require.Len(t, published, 1)
	assert.Equal(t, events.PostCreated, published[0].EventType)
	assert.Equal(t, created.ID, published[0].PostID)

	notified := f.notifier.all()
	require.Len(t, notified, 1)
	assert.Equal(t, sse.EventCatalogInvalidated, notified[0].Type)
	inv, ok := notified[0].Data.(catalog.Invalidation)
	require.True(t, ok)
	assert.Equal(t, created.ID, inv.PostID)
	assert.False(t, inv.Remote)
}

func TestService_CreateRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), &models.PostCreateRequest{Content: "no title"})
	require.ErrorIs(t, err, models.ErrInvalidInput)
	assert.Empty(t, f.publisher.all())
}

func TestService_UpdateRefreshesItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Post(ctx, "2", querycache.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Second", p.Title)

	title := "Second, revised"
	_, err = f.svc.Update(ctx, "2", &models.PostUpdateRequest{Title: &title})
	require.NoError(t, err)

	p, err = f.svc.Post(ctx, "2", querycache.Options{})
	require.NoError(t, err)
	assert.Equal(t, title, p.Title)
}

func TestService_UpdateMissingPost(t *testing.T) {
	f := newFixture(t)
	title := "x"
	_, err := f.svc.Update(context.Background(), "missing", &models.PostUpdateRequest{Title: &title})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestService_DeleteThenNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Post(ctx, "1", querycache.Options{})
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, "1"))

	_, err = f.svc.Post(ctx, "1", querycache.Options{})
	require.ErrorIs(t, err, models.ErrNotFound)
	assert.True(t, querycache.IsFetchError(err))
}

func TestService_SummaryDriftInvalidatesLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Summaries(ctx, querycache.Options{})
	require.NoError(t, err)

	// Written behind the service's back, so nothing was invalidated.
	changed := post("3", "Third, edited elsewhere", time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC))
	_, err = f.store.MemoryStore.Update(ctx, &changed)
	require.NoError(t, err)

	p, err := f.svc.Post(ctx, "3", querycache.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Third, edited elsewhere", p.Title)

	state, ok := f.cache.Peek(querycache.SummariesKey())
	require.True(t, ok)
	assert.True(t, state.Invalidated)

	summaries, err := f.svc.Summaries(ctx, querycache.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Third, edited elsewhere", summaries[0].Title)
}

func TestService_NoDriftLeavesListsAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Summaries(ctx, querycache.Options{})
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, "2", querycache.Options{})
	require.NoError(t, err)

	state, ok := f.cache.Peek(querycache.SummariesKey())
	require.True(t, ok)
	assert.False(t, state.Invalidated)
}

func TestService_PostRetriesTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failGets.Store(1)

	p, err := f.svc.Post(context.Background(), "1", querycache.Options{})
	require.NoError(t, err)
	assert.Equal(t, "First", p.Title)
	assert.Equal(t, int32(2), f.store.gets.Load())
}

func TestService_PostRequiresID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Post(context.Background(), "", querycache.Options{})
	require.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestService_ApplyEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Post(ctx, "1", querycache.Options{})
	require.NoError(t, err)

	err = f.svc.ApplyEvent(ctx, events.PostEvent{EventType: events.PostUpdated, PostID: "1", Origin: "reader-other"})
	require.NoError(t, err)

	state, ok := f.cache.Peek(querycache.ItemKey("1"))
	require.True(t, ok)
	assert.True(t, state.Invalidated)
	assert.Empty(t, f.publisher.all(), "remote events are not re-published")

	notified := f.notifier.all()
	require.Len(t, notified, 1)
	inv, ok := notified[0].Data.(catalog.Invalidation)
	require.True(t, ok)
	assert.True(t, inv.Remote)

	require.Error(t, f.svc.ApplyEvent(ctx, events.PostEvent{EventType: events.PostDeleted}))
}
