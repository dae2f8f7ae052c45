// Package catalog serves posts through the query cache and keeps the cache
// coherent with writes made here or on other reader instances.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/reader/internal/events"
	"github.com/jonesrussell/north-cloud/reader/internal/logger"
	"github.com/jonesrussell/north-cloud/reader/internal/models"
	"github.com/jonesrussell/north-cloud/reader/internal/querycache"
	"github.com/jonesrussell/north-cloud/reader/internal/retry"
	"github.com/jonesrussell/north-cloud/reader/internal/sse"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Store is the persistent catalog.
type Store interface {
	List(ctx context.Context, page, limit int) ([]models.PostSummary, int, error)
	Summaries(ctx context.Context) ([]models.PostSummary, error)
	Get(ctx context.Context, id string) (*models.Post, error)
	Create(ctx context.Context, p *models.Post) (*models.Post, error)
	Update(ctx context.Context, p *models.Post) (*models.Post, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// EventPublisher announces catalog writes to other instances.
type EventPublisher interface {
	PublishAsync(ev events.PostEvent)
}

// Notifier pushes invalidations to connected clients.
type Notifier interface {
	Publish(ev sse.Event) error
}

// Invalidation is the payload of a catalog:invalidated event.
type Invalidation struct {
	PostID    string           `json:"post_id"`
	EventType events.EventType `json:"event_type"`
	Keys      []string         `json:"keys"`
	Remote    bool             `json:"remote"`
}

// ServiceDeps holds the collaborators of a Service. Events and Notifier
// are optional.
type ServiceDeps struct {
	Store    Store
	Cache    *querycache.Cache
	Events   EventPublisher
	Notifier Notifier
	Retry    retry.Config
	Logger   logger.Logger
	Now      func() time.Time
}

// Service reads the catalog through the query cache. Values it returns are
// shared with other readers and must not be modified.
type Service struct {
	store    Store
	cache    *querycache.Cache
	events   EventPublisher
	notifier Notifier
	retry    retry.Config
	log      logger.Logger
	now      func() time.Time
}

// NewService validates deps and builds a Service.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("catalog: store is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("catalog: cache is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		store:    deps.Store,
		cache:    deps.Cache,
		events:   deps.Events,
		notifier: deps.Notifier,
		retry:    deps.Retry,
		log:      logger.OrNop(deps.Logger),
		now:      deps.Now,
	}, nil
}

// Cache exposes the query cache so views can subscribe to it.
func (s *Service) Cache() *querycache.Cache {
	return s.cache
}

// NormalizePaging clamps limit into [1, MaxLimit] with DefaultLimit for
// zero, and rejects pages below 1.
func NormalizePaging(page, limit int) (int, int, error) {
	if page < 1 {
		return 0, 0, fmt.Errorf("%w: page must be at least 1", models.ErrInvalidInput)
	}
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit < 0:
		return 0, 0, fmt.Errorf("%w: limit must be positive", models.ErrInvalidInput)
	case limit > MaxLimit:
		limit = MaxLimit
	}
	return page, limit, nil
}

// Page returns one page of summaries.
func (s *Service) Page(ctx context.Context, page, limit int, opts querycache.Options) (*models.Page, error) {
	page, limit, err := NormalizePaging(page, limit)
	if err != nil {
		return nil, err
	}
	return querycache.Fetch(ctx, s.cache, querycache.PageKey(page, limit), func(ctx context.Context) (*models.Page, error) {
		return retry.Do(ctx, s.retry, s.log, func(ctx context.Context) (*models.Page, error) {
			items, total, err := s.store.List(ctx, page, limit)
			if err != nil {
				return nil, fmt.Errorf("list page %d: %w", page, err)
			}
			return &models.Page{Items: items, Total: total, Page: page, Limit: limit}, nil
		})
	}, opts)
}

// Summaries returns every post summary, newest first.
func (s *Service) Summaries(ctx context.Context, opts querycache.Options) ([]models.PostSummary, error) {
	return querycache.Fetch(ctx, s.cache, querycache.SummariesKey(), func(ctx context.Context) ([]models.PostSummary, error) {
		return retry.Do(ctx, s.retry, s.log, func(ctx context.Context) ([]models.PostSummary, error) {
			items, err := s.store.Summaries(ctx)
			if err != nil {
				return nil, fmt.Errorf("list summaries: %w", err)
			}
			return items, nil
		})
	}, opts)
}

// Post returns the full record for id.
func (s *Service) Post(ctx context.Context, id string, opts querycache.Options) (*models.Post, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", models.ErrInvalidInput)
	}
	return querycache.Fetch(ctx, s.cache, querycache.ItemKey(id), func(ctx context.Context) (*models.Post, error) {
		p, err := retry.Do(ctx, s.retry, s.log, func(ctx context.Context) (*models.Post, error) {
			return s.store.Get(ctx, id)
		})
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				s.reconcile(id, nil)
			}
			return nil, fmt.Errorf("get post %s: %w", id, err)
		}
		s.reconcile(id, p)
		return p, nil
	}, opts)
}

// reconcile compares a freshly loaded post with the cached summary list
// and invalidates the lists when they disagree. A nil post means the post
// no longer exists.
func (s *Service) reconcile(id string, p *models.Post) {
	summaries, ok := querycache.Get[[]models.PostSummary](s.cache, querycache.SummariesKey())
	if !ok {
		return
	}
	var cached *models.PostSummary
	for i := range summaries {
		if summaries[i].ID == id {
			cached = &summaries[i]
			break
		}
	}
	switch {
	case p == nil && cached == nil:
		return
	case p != nil && cached != nil && cached.Equal(p.Summary()):
		return
	}
	s.log.Info("Summary drift detected, invalidating lists", logger.String("post_id", id))
	s.cache.Invalidate(querycache.SummariesKey())
	s.cache.InvalidateKind(querycache.KindPage)
}

// Create stores a new post. A missing ID is generated.
func (s *Service) Create(ctx context.Context, req *models.PostCreateRequest) (*models.Post, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	created, err := s.store.Create(ctx, req.ToPost(uuid.NewString(), s.now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	s.afterWrite(events.PostCreated, created.ID)
	return created, nil
}

// Update applies req to the stored post. The current record is read from
// the store, not the cache, so a stale cached copy cannot be written back.
func (s *Service) Update(ctx context.Context, id string, req *models.PostUpdateRequest) (*models.Post, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load post %s: %w", id, err)
	}
	req.Apply(current)
	updated, err := s.store.Update(ctx, current)
	if err != nil {
		return nil, fmt.Errorf("update post %s: %w", id, err)
	}
	s.afterWrite(events.PostUpdated, id)
	return updated, nil
}

// Delete removes a post.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete post %s: %w", id, err)
	}
	s.afterWrite(events.PostDeleted, id)
	return nil
}

// ApplyEvent invalidates for a write made on another instance. It matches
// events.Handler.
func (s *Service) ApplyEvent(_ context.Context, ev events.PostEvent) error {
	if ev.PostID == "" {
		return fmt.Errorf("%w: event %s has no post id", models.ErrInvalidInput, ev.EventID)
	}
	s.invalidate(ev.EventType, ev.PostID, true)
	return nil
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) afterWrite(t events.EventType, id string) {
	s.invalidate(t, id, false)
	if s.events != nil {
		s.events.PublishAsync(events.PostEvent{EventType: t, PostID: id})
	}
}

// invalidate marks every list and the item as stale. Every page is
// affected because a write can shift items across page boundaries.
func (s *Service) invalidate(t events.EventType, id string, remote bool) {
	item := querycache.ItemKey(id)
	s.cache.InvalidateKind(querycache.KindPage)
	s.cache.Invalidate(querycache.SummariesKey())
	// A failed reload keeps serving the previous value, which for a deleted
	// post would resurrect it.
	if t == events.PostDeleted {
		s.cache.Remove(item)
	} else {
		s.cache.Invalidate(item)
	}

	s.log.Debug("Catalog invalidated",
		logger.String("event_type", string(t)),
		logger.String("post_id", id),
		logger.Bool("remote", remote),
	)

	if s.notifier == nil {
		return
	}
	err := s.notifier.Publish(sse.Event{
		Type: sse.EventCatalogInvalidated,
		Data: Invalidation{
			PostID:    id,
			EventType: t,
			Keys:      []string{string(querycache.KindPage), querycache.SummariesKey().String(), item.String()},
			Remote:    remote,
		},
	})
	if err != nil {
		s.log.Warn("Invalidation broadcast dropped", logger.String("post_id", id), logger.Error(err))
	}
}
