package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/reader/internal/models"
)

// MemoryStore is a catalog store held in process memory. Returned values
// are copies; callers may modify them freely.
type MemoryStore struct {
	mu    sync.RWMutex
	posts map[string]models.Post
}

// NewMemoryStore returns a store seeded with posts.
func NewMemoryStore(posts ...models.Post) *MemoryStore {
	s := &MemoryStore{posts: make(map[string]models.Post, len(posts))}
	for _, p := range posts {
		s.posts[p.ID] = clonePost(p)
	}
	return s
}

func (s *MemoryStore) List(_ context.Context, page, limit int) ([]models.PostSummary, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sortedLocked()
	start := min(max(page-1, 0)*limit, len(all))
	end := min(start+limit, len(all))

	items := make([]models.PostSummary, 0, end-start)
	for _, p := range all[start:end] {
		items = append(items, p.Summary())
	}
	return items, len(all), nil
}

func (s *MemoryStore) Summaries(context.Context) ([]models.PostSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sortedLocked()
	items := make([]models.PostSummary, 0, len(all))
	for _, p := range all {
		items = append(items, p.Summary())
	}
	return items, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := clonePost(p)
	return &out, nil
}

func (s *MemoryStore) Create(_ context.Context, p *models.Post) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[p.ID]; ok {
		return nil, models.ErrAlreadyExists
	}
	s.posts[p.ID] = clonePost(*p)
	out := clonePost(*p)
	return &out, nil
}

func (s *MemoryStore) Update(_ context.Context, p *models.Post) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[p.ID]; !ok {
		return nil, models.ErrNotFound
	}
	s.posts[p.ID] = clonePost(*p)
	out := clonePost(*p)
	return &out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[id]; !ok {
		return models.ErrNotFound
	}
	delete(s.posts, id)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// sortedLocked orders posts the way the SQL store does: newest first,
// ties broken by ID.
func (s *MemoryStore) sortedLocked() []models.Post {
	all := make([]models.Post, 0, len(s.posts))
	for _, p := range s.posts {
		all = append(all, p)
	}
	slices.SortFunc(all, func(a, b models.Post) int {
		if c := b.PublishedAt.Compare(a.PublishedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return all
}

func clonePost(p models.Post) models.Post {
	p.Tags = append(pq.StringArray{}, p.Tags...)
	return p
}
