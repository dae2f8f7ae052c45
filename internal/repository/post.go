// Package repository holds the catalog stores: PostgreSQL for production
// and an in-memory store for local runs and tests.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/reader/internal/logger"
	"github.com/jonesrussell/north-cloud/reader/internal/models"
)

const (
	summaryColumns = `id, title, excerpt, category, tags, published_at, read_time, image, featured`
	postColumns    = summaryColumns + `, content, seo_keywords, meta_description, author, author_role, author_linkedin, author_bio`

	pgUniqueViolation = "23505"
)

// PostRepository is the PostgreSQL catalog store.
type PostRepository struct {
	db  *sqlx.DB
	log logger.Logger
	now func() time.Time
}

// NewPostRepository creates a repository over db.
func NewPostRepository(db *sqlx.DB, log logger.Logger) *PostRepository {
	return &PostRepository{db: db, log: logger.OrNop(log), now: time.Now}
}

// List returns one page of summaries, newest first, and the total count.
func (r *PostRepository) List(ctx context.Context, page, limit int) ([]models.PostSummary, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM posts`); err != nil {
		return nil, 0, fmt.Errorf("count posts: %w", err)
	}

	items := []models.PostSummary{}
	query := `SELECT ` + summaryColumns + `
		FROM posts
		ORDER BY published_at DESC, id ASC
		LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &items, query, limit, (page-1)*limit); err != nil {
		return nil, 0, fmt.Errorf("list posts: %w", err)
	}
	return items, total, nil
}

// Summaries returns every summary, newest first.
func (r *PostRepository) Summaries(ctx context.Context) ([]models.PostSummary, error) {
	items := []models.PostSummary{}
	query := `SELECT ` + summaryColumns + ` FROM posts ORDER BY published_at DESC, id ASC`
	if err := r.db.SelectContext(ctx, &items, query); err != nil {
		return nil, fmt.Errorf("list post summaries: %w", err)
	}
	return items, nil
}

// Get returns one full post or models.ErrNotFound.
func (r *PostRepository) Get(ctx context.Context, id string) (*models.Post, error) {
	post := &models.Post{}
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	if err := r.db.GetContext(ctx, post, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get post %s: %w", id, err)
	}
	return post, nil
}

// Create inserts p and returns the stored row.
func (r *PostRepository) Create(ctx context.Context, p *models.Post) (*models.Post, error) {
	now := r.now()
	query := `
		INSERT INTO posts (` + postColumns + `, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
		RETURNING ` + postColumns

	created := &models.Post{}
	err := r.db.QueryRowxContext(ctx, query,
		p.ID, p.Title, p.Excerpt, p.Category, tagsOrEmpty(p.Tags), p.PublishedAt,
		p.ReadTime, p.Image, p.Featured, p.Content, p.SEOKeywords, p.MetaDescription,
		p.Author, p.AuthorRole, p.AuthorLinkedin, p.AuthorBio, now,
	).StructScan(created)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrAlreadyExists
		}
		return nil, fmt.Errorf("create post: %w", err)
	}

	r.log.Debug("Post created", logger.String("post_id", created.ID))
	return created, nil
}

// Update overwrites the stored row for p.ID.
func (r *PostRepository) Update(ctx context.Context, p *models.Post) (*models.Post, error) {
	query := `
		UPDATE posts
		SET title = $2, excerpt = $3, category = $4, tags = $5, published_at = $6,
		    read_time = $7, image = $8, featured = $9, content = $10, seo_keywords = $11,
		    meta_description = $12, author = $13, author_role = $14, author_linkedin = $15,
		    author_bio = $16, updated_at = $17
		WHERE id = $1
		RETURNING ` + postColumns

	updated := &models.Post{}
	err := r.db.QueryRowxContext(ctx, query,
		p.ID, p.Title, p.Excerpt, p.Category, tagsOrEmpty(p.Tags), p.PublishedAt,
		p.ReadTime, p.Image, p.Featured, p.Content, p.SEOKeywords, p.MetaDescription,
		p.Author, p.AuthorRole, p.AuthorLinkedin, p.AuthorBio, r.now(),
	).StructScan(updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("update post %s: %w", p.ID, err)
	}
	return updated, nil
}

// Delete removes the post with id.
func (r *PostRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete post %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Ping checks the connection.
func (r *PostRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func tagsOrEmpty(tags pq.StringArray) pq.StringArray {
	if tags == nil {
		return pq.StringArray{}
	}
	return tags
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}
