// Package models holds the catalog records served by the reader service.
package models

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/lib/pq"
)

// wordsPerMinute drives the read-time estimate for posts created without one.
const wordsPerMinute = 200

// PostSummary is the lightweight list projection of a post.
type PostSummary struct {
	ID          string         `db:"id"           json:"id"`
	Title       string         `db:"title"        json:"title"`
	Excerpt     string         `db:"excerpt"      json:"excerpt"`
	Category    string         `db:"category"     json:"category"`
	Tags        pq.StringArray `db:"tags"         json:"tags"`
	PublishedAt time.Time      `db:"published_at" json:"published_at"`
	ReadTime    string         `db:"read_time"    json:"read_time"`
	Image       string         `db:"image"        json:"image"`
	Featured    bool           `db:"featured"     json:"featured"`
}

// Post is the full record: the summary fields plus the body and optional
// author and SEO metadata.
type Post struct {
	PostSummary

	Content         string  `db:"content"          json:"content"`
	SEOKeywords     *string `db:"seo_keywords"     json:"seo_keywords,omitempty"`
	MetaDescription *string `db:"meta_description" json:"meta_description,omitempty"`
	Author          *string `db:"author"           json:"author,omitempty"`
	AuthorRole      *string `db:"author_role"      json:"author_role,omitempty"`
	AuthorLinkedin  *string `db:"author_linkedin"  json:"author_linkedin,omitempty"`
	AuthorBio       *string `db:"author_bio"       json:"author_bio,omitempty"`
}

// Summary projects the list view of p. A cached summary and a cached post
// with the same ID must agree on these fields.
func (p *Post) Summary() PostSummary {
	s := p.PostSummary
	if s.Tags != nil {
		s.Tags = append(pq.StringArray(nil), s.Tags...)
	}
	return s
}

// Equal reports whether two summaries carry the same values.
func (s PostSummary) Equal(o PostSummary) bool {
	if s.ID != o.ID || s.Title != o.Title || s.Excerpt != o.Excerpt ||
		s.Category != o.Category || s.ReadTime != o.ReadTime ||
		s.Image != o.Image || s.Featured != o.Featured ||
		!s.PublishedAt.Equal(o.PublishedAt) || len(s.Tags) != len(o.Tags) {
		return false
	}
	for i := range s.Tags {
		if s.Tags[i] != o.Tags[i] {
			return false
		}
	}
	return true
}

// Page is one page of summaries plus the total across all pages.
type Page struct {
	Items []PostSummary `json:"items"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// TotalPages returns the page count for p.Limit, at least 1.
func (p Page) TotalPages() int {
	if p.Limit <= 0 || p.Total <= 0 {
		return 1
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

// PostCreateRequest is the admin payload for a new post.
type PostCreateRequest struct {
	ID              string    `binding:"omitempty,max=255"          json:"id"`
	Title           string    `binding:"required,min=1,max=500"     json:"title"`
	Excerpt         string    `binding:"max=2000"                   json:"excerpt"`
	Category        string    `binding:"required,min=1,max=255"     json:"category"`
	Tags            []string  `binding:"omitempty,dive,min=1,max=64" json:"tags"`
	PublishedAt     time.Time `json:"published_at"`
	ReadTime        string    `binding:"max=64"                     json:"read_time"`
	Image           string    `binding:"omitempty,max=2048"         json:"image"`
	Featured        bool      `json:"featured"`
	Content         string    `binding:"required"                   json:"content"`
	SEOKeywords     *string   `json:"seo_keywords"`
	MetaDescription *string   `json:"meta_description"`
	Author          *string   `json:"author"`
	AuthorRole      *string   `json:"author_role"`
	AuthorLinkedin  *string   `json:"author_linkedin"`
	AuthorBio       *string   `json:"author_bio"`
}

// Validate checks the fields binding tags cannot express.
func (r *PostCreateRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if strings.ContainsFunc(r.ID, unicode.IsSpace) {
		return fmt.Errorf("%w: id must not contain whitespace", ErrInvalidInput)
	}
	return nil
}

// ToPost builds the record to insert. id and now are used when the request
// leaves ID or PublishedAt empty.
func (r *PostCreateRequest) ToPost(id string, now time.Time) *Post {
	if r.ID != "" {
		id = r.ID
	}
	published := r.PublishedAt
	if published.IsZero() {
		published = now
	}
	readTime := r.ReadTime
	if readTime == "" {
		readTime = EstimateReadTime(r.Content)
	}
	tags := pq.StringArray(r.Tags)
	if tags == nil {
		tags = pq.StringArray{}
	}
	return &Post{
		PostSummary: PostSummary{
			ID:          id,
			Title:       r.Title,
			Excerpt:     r.Excerpt,
			Category:    r.Category,
			Tags:        tags,
			PublishedAt: published.UTC(),
			ReadTime:    readTime,
			Image:       r.Image,
			Featured:    r.Featured,
		},
		Content:         r.Content,
		SEOKeywords:     r.SEOKeywords,
		MetaDescription: r.MetaDescription,
		Author:          r.Author,
		AuthorRole:      r.AuthorRole,
		AuthorLinkedin:  r.AuthorLinkedin,
		AuthorBio:       r.AuthorBio,
	}
}

// PostUpdateRequest is a partial update; nil fields are left unchanged.
type PostUpdateRequest struct {
	Title           *string    `binding:"omitempty,min=1,max=500" json:"title"`
	Excerpt         *string    `binding:"omitempty,max=2000"      json:"excerpt"`
	Category        *string    `binding:"omitempty,min=1,max=255" json:"category"`
	Tags            *[]string  `json:"tags"`
	PublishedAt     *time.Time `json:"published_at"`
	ReadTime        *string    `binding:"omitempty,max=64"        json:"read_time"`
	Image           *string    `binding:"omitempty,max=2048"      json:"image"`
	Featured        *bool      `json:"featured"`
	Content         *string    `json:"content"`
	SEOKeywords     *string    `json:"seo_keywords"`
	MetaDescription *string    `json:"meta_description"`
	Author          *string    `json:"author"`
	AuthorRole      *string    `json:"author_role"`
	AuthorLinkedin  *string    `json:"author_linkedin"`
	AuthorBio       *string    `json:"author_bio"`
}

// Validate returns ErrNoFieldsToUpdate for an empty request.
func (r *PostUpdateRequest) Validate() error {
	if r.Title == nil && r.Excerpt == nil && r.Category == nil && r.Tags == nil &&
		r.PublishedAt == nil && r.ReadTime == nil && r.Image == nil && r.Featured == nil &&
		r.Content == nil && r.SEOKeywords == nil && r.MetaDescription == nil &&
		r.Author == nil && r.AuthorRole == nil && r.AuthorLinkedin == nil && r.AuthorBio == nil {
		return ErrNoFieldsToUpdate
	}
	if r.Content != nil && strings.TrimSpace(*r.Content) == "" {
		return fmt.Errorf("%w: content must not be empty", ErrInvalidInput)
	}
	return nil
}

// Apply copies the set fields onto p.
func (r *PostUpdateRequest) Apply(p *Post) {
	if r.Title != nil {
		p.Title = *r.Title
	}
	if r.Excerpt != nil {
		p.Excerpt = *r.Excerpt
	}
	if r.Category != nil {
		p.Category = *r.Category
	}
	if r.Tags != nil {
		p.Tags = append(pq.StringArray{}, (*r.Tags)...)
	}
	if r.PublishedAt != nil {
		p.PublishedAt = r.PublishedAt.UTC()
	}
	if r.ReadTime != nil {
		p.ReadTime = *r.ReadTime
	}
	if r.Image != nil {
		p.Image = *r.Image
	}
	if r.Featured != nil {
		p.Featured = *r.Featured
	}
	if r.Content != nil {
		p.Content = *r.Content
	}
	if r.SEOKeywords != nil {
		p.SEOKeywords = r.SEOKeywords
	}
	if r.MetaDescription != nil {
		p.MetaDescription = r.MetaDescription
	}
	if r.Author != nil {
		p.Author = r.Author
	}
	if r.AuthorRole != nil {
		p.AuthorRole = r.AuthorRole
	}
	if r.AuthorLinkedin != nil {
		p.AuthorLinkedin = r.AuthorLinkedin
	}
	if r.AuthorBio != nil {
		p.AuthorBio = r.AuthorBio
	}
}

// EstimateReadTime formats a "N min read" label from the word count.
func EstimateReadTime(content string) string {
	words := len(strings.Fields(content))
	minutes := int(math.Ceil(float64(words) / wordsPerMinute))
	minutes = max(minutes, 1)
	return fmt.Sprintf("%d min read", minutes)
}
