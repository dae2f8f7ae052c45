// Package events carries catalog mutations between reader instances over
// Redis Streams so every instance can invalidate its own query cache.
package events

import (
	"time"

	"github.com/google/uuid"
)

// DefaultStream is the Redis stream for post events.
const DefaultStream = "reader:posts"

// EventType names a catalog mutation.
type EventType string

const (
	PostCreated EventType = "POST_CREATED"
	PostUpdated EventType = "POST_UPDATED"
	PostDeleted EventType = "POST_DELETED"
)

// PostEvent is the stream envelope. Origin identifies the publishing
// instance so it can skip its own events.
type PostEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	EventType EventType `json:"event_type"`
	PostID    string    `json:"post_id"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// NewInstanceID returns a short random identifier for this process.
func NewInstanceID() string {
	const prefixLen = 8
	return "reader-" + uuid.NewString()[:prefixLen]
}
