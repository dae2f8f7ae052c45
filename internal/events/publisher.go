package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/reader/internal/logger"
)

const asyncPublishTimeout = 5 * time.Second

// Publisher appends post events to a Redis stream.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
	origin string
	log    logger.Logger
}

// NewPublisher returns nil when client is nil; a nil Publisher is a no-op.
func NewPublisher(client *redis.Client, stream string, maxLen int64, origin string, log logger.Logger) *Publisher {
	if client == nil {
		return nil
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &Publisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		origin: origin,
		log:    logger.OrNop(log),
	}
}

// Publish stamps ev with an ID, origin, and timestamp when missing and
// appends it to the stream.
func (p *Publisher) Publish(ctx context.Context, ev PostEvent) error {
	if p == nil {
		return nil
	}
	if ev.EventID == uuid.Nil {
		ev.EventID = uuid.New()
	}
	if ev.Origin == "" {
		ev.Origin = p.origin
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{"event": string(payload)},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("publish to stream %s: %w", p.stream, err)
	}

	p.log.Debug("Published post event",
		logger.String("event_type", string(ev.EventType)),
		logger.String("post_id", ev.PostID),
		logger.String("stream_id", id),
	)
	return nil
}

// PublishAsync publishes on a new goroutine and logs failures.
func (p *Publisher) PublishAsync(ev PostEvent) {
	if p == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncPublishTimeout)
		defer cancel()
		if err := p.Publish(ctx, ev); err != nil {
			p.log.Error("Async publish failed",
				logger.String("event_type", string(ev.EventType)),
				logger.String("post_id", ev.PostID),
				logger.Error(err),
			)
		}
	}()
}
