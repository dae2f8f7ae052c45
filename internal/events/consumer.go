package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/reader/internal/logger"
)

const (
	defaultBlock   = 5 * time.Second
	readBatchSize  = 50
	readErrBackoff = time.Second
)

// Handler applies one event from another instance.
type Handler func(ctx context.Context, ev PostEvent) error

// Consumer tails the post stream. Every instance reads the whole stream
// without a consumer group because each one must invalidate its own cache.
type Consumer struct {
	client  *redis.Client
	stream  string
	origin  string
	handler Handler
	block   time.Duration
	log     logger.Logger

	mu      sync.Mutex
	lastID  string
	cancel  context.CancelFunc
	stopped chan struct{}
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithBlock sets how long one XREAD waits for new entries.
func WithBlock(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.block = d }
}

// NewConsumer returns nil when client is nil.
func NewConsumer(client *redis.Client, stream, origin string, handler Handler, log logger.Logger, opts ...ConsumerOption) *Consumer {
	if client == nil {
		return nil
	}
	if stream == "" {
		stream = DefaultStream
	}
	c := &Consumer{
		client:  client,
		stream:  stream,
		origin:  origin,
		handler: handler,
		block:   defaultBlock,
		log:     logger.OrNop(log),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start positions the consumer at the current end of the stream and
// begins reading in the background. Only events added after Start
// returns are delivered.
func (c *Consumer) Start(ctx context.Context) error {
	if c == nil {
		return nil
	}
	last, err := c.tailID(ctx)
	if err != nil {
		return fmt.Errorf("read stream tail: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.lastID = last
	c.cancel = cancel
	c.stopped = make(chan struct{})
	stopped := c.stopped
	c.mu.Unlock()

	c.log.Info("Starting post event consumer",
		logger.String("stream", c.stream),
		logger.String("origin", c.origin),
		logger.String("from_id", last),
	)

	go func() {
		defer close(stopped)
		c.loop(runCtx)
	}()
	return nil
}

// Stop ends the read loop and waits for it to exit.
func (c *Consumer) Stop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	cancel, stopped := c.cancel, c.stopped
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (c *Consumer) tailID(ctx context.Context) (string, error) {
	msgs, err := c.client.XRevRangeN(ctx, c.stream, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

func (c *Consumer) loop(ctx context.Context) {
	for ctx.Err() == nil {
		if err := c.readOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("Failed to read post events", logger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(readErrBackoff):
			}
		}
	}
}

func (c *Consumer) readOnce(ctx context.Context) error {
	c.mu.Lock()
	from := c.lastID
	c.mu.Unlock()

	streams, err := c.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{c.stream, from},
		Count:   readBatchSize,
		Block:   c.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, s := range streams {
		for _, msg := range s.Messages {
			c.process(ctx, msg)
			c.mu.Lock()
			c.lastID = msg.ID
			c.mu.Unlock()
		}
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	raw, ok := msg.Values["event"].(string)
	if !ok {
		c.log.Warn("Skipping malformed stream entry", logger.String("stream_id", msg.ID))
		return
	}

	var ev PostEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		c.log.Warn("Skipping undecodable post event",
			logger.String("stream_id", msg.ID),
			logger.Error(err),
		)
		return
	}
	if ev.Origin != "" && ev.Origin == c.origin {
		return
	}

	if err := c.handler(ctx, ev); err != nil {
		c.log.Error("Failed to apply post event",
			logger.String("event_type", string(ev.EventType)),
			logger.String("post_id", ev.PostID),
			logger.Error(err),
		)
	}
}
