package sse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/north-cloud/reader/internal/logger"
)

// ErrBufferFull is returned by Publish when the broker is behind.
var ErrBufferFull = errors.New("sse publish buffer full")

type subscriber struct {
	id     uint64
	events chan Event
	filter Filter
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.events) })
}

// Broker fans events out to subscribers. Slow subscribers whose buffer is
// full are disconnected rather than allowed to stall the others.
type Broker struct {
	log logger.Logger

	mu      sync.RWMutex
	clients map[uint64]*subscriber
	nextID  atomic.Uint64

	publish      chan Event
	clientBuffer int
	maxClients   int
	heartbeat    time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

func WithClientBuffer(n int) BrokerOption { return func(b *Broker) { b.clientBuffer = n } }
func WithMaxClients(n int) BrokerOption   { return func(b *Broker) { b.maxClients = n } }

// WithHeartbeat sets the keep-alive comment interval used by Handler.
func WithHeartbeat(d time.Duration) BrokerOption { return func(b *Broker) { b.heartbeat = d } }

// NewBroker creates a stopped broker; call Start before publishing.
func NewBroker(log logger.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		log:          logger.OrNop(log),
		clients:      make(map[uint64]*subscriber),
		publish:      make(chan Event, DefaultEventBuffer),
		clientBuffer: DefaultClientBuffer,
		maxClients:   DefaultMaxClients,
		heartbeat:    DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start runs the broadcast loop until ctx ends or Stop is called.
func (b *Broker) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		for {
			select {
			case ev := <-b.publish:
				b.broadcast(ev)
			case <-ctx.Done():
				b.disconnectAll()
				return
			}
		}
	}()
	b.log.Info("SSE broker started",
		logger.Int("client_buffer", b.clientBuffer),
		logger.Int("max_clients", b.maxClients),
	)
}

// Stop ends the loop and closes every subscription.
func (b *Broker) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	select {
	case <-b.done:
	case <-time.After(defaultShutdownTimeout):
		b.log.Warn("SSE broker shutdown timed out")
	}
}

// Publish queues ev for every subscriber without blocking.
func (b *Broker) Publish(ev Event) error {
	select {
	case b.publish <- ev:
		return nil
	default:
		return fmt.Errorf("%w: dropped %s", ErrBufferFull, ev.Type)
	}
}

// Subscribe registers a client. The returned channel closes when ctx ends,
// the broker stops, or the client falls behind. ok is false when the
// client limit is reached.
func (b *Broker) Subscribe(ctx context.Context, filter Filter) (events <-chan Event, unsubscribe func(), ok bool) {
	b.mu.Lock()
	if b.maxClients > 0 && len(b.clients) >= b.maxClients {
		b.mu.Unlock()
		b.log.Warn("SSE client limit reached", logger.Int("max_clients", b.maxClients))
		return nil, func() {}, false
	}
	s := &subscriber{
		id:     b.nextID.Add(1),
		events: make(chan Event, b.clientBuffer),
		filter: filter,
	}
	b.clients[s.id] = s
	b.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { b.remove(s.id) })
	return s.events, func() {
		stop()
		b.remove(s.id)
	}, true
}

// ClientCount returns the number of live subscriptions.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Heartbeat returns the keep-alive interval.
func (b *Broker) Heartbeat() time.Duration {
	return b.heartbeat
}

func (b *Broker) broadcast(ev Event) {
	b.mu.RLock()
	var slow []uint64
	for id, s := range b.clients {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		select {
		case s.events <- ev:
		default:
			slow = append(slow, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range slow {
		b.log.Warn("Dropping slow SSE client", logger.Uint64("client_id", id), logger.String("event_type", ev.Type))
		b.remove(id)
	}
}

func (b *Broker) remove(id uint64) {
	b.mu.Lock()
	s, ok := b.clients[id]
	delete(b.clients, id)
	b.mu.Unlock()
	if ok {
		s.close()
	}
}

func (b *Broker) disconnectAll() {
	b.mu.Lock()
	clients := b.clients
	b.clients = make(map[uint64]*subscriber)
	b.mu.Unlock()
	for _, s := range clients {
		s.close()
	}
}
