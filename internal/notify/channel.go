// Package notify implements the pub/sub notifier: a per-channel
// listener attached to the database's LISTEN/NOTIFY stream, fanning out to a
// dynamic set of subscriber sessions with reference-counted startup and
// shutdown. A Channel's listener lifecycle is tied purely to its subscriber
// count, never to any single subscriber's own lifetime.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/malbeclabs/pipelinehub/internal/metrics"
)

// Subscriber receives notification payloads matching its Filter.
type Subscriber struct {
	Filter string
	Events chan string
	Done   chan struct{}
}

// NewSubscriber constructs a Subscriber with a buffered event channel, so a
// slow consumer does not block the broadcaster.
func NewSubscriber(filter string) *Subscriber {
	return &Subscriber{
		Filter: filter,
		Events: make(chan string, 16),
		Done:   make(chan struct{}),
	}
}

// Listener is the database-side primitive this package drives: a blocking
// read of the next notification payload on one channel name.
// NewPGXListenerFactory supplies the pgx-backed implementation (pgListener);
// tests can substitute a fake.
type Listener interface {
	// Next blocks until a notification arrives or ctx is cancelled.
	Next(ctx context.Context) (payload string, err error)
	Close(ctx context.Context) error
}

// ListenerFactory opens a new Listener bound to channelName.
type ListenerFactory func(ctx context.Context, channelName string) (Listener, error)

// Channel is one ref-counted pub/sub channel: a subscriber set and the
// single background listener goroutine that exists exactly while the
// subscriber set is non-empty.
type Channel struct {
	name    string
	factory ListenerFactory
	log     *slog.Logger
	metrics *metrics.Collectors
	baseCtx context.Context

	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	cancel      context.CancelFunc
}

// NewChannel constructs a Channel bound to the given database channel name.
// baseCtx is the listener goroutine's parent context: it must outlive any
// single subscriber's request so the listener's lifetime is tied only to
// the subscriber count, not to whichever subscriber happened to
// be first. Pass context.Background() outside of tests. coll may be nil, in
// which case the channel runs uninstrumented.
func NewChannel(baseCtx context.Context, name string, factory ListenerFactory, log *slog.Logger, coll *metrics.Collectors) *Channel {
	return &Channel{
		name:        name,
		factory:     factory,
		log:         log,
		metrics:     coll,
		baseCtx:     baseCtx,
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe adds sub to the channel, starting the listener if none is
// running: on the first subscriber (0->1 transition), or after a listener
// error tore it down.
func (c *Channel) Subscribe(sub *Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers[sub] = struct{}{}
	if c.cancel == nil {
		c.startLocked()
	}
	c.reportSubscriberCountLocked()
}

// Unsubscribe removes sub, tearing down the listener if this was the last
// subscriber (1->0 transition).
func (c *Channel) Unsubscribe(sub *Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscribers[sub]; !ok {
		return
	}
	delete(c.subscribers, sub)
	if len(c.subscribers) == 0 {
		c.stopLocked()
	}
	c.reportSubscriberCountLocked()
}

// reportSubscriberCountLocked publishes the current subscriber count to the
// gauge. Caller holds c.mu.
func (c *Channel) reportSubscriberCountLocked() {
	if c.metrics != nil {
		c.metrics.NotifySubscriber.WithLabelValues(c.name).Set(float64(len(c.subscribers)))
	}
}

// SubscriberCount reports the current subscriber count, for liveness tests.
func (c *Channel) SubscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}

// HasListener reports whether a listener is currently running.
func (c *Channel) HasListener() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// startLocked starts the background listener goroutine. Caller holds c.mu.
func (c *Channel) startLocked() {
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancel = cancel
	go c.listen(ctx)
}

// stopLocked cancels the listener goroutine. Caller holds c.mu.
func (c *Channel) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// listen runs the listener loop until ctx is cancelled or the listener
// errors. A listener error logs and tears the listener down; the next
// subscriber to arrive will restart it.
func (c *Channel) listen(ctx context.Context) {
	l, err := c.factory(ctx, c.name)
	if err != nil {
		c.log.Error("notify: failed to start listener", "channel", c.name, "error", err)
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		return
	}
	defer l.Close(context.Background())

	for {
		payload, err := l.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("notify: listener error, tearing down", "channel", c.name, "error", err)
			c.mu.Lock()
			c.cancel = nil
			c.mu.Unlock()
			return
		}
		c.broadcast(payload)
	}
}

// broadcast fans payload out to every subscriber whose Filter string-equals
// payload. It snapshots recipients under the lock then releases before
// sending, so a slow or blocked send never holds up Subscribe/Unsubscribe.
func (c *Channel) broadcast(payload string) {
	c.mu.Lock()
	recipients := make([]*Subscriber, 0, len(c.subscribers))
	for sub := range c.subscribers {
		if sub.Filter == payload {
			recipients = append(recipients, sub)
		}
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.NotifyFanout.Observe(float64(len(recipients)))
	}

	for _, sub := range recipients {
		select {
		case sub.Events <- payload:
		default:
			c.log.Warn("notify: subscriber buffer full, dropping event", "channel", c.name, "filter", sub.Filter)
		}
	}
}

// Registry holds one Channel per database channel name, created lazily.
type Registry struct {
	baseCtx context.Context
	factory ListenerFactory
	log     *slog.Logger
	metrics *metrics.Collectors

	mu       sync.Mutex
	channels map[string]*Channel
}

// NewRegistry constructs a Registry. baseCtx is the parent context every
// lazily-created Channel's listener runs under (see NewChannel); pass
// context.Background() outside of tests. coll may be nil.
func NewRegistry(baseCtx context.Context, factory ListenerFactory, log *slog.Logger, coll *metrics.Collectors) *Registry {
	return &Registry{baseCtx: baseCtx, factory: factory, log: log, metrics: coll, channels: make(map[string]*Channel)}
}

// Get returns the Channel for name, creating it if absent.
func (r *Registry) Get(name string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok {
		ch = NewChannel(r.baseCtx, name, r.factory, r.log, r.metrics)
		r.channels[name] = ch
	}
	return ch
}
