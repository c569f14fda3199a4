// This file contains the external publish source. Staff-side tooling (the
// CMS that renders the chat pages) publishes envelopes such as chat_close
// on a Redis channel; a Feed subscription delivers them into the engine as
// external events. A local in-memory feed serves single-process setups and
// tests.
package chatrelay

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// FeedHandler receives one raw published envelope.
type FeedHandler func(data []byte)

// Feed is a subscription to externally published envelopes.
type Feed interface {
	Subscribe(handler FeedHandler) error
	Close() error
}

// RedisFeed subscribes to a Redis channel for externally published
// envelopes.
type RedisFeed struct {
	client  *redis.Client
	channel string
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	pubsub  *redis.PubSub
	closed  bool
}

// NewRedisFeed creates a feed reading from the given Redis channel.
func NewRedisFeed(ctx context.Context, addr, channel string) *RedisFeed {
	feedCtx, cancel := context.WithCancel(ctx)
	return &RedisFeed{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
		ctx:     feedCtx,
		cancel:  cancel,
	}
}

// Subscribe starts delivering published envelopes to handler. Each message
// is handed off on its own; a slow handler only delays this feed.
func (f *RedisFeed) Subscribe(handler FeedHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return unavailable("", "feed is closed")
	}
	if f.pubsub != nil {
		return conflict("", "feed already subscribed")
	}
	pubsub := f.client.Subscribe(f.ctx, f.channel)
	if _, err := pubsub.Receive(f.ctx); err != nil {
		pubsub.Close()
		return wrapF(err, "failed to subscribe to feed channel %s", f.channel)
	}
	f.pubsub = pubsub

	ch := pubsub.Channel()
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			case <-f.ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Close stops the subscription and releases the client.
func (f *RedisFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	f.cancel()

	var errs []error
	if f.pubsub != nil {
		errs = append(errs, f.pubsub.Close())
	}
	errs = append(errs, f.client.Close())
	return combine(errs...)
}

// LocalFeed is an in-memory Feed for single-process deployments and tests.
// Publish delivers synchronously to every subscribed handler.
type LocalFeed struct {
	mu       sync.RWMutex
	handlers []FeedHandler
	closed   bool
}

// NewLocalFeed creates an empty local feed.
func NewLocalFeed() *LocalFeed {
	return &LocalFeed{}
}

// Subscribe registers a handler for published envelopes.
func (f *LocalFeed) Subscribe(handler FeedHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return unavailable("", "feed is closed")
	}
	f.handlers = append(f.handlers, handler)
	return nil
}

// Publish delivers data to all subscribed handlers.
func (f *LocalFeed) Publish(data []byte) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return unavailable("", "feed is closed")
	}
	for _, handler := range f.handlers {
		handler(data)
	}
	return nil
}

// Close drops all handlers.
func (f *LocalFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	f.handlers = nil
	return nil
}
