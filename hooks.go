// This file defines extensibility hooks: rate limiting on inbound client
// events and metrics collection for operational visibility. Both are
// optional; absent hooks cost nothing.
package chatrelay

import (
	"context"
	"time"
)

// RateLimiter limits inbound events per key (typically a session id).
type RateLimiter interface {
	// Allow reports whether an event identified by key is within limits.
	Allow(ctx context.Context, key string) (allowed bool, err error)

	// Reset clears the rate limit state for the given key.
	Reset(key string)
}

// MetricsCollector receives operational events from the relay.
// Implementations can forward them to monitoring systems.
type MetricsCollector interface {
	// ConnectionOpened is called when a WebSocket connection is accepted.
	ConnectionOpened(sessionID string)

	// ConnectionClosed is called when a connection closes, with its lifetime.
	ConnectionClosed(sessionID string, duration time.Duration)

	// EventReceived tracks every dispatched inbound envelope.
	EventReceived(msgType, action string)

	// EventDropped tracks envelopes dropped before reaching a handler
	// (admission denied, unknown action, malformed payload).
	EventDropped(msgType, action, reason string)

	// BroadcastSent tracks outbound status broadcasts.
	BroadcastSent(channel, callback string)

	// ChannelCreated is called when a channel is first registered.
	ChannelCreated(channel string)

	// ChannelRemoved is called when the reaper removes an empty channel.
	ChannelRemoved(channel string)

	// LogWriteFailed tracks dropped durable log entries.
	LogWriteFailed(err error)

	// Error tracks errors in other components.
	Error(component string, err error)
}

// Hooks bundles the optional extension points handed to the hub and engine.
type Hooks struct {
	RateLimiter RateLimiter
	Metrics     MetricsCollector

	OnConnect    func(sessionID string)
	OnDisconnect func(sessionID string)
}

func (h *Hooks) metrics() MetricsCollector {
	if h == nil || h.Metrics == nil {
		return noop
	}
	return h.Metrics
}

type noopMetrics struct{}

var noop MetricsCollector = &noopMetrics{}

func (n *noopMetrics) ConnectionOpened(sessionID string) {}

func (n *noopMetrics) ConnectionClosed(sessionID string, duration time.Duration) {}

func (n *noopMetrics) EventReceived(msgType, action string) {}

func (n *noopMetrics) EventDropped(msgType, action, reason string) {}

func (n *noopMetrics) BroadcastSent(channel, callback string) {}

func (n *noopMetrics) ChannelCreated(channel string) {}

func (n *noopMetrics) ChannelRemoved(channel string) {}

func (n *noopMetrics) LogWriteFailed(err error) {}

func (n *noopMetrics) Error(component string, err error) {}

// NoopMetrics returns a collector that discards everything.
func NoopMetrics() MetricsCollector {
	return &noopMetrics{}
}
