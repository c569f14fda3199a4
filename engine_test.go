package chatrelay

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type countingMetrics struct {
	mu       sync.Mutex
	received int
	dropped  map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{dropped: make(map[string]int)}
}

func (c *countingMetrics) ConnectionOpened(sessionID string) {}

func (c *countingMetrics) ConnectionClosed(sessionID string, d time.Duration) {}

func (c *countingMetrics) BroadcastSent(channel, callback string) {}

func (c *countingMetrics) ChannelCreated(channel string) {}

func (c *countingMetrics) ChannelRemoved(channel string) {}

func (c *countingMetrics) LogWriteFailed(err error) {}

func (c *countingMetrics) Error(component string, err error) {}

func (c *countingMetrics) EventReceived(msgType, action string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received++
}

func (c *countingMetrics) EventDropped(msgType, action, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped[reason]++
}

func (c *countingMetrics) droppedFor(reason string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped[reason]
}

func TestDispatchUnknownTypeAndAction(t *testing.T) {
	e, hub := newTestEngine(t, newFakeStore())
	metrics := newCountingMetrics()
	e.hooks = &Hooks{Metrics: metrics}
	connect(t, hub, "visitor-1")

	deliver(t, e, "visitor-1", &Envelope{Type: "telemetry", Action: "ping"})
	if metrics.droppedFor("unknown_type") != 1 {
		t.Fatal("unknown type was not dropped")
	}

	deliver(t, e, "visitor-1", &Envelope{Type: TypeChat, Action: "chat_dance"})
	if metrics.droppedFor("unknown_action") != 1 {
		t.Fatal("unknown action was not dropped")
	}

	// Admin actions are not reachable through the visitor protocol type.
	deliver(t, e, "visitor-1", &Envelope{Type: TypeChat, Action: ActionAdminSignin})
	if metrics.droppedFor("unknown_action") != 2 {
		t.Fatal("admin action leaked into the chat protocol")
	}
}

func TestPanicInHandlerIsContained(t *testing.T) {
	e, _ := newTestEngine(t, newFakeStore())

	e.post(func() {
		panic("boom")
	})
	e.post(func() {})
	e.runPending()
}

func TestHeartbeatDisarmsWhenIdle(t *testing.T) {
	e, hub := newTestEngine(t, newFakeStore())

	e.armHeartbeat()
	if e.heartbeatStop == nil {
		t.Fatal("heartbeat did not arm")
	}
	// Arming twice must not leak a second ticker loop.
	stop := e.heartbeatStop
	e.armHeartbeat()
	if e.heartbeatStop != stop {
		t.Fatal("rearming replaced the active heartbeat")
	}

	// No connections: the next tick disarms.
	e.heartbeatTick()
	if e.heartbeatStop != nil {
		t.Fatal("heartbeat stayed armed with zero connections")
	}

	// With a connection the tick keeps it armed.
	connect(t, hub, "visitor-1")
	e.armHeartbeat()
	e.heartbeatTick()
	if e.heartbeatStop == nil {
		t.Fatal("heartbeat disarmed while connections exist")
	}
}

func TestExternalFeedDrivesEngine(t *testing.T) {
	feed := NewLocalFeed()
	e, hub := newTestEngine(t, newFakeStore())
	e.feed = feed
	if err := e.Start(); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}
	t.Cleanup(e.Stop)

	visitor := connect(t, hub, "visitor-1")
	chID := MintChannelID("q", "42", testServiceKey)
	data, _ := json.Marshal(joinEnvelope(chID, User{Name: "Alice"}, ""))
	e.receiveClientEvent("visitor-1", data)

	closeData, _ := json.Marshal(&Envelope{Type: TypeChat, Action: ActionChatClose, Channel: chID})
	if err := feed.Publish(closeData); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		closed := false
		for _, m := range visitor.messages() {
			if env, ok := m.(*Envelope); ok && env.Action == ActionChatClose {
				closed = true
			}
		}
		if closed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("external close never reached the member")
}
