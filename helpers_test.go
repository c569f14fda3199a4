package chatrelay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeTransport captures outbound messages in memory.
type fakeTransport struct {
	id     string
	mu     sync.Mutex
	sent   []interface{}
	closed bool
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{id: id}
}

func (f *fakeTransport) SessionID() string { return f.id }

func (f *fakeTransport) SendJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) messages() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interface{}, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) channelStatuses() []channelStatusMessage {
	var out []channelStatusMessage
	for _, m := range f.messages() {
		if msg, ok := m.(channelStatusMessage); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeTransport) queueStatuses() []queueStatusMessage {
	var out []queueStatusMessage
	for _, m := range f.messages() {
		if msg, ok := m.(queueStatusMessage); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeTransport) openStatuses() []openStatusMessage {
	var out []openStatusMessage
	for _, m := range f.messages() {
		if msg, ok := m.(openStatusMessage); ok {
			out = append(out, msg)
		}
	}
	return out
}

// fakeStore is an in-memory ChatStore. Appends are signalled on a channel
// so tests can wait for the asynchronous log write.
type fakeStore struct {
	mu          sync.Mutex
	entries     []LogEntry
	logged      chan LogEntry
	schedule    WeekSchedule
	scheduleErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		logged:   make(chan LogEntry, 16),
		schedule: make(WeekSchedule),
	}
}

func (s *fakeStore) AppendLog(ctx context.Context, entry LogEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	s.logged <- entry
	return nil
}

func (s *fakeStore) Schedule(ctx context.Context) (WeekSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduleErr != nil {
		return nil, s.scheduleErr
	}
	return s.schedule, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) waitForEntry(t *testing.T) LogEntry {
	t.Helper()
	select {
	case entry := <-s.logged:
		return entry
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for log append")
		return LogEntry{}
	}
}

const testServiceKey = "test-service-key"

func newTestEngine(t *testing.T, store ChatStore) (*Engine, *Hub) {
	t.Helper()
	opts := DefaultOptions()
	opts.ServiceKey = testServiceKey

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := newHub(context.Background(), opts, logger)
	engine := NewEngine(hub, store, nil, opts, logger)
	t.Cleanup(engine.cancel)
	return engine, hub
}

// connect registers a fake transport with the hub and returns it.
func connect(t *testing.T, hub *Hub, sessionID string) *fakeTransport {
	t.Helper()
	tr := newFakeTransport(sessionID)
	if err := hub.addSession(tr); err != nil {
		t.Fatalf("failed to add session %s: %v", sessionID, err)
	}
	return tr
}

// subscribeStaff wires a staff session into both system channels so status
// broadcasts have a listener.
func subscribeStaff(t *testing.T, e *Engine, hub *Hub, sessionID string) *fakeTransport {
	t.Helper()
	tr := connect(t, hub, sessionID)
	e.handleAdminSignin(sessionID, &Envelope{Type: TypeChatAdmin, Action: ActionAdminSignin})
	hub.AddClientToChannel(sessionID, StatusChannel)
	return tr
}

func joinEnvelope(channelID string, user User, msg string) *Envelope {
	return &Envelope{
		Type:    TypeChat,
		Action:  ActionChatInit,
		Channel: channelID,
		Data:    &ChatPayload{User: &user, Msg: msg},
	}
}

// deliver marshals env and runs it through the inbound path as a single
// engine turn.
func deliver(t *testing.T, e *Engine, sessionID string, env *Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("failed to marshal envelope: %v", err)
	}
	e.handleInbound(sessionID, data)
}

// eventually pumps the engine task queue until cond holds or the deadline
// passes. Used where a handler hops through a goroutine before re-entering
// the loop.
func eventually(t *testing.T, e *Engine, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e.runPending()
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
