// This file contains the Engine: the single logical thread of control that
// owns all channel-state and aggregate mutation. Inbound transport events,
// externally published envelopes, heartbeat ticks and deferred cleanup all
// enter as discrete turns on one task queue; asynchronous work (durable log
// appends, schedule lookups) re-enters the queue as a new turn.
package chatrelay

import (
	"context"
	"log/slog"
	"time"
)

type handlerFunc func(sessionID string, env *Envelope)

type Engine struct {
	hub    *Hub
	store  ChatStore
	feed   Feed
	opts   *Options
	hooks  *Hooks
	logger *slog.Logger

	tasks  chan func()
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	chatHandlers  map[string]handlerFunc
	adminHandlers map[string]handlerFunc

	// All fields below are touched only from engine turns.
	users              map[string]User
	openStatus         bool
	lastStatusTime     time.Time
	queueDepth         int
	channelsWithAdmins int
	statsBroadcast     bool

	heartbeatStop chan struct{}

	// now is the engine clock; tests substitute a fixed one.
	now func() time.Time
}

// NewEngine wires the engine to its collaborators. Start must be called
// before the hub accepts connections.
func NewEngine(hub *Hub, store ChatStore, feed Feed, opts *Options, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		hub:    hub,
		store:  store,
		feed:   feed,
		opts:   opts,
		hooks:  opts.Hooks,
		logger: logger.With("component", "engine"),
		tasks:  make(chan func(), 256),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		users:  make(map[string]User),
		now:    time.Now,
	}
	e.chatHandlers = map[string]handlerFunc{
		ActionChatInit:    e.handleChatInit,
		ActionChatMessage: e.handleChatMessage,
		ActionChatPart:    e.handleChatPart,
		ActionChatClose:   e.handleChatClose,
		ActionChatStatus:  e.handleChatStatus,
	}
	e.adminHandlers = map[string]handlerFunc{
		ActionAdminSignin: e.handleAdminSignin,
		ActionListAll:     e.handleListAll,
		ActionAdminStatus: e.handleAdminStatus,
	}

	hub.onEvent = e.receiveClientEvent
	hub.onDisconnect = e.receiveDisconnect

	return e
}

// Start launches the engine loop and subscribes to the external feed.
func (e *Engine) Start() error {
	if e.feed != nil {
		if err := e.feed.Subscribe(e.receiveExternal); err != nil {
			return wrapF(err, "failed to subscribe to external feed")
		}
	}
	go e.run()
	return nil
}

// Stop halts the engine loop. Queued turns are discarded.
func (e *Engine) Stop() {
	e.cancel()
	<-e.done
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case task := <-e.tasks:
			e.runTask(task)
		case <-e.ctx.Done():
			return
		}
	}
}

// runTask executes one turn. A panic in a handler is contained so that one
// malformed event can never take the engine down with it.
func (e *Engine) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in engine turn", "panic", r)
			e.hooks.metrics().Error("engine", internal("", "panic in engine turn"))
		}
	}()
	task()
}

// post enqueues fn as a new turn. Used both for inbound events and for
// deferred continuations, which therefore run strictly after the current
// turn completes.
func (e *Engine) post(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.ctx.Done():
	}
}

// runPending drains and executes all currently queued turns. Tests drive
// the engine with this instead of the background loop.
func (e *Engine) runPending() {
	for {
		select {
		case task := <-e.tasks:
			e.runTask(task)
		default:
			return
		}
	}
}

func (e *Engine) receiveClientEvent(sessionID string, data []byte) {
	e.post(func() {
		e.armHeartbeat()
		e.handleInbound(sessionID, data)
	})
}

func (e *Engine) receiveExternal(data []byte) {
	e.post(func() {
		e.handleExternal(data)
	})
}

func (e *Engine) receiveDisconnect(sessionID string) {
	e.post(func() {
		e.handleDisconnect(sessionID)
	})
}

func (e *Engine) handleInbound(sessionID string, data []byte) {
	env, err := decodeEnvelope(data)
	if err != nil {
		e.logger.Warn("undecodable envelope", "session", sessionID, "error", err)
		e.hub.PublishToClient(sessionID, errorReply(err))
		return
	}
	if !env.Validate() {
		e.logger.Warn("envelope missing type or action", "session", sessionID)
		e.hub.PublishToClient(sessionID, errorReply(badRequest("", "envelope missing type or action")))
		return
	}
	e.dispatch(sessionID, env)
}

// handleExternal processes an envelope published by the outside (the CMS).
// There is no originating session, so validation failures are only logged.
func (e *Engine) handleExternal(data []byte) {
	env, err := decodeEnvelope(data)
	if err != nil {
		e.logger.Warn("undecodable external envelope", "error", err)
		return
	}
	if !env.Validate() {
		e.logger.Warn("external envelope missing type or action")
		return
	}
	e.dispatch("", env)
}

func (e *Engine) dispatch(sessionID string, env *Envelope) {
	var handlers map[string]handlerFunc
	switch env.Type {
	case TypeChat:
		handlers = e.chatHandlers
	case TypeChatAdmin:
		handlers = e.adminHandlers
	default:
		e.logger.Warn("unknown message type", "type", env.Type, "session", sessionID)
		e.hooks.metrics().EventDropped(env.Type, env.Action, "unknown_type")
		return
	}
	handler, ok := handlers[env.Action]
	if !ok {
		e.logger.Warn("unknown action", "type", env.Type, "action", env.Action, "session", sessionID)
		e.hooks.metrics().EventDropped(env.Type, env.Action, "unknown_action")
		return
	}
	e.hooks.metrics().EventReceived(env.Type, env.Action)
	e.logger.Debug("dispatching event", "type", env.Type, "action", env.Action, "channel", env.Channel)
	handler(sessionID, env)
}

// armHeartbeat starts the periodic availability check. It stays armed until
// a tick finds no connections left, then disarms; the next inbound event
// rearms it. This keeps the process from polling while idle.
func (e *Engine) armHeartbeat() {
	if e.heartbeatStop != nil {
		return
	}
	stop := make(chan struct{})
	e.heartbeatStop = stop

	ticker := time.NewTicker(e.opts.HeartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.post(e.heartbeatTick)
			case <-stop:
				return
			case <-e.ctx.Done():
				return
			}
		}
	}()
}

func (e *Engine) disarmHeartbeat() {
	if e.heartbeatStop == nil {
		return
	}
	close(e.heartbeatStop)
	e.heartbeatStop = nil
}

func (e *Engine) heartbeatTick() {
	if e.hub.ConnectionCount() > 0 {
		e.computeAvailability()
		return
	}
	e.disarmHeartbeat()
}
