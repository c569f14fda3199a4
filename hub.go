// This file contains the Hub: the transport collaborator. It upgrades HTTP
// requests to WebSocket connections, tracks which sessions belong to which
// channels, and fans outbound messages to members. The engine consumes the
// hub through the channel registry and publish operations; the hub never
// interprets payloads.
package chatrelay

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Hub struct {
	opts     *Options
	logger   *slog.Logger
	hooks    *Hooks
	sessions *store[Transport]
	channels *store[*channelState]
	upgrader websocket.Upgrader
	ctx      context.Context

	// onEvent and onDisconnect are set by the engine before the hub accepts
	// connections.
	onEvent      func(sessionID string, data []byte)
	onDisconnect func(sessionID string)
}

func createOriginChecker(opts *Options) func(*http.Request) bool {
	var compiled []*regexp.Regexp
	return func(r *http.Request) bool {
		if !opts.CheckOrigin {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		for _, allowed := range opts.AllowedOrigins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		for _, pattern := range compiled {
			if pattern.MatchString(origin) {
				return true
			}
		}
		return false
	}
}

func newHub(ctx context.Context, opts *Options, logger *slog.Logger) *Hub {
	return &Hub{
		opts:     opts,
		logger:   logger.With("component", "hub"),
		hooks:    opts.Hooks,
		sessions: newStore[Transport](),
		channels: newStore[*channelState](),
		ctx:      ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin:     createOriginChecker(opts),
		},
	}
}

// HandleWS upgrades an HTTP request and registers the resulting connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	if h.opts.MaxConnections > 0 && h.sessions.Len() >= h.opts.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	sessionID := uuid.NewString()

	conn := newConn(h.ctx, ws, sessionID, h.opts, h.receive, h.closed)
	if err := h.sessions.Create(sessionID, conn); err != nil {
		conn.Close()
		return
	}
	h.hooks.metrics().ConnectionOpened(sessionID)
	if h.hooks != nil && h.hooks.OnConnect != nil {
		h.hooks.OnConnect(sessionID)
	}
	h.logger.Debug("connection opened", "session", sessionID)
}

// addSession registers an already-built transport. Used by tests with
// in-memory transports.
func (h *Hub) addSession(t Transport) error {
	return h.sessions.Create(t.SessionID(), t)
}

func (h *Hub) receive(sessionID string, data []byte) {
	if h.hooks != nil && h.hooks.RateLimiter != nil {
		allowed, err := h.hooks.RateLimiter.Allow(h.ctx, sessionID)
		if err != nil {
			h.hooks.metrics().Error("rate_limiter", err)
		} else if !allowed {
			h.logger.Warn("rate limited", "session", sessionID)
			return
		}
	}
	if h.onEvent != nil {
		h.onEvent(sessionID, data)
	}
}

func (h *Hub) closed(sessionID string) {
	if conn, ok := h.sessions.Read(sessionID); ok {
		if c, isConn := conn.(*Conn); isConn {
			h.hooks.metrics().ConnectionClosed(sessionID, c.lifetime())
		}
	}
	if h.hooks != nil && h.hooks.OnDisconnect != nil {
		h.hooks.OnDisconnect(sessionID)
	}
	if h.onDisconnect != nil {
		h.onDisconnect(sessionID)
	}
}

// EnsureChannel returns the channel state for id, creating it if absent.
func (h *Hub) EnsureChannel(id string) *channelState {
	if ch, ok := h.channels.Read(id); ok {
		return ch
	}
	ch := newChannelState(id)
	if err := h.channels.Create(id, ch); err != nil {
		// Lost a create race; the stored one wins.
		existing, _ := h.channels.Read(id)
		return existing
	}
	h.hooks.metrics().ChannelCreated(id)
	h.logger.Debug("channel created", "channel", id)
	return ch
}

// Channel returns the state for id if it exists.
func (h *Hub) Channel(id string) (*channelState, bool) {
	return h.channels.Read(id)
}

// ChannelExists reports whether a channel with the given id is registered.
func (h *Hub) ChannelExists(id string) bool {
	_, ok := h.channels.Read(id)
	return ok
}

// Channels returns a snapshot of all registered channels.
func (h *Hub) Channels() map[string]*channelState {
	return h.channels.List()
}

// AddClientToChannel adds the session to the channel, creating the channel
// if needed.
func (h *Hub) AddClientToChannel(sessionID, channelID string) {
	h.EnsureChannel(channelID).addMember(sessionID)
}

// RemoveClientFromChannel removes the session from the channel's member set.
func (h *Hub) RemoveClientFromChannel(sessionID, channelID string) {
	if ch, ok := h.channels.Read(channelID); ok {
		ch.removeMember(sessionID)
	}
}

// RemoveChannel drops the channel from the registry.
func (h *Hub) RemoveChannel(channelID string) {
	if err := h.channels.Delete(channelID); err == nil {
		h.hooks.metrics().ChannelRemoved(channelID)
		h.logger.Debug("channel removed", "channel", channelID)
	}
}

// PublishToChannel delivers v to every current member of the channel.
func (h *Hub) PublishToChannel(channelID string, v interface{}) {
	ch, ok := h.channels.Read(channelID)
	if !ok {
		return
	}
	for _, sessionID := range ch.memberList() {
		h.PublishToClient(sessionID, v)
	}
}

// PublishToClient delivers v to one session if it is still connected.
func (h *Hub) PublishToClient(sessionID string, v interface{}) {
	conn, ok := h.sessions.Read(sessionID)
	if !ok {
		return
	}
	if err := conn.SendJSON(v); err != nil {
		h.hooks.metrics().Error("publish", err)
		h.logger.Debug("send failed", "session", sessionID, "error", err)
	}
}

// BroadcastToAll delivers v to every connected session regardless of
// channel membership.
func (h *Hub) BroadcastToAll(v interface{}) {
	for _, conn := range h.sessions.List() {
		if err := conn.SendJSON(v); err != nil {
			h.hooks.metrics().Error("broadcast", err)
		}
	}
}

// ConnectionCount returns the number of connected sessions.
func (h *Hub) ConnectionCount() int {
	return h.sessions.Len()
}

// dropSession removes the session's connection record and its membership in
// every channel. Called by the engine between the two disconnect phases.
func (h *Hub) dropSession(sessionID string) {
	_ = h.sessions.Delete(sessionID)
	for _, ch := range h.channels.List() {
		ch.removeMember(sessionID)
	}
}

// closeAll closes every connection. Used during shutdown.
func (h *Hub) closeAll() {
	for _, conn := range h.sessions.List() {
		conn.Close()
	}
}
