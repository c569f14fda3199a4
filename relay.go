// This file contains the chat relay handlers: join, message, part and close
// routing, activity stamping, member fan-out, and the asynchronous durable
// log append. Every relay operation triggers a presence recomputation for
// the affected channel, except plain forwarding within the two system
// channels.
package chatrelay

import (
	"context"
	"time"
)

const logAppendTimeout = 5 * time.Second

// handleChatInit admits a visitor (or staff member) into a conversation
// channel. Admission requires a valid channel id token; failures drop the
// event with no state change.
func (e *Engine) handleChatInit(sessionID string, env *Envelope) {
	if err := validateChannelID(env.Channel, e.opts.ServiceKey); err != nil {
		e.logger.Warn("channel admission denied", "channel", env.Channel, "error", err)
		e.hooks.metrics().EventDropped(env.Type, env.Action, "admission_denied")
		return
	}
	var user User
	if env.Data != nil {
		user = normalizeUser(env.Data.User)
	} else {
		user = normalizeUser(nil)
	}
	e.users[sessionID] = user

	e.hub.AddClientToChannel(sessionID, env.Channel)
	ch, _ := e.hub.Channel(env.Channel)
	ch.touch(e.now())

	// Surface anonymous visitor arrivals to staff once; staff joining their
	// own conversations need no announcement.
	if user.IsStaff() {
		ch.setNotice(nil)
	} else {
		ch.setNotice(&Notice{
			Template: "Visitor joined: @name",
			Args:     map[string]string{"@name": user.Name},
		})
	}

	e.updateChannelStatus(ch, "", false)
	e.updateGlobalStatus("")

	e.hub.PublishToChannel(env.Channel, env)
	e.appendLog(env.Channel, user, payloadText(env), LogKindJoin)
}

// handleChatMessage forwards a chat line to every channel member. Messages
// within the system channels are forwarded untouched and never reach the
// presence aggregator; feeding staff-status traffic back into status
// computation would loop.
func (e *Engine) handleChatMessage(sessionID string, env *Envelope) {
	if isSystemChannel(env.Channel) {
		e.hub.PublishToChannel(env.Channel, env)
		return
	}
	if ch, ok := e.hub.Channel(env.Channel); ok {
		ch.touch(e.now())
		e.updateChannelStatus(ch, "", false)
		e.updateGlobalStatus("")
	}
	e.hub.PublishToChannel(env.Channel, env)

	user := e.senderUser(sessionID, env)
	e.appendLog(env.Channel, user, payloadText(env), LogKindMessage)
}

// handleChatPart removes the sender from the channel and tells the
// remaining members.
func (e *Engine) handleChatPart(sessionID string, env *Envelope) {
	ch, ok := e.hub.Channel(env.Channel)
	if !ok {
		return
	}
	now := e.now()
	user := e.senderUser(sessionID, env)

	e.hub.RemoveClientFromChannel(sessionID, env.Channel)
	ch.touch(now)
	if !user.IsStaff() {
		ch.stampDeparture(now)
	}

	e.updateChannelStatus(ch, "", false)
	e.updateGlobalStatus("")

	e.hub.PublishToChannel(env.Channel, env)
	e.appendLog(env.Channel, user, payloadText(env), LogKindLeave)
}

// handleChatClose evicts everyone from a conversation closed from the
// outside. The closing notice reaches members before eviction, and the
// broadcast record is reset so the next status update carries a refresh
// hint.
func (e *Engine) handleChatClose(sessionID string, env *Envelope) {
	ch, ok := e.hub.Channel(env.Channel)
	if !ok {
		return
	}
	ch.touch(e.now())
	ch.resetBroadcast()

	e.hub.PublishToChannel(env.Channel, env)
	for _, member := range ch.memberList() {
		e.hub.RemoveClientFromChannel(member, env.Channel)
	}

	e.updateChannelStatus(ch, "", true)
	e.updateGlobalStatus("")
}

// handleChatStatus answers a session's availability question.
func (e *Engine) handleChatStatus(sessionID string, env *Envelope) {
	e.requestStatus(sessionID)
}

// handleAdminSignin puts a staff connection on the staff roster channel.
// Coverage derived from that channel changes immediately, so a presence
// pass follows.
func (e *Engine) handleAdminSignin(sessionID string, env *Envelope) {
	if env.Data != nil && env.Data.User != nil {
		e.users[sessionID] = normalizeUser(env.Data.User)
	}
	e.hub.AddClientToChannel(sessionID, AdminChannel)
	e.broadcastPresence("")
}

// handleListAll subscribes a staff session to status broadcasts, refreshes
// availability ambiently, and sends the subscriber a full snapshot.
func (e *Engine) handleListAll(sessionID string, env *Envelope) {
	e.hub.AddClientToChannel(sessionID, StatusChannel)
	e.computeAvailability()
	e.broadcastPresence(sessionID)
}

// handleAdminStatus subscribes a staff session to status broadcasts and
// sends it a full snapshot.
func (e *Engine) handleAdminStatus(sessionID string, env *Envelope) {
	e.hub.AddClientToChannel(sessionID, StatusChannel)
	e.broadcastPresence(sessionID)
}

// senderUser resolves the sending user: the roster entry when the session
// is known, else whatever the payload carries, normalized.
func (e *Engine) senderUser(sessionID string, env *Envelope) User {
	if sessionID != "" {
		if user, ok := e.users[sessionID]; ok {
			return user
		}
	}
	if env.Data != nil {
		return normalizeUser(env.Data.User)
	}
	return normalizeUser(nil)
}

func payloadText(env *Envelope) string {
	if env.Data == nil {
		return ""
	}
	return env.Data.Msg
}

// appendLog writes one durable log record off the engine turn. Failures are
// reported and the entry is dropped; the live relay path is never blocked
// or retried.
func (e *Engine) appendLog(channelID string, user User, text string, kind LogKind) {
	conversationID, err := conversationIDOf(channelID)
	if err != nil {
		e.logger.Debug("skipping log append for non-conversation channel", "channel", channelID)
		return
	}
	entry := LogEntry{
		Timestamp:      e.now(),
		ConversationID: conversationID,
		UID:            user.UID,
		Name:           user.Name,
		SessionID:      user.SessionID,
		Text:           text,
		Kind:           kind,
	}
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, logAppendTimeout)
		defer cancel()
		if err := e.store.AppendLog(ctx, entry); err != nil {
			e.hooks.metrics().LogWriteFailed(err)
			e.logger.Error("chat log append failed", "conversation", conversationID, "error", err)
		}
	}()
}
