// This file contains the disconnect reaper. Connection loss is handled in
// two phases: the first stamps affected channels and synthesizes leave
// notices while membership is still visible, then removes the session from
// the transport; the second runs as a fresh turn and recomputes presence
// and availability before sweeping channels that have sat empty past the
// grace period.
package chatrelay

// handleDisconnect runs on the engine loop when a transport connection
// drops.
func (e *Engine) handleDisconnect(sessionID string) {
	user, known := e.users[sessionID]
	now := e.now()

	for id, ch := range e.hub.Channels() {
		if isSystemChannel(id) || !ch.hasMember(sessionID) {
			continue
		}
		ch.touch(now)
		if known && !user.IsStaff() {
			ch.stampDeparture(now)
		}
		if known {
			offline := &Envelope{
				Type:     TypeChat,
				Action:   ActionChatPart,
				Channel:  id,
				Callback: callbackUserOffline,
				Data: &ChatPayload{
					User: &user,
					Msg:  user.Name + " left",
				},
			}
			e.hub.PublishToChannel(id, offline)
			e.appendLog(id, user, offline.Data.Msg, LogKindLeave)
		}
	}

	e.hub.dropSession(sessionID)
	delete(e.users, sessionID)

	// The recompute and sweep run strictly after this turn, once the
	// membership removal above is settled.
	e.post(e.reapAfterDisconnect)
}

func (e *Engine) reapAfterDisconnect() {
	e.computeAvailability()
	e.broadcastPresence("")
	e.sweepChannels()
}

// sweepChannels removes every initialized conversation channel that has no
// members and saw no activity within the grace period. Recently emptied
// channels survive so a quick reconnect can land in the same conversation.
func (e *Engine) sweepChannels() {
	cutoff := e.now().Add(-e.opts.GracePeriod)
	for id, ch := range e.hub.Channels() {
		if isSystemChannel(id) {
			continue
		}
		last := ch.lastActivityTime()
		if last.IsZero() {
			continue
		}
		if ch.memberCount() == 0 && !last.After(cutoff) {
			e.hub.RemoveChannel(id)
			e.logger.Debug("swept empty channel", "channel", id)
		}
	}
}
