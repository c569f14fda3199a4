// This file contains the presence aggregator: per-channel occupancy and the
// global queue aggregate, with throttled diff-broadcasts to the staff
// status channel. Broadcasts are a best-effort snapshot, suppressed
// whenever nothing observable changed.
package chatrelay

func (e *Engine) statusListening() bool {
	st, ok := e.hub.Channel(StatusChannel)
	return ok && st.memberCount() > 0
}

// channelOccupancy computes a channel's member count and how many of those
// members are also on the staff roster channel.
func (e *Engine) channelOccupancy(ch *channelState) (users, admins int) {
	admin, hasAdmin := e.hub.Channel(AdminChannel)
	for _, member := range ch.memberList() {
		users++
		if hasAdmin && admin.hasMember(member) {
			admins++
		}
	}
	return users, admins
}

// updateChannelStatus recomputes one channel's occupancy and broadcasts a
// status message when warranted. A broadcast goes out when the channel saw
// activity since the last broadcast, when its occupancy pair changed, or on
// an explicit force or per-session snapshot. When target is non-empty the
// message is addressed to that session only and broadcast bookkeeping is
// left untouched, so other listeners still get their update.
func (e *Engine) updateChannelStatus(ch *channelState, target string, force bool) {
	if isSystemChannel(ch.ID()) {
		return
	}
	activity := ch.lastActivityTime()
	if activity.IsZero() {
		return
	}
	// Nobody listening means nothing to say.
	if !e.statusListening() {
		return
	}
	users, admins := e.channelOccupancy(ch)

	lastAt, lastUsers, lastAdmins, valid := ch.broadcastState()
	unchanged := valid && !activity.After(lastAt) && users == lastUsers && admins == lastAdmins
	if !force && target == "" && unchanged {
		return
	}

	var partTS int64
	if dep := ch.departureTime(); !dep.IsZero() {
		partTS = dep.Unix()
	}
	msg := channelStatusMessage{
		Callback:          callbackChannelStatus,
		Channel:           StatusChannel,
		ChannelName:       ch.ID(),
		Users:             users,
		AdminUsers:        admins,
		Timestamp:         activity.Unix(),
		UserPartTimestamp: partTS,
		RefTime:           e.now().Unix(),
		Refresh:           !valid,
		Notification:      ch.currentNotice(),
	}

	if target != "" {
		e.hub.PublishToClient(target, msg)
		return
	}
	e.hub.PublishToChannel(StatusChannel, msg)
	ch.markBroadcast(users, admins)
	ch.clearNotice()
	e.lastStatusTime = e.now()
	e.hooks.metrics().BroadcastSent(ch.ID(), callbackChannelStatus)
}

// updateGlobalStatus recomputes the queue aggregate over every conversation
// channel and broadcasts it when the pair changed, or delivers it to target
// as a snapshot.
func (e *Engine) updateGlobalStatus(target string) {
	if !e.statusListening() {
		return
	}
	depth := 0
	withAdmins := 0
	for id, ch := range e.hub.Channels() {
		if isSystemChannel(id) || ch.lastActivityTime().IsZero() {
			continue
		}
		users, admins := e.channelOccupancy(ch)
		if users == 0 {
			continue
		}
		if admins < 1 {
			depth++
		} else {
			withAdmins++
		}
	}

	if target == "" && e.statsBroadcast && depth == e.queueDepth && withAdmins == e.channelsWithAdmins {
		return
	}
	msg := queueStatusMessage{
		Callback: callbackQueueStatus,
		Channel:  StatusChannel,
		Queue:    depth,
	}
	if target != "" {
		e.hub.PublishToClient(target, msg)
		return
	}
	e.hub.PublishToChannel(StatusChannel, msg)
	e.queueDepth = depth
	e.channelsWithAdmins = withAdmins
	e.statsBroadcast = true
	e.lastStatusTime = e.now()
	e.hooks.metrics().BroadcastSent(StatusChannel, callbackQueueStatus)
}

// broadcastPresence runs a full aggregation pass: every initialized
// conversation channel plus the global aggregate. With a target session it
// produces a complete snapshot for that session alone.
func (e *Engine) broadcastPresence(target string) {
	force := target != ""
	for id, ch := range e.hub.Channels() {
		if isSystemChannel(id) {
			continue
		}
		e.updateChannelStatus(ch, target, force)
	}
	e.updateGlobalStatus(target)
}
