// This file contains the channelState struct: one ephemeral conversation or
// system topic, its member session set, and the bookkeeping the presence
// aggregator and the reaper need (activity stamps, last-broadcast state,
// one-shot notice, last visitor departure).
package chatrelay

import (
	"sync"
	"time"
)

type channelState struct {
	mutex sync.RWMutex

	id      string
	members map[string]struct{}

	// lastActivity is the most recent join/message/part/close affecting the
	// channel. A zero lastActivity means the channel was never initialized
	// and is excluded from presence computation and cleanup.
	lastActivity time.Time

	// lastBroadcast records the activity value carried by the most recent
	// status broadcast, together with the occupancy pair it reported.
	// broadcastValid is false until the first broadcast, and cleared again
	// on chat_close to force a refresh hint.
	lastBroadcast  time.Time
	lastUsers      int
	lastAdmins     int
	broadcastValid bool

	notice        *Notice
	lastDeparture time.Time
}

func newChannelState(id string) *channelState {
	return &channelState{
		id:      id,
		members: make(map[string]struct{}),
	}
}

func (c *channelState) ID() string { return c.id }

func (c *channelState) addMember(sessionID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.members[sessionID] = struct{}{}
}

func (c *channelState) removeMember(sessionID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.members, sessionID)
}

func (c *channelState) hasMember(sessionID string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, ok := c.members[sessionID]
	return ok
}

func (c *channelState) memberList() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	out := make([]string, 0, len(c.members))
	for id := range c.members {
		out = append(out, id)
	}
	return out
}

func (c *channelState) memberCount() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.members)
}

// touch stamps the channel as active at t.
func (c *channelState) touch(t time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.lastActivity = t
}

func (c *channelState) lastActivityTime() time.Time {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.lastActivity
}

func (c *channelState) stampDeparture(t time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.lastDeparture = t
}

func (c *channelState) departureTime() time.Time {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.lastDeparture
}

func (c *channelState) setNotice(n *Notice) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.notice = n
}

func (c *channelState) currentNotice() *Notice {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.notice
}

func (c *channelState) clearNotice() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.notice = nil
}

// broadcastState returns the activity value and occupancy pair carried by
// the last broadcast, and whether any broadcast has happened since the last
// reset.
func (c *channelState) broadcastState() (at time.Time, users, admins int, valid bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.lastBroadcast, c.lastUsers, c.lastAdmins, c.broadcastValid
}

// markBroadcast records that a status broadcast carrying the given
// occupancy pair went out for the current activity value.
func (c *channelState) markBroadcast(users, admins int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.lastBroadcast = c.lastActivity
	c.lastUsers = users
	c.lastAdmins = admins
	c.broadcastValid = true
}

// resetBroadcast clears the last-broadcast record so the next status update
// for this channel carries a refresh hint. Used when a conversation is
// closed from the outside.
func (c *channelState) resetBroadcast() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.lastBroadcast = time.Time{}
	c.lastUsers = 0
	c.lastAdmins = 0
	c.broadcastValid = false
}
