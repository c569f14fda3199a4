// This file contains type definitions for the chat relay: the wire envelope,
// per-action payloads, outbound status message shapes, user normalization,
// and the Options struct with server-wide tuning knobs.
package chatrelay

import (
	"encoding/json"
	"time"
)

// Message types discriminate the visitor-facing protocol from the
// staff-facing one. Each (type, action) pair maps to exactly one handler.
const (
	TypeChat      = "chat"
	TypeChatAdmin = "chat_admin"
)

const (
	ActionChatInit    = "chat_init"
	ActionChatMessage = "chat_message"
	ActionChatPart    = "chat_part"
	ActionChatClose   = "chat_close"
	ActionChatStatus  = "chat_status"
	ActionAdminSignin = "admin_signin"
	ActionListAll     = "list_all"
	ActionAdminStatus = "admin_status"
)

// The two well-known system channels. AdminChannel membership defines who
// counts as staff for coverage computation; StatusChannel carries the
// aggregated presence broadcasts.
const (
	AdminChannel  = "admin-status"
	StatusChannel = "status"
)

// Client-side handler names carried in the callback field of outbound
// messages.
const (
	callbackChannelStatus = "chatChannelStatus"
	callbackQueueStatus   = "chatQueueStatus"
	callbackOpenStatus    = "chatOpenStatus"
	callbackUserOffline   = "chatUserOffline"
	callbackError         = "chatError"
)

// LogKind identifies the kind of a durable chat log record.
type LogKind int

const (
	LogKindMessage LogKind = 1
	LogKindJoin    LogKind = 2
	LogKindLeave   LogKind = 3
)

// User identifies a chat participant. UID zero denotes an anonymous
// visitor; any other value denotes a staff member. SessionID is a
// caller-supplied random identifier used by clients to recognize their own
// echoed messages; it is not a credential.
type User struct {
	UID       int64  `json:"uid"`
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
}

// IsStaff reports whether the user is a staff member.
func (u User) IsStaff() bool { return u.UID != 0 }

// normalizeUser fills in safe defaults for missing user fields. This is the
// single place incoming user payloads are made whole; handlers never
// default-fill inline.
func normalizeUser(u *User) User {
	if u == nil {
		return User{Name: "unknown"}
	}
	out := *u
	if out.Name == "" {
		out.Name = "unknown"
	}
	return out
}

// Envelope is the wire shape of every inbound event. Type discriminates the
// protocol, Action selects the operation, Channel is the target channel id
// and Data carries the action-specific payload.
type Envelope struct {
	Type     string       `json:"type"`
	Action   string       `json:"action"`
	Channel  string       `json:"channel,omitempty"`
	Callback string       `json:"callback,omitempty"`
	Data     *ChatPayload `json:"data,omitempty"`
}

// ChatPayload is the data section of visitor-facing envelopes.
type ChatPayload struct {
	User *User  `json:"user,omitempty"`
	Msg  string `json:"msg,omitempty"`
}

// Validate checks that the envelope carries the fields every handler relies
// on. Payload requirements beyond this are checked per action.
func (e *Envelope) Validate() bool {
	return e.Type != "" && e.Action != ""
}

func decodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, wrapF(err, "failed to decode envelope")
	}
	return &env, nil
}

// Notice is a one-shot notification surfaced to staff with the next status
// broadcast for a channel, then cleared.
type Notice struct {
	Template string            `json:"template"`
	Args     map[string]string `json:"args,omitempty"`
}

// channelStatusMessage describes one channel's occupancy to the staff
// status channel.
type channelStatusMessage struct {
	Callback          string  `json:"callback"`
	Channel           string  `json:"channel"`
	ChannelName       string  `json:"channel_name"`
	Users             int     `json:"users"`
	AdminUsers        int     `json:"admin_users"`
	Timestamp         int64   `json:"timestamp"`
	UserPartTimestamp int64   `json:"user_part_timestamp"`
	RefTime           int64   `json:"ref_time"`
	Refresh           bool    `json:"refresh"`
	Notification      *Notice `json:"notification,omitempty"`
}

// queueStatusMessage carries the global count of conversations awaiting
// staff coverage.
type queueStatusMessage struct {
	Callback string `json:"callback"`
	Channel  string `json:"channel"`
	Queue    int    `json:"queue"`
}

// openStatusMessage reports the effective open/closed verdict. Open is the
// combined result; ScheduleOpen is the raw business-hours verdict so clients
// can distinguish "closed by schedule" from "nobody home".
type openStatusMessage struct {
	Callback     string `json:"callback"`
	Open         bool   `json:"open"`
	ScheduleOpen bool   `json:"schedule_open"`
}

type errorMessage struct {
	Callback string `json:"callback"`
	Message  string `json:"message"`
	Code     int    `json:"code"`
}

// isSystemChannel reports whether name is one of the two well-known system
// channels, which are excluded from presence computation and cleanup.
func isSystemChannel(name string) bool {
	return name == AdminChannel || name == StatusChannel
}

// Options holds server-wide tuning for the transport and the engine.
type Options struct {
	CheckOrigin       bool
	AllowedOrigins    []string
	ReadBufferSize    int
	WriteBufferSize   int
	MaxMessageSize    int64
	PingInterval      time.Duration
	PongWait          time.Duration
	WriteWait         time.Duration
	SendChannelBuffer int
	MaxConnections    int

	// ServiceKey is the shared secret used for channel admission. Anyone
	// holding it can mint a valid channel id for any conversation, so it
	// must be treated as a capability.
	ServiceKey string

	// GracePeriod is how long an emptied channel survives before the
	// reaper may remove it, absorbing quick reconnects under the same id.
	GracePeriod time.Duration

	// HeartbeatInterval is how often availability is recomputed while at
	// least one connection exists.
	HeartbeatInterval time.Duration

	Hooks *Hooks
}

// DefaultOptions returns Options with sensible defaults:
// 1KB buffers, 512KB max message size, 30s ping interval with 60s pong
// wait, a 10s grace period and a 30s availability heartbeat.
func DefaultOptions() *Options {
	return &Options{
		CheckOrigin:       false,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		MaxMessageSize:    512 * 1024,
		PingInterval:      30 * time.Second,
		PongWait:          60 * time.Second,
		WriteWait:         10 * time.Second,
		SendChannelBuffer: 256,
		GracePeriod:       10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}
