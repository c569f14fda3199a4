// This file contains the Conn struct: one WebSocket connection from one
// browser tab. It owns the low-level read/write pumps, ping/pong keepalive
// and close handling; everything above it deals in session ids.
package chatrelay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the engine-facing view of a connection. Tests substitute
// in-memory implementations.
type Transport interface {
	SessionID() string
	SendJSON(v interface{}) error
	Close()
}

type Conn struct {
	id        string
	ws        *websocket.Conn
	send      chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
	opts      *Options
	ctx       context.Context
	cancel    context.CancelFunc

	onMessage func(sessionID string, data []byte)
	onClose   func(sessionID string)
	openedAt  time.Time
}

func newConn(parent context.Context, ws *websocket.Conn, id string, opts *Options,
	onMessage func(string, []byte), onClose func(string)) *Conn {
	ctx, cancel := context.WithCancel(parent)

	c := &Conn{
		id:        id,
		ws:        ws,
		send:      make(chan []byte, opts.SendChannelBuffer),
		closeChan: make(chan struct{}),
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		onMessage: onMessage,
		onClose:   onClose,
		openedAt:  time.Now(),
	}

	ws.SetReadLimit(opts.MaxMessageSize)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	})
	ws.SetCloseHandler(func(code int, text string) error {
		c.Close()
		return nil
	})

	go c.readPump()
	go c.writePump()

	return c
}

func (c *Conn) SessionID() string { return c.id }

// SendJSON marshals v and queues it for delivery. A full send queue drops
// the message rather than blocking the caller; presence broadcasts are
// best-effort snapshots and the next one supersedes.
func (c *Conn) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return wrapF(err, "failed to marshal outbound message for session %s", c.id)
	}
	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return unavailable("", "connection is closed")
	default:
		return unavailable("", "send queue full for session "+c.id)
	}
}

// Close shuts down the connection. Safe to call more than once; the close
// callback fires exactly once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.closeChan)
		_ = c.ws.Close()
		if c.onClose != nil {
			c.onClose(c.id)
		}
	})
}

func (c *Conn) lifetime() time.Duration {
	return time.Since(c.openedAt)
}

func (c *Conn) readPump() {
	defer c.Close()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		if err := c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
			return
		}
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			_ = c.SendJSON(errorReply(badRequest("", "unsupported message type; expected text frame")))
			continue
		}
		if c.onMessage != nil {
			c.onMessage(c.id, message)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)

	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		case <-c.closeChan:
			return
		}
	}
}
