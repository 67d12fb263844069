package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
)

// client is one websocket channel. It implements session.Conn.
type client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	remoteIP string
	logger   *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func (c *client) ID() string {
	return c.id
}

// enqueue hands a rendered frame to the write loop. A client whose buffer is
// full is closed; sends to a closed client report false.
func (c *client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("send buffer full, closing slow client")
		c.closeLocked()
		return false
	}
}

func (c *client) emit(event string, payload any) bool {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		c.logger.Error("failed to encode outbound event", "event", event, "error", err)
		return false
	}
	return c.enqueue(frame)
}

func (c *client) emitError(message string) {
	c.emit(EventError, messagePayload{Message: message})
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *client) readPump(readLimit int64, pongWait time.Duration) {
	defer c.hub.disconnect(c)
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("connection closed unexpectedly", "error", err)
			}
			return
		}
		var envelope Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Event == "" {
			c.emitError("invalid payload")
			continue
		}
		c.hub.handle(c, envelope)
	}
}

func (c *client) writePump(heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
