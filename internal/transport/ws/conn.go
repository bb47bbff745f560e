package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"alertd/internal/transport"
	"alertd/pkg/alert"

	"github.com/gorilla/websocket"
)

var errSendQueueFull = errors.New("send queue full")

// conn wraps one upgraded socket. All writes go through the send channel
// and the write pump; Send only enqueues, so the dispatcher never blocks
// on a slow client.
type conn struct {
	id string
	ws *websocket.Conn

	send chan []byte
	done chan struct{}

	writeTimeout time.Duration
	pingInterval time.Duration

	closeOnce sync.Once

	// identity is set once a register frame is accepted; read by the
	// teardown path only after the read loop exits.
	mu       sync.Mutex
	identity string
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(a alert.Alert) error {
	frame, err := transport.EncodeAlert(a)
	if err != nil {
		return err
	}
	return c.SendFrame(frame)
}

func (c *conn) SendFrame(frame []byte) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errSendQueueFull
	}
}

// sendEnvelope is used by the read loop for protocol replies (connect_error,
// backfill). Same non-blocking contract as Send.
func (c *conn) sendEnvelope(event string, payload any) error {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		data = b
	}
	frame, err := json.Marshal(transport.Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errSendQueueFull
	}
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
	return nil
}

// setIdentity binds the conn to id and returns the previous binding, so the
// caller can release a stale registration when a socket re-registers under a
// different identity.
func (c *conn) setIdentity(id string) (prev string) {
	c.mu.Lock()
	prev = c.identity
	c.identity = id
	c.mu.Unlock()
	return prev
}

func (c *conn) getIdentity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings. It owns all socket writes.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
