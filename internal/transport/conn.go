package transport

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/inkwell-ai/quill/internal/session"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

// errSendBufferFull is returned when a connection cannot keep up with
// its event stream. The event is dropped, not retried.
var errSendBufferFull = errors.New("send buffer full")

// Conn wraps one WebSocket connection. Writes go through a buffered
// channel drained by a single write pump, so Send never blocks on the
// network and gorilla's one-writer rule holds.
type Conn struct {
	id     uuid.UUID
	ws     *websocket.Conn
	send   chan Envelope
	done   chan struct{}
	closer sync.Once
	logger *slog.Logger
}

func newConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	return &Conn{
		id:     uuid.New(),
		ws:     ws,
		send:   make(chan Envelope, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// ID implements session.Conn.
func (c *Conn) ID() uuid.UUID { return c.id }

// Open implements session.Conn.
func (c *Conn) Open() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Send implements session.Conn: it enqueues the event for the write
// pump. A full buffer or closed connection drops the event with an
// error.
func (c *Conn) Send(ev session.Event) error {
	env, err := NewEnvelope(string(ev.Type), ev.Payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errors.New("connection closed")
	case c.send <- env:
		return nil
	default:
		return errSendBufferFull
	}
}

// writePump drains the send channel onto the socket. It owns all
// writes; it exits when the connection closes.
func (c *Conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(env); err != nil {
				c.logger.Debug("write failed, closing connection",
					"conn", c.id, "error", err)
				c.close()
				return
			}
		}
	}
}

func (c *Conn) close() {
	c.closer.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
