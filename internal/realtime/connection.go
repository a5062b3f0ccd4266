// Package realtime manages live WebSocket connections per user and fans
// server events out to them.
package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

var (
	// ErrConnectionClosed is returned when writing to a connection that is no longer ready.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendBufferFull means the client is not draining its outbound queue.
	ErrSendBufferFull = errors.New("send buffer full")
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
)

// transport is the subset of *websocket.Conn a Connection writes through.
type transport interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionOptions bounds the resources a single connection may hold.
type ConnectionOptions struct {
	// SendBuffer is the number of frames queued before the client counts as slow.
	SendBuffer int
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// PingPeriod is the keepalive interval; zero disables pings.
	PingPeriod time.Duration
}

func (o ConnectionOptions) withDefaults() ConnectionOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	return o
}

// Connection is one live channel of one user. Frames are written by a
// dedicated goroutine in the order they were enqueued.
type Connection struct {
	id     string
	userID notify.UserID
	tenant notify.TenantID
	ws     transport
	opts   ConnectionOptions
	send   chan []byte
	done   chan struct{}
	logger zerolog.Logger

	mu       sync.Mutex
	closed   bool
	reason   error
	onClose  []func(*Connection)
	closeOne sync.Once
}

// NewConnection wraps ws for userID and starts its writer.
func NewConnection(userID notify.UserID, tenant notify.TenantID, ws transport, opts ConnectionOptions, logger zerolog.Logger) *Connection {
	opts = opts.withDefaults()
	id := uuid.NewString()
	c := &Connection{
		id:     id,
		userID: userID,
		tenant: tenant,
		ws:     ws,
		opts:   opts,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
		logger: logger.With().Str("conn", id).Str("user", userID.String()).Logger(),
	}
	go c.writeLoop()
	return c
}

// ID is unique per connection.
func (c *Connection) ID() string { return c.id }

// UserID is the identity the connection was admitted for.
func (c *Connection) UserID() notify.UserID { return c.userID }

// Tenant is the namespace applied when the connection was admitted.
func (c *Connection) Tenant() notify.TenantID { return c.tenant }

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Ready reports whether frames may still be enqueued.
func (c *Connection) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Err returns why the connection closed, or nil.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// OnClose registers fn to run synchronously when the connection closes.
// It returns false, without registering, if the connection is already closed.
func (c *Connection) OnClose(fn func(*Connection)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.onClose = append(c.onClose, fn)
	return true
}

// Enqueue queues one frame. A full queue closes the connection.
func (c *Connection) Enqueue(frame []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	select {
	case c.send <- frame:
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()

	c.logger.Warn().Int("buffer", c.opts.SendBuffer).Msg("Client is not draining its queue, closing connection.")
	c.terminate(ErrSendBufferFull, websocket.CloseTryAgainLater, "slow consumer")
	return ErrSendBufferFull
}

// Close sends a normal close frame and closes the transport.
func (c *Connection) Close() {
	c.terminate(nil, websocket.CloseNormalClosure, "")
}

// CloseWithReason closes with the given close code and text.
func (c *Connection) CloseWithReason(code int, text string) {
	c.terminate(nil, code, text)
}

// fail closes the connection after a transport error, without a close frame.
func (c *Connection) fail(err error) {
	c.terminate(err, 0, "")
}

func (c *Connection) terminate(reason error, code int, text string) {
	c.closeOne.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.reason = reason
		observers := c.onClose
		c.onClose = nil
		c.mu.Unlock()

		close(c.done)

		if code != 0 {
			msg := websocket.FormatCloseMessage(code, text)
			if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Debug().Err(err).Msg("Close frame not delivered.")
			}
		}
		if err := c.ws.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("error closing transport")
		}

		for _, fn := range observers {
			fn(c)
		}
	})
}

// writeLoop is the only goroutine that writes data frames.
func (c *Connection) writeLoop() {
	var tick <-chan time.Time
	if c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to set write deadline.")
				c.fail(err)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Warn().Err(err).Msg("Write failed, dropping connection.")
				c.fail(err)
				return
			}
		case <-tick:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Warn().Err(err).Msg("Ping failed, dropping connection.")
				c.fail(err)
				return
			}
		}
	}
}
