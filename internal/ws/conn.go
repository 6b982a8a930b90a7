package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

var (
	ErrClosed        = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
	errNilWebsocket  = errors.New("nil websocket")
)

const (
	pingInterval      = 20 * time.Second
	outboundQueueSize = 256
)

// Channel is the server side of one bidirectional client connection.
type Channel interface {
	// Send queues b for delivery without blocking.
	Send(b []byte) error
	// Open reports whether the channel still accepts frames.
	Open() bool
	Close() error
}

// Conn is a Channel backed by a websocket.
type Conn struct {
	ws   *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

// Accept upgrades HTTP to websocket (allow all origins)
func Accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
}

// NewConn wraps an accepted websocket.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:   ws,
		out:  make(chan []byte, outboundQueueSize),
		done: make(chan struct{}),
	}
}

// Read blocks until it receives a text/binary message
// Returns false if connection is closed
func (c *Conn) Read(ctx context.Context) ([]byte, bool) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return nil, false
		}
		if typ == websocket.MessageText || typ == websocket.MessageBinary {
			return data, true
		}
	}
}

// WriteLoop sends outbound messages + periodic pings
// Exits when ctx is cancelled or the conn is closed
func (c *Conn) WriteLoop(ctx context.Context) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()

	for {
		select {
		case b := <-c.out:
			if err := c.ws.Write(ctx, websocket.MessageText, b); err != nil {
				c.markClosed()
				return
			}
		case <-t.C:
			_ = c.ws.Ping(ctx)
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Send queues a frame; it never blocks on a slow peer.
func (c *Conn) Send(b []byte) error {
	if !c.Open() {
		return ErrClosed
	}
	select {
	case c.out <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Conn) Open() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Conn) markClosed() { c.once.Do(func() { close(c.done) }) }

// Close closes the WS connection normally
func (c *Conn) Close() error {
	c.markClosed()
	if c.ws == nil {
		return errNilWebsocket
	}
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}
