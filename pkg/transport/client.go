package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClientConfig configures a controller-side connection to one device.
type ClientConfig struct {
	// URL is the device websocket URL (ws://host:port/ws).
	URL string

	// OnMessage is called for every received text frame.
	OnMessage func(msg []byte)

	// OnClose is called exactly once when the connection closes for any
	// reason after a successful dial.
	OnClose func(err error)

	// DialTimeout bounds the initial dial (default 10s).
	DialTimeout time.Duration
}

// ClientConn is a controller's socket to one device.
type ClientConn struct {
	config ClientConfig
	ws     *websocket.Conn

	sendMu    sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to a device. A dial failure is returned directly; no
// reconnect machinery is involved for a connection that never opened.
func Dial(ctx context.Context, config ClientConfig) (*ClientConn, error) {
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", config.URL, err)
	}
	ws.SetReadLimit(DefaultMaxMessageSize)

	conn := &ClientConn{
		config: config,
		ws:     ws,
		closed: make(chan struct{}),
	}

	go conn.readLoop()
	return conn, nil
}

// Send writes a text frame to the device.
func (c *ClientConn) Send(msg []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		c.close(err)
		return err
	}
	return nil
}

// Close tears the connection down. The OnClose callback fires with nil.
func (c *ClientConn) Close() {
	c.close(nil)
}

func (c *ClientConn) close(err error) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
		if c.config.OnClose != nil {
			c.config.OnClose(err)
		}
	})
}

func (c *ClientConn) readLoop() {
	for {
		kind, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.close(err)
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if c.config.OnMessage != nil {
			c.config.OnMessage(msg)
		}
	}
}
