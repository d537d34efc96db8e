package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Transport defaults.
const (
	// DefaultPort is the device listen port.
	DefaultPort = 8080

	// DefaultPath is the websocket endpoint path.
	DefaultPath = "/ws"

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultMaxMessageSize bounds inbound frames. Large enough for a
	// base64-encoded audio upload at the 5 MiB ceiling.
	DefaultMaxMessageSize = 8 * 1024 * 1024

	// sendBufferSize is the per-connection outbound queue length.
	sendBufferSize = 32
)

// Transport errors.
var (
	ErrSendQueueFull = errors.New("send queue full")
	ErrConnClosed    = errors.New("connection closed")
)

// ServerConfig configures a device websocket server.
type ServerConfig struct {
	// Address to listen on (e.g. ":8080").
	Address string

	// Path is the websocket endpoint path (default /ws).
	Path string

	// Logger for transport events (optional).
	Logger zerolog.Logger

	// OnConnect is called when a new connection is established.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called when a connection is closed.
	OnDisconnect func(conn *ServerConn)

	// OnMessage is called for every received text frame.
	OnMessage func(conn *ServerConn, msg []byte)

	// OnError is called when a connection-level error occurs.
	OnError func(conn *ServerConn, err error)
}

// Server accepts websocket connections from controllers.
type Server struct {
	config   ServerConfig
	upgrader websocket.Upgrader

	httpSrv  *http.Server
	listener net.Listener

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewServer creates a new device websocket server.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}

	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Controllers connect from arbitrary LAN origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*ServerConn]struct{}),
	}
}

// Start begins accepting connections. Starting a running server is a no-op
// that logs a warning, so duplicate initialization calls are tolerated.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.config.Logger.Warn().Msg("server already running, ignoring start")
		return nil
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleUpgrade)
	s.httpSrv = &http.Server{Handler: mux, BaseContext: func(net.Listener) context.Context { return ctx }}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.config.Logger.Error().Err(err).Msg("serve failed")
		}
	}()

	s.config.Logger.Info().Str("addr", listener.Addr().String()).Str("path", s.config.Path).Msg("listening")
	return nil
}

// Stop stops the server and closes all connections. Stopping a stopped
// server is a no-op.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpSrv != nil {
		s.httpSrv.Close()
	}

	// Snapshot before closing: Close re-enters removeConn, which takes the
	// same lock on this goroutine.
	s.connsMu.Lock()
	conns := make([]*ServerConn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.connsMu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}

	s.wg.Wait()
	s.config.Logger.Info().Msg("server stopped")
	return nil
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Addr returns the server's listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Broadcast writes a frame to every connected socket. A failed write is
// logged per-socket and drops only that socket from the set; the remaining
// sends proceed (fan-out is best-effort, not atomic, no retries).
func (s *Server) Broadcast(msg []byte) {
	s.connsMu.RLock()
	conns := make([]*ServerConn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.connsMu.RUnlock()

	for _, conn := range conns {
		if err := conn.Send(msg); err != nil {
			s.config.Logger.Warn().Str("conn_id", conn.ID()).Err(err).Msg("broadcast send failed, dropping socket")
			conn.Close()
		}
	}
}

// ConnCount returns the number of registered sockets.
func (s *Server) ConnCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.config.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := newServerConn(ws, s)
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	s.config.Logger.Debug().Str("conn_id", conn.ID()).Str("remote", ws.RemoteAddr().String()).Msg("connection established")

	if s.config.OnConnect != nil {
		s.config.OnConnect(conn)
	}

	s.wg.Add(2)
	go func() { defer s.wg.Done(); conn.writeLoop() }()
	go func() { defer s.wg.Done(); conn.readLoop() }()
}

func (s *Server) removeConn(conn *ServerConn) {
	s.connsMu.Lock()
	_, present := s.conns[conn]
	delete(s.conns, conn)
	s.connsMu.Unlock()

	if present && s.config.OnDisconnect != nil {
		s.config.OnDisconnect(conn)
	}
}

// ServerConn is one accepted controller socket. The broadcast set is keyed
// by the connection's own ephemeral id, never by controller identity.
type ServerConn struct {
	id     string
	ws     *websocket.Conn
	server *Server

	sendCh    chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newServerConn(ws *websocket.Conn, server *Server) *ServerConn {
	ws.SetReadLimit(DefaultMaxMessageSize)
	return &ServerConn{
		id:     uuid.NewString(),
		ws:     ws,
		server: server,
		sendCh: make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// ID returns the ephemeral connection id.
func (c *ServerConn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// Send queues a text frame for delivery.
func (c *ServerConn) Send(msg []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	select {
	case c.sendCh <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close tears the connection down and unregisters it.
func (c *ServerConn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
		c.server.removeConn(c)
	})
}

func (c *ServerConn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.sendCh:
			c.ws.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				if c.server.config.OnError != nil {
					c.server.config.OnError(c, err)
				}
				c.Close()
				return
			}
		}
	}
}

func (c *ServerConn) readLoop() {
	defer c.Close()

	for {
		kind, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if c.server.config.OnError != nil {
					c.server.config.OnError(c, err)
				}
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if c.server.config.OnMessage != nil {
			c.server.config.OnMessage(c, msg)
		}
	}
}
