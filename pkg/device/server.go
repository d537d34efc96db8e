package device

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/matchclock-protocol/matchclock-go/pkg/asset"
	"github.com/matchclock-protocol/matchclock-go/pkg/persistence"
	"github.com/matchclock-protocol/matchclock-go/pkg/session"
	"github.com/matchclock-protocol/matchclock-go/pkg/timer"
	"github.com/matchclock-protocol/matchclock-go/pkg/transport"
	"github.com/matchclock-protocol/matchclock-go/pkg/wire"
)

// ServiceState represents the command server lifecycle.
type ServiceState uint8

const (
	// StateStopped indicates the server is not accepting connections.
	StateStopped ServiceState = iota

	// StateListening indicates the server is accepting connections.
	StateListening
)

// String returns the service state name.
func (s ServiceState) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateListening:
		return "LISTENING"
	default:
		return "UNKNOWN"
	}
}

// ServerConfig configures a device command server.
type ServerConfig struct {
	// DeviceID identifies this device on the wire. Required.
	DeviceID string

	// DeviceName is the human-readable device name.
	DeviceName string

	// Address to listen on (default ":8080").
	Address string

	// Engine is the local match clock. Required.
	Engine *timer.Engine

	// Authority is the session authority. Required.
	Authority *session.Authority

	// Settings is the durable settings store. Required.
	Settings *persistence.SettingsStore

	// Assets is the audio cue store. Required.
	Assets *asset.Store

	// Logger for server events (optional).
	Logger zerolog.Logger
}

// Validate checks that required collaborators are present.
func (c ServerConfig) Validate() error {
	if c.DeviceID == "" {
		return errors.New("device id is required")
	}
	if c.Engine == nil || c.Authority == nil || c.Settings == nil || c.Assets == nil {
		return errors.New("engine, authority, settings and assets are required")
	}
	return nil
}

// Server is the device-side command and broadcast server.
type Server struct {
	mu sync.Mutex

	config    ServerConfig
	state     ServiceState
	transport *transport.Server
	syncMode  wire.SyncMode
	log       zerolog.Logger
}

// NewServer creates a device command server.
func NewServer(config ServerConfig) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:   config,
		state:    StateStopped,
		syncMode: wire.SyncModeCentralized,
		log:      config.Logger,
	}

	s.transport = transport.NewServer(transport.ServerConfig{
		Address: config.Address,
		Logger:  config.Logger,
		OnConnect: func(conn *transport.ServerConn) {
			s.log.Info().Str("conn_id", conn.ID()).Msg("controller connected")
			// A fresh socket should not wait out a full tick for state.
			s.sendState(conn)
		},
		OnDisconnect: func(conn *transport.ServerConn) {
			s.log.Info().Str("conn_id", conn.ID()).Msg("controller disconnected")
		},
		OnMessage: s.handleFrame,
		OnError: func(conn *transport.ServerConn, err error) {
			s.log.Warn().Str("conn_id", conn.ID()).Err(err).Msg("connection error")
		},
	})

	config.Engine.Subscribe(func(state timer.State) {
		s.broadcastState(state)
	})

	return s, nil
}

// Start begins listening. Starting a listening server logs a warning and
// succeeds without side effects.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateListening {
		s.mu.Unlock()
		s.log.Warn().Msg("command server already listening, ignoring start")
		return nil
	}
	s.mu.Unlock()

	if err := s.transport.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateListening
	s.mu.Unlock()
	return nil
}

// Stop stops listening and closes all sockets. Idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	s.mu.Unlock()

	return s.transport.Stop()
}

// State returns the current lifecycle state.
func (s *Server) State() ServiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SyncMode returns the device's current sync mode.
func (s *Server) SyncMode() wire.SyncMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncMode
}

// Addr returns the transport listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.transport.Addr()
}

// ConnCount returns the number of registered controller sockets.
func (s *Server) ConnCount() int {
	return s.transport.ConnCount()
}

// broadcastState serializes the clock state and fans it out to every
// registered socket.
func (s *Server) broadcastState(state timer.State) {
	if !s.transport.Running() {
		return
	}

	data, err := s.encodeState(state)
	if err != nil {
		s.log.Error().Err(err).Msg("encode state update")
		return
	}
	s.transport.Broadcast(data)
}

// sendState pushes the current state to a single socket.
func (s *Server) sendState(conn *transport.ServerConn) {
	data, err := s.encodeState(s.config.Engine.State())
	if err != nil {
		s.log.Error().Err(err).Msg("encode state update")
		return
	}
	if err := conn.Send(data); err != nil {
		s.log.Warn().Str("conn_id", conn.ID()).Err(err).Msg("initial state send failed")
	}
}

func (s *Server) encodeState(state timer.State) ([]byte, error) {
	env := wire.NewEnvelope(wire.TypeStateUpdate)
	env.DeviceID = s.config.DeviceID
	return wire.Encode(env, wire.TimerStatePayload{
		Phase:           state.Phase.String(),
		TimeLeftSeconds: state.TimeLeftSeconds,
		IsRunning:       state.IsRunning,
		IsPaused:        state.IsPaused,
	})
}

// send writes a frame, logging rather than propagating failure: a reply
// that cannot be delivered must not disturb the server.
func (s *Server) send(conn *transport.ServerConn, data []byte, err error) {
	if err != nil {
		s.log.Error().Err(err).Msg("encode reply")
		return
	}
	if err := conn.Send(data); err != nil {
		s.log.Warn().Str("conn_id", conn.ID()).Err(err).Msg("reply send failed")
	}
}

func (s *Server) ack(conn *transport.ServerConn, commandID string) {
	data, err := wire.EncodeAck(s.config.DeviceID, commandID)
	s.send(conn, data, err)
}

func (s *Server) commandError(conn *transport.ServerConn, commandID string, code wire.ErrorCode, message string) {
	data, err := wire.EncodeError(s.config.DeviceID, commandID, code, message)
	s.send(conn, data, err)
}

func (s *Server) event(conn *transport.ServerConn, t wire.MessageType, payload any) {
	env := wire.NewEnvelope(t)
	env.DeviceID = s.config.DeviceID
	data, err := wire.Encode(env, payload)
	s.send(conn, data, err)
}
