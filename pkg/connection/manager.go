package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Connection errors.
var (
	ErrClosed           = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
)

// State represents the managed connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnected indicates an active connection.
	StateConnected

	// StateReconnecting indicates automatic reconnection is in progress.
	StateReconnecting

	// StateClosed indicates the manager was shut down.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc establishes the underlying socket. It returns an error if the
// connection could not be opened.
type ConnectFunc func(ctx context.Context) error

// ManagerConfig configures a per-device connection manager.
type ManagerConfig struct {
	// Connect establishes the socket. Required.
	Connect ConnectFunc

	// BaseDelay overrides the linear delay unit (default 1s).
	BaseDelay time.Duration

	// MaxAttempts overrides the reconnect attempt cap (default 5).
	MaxAttempts int

	// Clock is the time source. Defaults to the real clock.
	Clock clockwork.Clock

	// OnConnected fires after every successful (re)connection.
	OnConnected func()

	// OnDisconnected fires when the connection is lost or closed.
	OnDisconnected func()

	// OnReconnecting fires before each reconnect attempt.
	OnReconnecting func(attempt int, delay time.Duration)

	// OnGiveUp fires when the attempt cap is exhausted; the owner should
	// drop the device from its live set.
	OnGiveUp func()
}

// Manager owns exactly one logical socket to one device.
type Manager struct {
	mu sync.Mutex

	config  ManagerConfig
	state   State
	backoff *Backoff
	clock   clockwork.Clock

	// reconnect generation; bumped on explicit disconnect/close so a loop
	// belonging to a torn-down connection cannot resurrect it.
	generation int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a connection manager.
func NewManager(config ManagerConfig) *Manager {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:  config,
		state:   StateDisconnected,
		backoff: NewBackoffWithConfig(config.BaseDelay, config.MaxAttempts),
		clock:   config.Clock,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the socket is currently open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect opens the socket. A failed initial connect is returned directly
// and starts no reconnect loop.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == StateConnected {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.mu.Unlock()

	if err := m.config.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = StateConnected
	m.backoff.Reset()
	m.mu.Unlock()

	if m.config.OnConnected != nil {
		m.config.OnConnected()
	}
	return nil
}

// ConnectionLost must be called when an open socket closes from the remote
// end or on a send failure. It starts the bounded reconnect loop.
func (m *Manager) ConnectionLost() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.state = StateReconnecting
	generation := m.generation
	m.mu.Unlock()

	if m.config.OnDisconnected != nil {
		m.config.OnDisconnected()
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reconnectLoop(generation)
	}()
}

// Disconnect closes the connection intentionally. Any in-flight reconnect
// loop is invalidated atomically.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateClosed || m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.generation++
	m.backoff.Reset()
	m.mu.Unlock()

	if m.config.OnDisconnected != nil {
		m.config.OnDisconnected()
	}
}

// Close shuts the manager down permanently.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = StateClosed
	m.generation++
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// Attempts returns the reconnect attempts since the last success.
func (m *Manager) Attempts() int {
	return m.backoff.Attempts()
}

// reconnectLoop retries the connect function until success, cancellation,
// invalidation, or attempt exhaustion.
func (m *Manager) reconnectLoop(generation int) {
	for {
		if !m.stillReconnecting(generation) {
			return
		}

		delay, ok := m.backoff.Next()
		if !ok {
			m.giveUp(generation)
			return
		}

		if m.config.OnReconnecting != nil {
			m.config.OnReconnecting(m.backoff.Attempts(), delay)
		}

		select {
		case <-m.ctx.Done():
			return
		case <-m.clock.After(delay):
		}

		if !m.stillReconnecting(generation) {
			return
		}

		connectCtx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
		err := m.config.Connect(connectCtx)
		cancel()
		if err != nil {
			continue
		}

		m.mu.Lock()
		if m.generation != generation || m.state != StateReconnecting {
			// Torn down while connecting; do not resurrect.
			m.mu.Unlock()
			return
		}
		m.state = StateConnected
		m.backoff.Reset()
		m.mu.Unlock()

		if m.config.OnConnected != nil {
			m.config.OnConnected()
		}
		return
	}
}

func (m *Manager) stillReconnecting(generation int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateReconnecting && m.generation == generation
}

func (m *Manager) giveUp(generation int) {
	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.backoff.Reset()
	m.mu.Unlock()

	if m.config.OnGiveUp != nil {
		m.config.OnGiveUp()
	}
}
