package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/matchclock-protocol/matchclock-go/pkg/connection"
	"github.com/matchclock-protocol/matchclock-go/pkg/transport"
	"github.com/matchclock-protocol/matchclock-go/pkg/wire"
)

// Orchestrator errors.
var (
	ErrNoMasterDevice     = errors.New("no master device connected")
	ErrSettingsNotCached  = errors.New("master settings not cached yet, retry after the settings request completes")
	ErrDeviceNotFound     = errors.New("device not registered")
	ErrDeviceNotConnected = errors.New("device not connected")
	ErrAckTimeout         = errors.New("no acknowledgment from device")
)

// Timing defaults.
const (
	// DefaultAckTimeout bounds a command's wait for COMMAND_ACK/ERROR.
	DefaultAckTimeout = 5 * time.Second

	// DefaultSettingsConfirmDelay is the fixed wait between an
	// UPDATE_SETTINGS write and the confirming GET_SETTINGS round trip.
	// The confirmation is a timing assumption, not a correlated reply;
	// see the settings reconciliation notes in DESIGN.md.
	DefaultSettingsConfirmDelay = 750 * time.Millisecond
)

// Config configures a sync orchestrator.
type Config struct {
	// ControllerID identifies this controller to devices. Required.
	ControllerID string

	// Logger for orchestrator events (optional).
	Logger zerolog.Logger

	// Clock is the time source. Defaults to the real clock.
	Clock clockwork.Clock

	// ReconnectBaseDelay/ReconnectMaxAttempts tune per-device reconnection.
	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int

	// AckTimeout overrides DefaultAckTimeout.
	AckTimeout time.Duration

	// SettingsConfirmDelay overrides DefaultSettingsConfirmDelay.
	SettingsConfirmDelay time.Duration

	// OnMasterState fires when the mirrored master state changes.
	OnMasterState func(deviceID string, state wire.TimerStatePayload)

	// OnMasterSettings fires when the mirrored master settings change.
	OnMasterSettings func(deviceID string, settings wire.SettingsPayload)

	// OnDeviceChange fires when a device connects, disconnects or is
	// dropped.
	OnDeviceChange func(device Device)

	// OnAuthStatus fires on every AUTH_RESPONSE.
	OnAuthStatus func(deviceID string, status AuthStatus)

	// OnEvent fires for every decoded frame from any device, master or
	// not. Mirrors are updated before this is called.
	OnEvent func(deviceID string, msg *wire.Decoded)
}

// entry bundles everything the orchestrator tracks per device.
type entry struct {
	device  Device
	manager *connection.Manager
	conn    *transport.ClientConn
	auth    AuthStatus
}

// Orchestrator drives one-to-many devices as a single logical match clock.
type Orchestrator struct {
	mu sync.Mutex

	config  Config
	clock   clockwork.Clock
	log     zerolog.Logger
	entries map[string]*entry

	masterDeviceID    string
	lastKnownState    *wire.TimerStatePayload
	lastKnownSettings *wire.SettingsPayload

	pending   map[string]chan *wire.Decoded
	pendingMu sync.Mutex
}

// New creates a sync orchestrator.
func New(config Config) (*Orchestrator, error) {
	if config.ControllerID == "" {
		return nil, errors.New("controller id is required")
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = DefaultAckTimeout
	}
	if config.SettingsConfirmDelay <= 0 {
		config.SettingsConfirmDelay = DefaultSettingsConfirmDelay
	}

	return &Orchestrator{
		config:  config,
		clock:   config.Clock,
		log:     config.Logger,
		entries: make(map[string]*entry),
		pending: make(map[string]chan *wire.Decoded),
	}, nil
}

// SetLogger replaces the orchestrator's logger. Call before the first
// Connect.
func (o *Orchestrator) SetLogger(logger zerolog.Logger) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.log = logger
}

// Connect registers the device (if new) and opens its socket. Connecting a
// device that already has an open socket tears the old one down first. An
// initial dial failure is returned directly and starts no reconnect loop.
func (o *Orchestrator) Connect(ctx context.Context, device Device) error {
	o.mu.Lock()
	var oldManager *connection.Manager
	var oldConn *transport.ClientConn
	if old, ok := o.entries[device.ID]; ok {
		oldManager = old.manager
		oldConn = old.conn
		old.conn = nil
	}
	o.mu.Unlock()

	// Tear the previous socket down without holding the lock: Disconnect
	// fires the disconnect callback synchronously on this goroutine, and
	// that callback locks the orchestrator.
	if oldManager != nil {
		oldManager.Disconnect()
		oldManager.Close()
	}
	if oldConn != nil {
		oldConn.Close()
	}

	o.mu.Lock()
	e, ok := o.entries[device.ID]
	if !ok {
		e = &entry{device: device}
		o.entries[device.ID] = e
	} else {
		e.device.Name = device.Name
		e.device.Address = device.Address
		e.device.Port = device.Port
	}

	deviceID := device.ID
	e.manager = connection.NewManager(connection.ManagerConfig{
		Connect:        func(ctx context.Context) error { return o.dial(ctx, deviceID) },
		BaseDelay:      o.config.ReconnectBaseDelay,
		MaxAttempts:    o.config.ReconnectMaxAttempts,
		Clock:          o.clock,
		OnConnected:    func() { o.handleConnected(deviceID) },
		OnDisconnected: func() { o.handleDisconnected(deviceID) },
		OnReconnecting: func(attempt int, delay time.Duration) {
			o.log.Info().Str("device_id", deviceID).Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
		},
		OnGiveUp: func() { o.handleGiveUp(deviceID) },
	})
	manager := e.manager
	o.mu.Unlock()

	return manager.Connect(ctx)
}

// dial opens the websocket for a registered device.
func (o *Orchestrator) dial(ctx context.Context, deviceID string) error {
	o.mu.Lock()
	e, ok := o.entries[deviceID]
	if !ok {
		o.mu.Unlock()
		return ErrDeviceNotFound
	}
	url := e.device.SocketURL()
	manager := e.manager
	o.mu.Unlock()

	conn, err := transport.Dial(ctx, transport.ClientConfig{
		URL:       url,
		OnMessage: func(msg []byte) { o.handleFrame(deviceID, msg) },
		OnClose: func(err error) {
			if err != nil {
				o.log.Warn().Str("device_id", deviceID).Err(err).Msg("connection lost")
			}
			manager.ConnectionLost()
		},
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	e.conn = conn
	o.mu.Unlock()
	return nil
}

// Disconnect closes a device's socket intentionally and stops any
// reconnection. The device stays registered.
func (o *Orchestrator) Disconnect(deviceID string) {
	o.mu.Lock()
	e, ok := o.entries[deviceID]
	if !ok {
		o.mu.Unlock()
		return
	}
	manager, conn := e.manager, e.conn
	e.conn = nil
	o.mu.Unlock()

	if manager != nil {
		// Disabling the manager first makes the socket's close callback a
		// no-op, so an intentional close can never trigger reconnection.
		manager.Disconnect()
	}
	if conn != nil {
		conn.Close()
	}
}

// Remove drops a device entirely.
func (o *Orchestrator) Remove(deviceID string) {
	o.Disconnect(deviceID)

	o.mu.Lock()
	delete(o.entries, deviceID)
	o.mu.Unlock()
}

// Close shuts down all connections.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.entries))
	for id := range o.entries {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.Disconnect(id)
	}
}

// Devices returns a snapshot of all registered devices.
func (o *Orchestrator) Devices() []Device {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Device, 0, len(o.entries))
	for _, e := range o.entries {
		out = append(out, e.device)
	}
	return out
}

// MasterDeviceID returns the current master device id, or "".
func (o *Orchestrator) MasterDeviceID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.masterDeviceID
}

// LastKnownState returns the mirrored master state, or nil.
func (o *Orchestrator) LastKnownState() *wire.TimerStatePayload {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.lastKnownState == nil {
		return nil
	}
	state := *o.lastKnownState
	return &state
}

// LastKnownSettings returns the mirrored master settings, or nil.
func (o *Orchestrator) LastKnownSettings() *wire.SettingsPayload {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.lastKnownSettings == nil {
		return nil
	}
	settings := *o.lastKnownSettings
	return &settings
}

// AuthStatusFor returns the authorization view for a device.
func (o *Orchestrator) AuthStatusFor(deviceID string) (AuthStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.entries[deviceID]
	if !ok {
		return AuthStatus{}, false
	}
	return e.auth, true
}

// SetMaster reassigns the master to a currently connected device and
// immediately requests its settings.
func (o *Orchestrator) SetMaster(deviceID string) error {
	o.mu.Lock()
	e, ok := o.entries[deviceID]
	if !ok {
		o.mu.Unlock()
		return ErrDeviceNotFound
	}
	if !e.device.Connected {
		o.mu.Unlock()
		return ErrDeviceNotConnected
	}
	o.masterDeviceID = deviceID
	// A different master's settings are unknown until it answers.
	o.lastKnownSettings = nil
	o.mu.Unlock()

	o.log.Info().Str("device_id", deviceID).Msg("master reassigned")
	return o.sendTo(deviceID, wire.TypeGetSettings, nil, "")
}

// handleConnected runs after every successful (re)connection.
func (o *Orchestrator) handleConnected(deviceID string) {
	o.mu.Lock()
	e, ok := o.entries[deviceID]
	if !ok {
		o.mu.Unlock()
		return
	}
	e.device.Connected = true
	device := e.device

	electedMaster := false
	if o.masterDeviceID == "" {
		o.masterDeviceID = deviceID
		electedMaster = true
	}
	isFollower := o.masterDeviceID != deviceID
	var snapshot *wire.TimerStatePayload
	if isFollower && o.lastKnownState != nil {
		state := *o.lastKnownState
		snapshot = &state
	}
	o.mu.Unlock()

	o.log.Info().Str("device_id", deviceID).Bool("master", !isFollower).Msg("device connected")

	if electedMaster {
		// New master: learn its settings right away.
		if err := o.sendTo(deviceID, wire.TypeGetSettings, nil, ""); err != nil {
			o.log.Warn().Str("device_id", deviceID).Err(err).Msg("settings request failed")
		}
	}

	if snapshot != nil {
		// Reconcile the new follower immediately so it does not display
		// stale or zeroed state while waiting for its own next tick.
		if err := o.sendTo(deviceID, wire.TypeSyncTimerState, *snapshot, ""); err != nil {
			o.log.Warn().Str("device_id", deviceID).Err(err).Msg("initial state sync failed")
		}
	}

	if o.config.OnDeviceChange != nil {
		o.config.OnDeviceChange(device)
	}
}

// handleDisconnected marks the device down and promotes a new master if
// the master was lost.
func (o *Orchestrator) handleDisconnected(deviceID string) {
	o.mu.Lock()
	e, ok := o.entries[deviceID]
	if !ok {
		o.mu.Unlock()
		return
	}
	e.device.Connected = false
	device := e.device

	promoted := ""
	if o.masterDeviceID == deviceID {
		o.masterDeviceID = ""
		// The lost master's settings cannot be attributed to whichever
		// device takes over; the mirror stays empty until the promoted
		// master answers the settings request below.
		o.lastKnownSettings = nil
		for id, other := range o.entries {
			if other.device.Connected {
				o.masterDeviceID = id
				promoted = id
				break
			}
		}
	}
	o.mu.Unlock()

	o.log.Info().Str("device_id", deviceID).Msg("device disconnected")
	if promoted != "" {
		o.log.Info().Str("device_id", promoted).Msg("master promoted")
		if err := o.sendTo(promoted, wire.TypeGetSettings, nil, ""); err != nil {
			o.log.Warn().Str("device_id", promoted).Err(err).Msg("settings request failed")
		}
	}

	if o.config.OnDeviceChange != nil {
		o.config.OnDeviceChange(device)
	}
}

// handleGiveUp drops a device whose reconnect attempts are exhausted.
func (o *Orchestrator) handleGiveUp(deviceID string) {
	o.mu.Lock()
	e, ok := o.entries[deviceID]
	if !ok {
		o.mu.Unlock()
		return
	}
	device := e.device
	delete(o.entries, deviceID)
	o.mu.Unlock()

	o.log.Warn().Str("device_id", deviceID).Msg("reconnect attempts exhausted, device dropped")
	if o.config.OnDeviceChange != nil {
		device.Connected = false
		o.config.OnDeviceChange(device)
	}
}

// handleFrame routes one inbound frame from a device. Mirrors are only ever
// refreshed from the current master; frames from other devices still reach
// generic subscribers, which is what keeps the displayed clock from
// flickering when several devices broadcast independently.
func (o *Orchestrator) handleFrame(deviceID string, msg []byte) {
	decoded, err := wire.Decode(msg)
	if err != nil {
		o.log.Warn().Str("device_id", deviceID).Err(err).Msg("malformed frame dropped")
		return
	}

	switch decoded.Envelope.Type {
	case wire.TypeStateUpdate:
		o.mu.Lock()
		isMaster := deviceID == o.masterDeviceID
		if isMaster {
			state := *decoded.TimerState
			o.lastKnownState = &state
		}
		o.mu.Unlock()
		if isMaster && o.config.OnMasterState != nil {
			o.config.OnMasterState(deviceID, *decoded.TimerState)
		}

	case wire.TypeSettingsResponse:
		o.mu.Lock()
		isMaster := deviceID == o.masterDeviceID
		if isMaster {
			settings := *decoded.Settings
			o.lastKnownSettings = &settings
		}
		o.mu.Unlock()
		if isMaster && o.config.OnMasterSettings != nil {
			o.config.OnMasterSettings(deviceID, *decoded.Settings)
		}

	case wire.TypeAuthResponse:
		status := AuthStatus{
			Authorized:   decoded.AuthResponse.Authorized,
			ControllerID: decoded.AuthResponse.ControllerID,
			SessionID:    decoded.AuthResponse.SessionID,
		}
		o.mu.Lock()
		if e, ok := o.entries[deviceID]; ok {
			e.auth = status
		}
		o.mu.Unlock()
		if o.config.OnAuthStatus != nil {
			o.config.OnAuthStatus(deviceID, status)
		}

	case wire.TypeDeviceInfo:
		o.mu.Lock()
		if e, ok := o.entries[deviceID]; ok && decoded.DeviceInfo.Name != "" {
			e.device.Name = decoded.DeviceInfo.Name
		}
		o.mu.Unlock()

	case wire.TypeCommandAck, wire.TypeCommandError:
		o.resolvePending(decoded)
	}

	if o.config.OnEvent != nil {
		o.config.OnEvent(deviceID, decoded)
	}
}

// sendTo encodes and sends one command to one device. A non-empty commandID
// is stamped for correlation.
func (o *Orchestrator) sendTo(deviceID string, t wire.MessageType, payload any, commandID string) error {
	o.mu.Lock()
	e, ok := o.entries[deviceID]
	if !ok {
		o.mu.Unlock()
		return ErrDeviceNotFound
	}
	conn := e.conn
	connected := e.device.Connected
	o.mu.Unlock()

	if !connected || conn == nil {
		return ErrDeviceNotConnected
	}

	env := wire.NewEnvelope(t)
	env.CommandID = commandID
	data, err := wire.Encode(env, payload)
	if err != nil {
		return err
	}
	return conn.Send(data)
}

// sendAwait sends a command and waits for its correlated ACK or ERROR.
func (o *Orchestrator) sendAwait(ctx context.Context, deviceID string, t wire.MessageType, payload any) (*wire.Decoded, error) {
	commandID := uuid.NewString()

	ch := make(chan *wire.Decoded, 1)
	o.pendingMu.Lock()
	o.pending[commandID] = ch
	o.pendingMu.Unlock()
	defer func() {
		o.pendingMu.Lock()
		delete(o.pending, commandID)
		o.pendingMu.Unlock()
	}()

	if err := o.sendTo(deviceID, t, payload, commandID); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.clock.After(o.config.AckTimeout):
		return nil, ErrAckTimeout
	case reply := <-ch:
		return reply, nil
	}
}

func (o *Orchestrator) resolvePending(decoded *wire.Decoded) {
	var commandID string
	switch {
	case decoded.Ack != nil:
		commandID = decoded.Ack.CommandID
	case decoded.Err != nil:
		commandID = decoded.Err.CommandID
	}
	if commandID == "" {
		return
	}

	o.pendingMu.Lock()
	ch, ok := o.pending[commandID]
	o.pendingMu.Unlock()
	if ok {
		select {
		case ch <- decoded:
		default:
		}
	}
}
