package device

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchclock-protocol/matchclock-go/pkg/asset"
	"github.com/matchclock-protocol/matchclock-go/pkg/persistence"
	"github.com/matchclock-protocol/matchclock-go/pkg/session"
	"github.com/matchclock-protocol/matchclock-go/pkg/timer"
	"github.com/matchclock-protocol/matchclock-go/pkg/transport"
	"github.com/matchclock-protocol/matchclock-go/pkg/wire"
)

// harness is a running device server plus one connected controller socket.
type harness struct {
	server   *Server
	engine   *timer.Engine
	settings *persistence.SettingsStore
	conn     *transport.ClientConn
	frames   chan *wire.Decoded
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()
	settingsStore := persistence.NewSettingsStore(filepath.Join(dir, "settings.json"))
	sessionStore := persistence.NewSessionStore(filepath.Join(dir, "session.json"))

	engine, err := timer.NewEngine(timer.EngineConfig{
		Settings: timer.Settings{WarmupMinutes: 1, MatchMinutes: 2, BreakMinutes: 1},
	})
	require.NoError(t, err)

	authority, err := session.NewAuthority(session.AuthorityConfig{Store: sessionStore})
	require.NoError(t, err)

	server, err := NewServer(ServerConfig{
		DeviceID:   "court-1",
		DeviceName: "Court 1",
		Address:    "127.0.0.1:0",
		Engine:     engine,
		Authority:  authority,
		Settings:   settingsStore,
		Assets:     asset.NewStore(filepath.Join(dir, "audio"), zerolog.Nop()),
	})
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { server.Stop() })

	h := &harness{
		server:   server,
		engine:   engine,
		settings: settingsStore,
		frames:   make(chan *wire.Decoded, 64),
	}

	h.conn, err = transport.Dial(context.Background(), transport.ClientConfig{
		URL: fmt.Sprintf("ws://%s/ws", server.Addr().String()),
		OnMessage: func(msg []byte) {
			if decoded, err := wire.Decode(msg); err == nil {
				h.frames <- decoded
			}
		},
	})
	require.NoError(t, err)
	t.Cleanup(h.conn.Close)

	return h
}

// send encodes and delivers one command frame.
func (h *harness) send(t *testing.T, typ wire.MessageType, commandID string, payload any) {
	t.Helper()
	env := wire.NewEnvelope(typ)
	env.CommandID = commandID
	data, err := wire.Encode(env, payload)
	require.NoError(t, err)
	require.NoError(t, h.conn.Send(data))
}

// await returns the next frame of the wanted type, skipping the periodic
// state broadcasts unless those are what is asked for.
func (h *harness) await(t *testing.T, typ wire.MessageType) *wire.Decoded {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case frame := <-h.frames:
			if frame.Envelope.Type == typ {
				return frame
			}
		case <-deadline:
			t.Fatalf("no %s frame arrived", typ)
			return nil
		}
	}
}

func TestServerSendsInitialState(t *testing.T) {
	h := newHarness(t)

	frame := h.await(t, wire.TypeStateUpdate)
	assert.Equal(t, "court-1", frame.Envelope.DeviceID)
	assert.Equal(t, "WARMUP", frame.TimerState.Phase)
	assert.Equal(t, 60, frame.TimerState.TimeLeftSeconds)
	assert.False(t, frame.TimerState.IsRunning)
}

func TestServerStartIsIdempotent(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.server.Start(context.Background()))
	assert.Equal(t, StateListening, h.server.State())
}

func TestTimerCommandsAreAcked(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.TypeStartTimer, "c1", nil)
	ack := h.await(t, wire.TypeCommandAck)
	assert.Equal(t, "c1", ack.Ack.CommandID)
	assert.True(t, h.engine.State().IsRunning)

	h.send(t, wire.TypePauseTimer, "c2", nil)
	ack = h.await(t, wire.TypeCommandAck)
	assert.Equal(t, "c2", ack.Ack.CommandID)
	assert.True(t, h.engine.State().IsPaused)

	h.send(t, wire.TypeResumeTimer, "c3", nil)
	h.await(t, wire.TypeCommandAck)
	assert.True(t, h.engine.State().IsRunning)

	h.send(t, wire.TypeRestartTimer, "c4", nil)
	h.await(t, wire.TypeCommandAck)
	state := h.engine.State()
	assert.Equal(t, timer.PhaseWarmup, state.Phase)
	assert.True(t, state.IsRunning)
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.MessageType("SELF_DESTRUCT"), "c1", nil)

	reply := h.await(t, wire.TypeCommandError)
	assert.Equal(t, wire.CodeUnknownCommand, reply.Err.Code)
	assert.Equal(t, "c1", reply.Err.CommandID)
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.conn.Send([]byte("this is not json")))

	// The connection must survive and keep serving commands.
	h.send(t, wire.TypeGetDeviceInfo, "", nil)
	info := h.await(t, wire.TypeDeviceInfo)
	assert.Equal(t, "court-1", info.DeviceInfo.DeviceID)
	assert.Equal(t, "Court 1", info.DeviceInfo.Name)
}

func TestSetEmergencyTime(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.TypeSetEmergencyTime, "c1", wire.EmergencyTimePayload{Minutes: 1, Seconds: 30})
	h.await(t, wire.TypeCommandAck)
	assert.Equal(t, 90, h.engine.State().TimeLeftSeconds)

	h.send(t, wire.TypeSetEmergencyTime, "c2", wire.EmergencyTimePayload{Minutes: -1})
	reply := h.await(t, wire.TypeCommandError)
	assert.Equal(t, wire.CodeInvalidPayload, reply.Err.Code)
}

func TestSetSyncMode(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.TypeSetSyncMode, "c1", wire.SyncModePayload{Mode: wire.SyncModeIndependent})
	h.await(t, wire.TypeCommandAck)
	assert.Equal(t, wire.SyncModeIndependent, h.server.SyncMode())

	h.send(t, wire.TypeSetSyncMode, "c2", wire.SyncModePayload{Mode: "sideways"})
	reply := h.await(t, wire.TypeCommandError)
	assert.Equal(t, wire.CodeInvalidMode, reply.Err.Code)
	assert.Equal(t, wire.SyncModeIndependent, h.server.SyncMode())
}

func TestSyncTimerStateApplied(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.TypeSyncTimerState, "c1", wire.TimerStatePayload{
		Phase:           "MATCH",
		TimeLeftSeconds: 42,
		IsRunning:       true,
	})
	h.await(t, wire.TypeCommandAck)

	state := h.engine.State()
	assert.Equal(t, timer.PhaseMatch, state.Phase)
	assert.Equal(t, 42, state.TimeLeftSeconds)
	assert.True(t, state.IsRunning)
}

func TestSyncTimerStateIgnoredWhenIndependent(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.TypeSetSyncMode, "c1", wire.SyncModePayload{Mode: wire.SyncModeIndependent})
	h.await(t, wire.TypeCommandAck)

	h.send(t, wire.TypeSyncTimerState, "c2", wire.TimerStatePayload{
		Phase:           "MATCH",
		TimeLeftSeconds: 42,
		IsRunning:       true,
	})
	ack := h.await(t, wire.TypeCommandAck)
	assert.Equal(t, "c2", ack.Ack.CommandID)

	// Acked but not applied.
	state := h.engine.State()
	assert.Equal(t, timer.PhaseWarmup, state.Phase)
	assert.False(t, state.IsRunning)
}

func TestSyncTimerStateBadPhase(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.TypeSyncTimerState, "c1", wire.TimerStatePayload{Phase: "HALFTIME"})
	reply := h.await(t, wire.TypeCommandError)
	assert.Equal(t, wire.CodeInvalidPayload, reply.Err.Code)
}

func TestUpdateSettingsPartialMerge(t *testing.T) {
	h := newHarness(t)

	minutes := 45
	h.send(t, wire.TypeUpdateSettings, "c1", wire.SettingsPayload{MatchMinutes: &minutes})
	h.await(t, wire.TypeCommandAck)

	settings := h.engine.Settings()
	assert.Equal(t, 45, settings.MatchMinutes)
	assert.Equal(t, 1, settings.WarmupMinutes, "unset fields must survive a partial update")

	// The write must be durable.
	persisted, err := h.settings.Load()
	require.NoError(t, err)
	assert.Equal(t, 45, persisted.MatchMinutes)
}

func TestUpdateSettingsInvalid(t *testing.T) {
	h := newHarness(t)

	zero := 0
	h.send(t, wire.TypeUpdateSettings, "c1", wire.SettingsPayload{MatchMinutes: &zero})
	reply := h.await(t, wire.TypeCommandError)
	assert.Equal(t, wire.CodeInvalidPayload, reply.Err.Code)
}

func TestSyncSettingsIgnoredWhenIndependent(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.TypeSetSyncMode, "c1", wire.SyncModePayload{Mode: wire.SyncModeIndependent})
	h.await(t, wire.TypeCommandAck)

	minutes := 7
	h.send(t, wire.TypeSyncSettings, "c2", wire.SettingsPayload{MatchMinutes: &minutes})
	h.await(t, wire.TypeCommandAck)

	assert.Equal(t, 2, h.engine.Settings().MatchMinutes)
}

func TestGetSettings(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.TypeGetSettings, "", nil)
	reply := h.await(t, wire.TypeSettingsResponse)

	require.NotNil(t, reply.Settings.MatchMinutes)
	assert.Equal(t, 2, *reply.Settings.MatchMinutes)
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.TypeCreateSession, "c1", wire.CreateSessionPayload{Password: "pw", Owner: "referee"})
	h.await(t, wire.TypeCommandAck)

	status := h.await(t, wire.TypeSessionStatus)
	assert.True(t, status.SessionStatus.Active)
	assert.True(t, status.SessionStatus.Protected)
	assert.Equal(t, "referee", status.SessionStatus.Owner)

	h.send(t, wire.TypeEndSession, "c2", nil)
	h.await(t, wire.TypeCommandAck)

	h.send(t, wire.TypeGetSessionStatus, "", nil)
	status = h.await(t, wire.TypeSessionStatus)
	assert.False(t, status.SessionStatus.Active)
}

func TestAuthRequestNoSession(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.TypeAuthRequest, "", wire.AuthRequestPayload{ControllerID: "ctl-1"})
	reply := h.await(t, wire.TypeAuthResponse)

	assert.False(t, reply.AuthResponse.Authorized)
	assert.Equal(t, wire.CodeNoActiveSession, reply.AuthResponse.Code)
	assert.Equal(t, "ctl-1", reply.AuthResponse.ControllerID)
}

func TestAuthRequestPasswordFlow(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.TypeCreateSession, "c1", wire.CreateSessionPayload{Password: "pw"})
	h.await(t, wire.TypeCommandAck)

	h.send(t, wire.TypeAuthRequest, "", wire.AuthRequestPayload{ControllerID: "ctl-1", Password: "wrong"})
	reply := h.await(t, wire.TypeAuthResponse)
	assert.False(t, reply.AuthResponse.Authorized)
	assert.Equal(t, wire.CodeInvalidPassword, reply.AuthResponse.Code)

	h.send(t, wire.TypeAuthRequest, "", wire.AuthRequestPayload{ControllerID: "ctl-1", Password: "pw"})
	reply = h.await(t, wire.TypeAuthResponse)
	assert.True(t, reply.AuthResponse.Authorized)
	assert.NotEmpty(t, reply.AuthResponse.SessionID)
}

func TestUploadAudioInvalidBase64(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.TypeUploadAudio, "c1", wire.UploadAudioPayload{
		AudioType: "start",
		FileName:  "cue.mp3",
		Data:      "not-base64!!!",
	})
	reply := h.await(t, wire.TypeCommandError)
	assert.Equal(t, wire.CodeInvalidPayload, reply.Err.Code)
}

func TestUploadAudioUndecodableContent(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.TypeUploadAudio, "c1", wire.UploadAudioPayload{
		AudioType: "start",
		FileName:  "cue.mp3",
		Data:      base64.StdEncoding.EncodeToString([]byte("not mpeg audio")),
	})
	reply := h.await(t, wire.TypeCommandError)
	assert.Equal(t, wire.CodeInvalidAudio, reply.Err.Code)
}

func TestUploadAudioWrongExtension(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.TypeUploadAudio, "c1", wire.UploadAudioPayload{
		AudioType: "start",
		FileName:  "cue.wav",
		Data:      base64.StdEncoding.EncodeToString([]byte("riff")),
	})
	reply := h.await(t, wire.TypeCommandError)
	assert.Equal(t, wire.CodeInvalidAudio, reply.Err.Code)
}

func TestDeleteAudioIsIdempotent(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.TypeDeleteAudio, "c1", wire.DeleteAudioPayload{AudioType: "end"})
	ack := h.await(t, wire.TypeCommandAck)
	assert.Equal(t, "c1", ack.Ack.CommandID)

	h.send(t, wire.TypeDeleteAudio, "c2", wire.DeleteAudioPayload{AudioType: "end"})
	ack = h.await(t, wire.TypeCommandAck)
	assert.Equal(t, "c2", ack.Ack.CommandID)
}

func TestDeleteAudioUnknownSlot(t *testing.T) {
	h := newHarness(t)

	h.send(t, wire.TypeDeleteAudio, "c1", wire.DeleteAudioPayload{AudioType: "halftime"})
	reply := h.await(t, wire.TypeCommandError)
	assert.Equal(t, wire.CodeInvalidAudio, reply.Err.Code)
}

func TestMutationBroadcastsState(t *testing.T) {
	h := newHarness(t)
	h.await(t, wire.TypeStateUpdate) // initial push

	h.send(t, wire.TypeStartTimer, "c1", nil)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case frame := <-h.frames:
			if frame.Envelope.Type == wire.TypeStateUpdate && frame.TimerState.IsRunning {
				return
			}
		case <-deadline:
			t.Fatal("running state never broadcast")
		}
	}
}
