package device

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/matchclock-protocol/matchclock-go/pkg/asset"
	"github.com/matchclock-protocol/matchclock-go/pkg/session"
	"github.com/matchclock-protocol/matchclock-go/pkg/timer"
	"github.com/matchclock-protocol/matchclock-go/pkg/transport"
	"github.com/matchclock-protocol/matchclock-go/pkg/version"
	"github.com/matchclock-protocol/matchclock-go/pkg/wire"
)

// handleFrame is the entry point for every inbound frame. Decode failures
// are logged and swallowed (the connection stays open, nothing is routed);
// handler panics become PROCESSING_ERROR replies.
func (s *Server) handleFrame(conn *transport.ServerConn, msg []byte) {
	decoded, err := wire.Decode(msg)
	if err != nil {
		s.log.Warn().Str("conn_id", conn.ID()).Err(err).Msg("malformed frame dropped")
		return
	}

	commandID := decoded.Envelope.CommandID

	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("conn_id", conn.ID()).Str("type", string(decoded.Envelope.Type)).Interface("panic", r).Msg("handler panic recovered")
			s.commandError(conn, commandID, wire.CodeProcessingError, fmt.Sprint(r))
		}
	}()

	if !decoded.Known {
		s.commandError(conn, commandID, wire.CodeUnknownCommand, string(decoded.Envelope.Type))
		return
	}

	switch decoded.Envelope.Type {
	case wire.TypeStartTimer:
		s.config.Engine.Start()
		s.ack(conn, commandID)

	case wire.TypePauseTimer:
		s.config.Engine.Pause()
		s.ack(conn, commandID)

	case wire.TypeResumeTimer:
		s.config.Engine.Resume()
		s.ack(conn, commandID)

	case wire.TypeRestartTimer:
		s.config.Engine.Restart()
		s.ack(conn, commandID)

	case wire.TypeSetEmergencyTime:
		if err := s.config.Engine.SetEmergencyTime(decoded.EmergencyTime.Minutes, decoded.EmergencyTime.Seconds); err != nil {
			s.commandError(conn, commandID, wire.CodeInvalidPayload, err.Error())
			return
		}
		s.ack(conn, commandID)

	case wire.TypeSetSyncMode:
		s.handleSetSyncMode(conn, commandID, decoded.SyncModeReq)

	case wire.TypeGetSettings:
		s.sendSettings(conn)

	case wire.TypeUpdateSettings, wire.TypeSyncSettings:
		s.handleSettingsWrite(conn, commandID, decoded)

	case wire.TypeSyncTimerState:
		s.handleSyncTimerState(conn, commandID, decoded.TimerState)

	case wire.TypeCreateSession:
		s.handleCreateSession(conn, commandID, decoded.CreateSession)

	case wire.TypeAuthRequest:
		s.handleAuthRequest(conn, decoded.AuthRequest)

	case wire.TypeGetSessionStatus:
		s.sendSessionStatus(conn)

	case wire.TypeEndSession:
		if err := s.config.Authority.End(); err != nil {
			s.commandError(conn, commandID, wire.CodeProcessingError, err.Error())
			return
		}
		s.ack(conn, commandID)

	case wire.TypeUploadAudio:
		s.handleUploadAudio(conn, commandID, decoded.UploadAudio)

	case wire.TypeDeleteAudio:
		s.handleDeleteAudio(conn, commandID, decoded.DeleteAudio)

	case wire.TypeGetDeviceInfo:
		s.event(conn, wire.TypeDeviceInfo, wire.DeviceInfoPayload{
			DeviceID: s.config.DeviceID,
			Name:     s.config.DeviceName,
			Version:  version.Current,
		})

	default:
		// Event types addressed to a device make no sense as commands.
		s.commandError(conn, commandID, wire.CodeUnknownCommand, string(decoded.Envelope.Type))
	}
}

func (s *Server) handleSetSyncMode(conn *transport.ServerConn, commandID string, p *wire.SyncModePayload) {
	if p == nil || p.Mode == "" {
		s.commandError(conn, commandID, wire.CodeInvalidPayload, "missing mode")
		return
	}
	if !p.Mode.IsValid() {
		s.commandError(conn, commandID, wire.CodeInvalidMode, string(p.Mode))
		return
	}

	s.mu.Lock()
	s.syncMode = p.Mode
	s.mu.Unlock()

	s.log.Info().Str("mode", string(p.Mode)).Str("controller_id", p.ControllerID).Msg("sync mode set")
	s.ack(conn, commandID)
}

func (s *Server) handleSettingsWrite(conn *transport.ServerConn, commandID string, decoded *wire.Decoded) {
	// A device set to independent still acknowledges sync frames but does
	// not apply them; the controller's fan-out must not fail on it.
	if decoded.Envelope.Type == wire.TypeSyncSettings && s.SyncMode() == wire.SyncModeIndependent {
		s.ack(conn, commandID)
		return
	}

	merged := mergeSettings(s.config.Engine.Settings(), decoded.Settings)
	if err := s.config.Engine.UpdateSettings(merged); err != nil {
		s.commandError(conn, commandID, wire.CodeInvalidPayload, err.Error())
		return
	}
	if err := s.config.Settings.Save(merged); err != nil {
		s.commandError(conn, commandID, wire.CodeStorageError, err.Error())
		return
	}
	s.ack(conn, commandID)
}

func (s *Server) handleSyncTimerState(conn *transport.ServerConn, commandID string, p *wire.TimerStatePayload) {
	if s.SyncMode() == wire.SyncModeIndependent {
		s.ack(conn, commandID)
		return
	}

	phase, err := timer.ParsePhase(p.Phase)
	if err != nil {
		s.commandError(conn, commandID, wire.CodeInvalidPayload, err.Error())
		return
	}
	s.config.Engine.ApplySync(phase, p.TimeLeftSeconds, p.IsRunning)
	s.ack(conn, commandID)
}

func (s *Server) handleCreateSession(conn *transport.ServerConn, commandID string, p *wire.CreateSessionPayload) {
	state, err := s.config.Authority.Create(p.Password, p.Owner)
	if err != nil {
		s.commandError(conn, commandID, wire.CodeProcessingError, err.Error())
		return
	}
	s.ack(conn, commandID)
	s.event(conn, wire.TypeSessionStatus, sessionStatusPayload(state))
}

// handleAuthRequest maps authority results onto AUTH_RESPONSE. Failures are
// replies, never faults.
func (s *Server) handleAuthRequest(conn *transport.ServerConn, p *wire.AuthRequestPayload) {
	state, err := s.config.Authority.Authenticate(p.ControllerID, p.Password)

	resp := wire.AuthResponsePayload{ControllerID: p.ControllerID}
	switch {
	case err == nil:
		resp.Authorized = true
		resp.SessionID = state.SessionID
	case errors.Is(err, session.ErrRateLimited):
		resp.Code = wire.CodeRateLimited
		resp.Message = err.Error()
	case errors.Is(err, session.ErrNoActiveSession):
		resp.Code = wire.CodeNoActiveSession
		resp.Message = err.Error()
	case errors.Is(err, session.ErrInvalidPassword):
		resp.Code = wire.CodeInvalidPassword
		resp.Message = err.Error()
	default:
		resp.Code = wire.CodeProcessingError
		resp.Message = err.Error()
	}

	s.event(conn, wire.TypeAuthResponse, resp)
}

func (s *Server) sendSessionStatus(conn *transport.ServerConn) {
	s.event(conn, wire.TypeSessionStatus, sessionStatusPayload(s.config.Authority.Status()))
}

func (s *Server) sendSettings(conn *transport.ServerConn) {
	s.event(conn, wire.TypeSettingsResponse, settingsPayload(s.config.Engine.Settings()))
}

func (s *Server) handleUploadAudio(conn *transport.ServerConn, commandID string, p *wire.UploadAudioPayload) {
	audioType := asset.AudioType(p.AudioType)
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		s.commandError(conn, commandID, wire.CodeInvalidPayload, "invalid base64 data")
		return
	}

	path, info, err := s.config.Assets.Save(audioType, p.FileName, data)
	if err != nil {
		s.commandError(conn, commandID, assetErrorCode(err), err.Error())
		return
	}

	settings := s.config.Engine.Settings()
	switch audioType {
	case asset.AudioStart:
		settings.StartSoundURI = path
		settings.StartSoundDurationSeconds = info.DurationSeconds
	case asset.AudioEnd:
		settings.EndSoundURI = path
		settings.EndSoundDurationSeconds = info.DurationSeconds
	}
	if err := s.config.Engine.UpdateSettings(settings); err != nil {
		s.commandError(conn, commandID, wire.CodeProcessingError, err.Error())
		return
	}
	if err := s.config.Settings.Save(settings); err != nil {
		s.commandError(conn, commandID, wire.CodeStorageError, err.Error())
		return
	}

	env := wire.NewEnvelope(wire.TypeCommandAck)
	env.DeviceID = s.config.DeviceID
	reply, err := wire.Encode(env, wire.AckPayload{
		CommandID:       commandID,
		Status:          "success",
		DurationSeconds: info.DurationSeconds,
	})
	s.send(conn, reply, err)
}

func (s *Server) handleDeleteAudio(conn *transport.ServerConn, commandID string, p *wire.DeleteAudioPayload) {
	audioType := asset.AudioType(p.AudioType)
	if err := s.config.Assets.Delete(audioType); err != nil {
		s.commandError(conn, commandID, assetErrorCode(err), err.Error())
		return
	}

	settings := s.config.Engine.Settings()
	switch audioType {
	case asset.AudioStart:
		settings.StartSoundURI = ""
		settings.StartSoundDurationSeconds = 0
	case asset.AudioEnd:
		settings.EndSoundURI = ""
		settings.EndSoundDurationSeconds = 0
	}
	if err := s.config.Engine.UpdateSettings(settings); err != nil {
		s.commandError(conn, commandID, wire.CodeProcessingError, err.Error())
		return
	}
	if err := s.config.Settings.Save(settings); err != nil {
		s.commandError(conn, commandID, wire.CodeStorageError, err.Error())
		return
	}
	s.ack(conn, commandID)
}

func assetErrorCode(err error) wire.ErrorCode {
	switch {
	case errors.Is(err, asset.ErrFileTooLarge):
		return wire.CodeFileTooLarge
	case errors.Is(err, asset.ErrDurationExceeded):
		return wire.CodeDurationExceeded
	case errors.Is(err, asset.ErrNotMP3), errors.Is(err, asset.ErrInvalidAudioType):
		return wire.CodeInvalidAudio
	default:
		return wire.CodeStorageError
	}
}

// mergeSettings overlays the non-nil payload fields onto cur.
func mergeSettings(cur timer.Settings, p *wire.SettingsPayload) timer.Settings {
	if p == nil {
		return cur
	}
	if p.WarmupMinutes != nil {
		cur.WarmupMinutes = *p.WarmupMinutes
	}
	if p.MatchMinutes != nil {
		cur.MatchMinutes = *p.MatchMinutes
	}
	if p.BreakMinutes != nil {
		cur.BreakMinutes = *p.BreakMinutes
	}
	if p.StartSoundURI != nil {
		cur.StartSoundURI = *p.StartSoundURI
	}
	if p.EndSoundURI != nil {
		cur.EndSoundURI = *p.EndSoundURI
	}
	if p.StartSoundDurationSeconds != nil {
		cur.StartSoundDurationSeconds = *p.StartSoundDurationSeconds
	}
	if p.EndSoundDurationSeconds != nil {
		cur.EndSoundDurationSeconds = *p.EndSoundDurationSeconds
	}
	if p.TimerFontSize != nil {
		cur.TimerFontSize = *p.TimerFontSize
	}
	if p.PhaseFontSize != nil {
		cur.PhaseFontSize = *p.PhaseFontSize
	}
	if p.TimerColor != nil {
		cur.TimerColor = *p.TimerColor
	}
	if p.BackgroundColor != nil {
		cur.BackgroundColor = *p.BackgroundColor
	}
	return cur
}

// settingsPayload converts settings to their wire form.
func settingsPayload(s timer.Settings) wire.SettingsPayload {
	return wire.SettingsPayload{
		WarmupMinutes:             &s.WarmupMinutes,
		MatchMinutes:              &s.MatchMinutes,
		BreakMinutes:              &s.BreakMinutes,
		StartSoundURI:             &s.StartSoundURI,
		EndSoundURI:               &s.EndSoundURI,
		StartSoundDurationSeconds: &s.StartSoundDurationSeconds,
		EndSoundDurationSeconds:   &s.EndSoundDurationSeconds,
		TimerFontSize:             &s.TimerFontSize,
		PhaseFontSize:             &s.PhaseFontSize,
		TimerColor:                &s.TimerColor,
		BackgroundColor:           &s.BackgroundColor,
	}
}

// sessionStatusPayload converts session state to its wire form, never
// exposing the password hash.
func sessionStatusPayload(s session.State) wire.SessionStatusPayload {
	return wire.SessionStatusPayload{
		Active:                s.Active,
		Protected:             s.Protected,
		SessionID:             s.SessionID,
		Owner:                 s.Owner,
		AuthorizedControllers: s.AuthorizedControllers,
	}
}
