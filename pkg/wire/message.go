package wire

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of frame carried by an Envelope.
type MessageType string

// Commands (controller to device).
const (
	TypeStartTimer       MessageType = "START_TIMER"
	TypePauseTimer       MessageType = "PAUSE_TIMER"
	TypeResumeTimer      MessageType = "RESUME_TIMER"
	TypeRestartTimer     MessageType = "RESTART_TIMER"
	TypeSetEmergencyTime MessageType = "SET_EMERGENCY_TIME"
	TypeSetSyncMode      MessageType = "SET_SYNC_MODE"
	TypeGetSettings      MessageType = "GET_SETTINGS"
	TypeUpdateSettings   MessageType = "UPDATE_SETTINGS"
	TypeSyncSettings     MessageType = "SYNC_SETTINGS"
	TypeSyncTimerState   MessageType = "SYNC_TIMER_STATE"
	TypeCreateSession    MessageType = "CREATE_SESSION"
	TypeAuthRequest      MessageType = "AUTH_REQUEST"
	TypeGetSessionStatus MessageType = "GET_SESSION_STATUS"
	TypeEndSession       MessageType = "END_SESSION"
	TypeUploadAudio      MessageType = "UPLOAD_AUDIO"
	TypeDeleteAudio      MessageType = "DELETE_AUDIO"
	TypeGetDeviceInfo    MessageType = "GET_DEVICE_INFO"
)

// Events (device to controller).
const (
	TypeStateUpdate      MessageType = "STATE_UPDATE"
	TypeSettingsResponse MessageType = "SETTINGS_RESPONSE"
	TypeSessionStatus    MessageType = "SESSION_STATUS"
	TypeAuthResponse     MessageType = "AUTH_RESPONSE"
	TypeCommandAck       MessageType = "COMMAND_ACK"
	TypeCommandError     MessageType = "COMMAND_ERROR"
	TypeDeviceInfo       MessageType = "DEVICE_INFO"
)

// ErrorCode classifies a COMMAND_ERROR or failed AUTH_RESPONSE.
type ErrorCode string

const (
	CodeUnknownCommand   ErrorCode = "UNKNOWN_COMMAND"
	CodeInvalidMode      ErrorCode = "INVALID_MODE"
	CodeInvalidPayload   ErrorCode = "INVALID_PAYLOAD"
	CodeProcessingError  ErrorCode = "PROCESSING_ERROR"
	CodeNoActiveSession  ErrorCode = "NO_ACTIVE_SESSION"
	CodeInvalidPassword  ErrorCode = "INVALID_PASSWORD"
	CodeRateLimited      ErrorCode = "RATE_LIMITED"
	CodeInvalidAudio     ErrorCode = "INVALID_AUDIO"
	CodeFileTooLarge     ErrorCode = "FILE_TOO_LARGE"
	CodeDurationExceeded ErrorCode = "DURATION_EXCEEDED"
	CodeStorageError     ErrorCode = "STORAGE_ERROR"
)

// SyncMode selects how a device treats incoming sync traffic.
type SyncMode string

const (
	// SyncModeCentralized means the device follows a controller-elected master.
	SyncModeCentralized SyncMode = "centralized"

	// SyncModeIndependent means the device runs its own clock untouched.
	SyncModeIndependent SyncMode = "independent"
)

// IsValid reports whether m is a known sync mode.
func (m SyncMode) IsValid() bool {
	return m == SyncModeCentralized || m == SyncModeIndependent
}

// Envelope is the wire-level wrapper around every frame.
//
// JSON encoding:
//
//	{
//	  "type":      "START_TIMER",
//	  "timestamp": 1712345678901,
//	  "deviceId":  "court-1",        // optional, set on device-originated frames
//	  "commandId": "a2f...",          // optional, correlates command and reply
//	  "payload":   { ... }            // type-specific
//	}
type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp"`
	DeviceID  string          `json:"deviceId,omitempty"`
	CommandID string          `json:"commandId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope creates an envelope stamped with the current wall clock.
func NewEnvelope(t MessageType) Envelope {
	return Envelope{Type: t, Timestamp: time.Now().UnixMilli()}
}

// EmergencyTimePayload carries SET_EMERGENCY_TIME.
type EmergencyTimePayload struct {
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// SyncModePayload carries SET_SYNC_MODE.
type SyncModePayload struct {
	Mode         SyncMode `json:"mode"`
	ControllerID string   `json:"controllerId,omitempty"`
}

// SettingsPayload carries UPDATE_SETTINGS, SYNC_SETTINGS and
// SETTINGS_RESPONSE. Pointer fields distinguish absent from zero so a
// partial update does not clobber unrelated settings.
type SettingsPayload struct {
	WarmupMinutes             *int    `json:"warmupMinutes,omitempty"`
	MatchMinutes              *int    `json:"matchMinutes,omitempty"`
	BreakMinutes              *int    `json:"breakMinutes,omitempty"`
	StartSoundURI             *string `json:"startSoundUri,omitempty"`
	EndSoundURI               *string `json:"endSoundUri,omitempty"`
	StartSoundDurationSeconds *int    `json:"startSoundDurationSeconds,omitempty"`
	EndSoundDurationSeconds   *int    `json:"endSoundDurationSeconds,omitempty"`
	TimerFontSize             *int    `json:"timerFontSize,omitempty"`
	PhaseFontSize             *int    `json:"phaseFontSize,omitempty"`
	TimerColor                *string `json:"timerColor,omitempty"`
	BackgroundColor           *string `json:"backgroundColor,omitempty"`
}

// TimerStatePayload carries STATE_UPDATE and SYNC_TIMER_STATE.
type TimerStatePayload struct {
	Phase           string `json:"phase"`
	TimeLeftSeconds int    `json:"timeLeftSeconds"`
	IsRunning       bool   `json:"isRunning"`
	IsPaused        bool   `json:"isPaused,omitempty"`
}

// CreateSessionPayload carries CREATE_SESSION. A blank password creates an
// unprotected session.
type CreateSessionPayload struct {
	Password string `json:"password,omitempty"`
	Owner    string `json:"owner,omitempty"`
}

// AuthRequestPayload carries AUTH_REQUEST.
type AuthRequestPayload struct {
	ControllerID string `json:"controllerId"`
	Password     string `json:"password,omitempty"`
}

// AuthResponsePayload carries AUTH_RESPONSE.
type AuthResponsePayload struct {
	Authorized   bool      `json:"authorized"`
	ControllerID string    `json:"controllerId"`
	SessionID    string    `json:"sessionId,omitempty"`
	Code         ErrorCode `json:"code,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// SessionStatusPayload carries SESSION_STATUS.
type SessionStatusPayload struct {
	Active                bool     `json:"active"`
	Protected             bool     `json:"protected"`
	SessionID             string   `json:"sessionId,omitempty"`
	Owner                 string   `json:"owner,omitempty"`
	AuthorizedControllers []string `json:"authorizedControllers,omitempty"`
}

// UploadAudioPayload carries UPLOAD_AUDIO. Data is standard base64.
type UploadAudioPayload struct {
	AudioType string `json:"audioType"`
	FileName  string `json:"fileName"`
	Data      string `json:"data"`
}

// DeleteAudioPayload carries DELETE_AUDIO.
type DeleteAudioPayload struct {
	AudioType string `json:"audioType"`
}

// AckPayload carries COMMAND_ACK. DurationSeconds is set on audio upload
// acks so the controller can show the measured length.
type AckPayload struct {
	CommandID       string `json:"commandId,omitempty"`
	Status          string `json:"status"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
}

// ErrPayload carries COMMAND_ERROR.
type ErrPayload struct {
	CommandID string    `json:"commandId,omitempty"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message,omitempty"`
}

// DeviceInfoPayload carries DEVICE_INFO.
type DeviceInfoPayload struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
	Version  string `json:"version,omitempty"`
}
