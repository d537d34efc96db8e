package wire

import (
	"encoding/json"
	"fmt"
)

// Decoded is an Envelope plus its payload narrowed to the concrete type for
// the envelope's message type. Exactly one payload field is non-nil for types
// that define a payload; command types without payloads leave all fields nil.
type Decoded struct {
	Envelope Envelope

	EmergencyTime *EmergencyTimePayload
	SyncModeReq   *SyncModePayload
	Settings      *SettingsPayload
	TimerState    *TimerStatePayload
	CreateSession *CreateSessionPayload
	AuthRequest   *AuthRequestPayload
	AuthResponse  *AuthResponsePayload
	SessionStatus *SessionStatusPayload
	UploadAudio   *UploadAudioPayload
	DeleteAudio   *DeleteAudioPayload
	Ack           *AckPayload
	Err           *ErrPayload
	DeviceInfo    *DeviceInfoPayload

	// Known reports whether the message type is part of the vocabulary.
	// Unknown types still decode so the receiver can reply UNKNOWN_COMMAND.
	Known bool
}

// Encode serializes an envelope with the given payload into a single JSON
// text frame.
func Encode(env Envelope, payload any) ([]byte, error) {
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", env.Type, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Type, err)
	}
	return data, nil
}

// Decode parses a JSON text frame and narrows its payload by message type.
// It fails closed: a frame that is not a JSON object, lacks a type, or
// carries a payload that does not match its type's shape returns an error
// and must not be routed further.
func Decode(data []byte) (*Decoded, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type")
	}

	d := &Decoded{Envelope: env, Known: true}

	unmarshal := func(dst any) error {
		if len(env.Payload) == 0 {
			return fmt.Errorf("decode %s: missing payload", env.Type)
		}
		if err := json.Unmarshal(env.Payload, dst); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		return nil
	}

	switch env.Type {
	case TypeStartTimer, TypePauseTimer, TypeResumeTimer, TypeRestartTimer,
		TypeGetSettings, TypeGetSessionStatus, TypeEndSession, TypeGetDeviceInfo:
		// No payload.

	case TypeSetEmergencyTime:
		d.EmergencyTime = &EmergencyTimePayload{}
		if err := unmarshal(d.EmergencyTime); err != nil {
			return nil, err
		}

	case TypeSetSyncMode:
		d.SyncModeReq = &SyncModePayload{}
		if err := unmarshal(d.SyncModeReq); err != nil {
			return nil, err
		}

	case TypeUpdateSettings, TypeSyncSettings, TypeSettingsResponse:
		d.Settings = &SettingsPayload{}
		if err := unmarshal(d.Settings); err != nil {
			return nil, err
		}

	case TypeSyncTimerState, TypeStateUpdate:
		d.TimerState = &TimerStatePayload{}
		if err := unmarshal(d.TimerState); err != nil {
			return nil, err
		}

	case TypeCreateSession:
		// Payload optional: CREATE_SESSION with no payload is unprotected.
		d.CreateSession = &CreateSessionPayload{}
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, d.CreateSession); err != nil {
				return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
			}
		}

	case TypeAuthRequest:
		d.AuthRequest = &AuthRequestPayload{}
		if err := unmarshal(d.AuthRequest); err != nil {
			return nil, err
		}
		if d.AuthRequest.ControllerID == "" {
			return nil, fmt.Errorf("decode %s: missing controllerId", env.Type)
		}

	case TypeAuthResponse:
		d.AuthResponse = &AuthResponsePayload{}
		if err := unmarshal(d.AuthResponse); err != nil {
			return nil, err
		}

	case TypeSessionStatus:
		d.SessionStatus = &SessionStatusPayload{}
		if err := unmarshal(d.SessionStatus); err != nil {
			return nil, err
		}

	case TypeUploadAudio:
		d.UploadAudio = &UploadAudioPayload{}
		if err := unmarshal(d.UploadAudio); err != nil {
			return nil, err
		}

	case TypeDeleteAudio:
		d.DeleteAudio = &DeleteAudioPayload{}
		if err := unmarshal(d.DeleteAudio); err != nil {
			return nil, err
		}

	case TypeCommandAck:
		d.Ack = &AckPayload{}
		if err := unmarshal(d.Ack); err != nil {
			return nil, err
		}

	case TypeCommandError:
		d.Err = &ErrPayload{}
		if err := unmarshal(d.Err); err != nil {
			return nil, err
		}

	case TypeDeviceInfo:
		d.DeviceInfo = &DeviceInfoPayload{}
		if err := unmarshal(d.DeviceInfo); err != nil {
			return nil, err
		}

	default:
		d.Known = false
	}

	return d, nil
}

// EncodeAck builds a COMMAND_ACK frame for the given device and command.
func EncodeAck(deviceID, commandID string) ([]byte, error) {
	env := NewEnvelope(TypeCommandAck)
	env.DeviceID = deviceID
	return Encode(env, AckPayload{CommandID: commandID, Status: "success"})
}

// EncodeError builds a COMMAND_ERROR frame for the given device and command.
func EncodeError(deviceID, commandID string, code ErrorCode, message string) ([]byte, error) {
	env := NewEnvelope(TypeCommandError)
	env.DeviceID = deviceID
	return Encode(env, ErrPayload{CommandID: commandID, Code: code, Message: message})
}
