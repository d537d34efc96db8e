package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/matchclock-protocol/matchclock-go/pkg/wire"
)

// TimerCommand is a user-issued clock command eligible for fan-out.
type TimerCommand wire.MessageType

// Fan-out eligible commands.
const (
	CommandStart   = TimerCommand(wire.TypeStartTimer)
	CommandPause   = TimerCommand(wire.TypePauseTimer)
	CommandResume  = TimerCommand(wire.TypeResumeTimer)
	CommandRestart = TimerCommand(wire.TypeRestartTimer)
)

// SendTimerCommand fans a clock command out to every connected device
// concurrently and collects the per-device ledger. The master/follower
// distinction does not gate command execution.
func (o *Orchestrator) SendTimerCommand(ctx context.Context, cmd TimerCommand) FanOutResult {
	return o.fanOut(ctx, wire.MessageType(cmd), nil)
}

// SetEmergencyTime fans an emergency time override out to every connected
// device.
func (o *Orchestrator) SetEmergencyTime(ctx context.Context, minutes, seconds int) FanOutResult {
	return o.fanOut(ctx, wire.TypeSetEmergencyTime, wire.EmergencyTimePayload{
		Minutes: minutes,
		Seconds: seconds,
	})
}

// SetSyncMode tells every connected device how to treat sync traffic.
func (o *Orchestrator) SetSyncMode(ctx context.Context, mode wire.SyncMode) FanOutResult {
	return o.fanOut(ctx, wire.TypeSetSyncMode, wire.SyncModePayload{
		Mode:         mode,
		ControllerID: o.config.ControllerID,
	})
}

// fanOut sends the same command to all connected devices simultaneously,
// awaiting each device's ack independently.
func (o *Orchestrator) fanOut(ctx context.Context, t wire.MessageType, payload any) FanOutResult {
	targets := o.connectedDeviceIDs()

	type outcome struct {
		deviceID string
		err      error
	}

	results := make(chan outcome, len(targets))
	var wg sync.WaitGroup
	for _, deviceID := range targets {
		wg.Add(1)
		go func(deviceID string) {
			defer wg.Done()
			results <- outcome{deviceID, o.awaitAck(ctx, deviceID, t, payload)}
		}(deviceID)
	}
	wg.Wait()
	close(results)

	var ledger FanOutResult
	for r := range results {
		if r.err == nil {
			ledger.Succeeded = append(ledger.Succeeded, r.deviceID)
		} else {
			ledger.Failed = append(ledger.Failed, r.deviceID)
			if ledger.FirstError == nil {
				ledger.FirstError = r.err
			}
		}
	}

	o.log.Info().Str("command", string(t)).Str("result", ledger.Summary()).Msg("fan-out complete")
	return ledger
}

// awaitAck sends one command and converts a COMMAND_ERROR reply to an error.
func (o *Orchestrator) awaitAck(ctx context.Context, deviceID string, t wire.MessageType, payload any) error {
	reply, err := o.sendAwait(ctx, deviceID, t, payload)
	if err != nil {
		return err
	}
	if reply.Err != nil {
		return fmt.Errorf("%s: %s", reply.Err.Code, reply.Err.Message)
	}
	return nil
}

// UpdateMasterSettings writes settings to the master only, then re-requests
// them after a short fixed delay to confirm the write landed. The delay is
// a timing assumption carried over from the protocol's origins, not a
// correlated confirmation.
func (o *Orchestrator) UpdateMasterSettings(ctx context.Context, settings wire.SettingsPayload) error {
	masterID := o.MasterDeviceID()
	if masterID == "" {
		return ErrNoMasterDevice
	}

	if err := o.awaitAck(ctx, masterID, wire.TypeUpdateSettings, settings); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.clock.After(o.config.SettingsConfirmDelay):
	}

	return o.sendTo(masterID, wire.TypeGetSettings, nil, "")
}

// SyncSettingsFromMaster pushes the cached master settings and timer state
// to every connected follower. If settings are not cached yet it requests
// them from the master and returns ErrSettingsNotCached; the user retries
// once the response has arrived.
func (o *Orchestrator) SyncSettingsFromMaster(ctx context.Context) (FanOutResult, error) {
	o.mu.Lock()
	masterID := o.masterDeviceID
	var settings *wire.SettingsPayload
	var state *wire.TimerStatePayload
	if o.lastKnownSettings != nil {
		s := *o.lastKnownSettings
		settings = &s
	}
	if o.lastKnownState != nil {
		s := *o.lastKnownState
		state = &s
	}
	o.mu.Unlock()

	if masterID == "" {
		return FanOutResult{}, ErrNoMasterDevice
	}
	if settings == nil {
		if err := o.sendTo(masterID, wire.TypeGetSettings, nil, ""); err != nil {
			return FanOutResult{}, err
		}
		return FanOutResult{}, ErrSettingsNotCached
	}

	var ledger FanOutResult
	for _, deviceID := range o.connectedDeviceIDs() {
		if deviceID == masterID {
			continue
		}

		err := o.awaitAck(ctx, deviceID, wire.TypeSyncSettings, *settings)
		if err == nil && state != nil {
			err = o.awaitAck(ctx, deviceID, wire.TypeSyncTimerState, *state)
		}

		if err == nil {
			ledger.Succeeded = append(ledger.Succeeded, deviceID)
		} else {
			ledger.Failed = append(ledger.Failed, deviceID)
			if ledger.FirstError == nil {
				ledger.FirstError = err
			}
		}
	}

	o.log.Info().Str("result", ledger.Summary()).Msg("follower reconciliation complete")
	return ledger, nil
}

// RequestSettings asks a device for its settings (the reply arrives as a
// SETTINGS_RESPONSE event).
func (o *Orchestrator) RequestSettings(deviceID string) error {
	return o.sendTo(deviceID, wire.TypeGetSettings, nil, "")
}

// CreateSession starts a session on one device.
func (o *Orchestrator) CreateSession(ctx context.Context, deviceID, password, owner string) error {
	return o.awaitAck(ctx, deviceID, wire.TypeCreateSession, wire.CreateSessionPayload{
		Password: password,
		Owner:    owner,
	})
}

// EndSession destroys the session on one device.
func (o *Orchestrator) EndSession(ctx context.Context, deviceID string) error {
	return o.awaitAck(ctx, deviceID, wire.TypeEndSession, nil)
}

// RequestSessionStatus asks a device for its session status (the reply
// arrives as a SESSION_STATUS event).
func (o *Orchestrator) RequestSessionStatus(deviceID string) error {
	return o.sendTo(deviceID, wire.TypeGetSessionStatus, nil, "")
}

// Authenticate sends this controller's credentials to one device. The
// result arrives as an AUTH_RESPONSE and is surfaced via OnAuthStatus.
func (o *Orchestrator) Authenticate(deviceID, password string) error {
	return o.sendTo(deviceID, wire.TypeAuthRequest, wire.AuthRequestPayload{
		ControllerID: o.config.ControllerID,
		Password:     password,
	}, "")
}

// connectedDeviceIDs snapshots the ids of all connected devices.
func (o *Orchestrator) connectedDeviceIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]string, 0, len(o.entries))
	for id, e := range o.entries {
		if e.device.Connected {
			out = append(out, id)
		}
	}
	return out
}
