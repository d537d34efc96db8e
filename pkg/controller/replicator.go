package controller

import (
	"context"
	"encoding/base64"

	"github.com/matchclock-protocol/matchclock-go/pkg/asset"
	"github.com/matchclock-protocol/matchclock-go/pkg/wire"
)

// ValidateAudio checks an audio file locally before any device is
// contacted.
func (o *Orchestrator) ValidateAudio(fileName string, data []byte) (asset.Info, error) {
	return asset.Validate(fileName, data)
}

// UploadAudioToAll validates the file locally and then pushes it to every
// connected device sequentially. Sequential delivery bounds peak memory and
// bandwidth and keeps per-device progress attributable. Each device
// re-validates on receipt. On any success the cached master settings are
// refreshed so the new asset reference appears without a manual reload.
func (o *Orchestrator) UploadAudioToAll(ctx context.Context, audioType asset.AudioType, fileName string, data []byte) (FanOutResult, error) {
	if _, err := asset.Validate(fileName, data); err != nil {
		return FanOutResult{}, err
	}

	payload := wire.UploadAudioPayload{
		AudioType: string(audioType),
		FileName:  fileName,
		Data:      base64.StdEncoding.EncodeToString(data),
	}

	var ledger FanOutResult
	for _, deviceID := range o.connectedDeviceIDs() {
		if err := o.awaitAck(ctx, deviceID, wire.TypeUploadAudio, payload); err != nil {
			o.log.Warn().Str("device_id", deviceID).Err(err).Msg("audio upload failed")
			ledger.Failed = append(ledger.Failed, deviceID)
			if ledger.FirstError == nil {
				ledger.FirstError = err
			}
			continue
		}
		ledger.Succeeded = append(ledger.Succeeded, deviceID)
	}

	o.refreshMasterSettingsAfter(ledger)
	o.log.Info().Str("audio_type", string(audioType)).Str("result", ledger.Summary()).Msg("audio replication complete")
	return ledger, nil
}

// DeleteAudioFromAll removes a cue from every connected device, best
// effort, with the same per-device ledger shape as upload.
func (o *Orchestrator) DeleteAudioFromAll(ctx context.Context, audioType asset.AudioType) (FanOutResult, error) {
	payload := wire.DeleteAudioPayload{AudioType: string(audioType)}

	var ledger FanOutResult
	for _, deviceID := range o.connectedDeviceIDs() {
		if err := o.awaitAck(ctx, deviceID, wire.TypeDeleteAudio, payload); err != nil {
			ledger.Failed = append(ledger.Failed, deviceID)
			if ledger.FirstError == nil {
				ledger.FirstError = err
			}
			continue
		}
		ledger.Succeeded = append(ledger.Succeeded, deviceID)
	}

	o.refreshMasterSettingsAfter(ledger)
	return ledger, nil
}

// refreshMasterSettingsAfter re-requests master settings when at least one
// device accepted a change to its asset slots.
func (o *Orchestrator) refreshMasterSettingsAfter(ledger FanOutResult) {
	if len(ledger.Succeeded) == 0 {
		return
	}
	masterID := o.MasterDeviceID()
	if masterID == "" {
		return
	}
	if err := o.sendTo(masterID, wire.TypeGetSettings, nil, ""); err != nil {
		o.log.Warn().Str("device_id", masterID).Err(err).Msg("master settings refresh failed")
	}
}
