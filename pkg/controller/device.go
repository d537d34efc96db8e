package controller

import (
	"fmt"
	"strings"
)

// Device is the controller's record of one timer device.
type Device struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Address   string `json:"address" yaml:"address"`
	Port      int    `json:"port" yaml:"port"`
	Connected bool   `json:"connected" yaml:"-"`
}

// SocketURL returns the device's websocket endpoint.
func (d Device) SocketURL() string {
	return fmt.Sprintf("ws://%s:%d/ws", d.Address, d.Port)
}

// AuthStatus is the controller-local authorization view for one device.
// It is derived, never persisted, and recomputed on every AUTH_RESPONSE.
type AuthStatus struct {
	Authorized   bool
	ControllerID string
	SessionID    string
}

// FanOutResult is the per-target ledger of a multi-device operation.
// Partial failure is always reported as a count plus the failing device
// names, never collapsed into a single boolean.
type FanOutResult struct {
	Succeeded []string
	Failed    []string

	// FirstError is the first failure's reason, reported as representative
	// when every target failed.
	FirstError error
}

// Total returns the number of targeted devices.
func (r FanOutResult) Total() int {
	return len(r.Succeeded) + len(r.Failed)
}

// AllSucceeded reports whether every target succeeded.
func (r FanOutResult) AllSucceeded() bool {
	return len(r.Failed) == 0
}

// AllFailed reports whether every target failed.
func (r FanOutResult) AllFailed() bool {
	return len(r.Succeeded) == 0 && len(r.Failed) > 0
}

// Summary renders the ledger as "k/n succeeded", naming failing devices.
func (r FanOutResult) Summary() string {
	s := fmt.Sprintf("%d/%d succeeded", len(r.Succeeded), r.Total())
	if len(r.Failed) > 0 {
		s += " (failed: " + strings.Join(r.Failed, ", ") + ")"
	}
	return s
}
