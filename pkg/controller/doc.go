// Package controller implements the multi-device sync orchestrator.
//
// The orchestrator owns one managed connection per device, elects a single
// master whose broadcast state and settings are mirrored for display, fans
// user commands out to every connected device, and reconciles followers
// from the master's cached snapshot. "Master" is this controller's local
// choice, not a cluster-agreed fact: the distinction governs display and
// settings authority, never command execution.
//
// Cross-device operations are sequences of independent per-device calls
// collected into a ledger; there is no rollback. A device the fan-out
// missed stays stale until the next explicit sync.
package controller
