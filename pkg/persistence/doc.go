// Package persistence provides the device's durable stores.
//
// Settings and session state are saved as JSON files under the device data
// directory. Stores are mutex-guarded; a missing file loads as the zero
// value so first boot needs no setup step.
package persistence
