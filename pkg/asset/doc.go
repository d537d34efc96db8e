// Package asset handles uploaded audio cues.
//
// Validation is purely local: content type, size ceiling and decoded
// duration are all checked before any device is contacted. The device-side
// Store re-runs the same validation on receipt as defense in depth.
package asset
