// Package timer implements the on-device match clock.
//
// The clock counts down through three phases (WARMUP, MATCH, BREAK) using the
// durations from Settings. All mutation goes through a single mutex so no two
// commands can interleave a phase transition; broadcast consumers only ever
// see immutable State snapshots.
package timer
