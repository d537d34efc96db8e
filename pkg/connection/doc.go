// Package connection manages the controller's socket lifecycle for one
// device: connect, liveness, and bounded automatic reconnection.
//
// Reconnection uses a linearly increasing delay (base x attempt number) and
// gives up after a hard attempt cap, at which point the device is dropped
// from the live set and the user must reconnect explicitly. An intentional
// disconnect atomically disables reconnection so a closed connection is
// never resurrected.
package connection
