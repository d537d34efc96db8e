// Package wire defines the JSON wire format for the match clock protocol.
//
// Every frame on the socket is a single UTF-8 JSON object, the Envelope,
// carrying a type string, a device-local millisecond timestamp, an optional
// command correlation id, and a type-specific payload.
//
// # Message Directions
//
//   - Commands: controller to device (START_TIMER, AUTH_REQUEST, ...)
//   - Events: device to controller (STATE_UPDATE, COMMAND_ACK, ...)
//
// A command that expects a reply carries a commandId; the device echoes it in
// the matching COMMAND_ACK or COMMAND_ERROR. Events originated by the device
// carry the device's own deviceId.
//
// # Forward Compatibility
//
// Unknown JSON keys are ignored on decode. Unknown message types decode to an
// Envelope with a nil typed payload so the receiver can answer
// UNKNOWN_COMMAND instead of dropping the frame. Malformed frames fail closed
// with a decode error and must never be routed.
package wire
