// Package device implements the per-device command server.
//
// The server accepts controller websocket connections, decodes envelopes,
// routes commands to the local clock engine and the session authority, and
// answers every command with COMMAND_ACK or COMMAND_ERROR. The current clock
// state is broadcast to all registered sockets on every engine tick.
//
// Nothing in the message path is fatal: decode failures are logged and the
// connection stays open, handler panics are converted to PROCESSING_ERROR,
// and a failed broadcast write drops only the failing socket.
package device
