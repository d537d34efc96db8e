// Package transport provides the websocket plumbing for the match clock
// protocol.
//
// Each device serves a single fixed path (default /ws, port 8080) and speaks
// UTF-8 JSON text frames. The server side hands every accepted connection to
// callbacks configured on ServerConfig; the client side dials one connection
// per device and reports received frames and closure the same way.
//
// Transport knows nothing about the message vocabulary; framing and routing
// are separate concerns.
package transport
