// Package session implements the device-side authorization authority.
//
// A device optionally runs one session at a time. An unprotected session (no
// password) grants open access; a protected session stores a SHA-256 digest
// of the password and tracks the set of authorized controllers. A sliding
// window rate limiter bounds repeated password guesses per controller id.
//
// Authorization here is advisory for timer commands: the command server does
// not re-check it before acting on them. Session commands themselves are
// always available so a controller can recover access.
package session
