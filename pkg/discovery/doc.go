// Package discovery advertises and browses match clock devices on the
// local network via mDNS.
//
// Devices register a _matchclock._tcp service whose TXT records carry the
// device id, display name and protocol version. Discovery only lets a
// controller learn an address; it is not part of the protocol itself.
package discovery
