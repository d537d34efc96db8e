// Package version provides protocol version parsing and comparison.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the protocol version implemented by this library. Devices
// advertise the major component in their mDNS TXT record.
const Current = "1.0"

// App is the build version stamped into binaries, overridable at link time.
var App = "dev"

// ProtoVersion represents a parsed "major.minor" protocol version.
type ProtoVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string. A bare major ("1") is
// accepted as "major.0", matching what devices put in TXT records.
func Parse(s string) (ProtoVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return ProtoVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return ProtoVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	var minor uint64
	if len(parts) == 2 {
		minor, err = strconv.ParseUint(parts[1], 10, 16)
		if err != nil || parts[1] == "" {
			return ProtoVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
		}
	}

	return ProtoVersion{Major: uint16(major), Minor: uint16(minor)}, nil
}

// String returns the version as "major.minor".
func (v ProtoVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
// Minor revisions only add message types, which unknown-command handling
// already tolerates.
func (v ProtoVersion) Compatible(other ProtoVersion) bool {
	return v.Major == other.Major
}

// TXTValue returns the value a device advertises in its "pv" TXT record.
func TXTValue() string {
	current, _ := Parse(Current)
	return strconv.FormatUint(uint64(current.Major), 10)
}
