package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/enbility/zeroconf/v3"

	"github.com/matchclock-protocol/matchclock-go/pkg/version"
)

// Service constants.
const (
	// ServiceType is the mDNS service type for match clock devices.
	ServiceType = "_matchclock._tcp"

	// Domain is the mDNS domain.
	Domain = "local."
)

// Record describes one advertised device.
type Record struct {
	DeviceID   string
	DeviceName string
	Addresses  []net.IP
	Port       int
}

// Addr returns the first usable address, or "".
func (r Record) Addr() string {
	if len(r.Addresses) == 0 {
		return ""
	}
	return r.Addresses[0].String()
}

// AdvertiserConfig configures mDNS advertising.
type AdvertiserConfig struct {
	// Interface restricts advertising to one interface; empty means all.
	Interface string
}

// Advertiser registers a device's service record.
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an mDNS advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	return &Advertiser{config: config}
}

// Register starts advertising the device. Re-registering replaces the
// previous record.
func (a *Advertiser) Register(port int, deviceID, deviceName string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	txt := []string{
		"id=" + deviceID,
		"name=" + deviceName,
		"pv=" + version.TXTValue(),
	}

	server, err := zeroconf.Register(
		fmt.Sprintf("MatchClock-%s", deviceID),
		ServiceType,
		Domain,
		port,
		txt,
		a.interfaces(),
	)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	a.server = server
	return nil
}

// Unregister stops advertising. Unregistering an absent record is a no-op.
func (a *Advertiser) Unregister() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// Browse searches for match clock devices until ctx is cancelled, emitting
// one Record per discovered instance.
func Browse(ctx context.Context) (<-chan Record, error) {
	out := make(chan Record)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				rec := entryToRecord(entry)
				if rec.DeviceID == "" {
					continue
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			case <-removed:
				// Departures are uninteresting; the connection manager
				// notices a dead device on its own.
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed)
	}()

	return out, nil
}

func entryToRecord(entry *zeroconf.ServiceEntry) Record {
	rec := Record{Port: entry.Port}
	rec.Addresses = append(rec.Addresses, entry.AddrIPv4...)
	rec.Addresses = append(rec.Addresses, entry.AddrIPv6...)

	for _, kv := range entry.Text {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "id":
			rec.DeviceID = v
		case "name":
			rec.DeviceName = v
		}
	}
	return rec
}
