package discovery

import (
	"net"
	"testing"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
)

func TestEntryToRecord(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		Port:     8080,
		AddrIPv4: []net.IP{net.ParseIP("192.168.1.20")},
		Text:     []string{"id=court-1", "name=Court 1", "pv=1"},
	}

	rec := entryToRecord(entry)

	assert.Equal(t, "court-1", rec.DeviceID)
	assert.Equal(t, "Court 1", rec.DeviceName)
	assert.Equal(t, 8080, rec.Port)
	assert.Equal(t, "192.168.1.20", rec.Addr())
}

func TestEntryToRecordIgnoresMalformedTXT(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		Port: 8080,
		Text: []string{"garbage", "id=court-2"},
	}

	rec := entryToRecord(entry)

	assert.Equal(t, "court-2", rec.DeviceID)
	assert.Empty(t, rec.DeviceName)
}

func TestRecordAddrEmpty(t *testing.T) {
	assert.Empty(t, Record{}.Addr())
}

func TestAdvertiserUnregisterWithoutRegister(t *testing.T) {
	a := NewAdvertiser(AdvertiserConfig{})
	a.Unregister()
	a.Unregister()
}
