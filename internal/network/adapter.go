// Package network computes per-adapter throughput from cumulative byte
// counters and picks the adapters worth showing.
package network

import (
	"context"
	"strings"
)

// InterfaceKind is the link-layer type of an adapter.
type InterfaceKind int

const (
	KindUnknown InterfaceKind = iota
	KindEthernet
	KindWireless
	KindLoopback
	KindTunnel
	KindOther
)

var kindNames = [...]string{
	KindUnknown:  "unknown",
	KindEthernet: "ethernet",
	KindWireless: "wireless",
	KindLoopback: "loopback",
	KindTunnel:   "tunnel",
	KindOther:    "other",
}

func (k InterfaceKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}

	return kindNames[k]
}

// Adapter is one OS network interface together with its cumulative
// counters. The speed, usage and priority fields are filled in by
// Tracker.ComputeSpeeds.
type Adapter struct {
	Name          string
	Description   string
	MAC           string
	Kind          InterfaceKind
	Up            bool
	IPv4          []string
	HasGateway    bool
	DHCP          bool
	LinkSpeedMbps float64
	BytesReceived uint64
	BytesSent     uint64

	DownloadSpeed float64
	UploadSpeed   float64
	UsagePercent  float64
	Priority      int
}

// ID is the key the tracker stores baselines under.
func (a Adapter) ID() string {
	return a.Name
}

// HasIPv4 reports whether the adapter has a non-loopback IPv4 address.
func (a Adapter) HasIPv4() bool {
	for _, ip := range a.IPv4 {
		if ip != "" && !strings.HasPrefix(ip, "127.") {
			return true
		}
	}

	return false
}

// Source enumerates the host's adapters with their current counters.
type Source interface {
	Adapters(ctx context.Context) ([]Adapter, error)
}
