package network

import (
	"slices"
	"time"

	"codeberg.org/mutker/hwmond/internal/hardware"
)

// Entities combines tracked adapters with the network entities a sensor
// provider reported. Provider entities are matched by adapter name and
// keep their sensors; adapters without one get a fresh entity. Provider
// entities for adapters that were filtered out are dropped.
func Entities(reported []*hardware.NetworkInfo, adapters []Adapter, at time.Time) []*hardware.NetworkInfo {
	byName := make(map[string]*hardware.NetworkInfo, len(reported))
	for _, n := range reported {
		if n == nil {
			continue
		}
		name := n.AdapterName
		if name == "" {
			name = n.DisplayName
		}
		byName[name] = n
	}

	out := make([]*hardware.NetworkInfo, 0, len(adapters))
	for _, a := range adapters {
		info := &hardware.NetworkInfo{Base: hardware.Base{
			Identifier:  "/nic/" + a.Name,
			DisplayName: a.Name,
			Type:        hardware.KindNetwork,
			Updated:     at,
		}}
		if n, ok := byName[a.Name]; ok {
			info.Base = n.Base
		}

		info.IsOnline = a.Up
		info.AdapterName = a.Name
		info.Description = a.Description
		info.MAC = a.MAC
		info.InterfaceKind = a.Kind.String()
		info.Up = a.Up
		info.IPv4 = slices.Clone(a.IPv4)
		info.HasGateway = a.HasGateway
		info.DHCP = a.DHCP
		info.LinkSpeedMbps = a.LinkSpeedMbps
		info.BytesReceived = a.BytesReceived
		info.BytesSent = a.BytesSent
		info.DownloadSpeed = a.DownloadSpeed
		info.UploadSpeed = a.UploadSpeed
		info.UsagePercent = a.UsagePercent
		info.Priority = a.Priority

		out = append(out, info)
	}

	return out
}

// Reported keeps the provider entities whose adapter name passes
// IsPhysicalName. Used when no adapter details are available for a
// cycle.
func Reported(reported []*hardware.NetworkInfo) []*hardware.NetworkInfo {
	out := make([]*hardware.NetworkInfo, 0, len(reported))
	for _, n := range reported {
		if n == nil {
			continue
		}
		name := n.AdapterName
		if name == "" {
			name = n.DisplayName
		}
		if IsPhysicalName(name) {
			out = append(out, n)
		}
	}

	return out
}

// Primary applies the SelectPrimary rules to snapshot entities.
func Primary(entities []*hardware.NetworkInfo) (*hardware.NetworkInfo, bool) {
	i := selectPrimary(entities,
		func(n *hardware.NetworkInfo) bool { return n.Up },
		func(n *hardware.NetworkInfo) float64 { return n.DownloadSpeed + n.UploadSpeed },
		func(n *hardware.NetworkInfo) float64 { return n.UsagePercent },
	)
	if i < 0 {
		return nil, false
	}

	return entities[i], true
}
