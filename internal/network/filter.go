package network

import "strings"

// virtualKeywords mark adapters created by hypervisors, VPN clients,
// bridges and similar software. Matched case-insensitively against name
// and description.
var virtualKeywords = []string{
	"vmware",
	"virtualbox",
	"vbox",
	"hyper-v",
	"vethernet",
	"virtual",
	"tap",
	"tun",
	"bluetooth",
	"vpn",
	"wireguard",
	"tailscale",
	"zerotier",
	"bridge",
	"docker",
	"veth",
	"virbr",
	"filter",
	"miniport",
	"pseudo",
	"ppp",
	"modem",
	"loopback",
}

// Priority scores an adapter for de-duplication. Higher wins.
func Priority(a Adapter) int {
	score := 0
	if a.Up {
		score += 100
	}
	if a.HasIPv4() {
		score += 50
	}
	if a.HasGateway {
		score += 30
	}
	if a.DHCP {
		score += 20
	}
	switch a.Kind {
	case KindEthernet:
		score += 10
	case KindWireless:
		score += 5
	}

	return score
}

// IsPhysical reports whether an adapter is a real Ethernet or Wi-Fi
// interface.
func IsPhysical(a Adapter) bool {
	if a.Kind != KindEthernet && a.Kind != KindWireless {
		return false
	}

	if !IsPhysicalName(a.Name) {
		return false
	}

	desc := strings.ToLower(a.Description)
	for _, kw := range virtualKeywords {
		if strings.Contains(desc, kw) {
			return false
		}
	}

	return true
}

// IsPhysicalName applies the name rules of IsPhysical alone, for
// interfaces whose kind is unknown.
func IsPhysicalName(name string) bool {
	name = strings.ToLower(name)
	if name == "" || name == "lo" || strings.HasPrefix(name, "lo:") {
		return false
	}

	for _, kw := range virtualKeywords {
		if strings.Contains(name, kw) {
			return false
		}
	}

	return true
}

// Dedup keeps one adapter per MAC address, the one with the highest
// priority. Adapters without a MAC are never merged. The first-seen
// order of the survivors is preserved.
func Dedup(adapters []Adapter) []Adapter {
	out := make([]Adapter, 0, len(adapters))
	byMAC := make(map[string]int, len(adapters))

	for _, a := range adapters {
		a.Priority = Priority(a)

		mac := normalizeMAC(a.MAC)
		if mac == "" {
			out = append(out, a)
			continue
		}

		if i, ok := byMAC[mac]; ok {
			if a.Priority > out[i].Priority {
				out[i] = a
			}
			continue
		}
		byMAC[mac] = len(out)
		out = append(out, a)
	}

	return out
}

func normalizeMAC(mac string) string {
	mac = strings.ToLower(strings.ReplaceAll(mac, "-", ":"))
	if mac == "" || mac == "00:00:00:00:00:00" {
		return ""
	}

	return mac
}
