package host

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"codeberg.org/mutker/hwmond/internal/errors"
	"codeberg.org/mutker/hwmond/internal/logger"
	"codeberg.org/mutker/hwmond/internal/network"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// Linux ARPHRD_* link types from /sys/class/net/<if>/type.
const (
	arphrdEther    = 1
	arphrdTunnel   = 768
	arphrdTunnel6  = 769
	arphrdLoopback = 772
	arphrdSit      = 776
	arphrdIPGRE    = 778
	arphrdNone     = 65534
)

const rtfGateway = 0x2

// AdapterSource lists network adapters with gopsutil and enriches them
// from sysfs, the routing table and DHCP lease files.
type AdapterSource struct {
	fs     sysfs
	logger logger.Logger
}

func NewAdapterSource(log logger.Logger, opts ...Option) *AdapterSource {
	o := applyOptions(opts)

	return &AdapterSource{fs: sysfs{root: o.root}, logger: log}
}

func (s *AdapterSource) Adapters(ctx context.Context) ([]network.Adapter, error) {
	errFactory := errors.New()

	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrAdapterReadFailed, err)
	}

	counters := make(map[string]psnet.IOCountersStat)
	if stats, err := psnet.IOCountersWithContext(ctx, true); err == nil {
		for _, st := range stats {
			counters[st.Name] = st
		}
	} else {
		s.logger.Debug().Err(err).Msg("Network counters unavailable")
	}

	gateways := s.fs.gatewayInterfaces()

	out := make([]network.Adapter, 0, len(ifaces))
	for _, iface := range ifaces {
		a := network.Adapter{
			Name:        iface.Name,
			Description: s.fs.interfaceDescription(iface.Name),
			MAC:         iface.HardwareAddr,
			Kind:        s.fs.interfaceKind(iface.Name, iface.Flags, iface.HardwareAddr),
			Up:          s.fs.interfaceUp(iface.Name, iface.Flags),
			IPv4:        ipv4Addrs(iface.Addrs),
			HasGateway:  gateways[iface.Name],
			DHCP:        s.fs.hasDHCPLease(iface.Name, iface.Index),
		}
		if speed, ok := s.fs.readInt("sys", "class", "net", iface.Name, "speed"); ok && speed > 0 {
			a.LinkSpeedMbps = float64(speed)
		}
		if c, ok := counters[iface.Name]; ok {
			a.BytesReceived = c.BytesRecv
			a.BytesSent = c.BytesSent
		}
		out = append(out, a)
	}

	return out, nil
}

func ipv4Addrs(addrs psnet.InterfaceAddrList) []string {
	var out []string
	for _, a := range addrs {
		ip, _, err := net.ParseCIDR(a.Addr)
		if err != nil {
			ip = net.ParseIP(a.Addr)
		}
		if ip == nil || ip.To4() == nil {
			continue
		}
		out = append(out, ip.String())
	}

	return out
}

func (s sysfs) interfaceKind(name string, flags []string, mac string) network.InterfaceKind {
	if typ, ok := s.readInt("sys", "class", "net", name, "type"); ok {
		switch typ {
		case arphrdEther:
			if s.exists("sys", "class", "net", name, "wireless") || s.exists("sys", "class", "net", name, "phy80211") {
				return network.KindWireless
			}
			return network.KindEthernet
		case arphrdLoopback:
			return network.KindLoopback
		case arphrdTunnel, arphrdTunnel6, arphrdSit, arphrdIPGRE, arphrdNone:
			return network.KindTunnel
		default:
			return network.KindOther
		}
	}

	switch {
	case slices.Contains(flags, "loopback"):
		return network.KindLoopback
	case slices.Contains(flags, "pointtopoint"):
		return network.KindTunnel
	case mac != "":
		return network.KindEthernet
	default:
		return network.KindOther
	}
}

// interfaceUp prefers the kernel's operational state over the
// administrative "up" flag.
func (s sysfs) interfaceUp(name string, flags []string) bool {
	if state, ok := s.readString("sys", "class", "net", name, "operstate"); ok && state != "unknown" {
		return state == "up"
	}

	return slices.Contains(flags, "up")
}

// interfaceDescription names the kernel driver, or "virtual" for
// software interfaces, which live under /sys/devices/virtual.
func (s sysfs) interfaceDescription(name string) string {
	if target, err := filepath.EvalSymlinks(s.path("sys", "class", "net", name)); err == nil &&
		strings.Contains(filepath.ToSlash(target), "/virtual/") {
		return "virtual"
	}

	uevent, ok := s.readString("sys", "class", "net", name, "device", "uevent")
	if !ok {
		return ""
	}
	for _, line := range strings.Split(uevent, "\n") {
		if driver, ok := strings.CutPrefix(line, "DRIVER="); ok {
			return driver
		}
	}

	return ""
}

// gatewayInterfaces returns the interfaces carrying a default route in
// /proc/net/route.
func (s sysfs) gatewayInterfaces() map[string]bool {
	out := make(map[string]bool)

	f, err := os.Open(s.path("proc", "net", "route"))
	if err != nil {
		return out
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[1] != "00000000" {
			continue
		}
		flags, err := strconv.ParseUint(fields[3], 16, 32)
		if err != nil || flags&rtfGateway == 0 {
			continue
		}
		out[fields[0]] = true
	}

	return out
}

// hasDHCPLease looks for lease files left by systemd-networkd,
// NetworkManager, dhclient and dhcpcd.
func (s sysfs) hasDHCPLease(name string, index int) bool {
	if index > 0 && s.exists("run", "systemd", "netif", "leases", strconv.Itoa(index)) {
		return true
	}

	patterns := [][]string{
		{"var", "lib", "NetworkManager", "*-" + name + ".lease"},
		{"var", "lib", "dhcp", "dhclient*" + name + "*.lease*"},
		{"var", "lib", "dhclient", "dhclient*" + name + "*.lease*"},
		{"var", "lib", "dhcpcd", "*" + name + "*.lease*"},
	}
	for _, p := range patterns {
		if len(s.glob(p...)) > 0 {
			return true
		}
	}

	return false
}

var _ network.Source = (*AdapterSource)(nil)
