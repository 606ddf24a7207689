package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/hwmond/internal/logger"
	"codeberg.org/mutker/hwmond/internal/network"
	"codeberg.org/mutker/hwmond/internal/sensor"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, path, content string) {
	t.Helper()
	full := filepath.Join(root, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestGroupTemperatures(t *testing.T) {
	stats := []host.TemperatureStat{
		{SensorKey: "coretemp_packageid0", Temperature: 55, Critical: 100},
		{SensorKey: "coretemp_core0", Temperature: 50},
		{SensorKey: "coretemp_core1", Temperature: 53},
		{SensorKey: "nvme_composite", Temperature: 38},
		{SensorKey: "nvme_sensor1", Temperature: 40},
		{SensorKey: "nvme_composite", Temperature: 44},
		{SensorKey: "acpitz", Temperature: 27},
		{SensorKey: "amdgpu_edge", Temperature: 48},
		{SensorKey: "amdgpu_junction", Temperature: 52},
		{SensorKey: "drivetemp", Temperature: 33},
		{SensorKey: "drivetemp", Temperature: 35},
	}

	chips := groupTemperatures(stats)
	require.Len(t, chips, 7)

	assert.Equal(t, groupCPU, chips[0].group)
	require.Len(t, chips[0].temps, 3)
	assert.Equal(t, "CPU Package", chips[0].temps[0].name)
	assert.InDelta(t, 100, chips[0].temps[0].max, 0.001)
	assert.Equal(t, "Core 0", chips[0].temps[1].name)
	assert.Equal(t, "Core 1", chips[0].temps[2].name)

	assert.Equal(t, groupStorage, chips[1].group)
	assert.Len(t, chips[1].temps, 2)
	assert.Equal(t, "Temperature", chips[1].temps[0].name)
	assert.Equal(t, groupStorage, chips[2].group)
	assert.InDelta(t, 44, chips[2].temps[0].value, 0.001)

	assert.Equal(t, groupBoard, chips[3].group)
	assert.Equal(t, "Acpitz", chips[3].temps[0].name)

	assert.Equal(t, groupGPU, chips[4].group)
	assert.Equal(t, "GPU Core", chips[4].temps[0].name)
	assert.Equal(t, "GPU Hot Spot", chips[4].temps[1].name)

	assert.Equal(t, "drivetemp", chips[5].chip)
	assert.Equal(t, "drivetemp", chips[6].chip)
}

func TestReadFans(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sys/class/hwmon/hwmon2/name", "nct6798\n")
	writeFile(t, root, "sys/class/hwmon/hwmon2/fan2_input", "1200\n")
	writeFile(t, root, "sys/class/hwmon/hwmon2/fan1_input", "850\n")
	writeFile(t, root, "sys/class/hwmon/hwmon2/fan1_label", "CPU Fan\n")
	writeFile(t, root, "sys/class/hwmon/hwmon2/pwm2", "255\n")
	writeFile(t, root, "sys/class/hwmon/hwmon0/name", "acpitz\n")
	writeFile(t, root, "sys/class/hwmon/hwmon0/temp1_input", "27800\n")

	chips := sysfs{root: root}.readFans()
	require.Len(t, chips, 1)
	assert.Equal(t, "nct6798", chips[0].name)
	require.Len(t, chips[0].channels, 2)

	assert.Equal(t, 1, chips[0].channels[0].index)
	assert.Equal(t, "CPU Fan", chips[0].channels[0].label)
	assert.InDelta(t, 850, chips[0].channels[0].rpm, 0.001)
	assert.InDelta(t, -1, chips[0].channels[0].control, 0.001)

	assert.InDelta(t, 1200, chips[0].channels[1].rpm, 0.001)
	assert.InDelta(t, 100, chips[0].channels[1].control, 0.001)
}

func TestReadBoardAttachesFans(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sys/class/hwmon/hwmon2/name", "nct6798\n")
	writeFile(t, root, "sys/class/hwmon/hwmon2/fan1_input", "900\n")
	writeFile(t, root, "sys/class/hwmon/hwmon2/pwm1", "128\n")

	p := NewProvider(logger.Nop(), WithRoot(root))
	p.boardName = "ASUS PRIME X570-P"
	board := p.readBoard([]chipTemps{{chip: "nct6798", group: groupBoard, temps: []namedTemp{{name: "Systin", value: 31}}}})

	require.Len(t, board.Children, 1)
	child := board.Children[0]
	assert.Equal(t, "/lpc/nct6798", child.ID)
	assert.Equal(t, sensor.HardwareSuperIO, child.Kind)

	readings, err := child.Sensors()
	require.NoError(t, err)
	require.Len(t, readings, 3)
	assert.Equal(t, "Fan #1", readings[1].Name)
	assert.Equal(t, sensor.SensorControl, readings[2].Type)
	assert.InDelta(t, 50.2, *readings[2].Value, 0.1)
}

func TestCoreMapping(t *testing.T) {
	infos := []cpu.InfoStat{
		{PhysicalID: "0", CoreID: "0"},
		{PhysicalID: "0", CoreID: "1"},
		{PhysicalID: "0", CoreID: "0"},
		{PhysicalID: "0", CoreID: "1"},
	}
	p := &Provider{coreOf: coreMapping(infos)}
	assert.Equal(t, []int{0, 1, 0, 1}, p.coreOf)
	assert.Equal(t, []float64{20, 60}, p.perCore([]float64{10, 50, 30, 70}))

	// mismatched lengths pass through unchanged
	assert.Equal(t, []float64{1, 2}, p.perCore([]float64{1, 2}))

	assert.Nil(t, coreMapping([]cpu.InfoStat{{CoreID: ""}}))
}

func TestInterfaceKind(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sys/class/net/enp5s0/type", "1\n")
	writeFile(t, root, "sys/class/net/wlp3s0/type", "1\n")
	writeFile(t, root, "sys/class/net/wlp3s0/wireless/.keep", "")
	writeFile(t, root, "sys/class/net/lo/type", "772\n")
	writeFile(t, root, "sys/class/net/wg0/type", "65534\n")
	fs := sysfs{root: root}

	assert.Equal(t, network.KindEthernet, fs.interfaceKind("enp5s0", nil, ""))
	assert.Equal(t, network.KindWireless, fs.interfaceKind("wlp3s0", nil, ""))
	assert.Equal(t, network.KindLoopback, fs.interfaceKind("lo", nil, ""))
	assert.Equal(t, network.KindTunnel, fs.interfaceKind("wg0", nil, ""))

	// without sysfs the flags decide
	assert.Equal(t, network.KindLoopback, fs.interfaceKind("lo0", []string{"up", "loopback"}, ""))
	assert.Equal(t, network.KindTunnel, fs.interfaceKind("utun0", []string{"pointtopoint"}, ""))
	assert.Equal(t, network.KindEthernet, fs.interfaceKind("en0", []string{"up"}, "aa:bb:cc:dd:ee:ff"))
	assert.Equal(t, network.KindOther, fs.interfaceKind("gif0", nil, ""))
}

func TestInterfaceDescriptionAndState(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sys/class/net/enp5s0/device/uevent", "DRIVER=igc\nPCI_CLASS=20000\n")
	writeFile(t, root, "sys/class/net/enp5s0/operstate", "up\n")
	writeFile(t, root, "sys/devices/virtual/net/docker0/operstate", "down\n")
	require.NoError(t, os.Symlink(
		filepath.Join(root, "sys/devices/virtual/net/docker0"),
		filepath.Join(root, "sys/class/net/docker0"),
	))
	fs := sysfs{root: root}

	assert.Equal(t, "igc", fs.interfaceDescription("enp5s0"))
	assert.Equal(t, "virtual", fs.interfaceDescription("docker0"))
	assert.True(t, fs.interfaceUp("enp5s0", nil))
	assert.False(t, fs.interfaceUp("docker0", []string{"up"}))
	assert.True(t, fs.interfaceUp("en0", []string{"up"}))
}

func TestGatewayInterfaces(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "proc/net/route",
		"Iface\tDestination\tGateway \tFlags\tRefCnt\tUse\tMetric\tMask\t\tMTU\tWindow\tIRTT\n"+
			"enp5s0\t00000000\t0101A8C0\t0003\t0\t0\t100\t00000000\t0\t0\t0\n"+
			"enp5s0\t0001A8C0\t00000000\t0001\t0\t0\t100\t00FFFFFF\t0\t0\t0\n"+
			"docker0\t000011AC\t00000000\t0001\t0\t0\t0\t0000FFFF\t0\t0\t0\n")

	gw := sysfs{root: root}.gatewayInterfaces()
	assert.Equal(t, map[string]bool{"enp5s0": true}, gw)

	assert.Empty(t, sysfs{root: t.TempDir()}.gatewayInterfaces())
}

func TestHasDHCPLease(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "run/systemd/netif/leases/2", "ADDRESS=192.168.1.20\n")
	writeFile(t, root, "var/lib/NetworkManager/internal-5f1c-wlp3s0.lease", "")
	writeFile(t, root, "var/lib/dhcp/dhclient.eth1.leases", "")
	fs := sysfs{root: root}

	assert.True(t, fs.hasDHCPLease("enp5s0", 2))
	assert.True(t, fs.hasDHCPLease("wlp3s0", 3))
	assert.True(t, fs.hasDHCPLease("eth1", 4))
	assert.False(t, fs.hasDHCPLease("eth2", 5))
}

func TestIPv4Addrs(t *testing.T) {
	addrs := psnet.InterfaceAddrList{
		{Addr: "192.168.1.20/24"},
		{Addr: "fe80::1/64"},
		{Addr: "10.0.0.5"},
		{Addr: "garbage"},
	}
	assert.Equal(t, []string{"192.168.1.20", "10.0.0.5"}, ipv4Addrs(addrs))
}

func TestProviderReadsLocalHost(t *testing.T) {
	if testing.Short() {
		t.Skip("reads the local machine")
	}

	ctx := context.Background()
	p := NewProvider(logger.Nop())
	require.NoError(t, p.Open(ctx))
	require.NoError(t, p.Refresh(ctx))

	kinds := map[sensor.HardwareType]bool{}
	for _, d := range p.Hardware() {
		kinds[d.Type()] = true
	}
	assert.True(t, kinds[sensor.HardwareCPU])
	assert.True(t, kinds[sensor.HardwareMemory])
	assert.True(t, kinds[sensor.HardwareMotherboard])

	require.NoError(t, p.Close())
	assert.Empty(t, p.Hardware())

	cores, threads := NewInfo().CoreCounts()
	assert.Positive(t, cores)
	assert.GreaterOrEqual(t, threads, cores)
}

func TestCoreTemperaturesAreDense(t *testing.T) {
	stats := []host.TemperatureStat{
		{SensorKey: "coretemp_packageid0", Temperature: 60},
		{SensorKey: "coretemp_core8", Temperature: 58},
		{SensorKey: "coretemp_core0", Temperature: 50},
		{SensorKey: "coretemp_core9", Temperature: 59},
		{SensorKey: "coretemp_core1", Temperature: 51},
	}

	chips := groupTemperatures(stats)
	require.Len(t, chips, 1)

	var names []string
	for _, tt := range chips[0].temps {
		names = append(names, tt.name)
	}
	assert.Equal(t, []string{"CPU Package", "Core 2", "Core 0", "Core 3", "Core 1"}, names)
}

func linkHwmon(t *testing.T, root, hwmon, name, device string) {
	t.Helper()
	writeFile(t, root, filepath.Join("sys/class/hwmon", hwmon, "name"), name+"\n")
	writeFile(t, root, filepath.Join("sys/class/hwmon", hwmon, "temp1_input"), "40000\n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, device), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, device), filepath.Join(root, "sys/class/hwmon", hwmon, "device")))
}

func TestStorageIdentifiersFollowDevices(t *testing.T) {
	root := t.TempDir()
	linkHwmon(t, root, "hwmon0", "nvme", "sys/devices/pci0000:00/0000:01:00.0/nvme/nvme0")
	linkHwmon(t, root, "hwmon1", "nvme", "sys/devices/pci0000:00/0000:02:00.0/nvme/nvme1")
	p := NewProvider(logger.Nop(), WithRoot(root))

	drive := func(v float64) chipTemps {
		return chipTemps{chip: "nvme", group: groupStorage, temps: []namedTemp{{name: "Temperature", value: v}}}
	}
	unlinked := chipTemps{chip: "drivetemp", group: groupStorage, temps: []namedTemp{{name: "Temperature", value: 30}}}

	nodes := p.readStorage([]chipTemps{drive(38), drive(41), unlinked})
	require.Len(t, nodes, 3)
	assert.Equal(t, "/storage/nvme/nvme0", nodes[0].ID)
	assert.Equal(t, "/storage/nvme/nvme1", nodes[1].ID)
	assert.Equal(t, "/storage/2", nodes[2].ID)

	// the first drive goes away
	require.NoError(t, os.RemoveAll(filepath.Join(root, "sys/class/hwmon/hwmon0")))
	nodes = p.readStorage([]chipTemps{drive(41)})
	require.Len(t, nodes, 1)
	assert.Equal(t, "/storage/nvme/nvme1", nodes[0].ID)
}

func TestAMDGPUIdentifiedByPCIAddress(t *testing.T) {
	root := t.TempDir()
	linkHwmon(t, root, "hwmon3", "amdgpu", "sys/devices/pci0000:00/0000:03:00.0")
	writeFile(t, root, "sys/devices/pci0000:00/0000:03:00.0/gpu_busy_percent", "37\n")
	p := NewProvider(logger.Nop(), WithRoot(root))

	nodes := p.readGPUs([]chipTemps{{chip: "amdgpu", group: groupGPU, temps: []namedTemp{{name: "GPU Core", value: 48}}}})
	require.Len(t, nodes, 1)
	assert.Equal(t, "/gpu-amd/0000:03:00.0", nodes[0].ID)

	readings, err := nodes[0].Sensors()
	require.NoError(t, err)
	var load float64
	for _, r := range readings {
		if r.Type == sensor.SensorLoad {
			load = *r.Value
		}
	}
	assert.InDelta(t, 37, load, 0.001)
}
