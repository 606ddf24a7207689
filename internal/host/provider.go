// Package host reads sensors, network adapters and host facts from the
// operating system through gopsutil and Linux sysfs.
package host

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"

	"codeberg.org/mutker/hwmond/internal/errors"
	"codeberg.org/mutker/hwmond/internal/logger"
	"codeberg.org/mutker/hwmond/internal/sensor"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
)

const bytesPerGB = 1 << 30

// Provider is a sensor.Provider over the local machine.
type Provider struct {
	fs     sysfs
	logger logger.Logger

	mu        sync.RWMutex
	nodes     []*sensor.Node
	cpuName   string
	boardName string
	cores     int
	threads   int
	// coreOf maps a logical CPU number to its physical core index.
	coreOf []int
}

type options struct {
	root string
}

type Option func(*options)

// WithRoot reads sysfs and procfs below root instead of "/".
func WithRoot(root string) Option {
	return func(o *options) {
		o.root = root
	}
}

func applyOptions(opts []Option) options {
	o := options{root: "/"}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

func NewProvider(log logger.Logger, opts ...Option) *Provider {
	o := applyOptions(opts)

	return &Provider{
		fs:     sysfs{root: o.root},
		logger: log,
	}
}

func (p *Provider) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cores, p.threads = countCPUs(ctx)
	p.cpuName = "CPU"

	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		if infos[0].ModelName != "" {
			p.cpuName = infos[0].ModelName
		}
		p.coreOf = coreMapping(infos)
	} else if err != nil {
		p.logger.Debug().Err(err).Msg("CPU topology unavailable")
	}

	p.boardName = "Motherboard"
	if name, ok := p.fs.readString("sys", "class", "dmi", "id", "board_name"); ok && name != "" {
		p.boardName = name
		if vendor, ok := p.fs.readString("sys", "class", "dmi", "id", "board_vendor"); ok && vendor != "" {
			p.boardName = vendor + " " + name
		}
	}

	// the first interval-less sample is measured since boot
	if _, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		p.logger.Debug().Err(err).Msg("CPU load unavailable")
	}

	p.logger.Info().
		Str("cpu", p.cpuName).
		Int("cores", p.cores).
		Int("threads", p.threads).
		Str("board", p.boardName).
		Msg("Host sensors opened")

	return nil
}

// coreMapping assigns every logical CPU to a physical core, numbering
// cores in order of first appearance. It returns nil when the OS does
// not report core IDs.
func coreMapping(infos []cpu.InfoStat) []int {
	out := make([]int, len(infos))
	index := make(map[string]int)
	for i, info := range infos {
		if info.CoreID == "" {
			return nil
		}
		key := info.PhysicalID + "/" + info.CoreID
		idx, ok := index[key]
		if !ok {
			idx = len(index)
			index[key] = idx
		}
		out[i] = idx
	}

	return out
}

func (p *Provider) Refresh(ctx context.Context) error {
	errFactory := errors.New()
	p.mu.Lock()
	defer p.mu.Unlock()

	// gopsutil returns partial results together with a warnings error
	stats, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Some temperature sensors could not be read")
	}
	chips := groupTemperatures(stats)

	cpuNode := p.readCPU(ctx, chips)
	memNode := p.readMemory(ctx)
	if cpuNode.Err != nil && memNode.Err != nil {
		return errFactory.Wrap(errors.ErrProviderUnavailable, errors.Join(cpuNode.Err, memNode.Err))
	}

	nodes := []*sensor.Node{cpuNode, memNode, p.readBoard(chips)}
	nodes = append(nodes, p.readStorage(chips)...)
	nodes = append(nodes, p.readGPUs(chips)...)
	nodes = append(nodes, p.readNICs(ctx)...)
	p.nodes = nodes

	return nil
}

func (p *Provider) readCPU(ctx context.Context, chips []chipTemps) *sensor.Node {
	errFactory := errors.New()
	n := &sensor.Node{
		ID:      "/cpu/0",
		Label:   p.cpuName,
		Kind:    sensor.HardwareCPU,
		Cores:   p.cores,
		Threads: p.threads,
	}

	total, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(total) == 0 {
		n.Err = errFactory.Wrap(errors.ErrDeviceReadFailed, err)
		return n
	}
	n.Add("CPU Total", sensor.SensorLoad, total[0])

	if perThread, err := cpu.PercentWithContext(ctx, 0, true); err == nil {
		for i, v := range p.perCore(perThread) {
			n.Add("CPU Core #"+strconv.Itoa(i+1), sensor.SensorLoad, v)
		}
	}

	if infos, err := cpu.InfoWithContext(ctx); err == nil {
		clocks := make([]float64, len(infos))
		for i, info := range infos {
			clocks[i] = info.Mhz
		}
		for i, v := range p.perCore(clocks) {
			if v > 0 {
				n.Add("CPU Core #"+strconv.Itoa(i+1), sensor.SensorClock, v)
			}
		}
	}

	for _, c := range chips {
		if c.group != groupCPU {
			continue
		}
		for _, t := range c.temps {
			addTemp(n, t)
		}
	}

	return n
}

// perCore averages per-logical-CPU values into per-core values.
func (p *Provider) perCore(values []float64) []float64 {
	if len(p.coreOf) != len(values) {
		return values
	}

	cores := 0
	for _, c := range p.coreOf {
		cores = max(cores, c+1)
	}
	sums := make([]float64, cores)
	counts := make([]int, cores)
	for i, v := range values {
		sums[p.coreOf[i]] += v
		counts[p.coreOf[i]]++
	}
	for i := range sums {
		sums[i] /= float64(counts[i])
	}

	return sums
}

func (p *Provider) readMemory(ctx context.Context) *sensor.Node {
	errFactory := errors.New()
	n := &sensor.Node{ID: "/ram", Label: "Memory", Kind: sensor.HardwareMemory}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		n.Err = errFactory.Wrap(errors.ErrDeviceReadFailed, err)
		return n
	}
	used := vm.Total - vm.Available
	n.Add("Memory", sensor.SensorLoad, vm.UsedPercent).
		Add("Memory Used", sensor.SensorData, float64(used)/bytesPerGB).
		Add("Memory Available", sensor.SensorData, float64(vm.Available)/bytesPerGB)

	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil && swap.Total > 0 {
		n.Add("Virtual Memory", sensor.SensorLoad, swap.UsedPercent).
			Add("Virtual Memory Used", sensor.SensorData, float64(swap.Used)/bytesPerGB).
			Add("Virtual Memory Available", sensor.SensorData, float64(swap.Free)/bytesPerGB)
	}

	return n
}

// readBoard attaches every chip that is not a CPU, drive or GPU to the
// motherboard, together with the fan headers found in hwmon.
func (p *Provider) readBoard(chips []chipTemps) *sensor.Node {
	board := &sensor.Node{ID: "/motherboard", Label: p.boardName, Kind: sensor.HardwareMotherboard}
	children := make(map[string]*sensor.Node)

	child := func(chip string) *sensor.Node {
		if c, ok := children[chip]; ok {
			return c
		}
		c := &sensor.Node{ID: "/lpc/" + chip, Label: chip, Kind: sensor.HardwareSuperIO}
		children[chip] = c
		board.Children = append(board.Children, c)
		return c
	}

	for _, c := range chips {
		if c.group != groupBoard {
			continue
		}
		node := child(c.chip)
		for _, t := range c.temps {
			addTemp(node, t)
		}
	}

	for _, chip := range p.fs.readFans() {
		node := child(chip.name)
		for _, ch := range chip.channels {
			num := strconv.Itoa(ch.index)
			name := ch.label
			if name == "" {
				name = "Fan #" + num
			}
			node.Add(name, sensor.SensorFan, ch.rpm)
			if ch.control >= 0 {
				node.Add("Fan Control #"+num, sensor.SensorControl, ch.control)
			}
		}
	}

	return board
}

// readStorage builds one node per drive. Identifiers follow the device
// the hwmon chip belongs to, so they survive drives coming and going;
// the position is used only when that link is missing.
func (p *Provider) readStorage(chips []chipTemps) []*sensor.Node {
	keys := newDeviceKeys(p.fs)

	var out []*sensor.Node
	for _, c := range chips {
		if c.group != groupStorage {
			continue
		}
		idx := strconv.Itoa(len(out))
		id := "/storage/" + idx
		label := "Drive " + idx
		if c.chip == "nvme" {
			label = "NVMe " + idx
		}
		if dev, ok := keys.take(c.chip); ok {
			id = "/storage/" + c.chip + "/" + dev.key
			label += " (" + dev.key + ")"
		}

		n := &sensor.Node{ID: id, Label: label, Kind: sensor.HardwareStorage}
		for _, t := range c.temps {
			addTemp(n, t)
		}
		out = append(out, n)
	}

	return out
}

// readGPUs builds one node per AMD card, keyed by PCI address when the
// hwmon chip links to it.
func (p *Provider) readGPUs(chips []chipTemps) []*sensor.Node {
	keys := newDeviceKeys(p.fs)
	busy := p.fs.glob("sys", "class", "drm", "card[0-9]*", "device", "gpu_busy_percent")

	var out []*sensor.Node
	for _, c := range chips {
		if c.group != groupGPU {
			continue
		}
		idx := len(out)
		id := "/gpu-amd/" + strconv.Itoa(idx)
		busyPath := ""
		if idx < len(busy) {
			busyPath = rel(p.fs, busy[idx])
		}
		if dev, ok := keys.take(c.chip); ok {
			id = "/gpu-amd/" + dev.key
			busyPath = filepath.Join(dev.dir, "device", "gpu_busy_percent")
		}

		n := &sensor.Node{ID: id, Label: "AMD GPU " + strconv.Itoa(idx), Kind: sensor.HardwareGPUAmd}
		for _, t := range c.temps {
			addTemp(n, t)
		}
		if busyPath != "" {
			if v, ok := p.fs.readInt(busyPath); ok {
				n.Add("GPU Core", sensor.SensorLoad, float64(v))
			}
		}
		out = append(out, n)
	}

	return out
}

func (p *Provider) readNICs(ctx context.Context) []*sensor.Node {
	counters, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Network counters unavailable")
		return nil
	}

	out := make([]*sensor.Node, 0, len(counters))
	for _, c := range counters {
		n := &sensor.Node{ID: "/nic/" + c.Name, Label: c.Name, Kind: sensor.HardwareNetwork}
		n.Add("Data Uploaded", sensor.SensorData, float64(c.BytesSent)/bytesPerGB).
			Add("Data Downloaded", sensor.SensorData, float64(c.BytesRecv)/bytesPerGB)
		out = append(out, n)
	}

	return out
}

func addTemp(n *sensor.Node, t namedTemp) {
	if t.max > 0 {
		n.AddRange(t.name, sensor.SensorTemperature, t.value, 0, t.max)
		return
	}
	n.Add(t.name, sensor.SensorTemperature, t.value)
}

func (p *Provider) Hardware() []sensor.Device {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]sensor.Device, len(p.nodes))
	for i, n := range p.nodes {
		out[i] = n
	}

	return out
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes = nil

	return nil
}

var _ sensor.Provider = (*Provider)(nil)
