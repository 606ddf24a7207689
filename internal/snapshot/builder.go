// Package snapshot turns a provider device tree into a normalized
// hardware.Snapshot.
package snapshot

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/hwmond/internal/hardware"
	"codeberg.org/mutker/hwmond/internal/logger"
	"codeberg.org/mutker/hwmond/internal/sensor"
)

// HostInfo supplies facts the device tree does not carry.
type HostInfo interface {
	// CoreCounts returns the physical core and logical thread counts of
	// the host. Either may be zero when unknown.
	CoreCounts() (cores, threads int)
	Uptime() time.Duration
}

// Builder converts provider trees into snapshots. It is safe for
// concurrent use, although the poller only ever calls it from one
// cycle at a time.
type Builder struct {
	host   HostInfo
	logger logger.Logger
	now    func() time.Time

	mu     sync.Mutex
	warned map[string]struct{}
}

type Option func(*Builder)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

func New(host HostInfo, log logger.Logger, opts ...Option) *Builder {
	b := &Builder{
		host:   host,
		logger: log,
		now:    time.Now,
		warned: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Build maps every top-level device onto an entity. Sub-hardware is
// flattened into its parent. Devices whose sensors cannot be read are
// left out of the snapshot.
func (b *Builder) Build(devices []sensor.Device) *hardware.Snapshot {
	now := b.now()
	snap := &hardware.Snapshot{CapturedAt: now}
	if b.host != nil {
		snap.Uptime = b.host.Uptime()
	}

	for _, dev := range devices {
		if dev == nil {
			continue
		}

		kind, ok := entityKinds[dev.Type()]
		if !ok {
			b.logger.Debug().
				Str("device", dev.Identifier()).
				Str("type", dev.Type().String()).
				Msg("Skipping unsupported hardware type")
			continue
		}

		readings, ok := b.collect(dev, now)
		if !ok {
			continue
		}

		base := hardware.Base{
			Identifier:  dev.Identifier(),
			DisplayName: dev.Name(),
			Type:        kind,
			Readings:    readings,
			Updated:     now,
			IsOnline:    hasValid(readings),
		}

		switch kind {
		case hardware.KindCPU:
			snap.CPUs = append(snap.CPUs, b.buildCPU(dev, base))
		case hardware.KindGPU:
			snap.GPUs = append(snap.GPUs, buildGPU(base))
		case hardware.KindMemory:
			snap.Memory = append(snap.Memory, buildMemory(base))
		case hardware.KindMotherboard:
			snap.Motherboards = append(snap.Motherboards, &hardware.MotherboardInfo{Base: base})
			snap.Fans = append(snap.Fans, buildFans(base)...)
		case hardware.KindStorage:
			storage := &hardware.StorageInfo{Base: base}
			if _, ok := storage.Temperature(); ok {
				snap.Storage = append(snap.Storage, storage)
			}
		case hardware.KindNetwork:
			snap.Network = append(snap.Network, &hardware.NetworkInfo{Base: base, AdapterName: dev.Name()})
		case hardware.KindFan:
			snap.Fans = append(snap.Fans, buildFans(base)...)
		}
	}

	return snap
}

// collect reads a device and all of its sub-hardware. A failing
// top-level device is dropped; a failing child only loses its own
// readings.
func (b *Builder) collect(dev sensor.Device, now time.Time) (hardware.Readings, bool) {
	raw, err := dev.Sensors()
	if err != nil {
		b.warnOnce(dev, err)
		return nil, false
	}
	b.clearWarning(dev)

	readings := convert(raw, now)
	for _, sub := range dev.SubHardware() {
		if sub == nil {
			continue
		}
		if child, ok := b.collect(sub, now); ok {
			readings = append(readings, child...)
		}
	}

	return readings, true
}

// warnOnce logs a read failure at warn level the first time a device
// fails and at debug level while it keeps failing.
func (b *Builder) warnOnce(dev sensor.Device, err error) {
	b.mu.Lock()
	_, seen := b.warned[dev.Identifier()]
	b.warned[dev.Identifier()] = struct{}{}
	b.mu.Unlock()

	event := b.logger.Warn()
	if seen {
		event = b.logger.Debug()
	}
	event.Err(err).
		Str("device", dev.Identifier()).
		Str("name", dev.Name()).
		Msg("Failed to read device sensors, skipping")
}

func (b *Builder) clearWarning(dev sensor.Device) {
	b.mu.Lock()
	delete(b.warned, dev.Identifier())
	b.mu.Unlock()
}

// coreIndex matches "Core #3", "CPU Core #3" and "Core 2". The '#' form
// is 1-based.
var coreIndex = regexp.MustCompile(`(?i)\bcore\s*(#)?\s*(\d+)\b`)

func parseCoreIndex(name string) (int, bool) {
	if strings.Contains(strings.ToLower(name), "thread") {
		return 0, false
	}

	m := coreIndex.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}

	idx, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	if m[1] == "#" {
		idx--
	}
	if idx < 0 {
		return 0, false
	}

	return idx, true
}

func (b *Builder) buildCPU(dev sensor.Device, base hardware.Base) *hardware.CPUInfo {
	cpu := &hardware.CPUInfo{Base: base}
	cpu.CoreCount, cpu.ThreadCount = b.topology(dev)

	usage := perCore(base.Readings, hardware.Usage)
	temps := perCore(base.Readings, hardware.Temperature)

	if cpu.CoreCount <= 0 {
		cpu.CoreCount = max(highestIndex(usage), highestIndex(temps)) + 1
	}
	if cpu.ThreadCount <= 0 {
		cpu.ThreadCount = cpu.CoreCount
	}

	aggUsage, okUsage := cpu.Usage()
	aggTemp, okTemp := cpu.Temperature()
	cpu.CoreUsages = fillCores(usage, cpu.CoreCount, aggUsage, okUsage)
	cpu.CoreTemperatures = fillCores(temps, cpu.CoreCount, aggTemp, okTemp)

	return cpu
}

func (b *Builder) topology(dev sensor.Device) (cores, threads int) {
	if t, ok := dev.(sensor.TopologyReporter); ok {
		cores, threads = t.Topology()
	}
	if cores <= 0 && b.host != nil {
		cores, threads = b.host.CoreCounts()
	}
	if cores <= 0 {
		cores = threads
	}

	return cores, threads
}

func perCore(readings hardware.Readings, kind hardware.SensorKind) map[int]float64 {
	out := make(map[int]float64)
	for _, r := range readings.OfKind(kind) {
		idx, ok := parseCoreIndex(r.Name)
		if !ok {
			continue
		}
		if _, dup := out[idx]; !dup {
			out[idx] = r.Value
		}
	}

	return out
}

func highestIndex(values map[int]float64) int {
	highest := 0
	for idx := range values {
		highest = max(highest, idx)
	}

	return highest
}

// fillCores lays per-core values out by index. Slots without a reading
// take the aggregate value, or the mean of the known cores when there
// is no aggregate.
func fillCores(values map[int]float64, count int, aggregate float64, hasAggregate bool) []float64 {
	if count <= 0 {
		return []float64{}
	}

	fill := aggregate
	if !hasAggregate && len(values) > 0 {
		var sum float64
		for _, v := range values {
			sum += v
		}
		fill = sum / float64(len(values))
	}

	out := make([]float64, count)
	for i := range out {
		if v, ok := values[i]; ok {
			out[i] = v
			continue
		}
		out[i] = fill
	}

	return out
}

const mbPerGB = 1024

func buildGPU(base hardware.Base) *hardware.GPUInfo {
	gpu := &hardware.GPUInfo{Base: base}
	gpu.MemoryUsedGB = memoryGB(base.Readings, "memory used")
	gpu.MemoryTotalGB = memoryGB(base.Readings, "memory total")

	return gpu
}

// memoryGB looks for a data sensor whose name contains pattern. SmallData
// is reported in MB and Data in GB.
func memoryGB(readings hardware.Readings, pattern string) float64 {
	if v, ok := readings.FirstMatching(hardware.SmallData, pattern); ok {
		return v / mbPerGB
	}
	if v, ok := readings.FirstMatching(hardware.Data, pattern); ok {
		return v
	}

	return 0
}

func buildMemory(base hardware.Base) *hardware.MemoryInfo {
	mem := &hardware.MemoryInfo{Base: base}
	if v, ok := base.Readings.FirstMatching(hardware.Data, "memory used", "used"); ok {
		mem.UsedGB = v
	}
	if v, ok := base.Readings.FirstMatching(hardware.Data, "memory available", "available"); ok {
		mem.AvailableGB = v
	}

	return mem
}

// buildFans creates one entity per fan speed sensor, paired with the
// control sensor carrying the same channel number when there is one.
func buildFans(base hardware.Base) []*hardware.FanInfo {
	var fans []*hardware.FanInfo
	var controls []hardware.SensorReading
	for _, r := range base.Readings {
		if r.Kind == hardware.Control {
			controls = append(controls, r)
		}
	}

	position := 0
	for _, r := range base.Readings {
		if r.Kind != hardware.Fan {
			continue
		}

		readings := hardware.Readings{r}
		if c, ok := matchControl(r, controls, position); ok {
			readings = append(readings, c)
		}
		position++

		fans = append(fans, &hardware.FanInfo{Base: hardware.Base{
			Identifier:  r.Identifier,
			DisplayName: r.Name,
			Type:        hardware.KindFan,
			Readings:    readings,
			Updated:     base.Updated,
			IsOnline:    r.Valid,
		}})
	}

	return fans
}

var trailingNumber = regexp.MustCompile(`(\d+)\s*$`)

func matchControl(fan hardware.SensorReading, controls []hardware.SensorReading, position int) (hardware.SensorReading, bool) {
	if m := trailingNumber.FindStringSubmatch(fan.Name); m != nil {
		for _, c := range controls {
			if cm := trailingNumber.FindStringSubmatch(c.Name); cm != nil && cm[1] == m[1] {
				return c, true
			}
		}
	}
	if position < len(controls) {
		return controls[position], true
	}

	return hardware.SensorReading{}, false
}
