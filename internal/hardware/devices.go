package hardware

// CPUInfo is a processor package. Per-core slices always hold exactly
// CoreCount values.
type CPUInfo struct {
	Base
	CoreCount        int       `json:"core_count"`
	ThreadCount      int       `json:"thread_count"`
	CoreUsages       []float64 `json:"core_usages"`
	CoreTemperatures []float64 `json:"core_temperatures"`
}

func (c *CPUInfo) Usage() (float64, bool) {
	if v, ok := c.Readings.FirstMatching(Usage, "cpu total", "total"); ok {
		return v, true
	}

	return c.Readings.First(Usage)
}

func (c *CPUInfo) Temperature() (float64, bool) {
	if v, ok := c.Readings.FirstMatching(Temperature, "package", "tctl", "tdie", "core average"); ok {
		return v, true
	}

	return c.Readings.First(Temperature)
}

func (c *CPUInfo) Frequency() (float64, bool) {
	return c.Readings.First(Frequency)
}

func (c *CPUInfo) Power() (float64, bool) {
	if v, ok := c.Readings.FirstMatching(Power, "package"); ok {
		return v, true
	}

	return c.Readings.First(Power)
}

// GPUInfo is a graphics adapter. Memory figures are kept as explicit
// fields because providers report them in mixed units.
type GPUInfo struct {
	Base
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
}

// Metric resolves a classified GPU field from the sensor list.
func (g *GPUInfo) Metric(field GPUField) (float64, bool) {
	return Classify(g.Readings, field)
}

func (g *GPUInfo) Usage() (float64, bool)       { return g.Metric(GPUUsage) }
func (g *GPUInfo) Temperature() (float64, bool) { return g.Metric(GPUTemperature) }
func (g *GPUInfo) CoreClock() (float64, bool)   { return g.Metric(GPUCoreClock) }
func (g *GPUInfo) MemoryClock() (float64, bool) { return g.Metric(GPUMemoryClock) }
func (g *GPUInfo) Power() (float64, bool)       { return g.Metric(GPUPower) }
func (g *GPUInfo) FanSpeed() (float64, bool)    { return g.Metric(GPUFanSpeed) }
func (g *GPUInfo) FanControl() (float64, bool)  { return g.Metric(GPUFanControl) }

// MemoryUsage returns used video memory as a percentage of the total.
func (g *GPUInfo) MemoryUsage() (float64, bool) {
	if g.MemoryTotalGB <= 0 {
		return 0, false
	}

	return g.MemoryUsedGB / g.MemoryTotalGB * 100, true
}

// MemoryInfo is system RAM.
type MemoryInfo struct {
	Base
	UsedGB      float64 `json:"used_gb"`
	AvailableGB float64 `json:"available_gb"`
}

func (m *MemoryInfo) Usage() (float64, bool) {
	if v, ok := m.Readings.Named(Usage, "Memory"); ok {
		return v, true
	}

	return m.Readings.First(Usage)
}

// TotalGB is used plus available memory.
func (m *MemoryInfo) TotalGB() float64 {
	return m.UsedGB + m.AvailableGB
}

// MotherboardInfo aggregates board-level sensors, including those of
// embedded controllers and Super I/O chips.
type MotherboardInfo struct {
	Base
}

func (m *MotherboardInfo) Temperature() (float64, bool) {
	return m.Readings.First(Temperature)
}

// Voltages returns every valid voltage reading on the board.
func (m *MotherboardInfo) Voltages() Readings {
	return m.Readings.OfKind(Voltage)
}

// StorageInfo is a drive that reports a temperature. Capacity and
// partitions are not modeled.
type StorageInfo struct {
	Base
}

func (s *StorageInfo) Temperature() (float64, bool) {
	return s.Readings.First(Temperature)
}

// NetworkInfo is a physical network adapter with computed throughput.
// Speeds are in MB/s rounded to two decimals.
type NetworkInfo struct {
	Base
	AdapterName   string   `json:"adapter_name"`
	Description   string   `json:"description,omitempty"`
	MAC           string   `json:"mac,omitempty"`
	InterfaceKind string   `json:"interface_kind"`
	Up            bool     `json:"up"`
	IPv4          []string `json:"ipv4,omitempty"`
	HasGateway    bool     `json:"has_gateway"`
	DHCP          bool     `json:"dhcp"`
	LinkSpeedMbps float64  `json:"link_speed_mbps"`
	BytesReceived uint64   `json:"bytes_received"`
	BytesSent     uint64   `json:"bytes_sent"`
	DownloadSpeed float64  `json:"download_speed"`
	UploadSpeed   float64  `json:"upload_speed"`
	UsagePercent  float64  `json:"usage_percent"`
	Priority      int      `json:"priority"`
}

// Usage prefers the percentage derived from link speed and falls back
// to a provider utilization sensor.
func (n *NetworkInfo) Usage() (float64, bool) {
	if n.LinkSpeedMbps > 0 {
		return n.UsagePercent, true
	}

	return n.Readings.First(Usage)
}

// FanInfo is a single fan header or cooler channel.
type FanInfo struct {
	Base
}

func (f *FanInfo) RPM() (float64, bool) {
	return f.Readings.First(Fan)
}

func (f *FanInfo) ControlPercent() (float64, bool) {
	return f.Readings.First(Control)
}
