// Package gpu reads NVIDIA graphics cards through NVML and exposes
// them as sensor devices.
package gpu

import (
	"context"
	"strconv"
	"sync"

	"codeberg.org/mutker/hwmond/internal/errors"
	"codeberg.org/mutker/hwmond/internal/logger"
	"codeberg.org/mutker/hwmond/internal/sensor"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	milliWattsToWatts = 1000
	bytesPerMB        = 1024 * 1024
)

type card struct {
	index  int
	name   string
	uuid   string
	handle device
}

// Provider is a sensor.Provider over every GPU NVML can see.
type Provider struct {
	nvml   nvmlController
	logger logger.Logger
	cards  []card
	nodes  []*sensor.Node
	mu     sync.RWMutex
}

func New(log logger.Logger) *Provider {
	return newProvider(&nvmlWrapper{}, log)
}

func newProvider(ctrl nvmlController, log logger.Logger) *Provider {
	return &Provider{
		nvml:   ctrl,
		logger: log,
	}
}

func (p *Provider) Open(context.Context) error {
	errFactory := errors.New()
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.nvml.Initialize(); err != nil {
		return err
	}

	count, err := p.nvml.GetDeviceCount()
	if err != nil {
		_ = p.nvml.Shutdown()
		return err
	}

	p.cards = p.cards[:0]
	for i := 0; i < count; i++ {
		handle, err := p.nvml.GetDevice(i)
		if err != nil {
			p.logger.Warn().Err(err).Int("index", i).Msg("Failed to get GPU handle, skipping")
			continue
		}

		c := card{index: i, handle: handle, name: "NVIDIA GPU " + strconv.Itoa(i)}
		if name, ret := handle.GetName(); IsNVMLSuccess(ret) {
			c.name = name
		} else {
			p.logger.Warn().Msgf("Failed to get GPU name: %v", nvml.ErrorString(ret))
		}
		if uuid, ret := handle.GetUUID(); IsNVMLSuccess(ret) {
			c.uuid = uuid
		}

		p.logger.Info().Str("uuid", c.uuid).Msgf("Detected GPU: %v", c.name)
		p.cards = append(p.cards, c)
	}

	if len(p.cards) == 0 {
		_ = p.nvml.Shutdown()
		return errFactory.New(ErrNoDevices)
	}

	return nil
}

// Refresh re-reads every card. A card whose core temperature cannot be
// read is reported with a read error; other unavailable readings are
// left out.
func (p *Provider) Refresh(context.Context) error {
	errFactory := errors.New()
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.cards) == 0 {
		return errFactory.New(ErrNotInitialized)
	}

	nodes := make([]*sensor.Node, 0, len(p.cards))
	for _, c := range p.cards {
		nodes = append(nodes, p.read(c))
	}
	p.nodes = nodes

	return nil
}

func (p *Provider) read(c card) *sensor.Node {
	errFactory := errors.New()
	n := &sensor.Node{
		ID:    "/gpu-nvidia/" + strconv.Itoa(c.index),
		Label: c.name,
		Kind:  sensor.HardwareGPUNvidia,
	}
	d := c.handle

	temp, ret := d.GetTemperature(nvml.TEMPERATURE_GPU)
	if !IsNVMLSuccess(ret) {
		n.Err = errFactory.Wrap(ErrTemperatureReadFailed, newNVMLError(ret))
		return n
	}
	n.Add("GPU Core", sensor.SensorTemperature, float64(temp))

	if util, ret := d.GetUtilizationRates(); IsNVMLSuccess(ret) {
		n.Add("GPU Core", sensor.SensorLoad, float64(util.Gpu))
		n.Add("GPU Memory Controller", sensor.SensorLoad, float64(util.Memory))
	} else {
		p.logUnavailable(c, "utilization", ret)
	}

	clocks := []struct {
		name string
		typ  nvml.ClockType
	}{
		{"GPU Core", nvml.CLOCK_GRAPHICS},
		{"GPU Memory", nvml.CLOCK_MEM},
		{"GPU Shader", nvml.CLOCK_SM},
	}
	for _, clk := range clocks {
		if mhz, ret := d.GetClockInfo(clk.typ); IsNVMLSuccess(ret) {
			n.Add(clk.name, sensor.SensorClock, float64(mhz))
		} else {
			p.logUnavailable(c, "clock", ret)
		}
	}

	if mw, ret := d.GetPowerUsage(); IsNVMLSuccess(ret) {
		n.Add("GPU Package", sensor.SensorPower, float64(mw)/milliWattsToWatts)
	} else {
		p.logUnavailable(c, "power", ret)
	}

	if fans, ret := d.GetNumFans(); IsNVMLSuccess(ret) {
		for i := 0; i < fans; i++ {
			speed, ret := d.GetFanSpeed_v2(i)
			if !IsNVMLSuccess(ret) {
				p.logUnavailable(c, "fan", ret)
				continue
			}
			n.Add(fanName(i, fans), sensor.SensorControl, float64(speed))
		}
	}

	if mem, ret := d.GetMemoryInfo(); IsNVMLSuccess(ret) {
		n.Add("GPU Memory Used", sensor.SensorSmallData, float64(mem.Used)/bytesPerMB)
		n.Add("GPU Memory Free", sensor.SensorSmallData, float64(mem.Free)/bytesPerMB)
		n.Add("GPU Memory Total", sensor.SensorSmallData, float64(mem.Total)/bytesPerMB)
		if mem.Total > 0 {
			n.Add("GPU Memory", sensor.SensorLoad, float64(mem.Used)/float64(mem.Total)*100)
		}
	} else {
		p.logUnavailable(c, "memory", ret)
	}

	return n
}

func (p *Provider) logUnavailable(c card, what string, ret nvml.Return) {
	if isUnsupported(ret) {
		return
	}
	p.logger.Debug().
		Str("gpu", c.name).
		Str("reading", what).
		Msgf("GPU reading unavailable: %v", nvml.ErrorString(ret))
}

func fanName(i, total int) string {
	if total == 1 {
		return "GPU Fan"
	}

	return "GPU Fan #" + strconv.Itoa(i+1)
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

	p.cards = nil
	p.nodes = nil

	return p.nvml.Shutdown()
}

var _ sensor.Provider = (*Provider)(nil)
