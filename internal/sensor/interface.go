// Package sensor defines the contract between hwmond and the sensor
// providers that expose raw hardware readings, plus a static device
// tree implementation and a provider that composes several others.
package sensor

import (
	"context"
)

// Provider exposes a refreshable tree of hardware devices.
type Provider interface {
	// Open acquires whatever handles the provider needs. Called once.
	Open(ctx context.Context) error

	// Refresh updates every live sensor value in place. An error means
	// the provider as a whole is unavailable for this cycle.
	Refresh(ctx context.Context) error

	// Hardware returns the current device tree. Callers must not
	// retain it across Refresh calls.
	Hardware() []Device

	// Close releases provider resources.
	Close() error
}

// Device is one node of the provider tree.
type Device interface {
	Identifier() string
	Name() string
	Type() HardwareType

	// Sensors returns the device's readings. A device that could not
	// be read returns an error; callers skip it and carry on.
	Sensors() ([]Sensor, error)

	SubHardware() []Device
}

// TopologyReporter is implemented by CPU devices that know their core
// and thread counts.
type TopologyReporter interface {
	Topology() (cores, threads int)
}

// Sensor is a raw provider reading. A nil Value means the sensor exists
// but has no current reading.
type Sensor struct {
	Name       string
	Type       SensorType
	Value      *float64
	Min        *float64
	Max        *float64
	Identifier string
}

// HardwareType is the provider's device taxonomy.
type HardwareType int

const (
	HardwareUnknown HardwareType = iota
	HardwareCPU
	HardwareGPUNvidia
	HardwareGPUAmd
	HardwareGPUIntel
	HardwareMemory
	HardwareMotherboard
	HardwareSuperIO
	HardwareEmbeddedController
	HardwareStorage
	HardwareNetwork
	HardwareCooler
	HardwarePSU
	HardwareBattery
)

var hardwareTypeNames = [...]string{
	HardwareUnknown:            "unknown",
	HardwareCPU:                "cpu",
	HardwareGPUNvidia:          "gpu-nvidia",
	HardwareGPUAmd:             "gpu-amd",
	HardwareGPUIntel:           "gpu-intel",
	HardwareMemory:             "memory",
	HardwareMotherboard:        "motherboard",
	HardwareSuperIO:            "superio",
	HardwareEmbeddedController: "ec",
	HardwareStorage:            "storage",
	HardwareNetwork:            "network",
	HardwareCooler:             "cooler",
	HardwarePSU:                "psu",
	HardwareBattery:            "battery",
}

func (t HardwareType) String() string {
	if t < 0 || int(t) >= len(hardwareTypeNames) {
		return "unknown"
	}

	return hardwareTypeNames[t]
}

// IsGPU reports whether t is any graphics vendor.
func (t HardwareType) IsGPU() bool {
	return t == HardwareGPUNvidia || t == HardwareGPUAmd || t == HardwareGPUIntel
}

// SensorType is the provider's sensor taxonomy.
type SensorType int

const (
	SensorVoltage SensorType = iota
	SensorCurrent
	SensorPower
	SensorClock
	SensorTemperature
	SensorLoad
	SensorFrequency
	SensorFan
	SensorFlow
	SensorControl
	SensorLevel
	SensorFactor
	SensorData
	SensorSmallData
	SensorThroughput
	SensorTimeSpan
	SensorEnergy
	SensorNoise
)

// Float returns a pointer to v, for building Sensor values.
func Float(v float64) *float64 {
	return &v
}

// Compile-time interface checks
var (
	_ Device           = (*Node)(nil)
	_ TopologyReporter = (*Node)(nil)
	_ Provider         = (*Multi)(nil)
)
