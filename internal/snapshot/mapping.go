package snapshot

import (
	"math"
	"time"

	"codeberg.org/mutker/hwmond/internal/hardware"
	"codeberg.org/mutker/hwmond/internal/sensor"
)

// sensorKinds maps provider sensor types onto domain kinds. Types with
// no entry are not modeled and are dropped.
var sensorKinds = map[sensor.SensorType]hardware.SensorKind{
	sensor.SensorTemperature: hardware.Temperature,
	sensor.SensorLoad:        hardware.Usage,
	sensor.SensorClock:       hardware.Frequency,
	sensor.SensorFrequency:   hardware.Frequency,
	sensor.SensorVoltage:     hardware.Voltage,
	sensor.SensorCurrent:     hardware.Current,
	sensor.SensorPower:       hardware.Power,
	sensor.SensorFan:         hardware.Fan,
	sensor.SensorFlow:        hardware.Flow,
	sensor.SensorControl:     hardware.Control,
	sensor.SensorLevel:       hardware.Level,
	sensor.SensorFactor:      hardware.Factor,
	sensor.SensorData:        hardware.Data,
	sensor.SensorSmallData:   hardware.SmallData,
	sensor.SensorThroughput:  hardware.Throughput,
}

// entityKinds maps provider device types onto entity variants.
var entityKinds = map[sensor.HardwareType]hardware.Kind{
	sensor.HardwareCPU:                hardware.KindCPU,
	sensor.HardwareGPUNvidia:          hardware.KindGPU,
	sensor.HardwareGPUAmd:             hardware.KindGPU,
	sensor.HardwareGPUIntel:           hardware.KindGPU,
	sensor.HardwareMemory:             hardware.KindMemory,
	sensor.HardwareMotherboard:        hardware.KindMotherboard,
	sensor.HardwareSuperIO:            hardware.KindMotherboard,
	sensor.HardwareEmbeddedController: hardware.KindMotherboard,
	sensor.HardwareStorage:            hardware.KindStorage,
	sensor.HardwareNetwork:            hardware.KindNetwork,
	sensor.HardwareCooler:             hardware.KindFan,
}

func convert(raw []sensor.Sensor, at time.Time) hardware.Readings {
	out := make(hardware.Readings, 0, len(raw))
	for _, s := range raw {
		kind, ok := sensorKinds[s.Type]
		if !ok {
			continue
		}

		r := hardware.SensorReading{
			Name:       s.Name,
			Kind:       kind,
			Unit:       kind.Unit(),
			Identifier: s.Identifier,
			SampledAt:  at,
		}
		if s.Value != nil && isFinite(*s.Value) {
			r.Value = *s.Value
			r.Valid = true
		}
		if s.Min != nil && isFinite(*s.Min) {
			r.Min = *s.Min
		}
		if s.Max != nil && isFinite(*s.Max) {
			r.Max = *s.Max
		}
		out = append(out, r)
	}

	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func hasValid(r hardware.Readings) bool {
	for _, s := range r {
		if s.Valid {
			return true
		}
	}

	return false
}
