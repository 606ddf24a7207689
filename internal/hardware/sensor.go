package hardware

import (
	"strings"
	"time"
)

// SensorKind classifies what a SensorReading measures.
type SensorKind int

const (
	Temperature SensorKind = iota
	Usage
	Frequency
	Voltage
	Current
	Power
	Fan
	Flow
	Control
	Level
	Factor
	Data
	SmallData
	Throughput
)

var sensorKindNames = [...]string{
	Temperature: "temperature",
	Usage:       "usage",
	Frequency:   "frequency",
	Voltage:     "voltage",
	Current:     "current",
	Power:       "power",
	Fan:         "fan",
	Flow:        "flow",
	Control:     "control",
	Level:       "level",
	Factor:      "factor",
	Data:        "data",
	SmallData:   "small_data",
	Throughput:  "throughput",
}

func (k SensorKind) String() string {
	if k < 0 || int(k) >= len(sensorKindNames) {
		return "unknown"
	}

	return sensorKindNames[k]
}

func (k SensorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Unit returns the display unit readings of this kind are expressed in.
func (k SensorKind) Unit() string {
	switch k {
	case Temperature:
		return "°C"
	case Usage, Control, Level:
		return "%"
	case Frequency:
		return "MHz"
	case Voltage:
		return "V"
	case Current:
		return "A"
	case Power:
		return "W"
	case Fan:
		return "RPM"
	case Flow:
		return "L/h"
	case Data:
		return "GB"
	case SmallData:
		return "MB"
	case Throughput:
		return "B/s"
	default:
		return ""
	}
}

// SensorReading is one normalized measurement taken from a device.
type SensorReading struct {
	Name       string     `json:"name"`
	Kind       SensorKind `json:"kind"`
	Value      float64    `json:"value"`
	Min        float64    `json:"min"`
	Max        float64    `json:"max"`
	Unit       string     `json:"unit"`
	Valid      bool       `json:"valid"`
	Identifier string     `json:"identifier"`
	SampledAt  time.Time  `json:"sampled_at"`
}

// Readings is an ordered list of sensor readings with lookup helpers.
// Only valid readings are ever returned by the helpers.
type Readings []SensorReading

// First returns the value of the first valid reading of the given kind.
func (r Readings) First(kind SensorKind) (float64, bool) {
	for _, s := range r {
		if s.Valid && s.Kind == kind {
			return s.Value, true
		}
	}

	return 0, false
}

// FirstMatching returns the first valid reading of the given kind whose
// name contains one of the substrings (case-insensitive). Substrings are
// tried in order, so earlier ones take priority over reading order.
func (r Readings) FirstMatching(kind SensorKind, substrings ...string) (float64, bool) {
	for _, sub := range substrings {
		sub = strings.ToLower(sub)
		for _, s := range r {
			if s.Valid && s.Kind == kind && strings.Contains(strings.ToLower(s.Name), sub) {
				return s.Value, true
			}
		}
	}

	return 0, false
}

// Named returns the first valid reading of the given kind whose name
// equals name (case-insensitive).
func (r Readings) Named(kind SensorKind, name string) (float64, bool) {
	for _, s := range r {
		if s.Valid && s.Kind == kind && strings.EqualFold(s.Name, name) {
			return s.Value, true
		}
	}

	return 0, false
}

// OfKind returns all valid readings of the given kind, in order.
func (r Readings) OfKind(kind SensorKind) Readings {
	var out Readings
	for _, s := range r {
		if s.Valid && s.Kind == kind {
			out = append(out, s)
		}
	}

	return out
}
