package status

import (
	"math"

	"codeberg.org/mutker/hwmond/internal/hardware"
)

// Limits is a warning/critical pair. A value at or above Critical is
// critical, at or above Warning is a warning, anything else is normal.
type Limits struct {
	Warning  float64 `json:"warning" mapstructure:"warning"`
	Critical float64 `json:"critical" mapstructure:"critical"`
}

// Valid reports whether both bounds are positive finite numbers and
// Critical lies above Warning.
func (l Limits) Valid() bool {
	if math.IsNaN(l.Warning) || math.IsNaN(l.Critical) ||
		math.IsInf(l.Warning, 0) || math.IsInf(l.Critical, 0) {
		return false
	}

	return l.Warning > 0 && l.Critical > l.Warning
}

// Classify places a value into a state, checking critical first.
func (l Limits) Classify(v float64) State {
	switch {
	case v >= l.Critical:
		return Critical
	case v >= l.Warning:
		return Warning
	default:
		return Normal
	}
}

// KindThresholds holds the pairs for one hardware kind. A zero pair
// disables that metric for the kind.
type KindThresholds struct {
	Temperature Limits `json:"temperature" mapstructure:"temperature"`
	Usage       Limits `json:"usage" mapstructure:"usage"`
}

func (k KindThresholds) limits(m Metric) Limits {
	if m == MetricTemperature {
		return k.Temperature
	}

	return k.Usage
}

// Thresholds maps hardware kinds to their pairs.
type Thresholds map[hardware.Kind]KindThresholds

// DefaultThresholds returns the built-in pairs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		hardware.KindCPU: {
			Temperature: Limits{Warning: 70, Critical: 85},
			Usage:       Limits{Warning: 80, Critical: 95},
		},
		hardware.KindGPU: {
			Temperature: Limits{Warning: 75, Critical: 90},
			Usage:       Limits{Warning: 85, Critical: 95},
		},
		hardware.KindMemory: {
			Usage: Limits{Warning: 80, Critical: 90},
		},
		hardware.KindMotherboard: {
			Temperature: Limits{Warning: 60, Critical: 75},
		},
		hardware.KindStorage: {
			Temperature: Limits{Warning: 50, Critical: 60},
		},
		hardware.KindNetwork: {
			Usage: Limits{Warning: 80, Critical: 95},
		},
	}
}

// Sanitize returns a copy in which every invalid pair is replaced by
// its default. Pairs without a default are kept only when valid.
func (t Thresholds) Sanitize() Thresholds {
	defaults := DefaultThresholds()
	out := make(Thresholds, len(defaults))

	for _, kind := range hardware.Kinds {
		configured, hasConfigured := t[kind]
		def := defaults[kind]
		if !hasConfigured {
			if def != (KindThresholds{}) {
				out[kind] = def
			}
			continue
		}

		var k KindThresholds
		k.Temperature = sanitizePair(configured.Temperature, def.Temperature)
		k.Usage = sanitizePair(configured.Usage, def.Usage)
		if k != (KindThresholds{}) {
			out[kind] = k
		}
	}

	return out
}

func sanitizePair(configured, def Limits) Limits {
	if configured.Valid() {
		return configured
	}

	return def
}

// Limits returns the pair for a kind and metric, and false when that
// metric is not monitored for the kind.
func (t Thresholds) Limits(kind hardware.Kind, m Metric) (Limits, bool) {
	k, ok := t[kind]
	if !ok {
		return Limits{}, false
	}

	l := k.limits(m)
	if !l.Valid() {
		return Limits{}, false
	}

	return l, true
}
