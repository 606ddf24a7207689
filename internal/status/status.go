// Package status detects threshold crossings between consecutive
// observations of the same entity.
package status

import (
	"fmt"
	"math"
	"time"

	"codeberg.org/mutker/hwmond/internal/hardware"
)

// State is the alert level of one metric.
type State int

const (
	Normal State = iota
	Warning
	Critical
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Metric is a monitored quantity.
type Metric int

const (
	MetricTemperature Metric = iota
	MetricUsage
)

// Metrics lists every monitored metric in evaluation order.
var Metrics = []Metric{MetricTemperature, MetricUsage}

func (m Metric) String() string {
	if m == MetricTemperature {
		return "temperature"
	}

	return "usage"
}

func (m Metric) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Debounce is the smallest change that is evaluated at all.
func (m Metric) Debounce() float64 {
	if m == MetricTemperature {
		return 1
	}

	return 5
}

func (m Metric) unit() string {
	if m == MetricTemperature {
		return "°C"
	}

	return "%"
}

// Event is a single state transition.
type Event struct {
	EntityID    string        `json:"entity_id"`
	EntityName  string        `json:"entity_name"`
	Kind        hardware.Kind `json:"kind"`
	Metric      Metric        `json:"metric"`
	From        State         `json:"from"`
	To          State         `json:"to"`
	Value       float64       `json:"value"`
	Threshold   float64       `json:"threshold"`
	Description string        `json:"description"`
	At          time.Time     `json:"at"`
}

// Value reads a metric from an entity.
func Value(e hardware.Entity, m Metric) (float64, bool) {
	switch m {
	case MetricTemperature:
		if src, ok := e.(hardware.TemperatureSource); ok {
			return src.Temperature()
		}
	case MetricUsage:
		if src, ok := e.(hardware.UsageSource); ok {
			return src.Usage()
		}
	}

	return 0, false
}

// Diff compares two observations of the same entity and returns one
// event per metric whose state changed. Changes smaller than the
// metric's debounce are ignored. Without a previous observation there
// is nothing to cross from and no event is returned.
func Diff(previous, current hardware.Entity, thresholds Thresholds) []Event {
	if previous == nil || current == nil {
		return nil
	}

	var events []Event
	for _, m := range Metrics {
		prev, ok := Value(previous, m)
		if !ok {
			continue
		}
		cur, ok := Value(current, m)
		if !ok {
			continue
		}
		if ev, ok := transition(current, m, prev, cur, thresholds); ok {
			events = append(events, ev)
		}
	}

	return events
}

// DiffSnapshots runs Diff for every entity of current against the entity
// with the same identifier in previous.
func DiffSnapshots(previous, current *hardware.Snapshot, thresholds Thresholds) []Event {
	index := previous.Index()

	var events []Event
	for _, e := range current.Entities() {
		prev, ok := index[e.ID()]
		if !ok {
			continue
		}
		events = append(events, Diff(prev, e, thresholds)...)
	}

	return events
}

func transition(e hardware.Entity, m Metric, prev, cur float64, thresholds Thresholds) (Event, bool) {
	if math.Abs(cur-prev) < m.Debounce() {
		return Event{}, false
	}

	limits, ok := thresholds.Limits(e.Kind(), m)
	if !ok {
		return Event{}, false
	}

	from, to := limits.Classify(prev), limits.Classify(cur)
	if from == to {
		return Event{}, false
	}

	threshold := limits.Warning
	if to == Critical || (from == Critical && to == Warning) {
		threshold = limits.Critical
	}

	return Event{
		EntityID:    e.ID(),
		EntityName:  e.Name(),
		Kind:        e.Kind(),
		Metric:      m,
		From:        from,
		To:          to,
		Value:       cur,
		Threshold:   threshold,
		Description: describe(e, m, from, to, cur, threshold),
		At:          e.LastUpdated(),
	}, true
}

func describe(e hardware.Entity, m Metric, from, to State, v, threshold float64) string {
	unit := m.unit()
	switch {
	case to == Normal:
		return fmt.Sprintf("%s %s back to normal: %.1f%s (below %.1f%s)", e.Name(), m, v, unit, threshold, unit)
	case to < from:
		return fmt.Sprintf("%s %s dropped to %s: %.1f%s (below %.1f%s)", e.Name(), m, to, v, unit, threshold, unit)
	default:
		return fmt.Sprintf("%s %s is %s: %.1f%s (threshold %.1f%s)", e.Name(), m, to, v, unit, threshold, unit)
	}
}
