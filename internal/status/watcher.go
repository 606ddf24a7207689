package status

import (
	"math"
	"sync"

	"codeberg.org/mutker/hwmond/internal/hardware"
)

type baselineKey struct {
	id     string
	metric Metric
}

// Watcher applies the Diff rules across cycles while remembering, per
// entity and metric, the last value that was actually evaluated. The
// baseline only moves once a change reaches the debounce, so a slow
// drift made of small steps is still caught when it adds up.
type Watcher struct {
	mu        sync.Mutex
	baselines map[baselineKey]float64
}

func NewWatcher() *Watcher {
	return &Watcher{baselines: make(map[baselineKey]float64)}
}

// Observe evaluates every entity against its baselines and returns the
// resulting events in entity order. The first observation of an entity
// only records baselines. Entities missing from the list are forgotten.
func (w *Watcher) Observe(entities []hardware.Entity, thresholds Thresholds) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	var events []Event
	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		if e == nil {
			continue
		}
		seen[e.ID()] = struct{}{}

		for _, m := range Metrics {
			cur, ok := Value(e, m)
			if !ok {
				continue
			}

			key := baselineKey{id: e.ID(), metric: m}
			prev, ok := w.baselines[key]
			if !ok {
				w.baselines[key] = cur
				continue
			}
			if math.Abs(cur-prev) < m.Debounce() {
				continue
			}

			w.baselines[key] = cur
			if ev, ok := transition(e, m, prev, cur, thresholds); ok {
				events = append(events, ev)
			}
		}
	}

	for key := range w.baselines {
		if _, ok := seen[key.id]; !ok {
			delete(w.baselines, key)
		}
	}

	return events
}

// Reset forgets every baseline.
func (w *Watcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.baselines)
}
