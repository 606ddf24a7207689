package network

import (
	"math"
	"sync"
	"time"
)

const bytesPerMB = 1024 * 1024

type counters struct {
	received  uint64
	sent      uint64
	sampledAt time.Time
}

// Tracker turns cumulative byte counters into speeds. It keeps the
// previous sample of every adapter it has seen and forgets adapters as
// soon as they stop being reported.
type Tracker struct {
	mu       sync.Mutex
	previous map[string]counters
}

func NewTracker() *Tracker {
	return &Tracker{previous: make(map[string]counters)}
}

// ComputeSpeeds filters out virtual and non-Ethernet/Wi-Fi adapters,
// merges adapters sharing a MAC address, and fills in download and
// upload speed (MB/s, two decimals), usage and priority for the rest.
// The first sample of an adapter only records a baseline and reports
// zero.
func (t *Tracker) ComputeSpeeds(adapters []Adapter, at time.Time) []Adapter {
	physical := make([]Adapter, 0, len(adapters))
	for _, a := range adapters {
		if IsPhysical(a) {
			physical = append(physical, a)
		}
	}
	retained := Dedup(physical)

	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]struct{}, len(retained))
	for i := range retained {
		a := &retained[i]
		id := a.ID()
		seen[id] = struct{}{}

		a.DownloadSpeed, a.UploadSpeed = 0, 0
		if prev, ok := t.previous[id]; ok {
			if dt := at.Sub(prev.sampledAt).Seconds(); dt > 0 {
				a.DownloadSpeed = speed(a.BytesReceived, prev.received, dt)
				a.UploadSpeed = speed(a.BytesSent, prev.sent, dt)
			}
		}
		a.UsagePercent = usage(a.DownloadSpeed+a.UploadSpeed, a.LinkSpeedMbps)

		t.previous[id] = counters{
			received:  a.BytesReceived,
			sent:      a.BytesSent,
			sampledAt: at,
		}
	}

	for id := range t.previous {
		if _, ok := seen[id]; !ok {
			delete(t.previous, id)
		}
	}

	return retained
}

// Reset drops every baseline.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.previous)
}

// Tracked is the number of adapters with a stored baseline.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.previous)
}

func speed(current, previous uint64, seconds float64) float64 {
	var delta uint64
	if current > previous {
		delta = current - previous
	}

	return round2(float64(delta) / seconds / bytesPerMB)
}

// usage converts a combined MB/s rate into a percentage of link speed.
func usage(mbPerSecond, linkMbps float64) float64 {
	if linkMbps <= 0 {
		return 0
	}
	megabits := mbPerSecond * bytesPerMB * 8 / 1e6

	return round2(min(megabits/linkMbps*100, 100))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SelectPrimary picks the adapter to show when only one fits: the
// connected adapter moving the most data, then the connected adapter
// with the highest usage, then the first connected adapter, then the
// first adapter of any state.
func SelectPrimary(adapters []Adapter) (Adapter, bool) {
	i := selectPrimary(adapters,
		func(a Adapter) bool { return a.Up },
		func(a Adapter) float64 { return a.DownloadSpeed + a.UploadSpeed },
		func(a Adapter) float64 { return a.UsagePercent },
	)
	if i < 0 {
		return Adapter{}, false
	}

	return adapters[i], true
}

func selectPrimary[T any](items []T, up func(T) bool, total, usage func(T) float64) int {
	if len(items) == 0 {
		return -1
	}

	best := -1
	for i, item := range items {
		if up(item) && (best < 0 || total(item) > total(items[best])) {
			best = i
		}
	}
	if best >= 0 && total(items[best]) > 0 {
		return best
	}

	best = -1
	for i, item := range items {
		if up(item) && (best < 0 || usage(item) > usage(items[best])) {
			best = i
		}
	}
	if best >= 0 {
		return best
	}

	return 0
}
