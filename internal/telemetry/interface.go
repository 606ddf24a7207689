package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/hwmond/internal/hardware"
	"codeberg.org/mutker/hwmond/internal/status"
)

// Collector persists snapshots and status events.
type Collector interface {
	RecordSnapshot(ctx context.Context, snap *hardware.Snapshot) error
	RecordEvent(ctx context.Context, ev status.Event) error
	Close() error
}

// Repository buffers rows and writes them in batches.
type Repository interface {
	Record(samples []Sample, events []status.Event) error
	Close() error
}

// Sample is one entity of one snapshot, reduced to its headline metrics.
type Sample struct {
	CapturedAt  time.Time
	EntityID    string
	Kind        hardware.Kind
	Name        string
	Online      bool
	Temperature *float64
	Usage       *float64
}
