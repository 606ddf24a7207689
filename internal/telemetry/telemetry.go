// Package telemetry records snapshots and status events into a local
// SQLite database.
package telemetry

import (
	"context"

	"codeberg.org/mutker/hwmond/internal/errors"
	"codeberg.org/mutker/hwmond/internal/hardware"
	"codeberg.org/mutker/hwmond/internal/logger"
	"codeberg.org/mutker/hwmond/internal/status"
)

type service struct {
	repo Repository
	cfg  Config
}

type noopCollector struct{}

// NewService opens the store described by cfg. A disabled store yields a
// collector that discards everything.
func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Telemetry disabled, using no-op collector")
		return noopCollector{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &service{repo: repo, cfg: cfg}, nil
}

func (s *service) RecordSnapshot(ctx context.Context, snap *hardware.Snapshot) error {
	errFactory := errors.New()

	if snap == nil {
		return errFactory.New(ErrInvalidSnapshot)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	if err := s.repo.Record(Samples(snap), nil); err != nil {
		return errFactory.Wrap(ErrRecordFailed, err)
	}

	return nil
}

func (s *service) RecordEvent(ctx context.Context, ev status.Event) error {
	errFactory := errors.New()

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	if err := s.repo.Record(nil, []status.Event{ev}); err != nil {
		return errFactory.Wrap(ErrRecordFailed, err)
	}

	return nil
}

func (s *service) Close() error {
	errFactory := errors.New()

	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	return nil
}

// Samples flattens a snapshot into one row per entity.
func Samples(snap *hardware.Snapshot) []Sample {
	entities := snap.Entities()
	out := make([]Sample, 0, len(entities))
	for _, e := range entities {
		s := Sample{
			CapturedAt: snap.CapturedAt,
			EntityID:   e.ID(),
			Kind:       e.Kind(),
			Name:       e.Name(),
			Online:     e.Online(),
		}
		if v, ok := status.Value(e, status.MetricTemperature); ok {
			s.Temperature = &v
		}
		if v, ok := status.Value(e, status.MetricUsage); ok {
			s.Usage = &v
		}
		out = append(out, s)
	}

	return out
}

func (noopCollector) RecordSnapshot(context.Context, *hardware.Snapshot) error { return nil }
func (noopCollector) RecordEvent(context.Context, status.Event) error          { return nil }
func (noopCollector) Close() error                                             { return nil }
