package poller

import (
	"context"
	"time"

	"codeberg.org/mutker/hwmond/internal/hardware"
	"codeberg.org/mutker/hwmond/internal/network"
	"codeberg.org/mutker/hwmond/internal/status"
)

func (p *Poller) cycle(ctx context.Context) {
	started := time.Now()
	p.applyConfigInterval()
	thresholds := p.config.Thresholds().Sanitize()

	snap, ok := p.sample(ctx)
	if !ok {
		return
	}

	snap.Network = p.networkEntities(ctx, snap)

	events := p.watcher.Observe(snap.Entities(), thresholds)

	p.latest.Store(snap)
	p.publishSnapshot(snap)
	for _, ev := range events {
		p.logger.Info().
			Str("entity", ev.EntityID).
			Str("metric", ev.Metric.String()).
			Str("from", ev.From.String()).
			Str("to", ev.To.String()).
			Msg(ev.Description)
		p.publishStatus(ev)
	}

	p.logger.Debug().
		Int("entities", snap.Len()).
		Int("events", len(events)).
		Dur("took", time.Since(started)).
		Msg("Cycle complete")
}

// networkEntities attaches throughput to the adapters worth showing.
// Without adapter details only the name filter applies.
func (p *Poller) networkEntities(ctx context.Context, snap *hardware.Snapshot) []*hardware.NetworkInfo {
	if p.adapters == nil {
		return network.Reported(snap.Network)
	}

	adapters, err := p.adapters.Adapters(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to list network adapters")
		return network.Reported(snap.Network)
	}

	tracked := p.tracker.ComputeSpeeds(adapters, snap.CapturedAt)

	return network.Entities(snap.Network, tracked, snap.CapturedAt)
}

// sample refreshes the provider and builds a snapshot while holding the
// provider lock. The provider is not assumed to be reentrant.
func (p *Poller) sample(ctx context.Context) (*hardware.Snapshot, bool) {
	p.providerMu.Lock()
	defer p.providerMu.Unlock()

	if err := p.provider.Refresh(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Sensor refresh failed, keeping previous snapshot")
		return nil, false
	}

	return p.builder.Build(p.provider.Hardware()), true
}

// applyConfigInterval follows changes of the configured interval. An
// interval set through SetInterval stays in effect until the
// configuration itself changes.
func (p *Poller) applyConfigInterval() {
	d := p.config.Interval()

	p.mu.Lock()
	changed := d > 0 && d != p.configInterval
	if changed {
		p.configInterval = d
	}
	p.mu.Unlock()

	if changed {
		if err := p.SetInterval(d); err != nil {
			p.logger.Warn().Err(err).Msg("Ignoring configured interval")
		}
	}
}

func (p *Poller) publishSnapshot(snap *hardware.Snapshot) {
	p.subMu.RLock()
	subs := p.snapshotSub
	p.subMu.RUnlock()

	for _, s := range subs {
		p.deliver(func() { s.fn(snap) })
	}
}

func (p *Poller) publishStatus(ev status.Event) {
	p.subMu.RLock()
	subs := p.statusSub
	p.subMu.RUnlock()

	for _, s := range subs {
		p.deliver(func() { s.fn(ev) })
	}
}

// deliver runs a subscriber, containing any panic so that polling goes
// on.
func (p *Poller) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("Subscriber panicked")
		}
	}()
	fn()
}
