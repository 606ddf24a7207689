// Package poller runs the periodic sampling cycle: refresh the sensor
// provider, build a snapshot, attach network throughput, detect status
// changes and publish the results.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/hwmond/internal/errors"
	"codeberg.org/mutker/hwmond/internal/hardware"
	"codeberg.org/mutker/hwmond/internal/logger"
	"codeberg.org/mutker/hwmond/internal/network"
	"codeberg.org/mutker/hwmond/internal/sensor"
	"codeberg.org/mutker/hwmond/internal/snapshot"
	"codeberg.org/mutker/hwmond/internal/status"
)

// ConfigSource is read at the start of every cycle.
type ConfigSource interface {
	Interval() time.Duration
	Thresholds() status.Thresholds
}

// Stats counts ticks that ran a cycle and ticks that were skipped
// because the previous cycle was still running.
type Stats struct {
	Executed uint64 `json:"executed"`
	Skipped  uint64 `json:"skipped"`
}

type subscription[T any] struct {
	id int
	fn func(T)
}

type Poller struct {
	provider   sensor.Provider
	providerMu sync.Mutex
	builder    *snapshot.Builder
	adapters   network.Source
	tracker    *network.Tracker
	watcher    *status.Watcher
	config     ConfigSource
	logger     logger.Logger

	mu             sync.Mutex
	running        bool
	interval       time.Duration
	configInterval time.Duration
	ticker         *time.Ticker
	stop           chan struct{}
	wg             sync.WaitGroup

	inCycle  atomic.Bool
	latest   atomic.Pointer[hardware.Snapshot]
	executed atomic.Uint64
	skipped  atomic.Uint64

	subMu       sync.RWMutex
	nextID      int
	snapshotSub []subscription[*hardware.Snapshot]
	statusSub   []subscription[status.Event]
}

type Option func(*Poller)

// WithAdapterSource enables network throughput tracking.
func WithAdapterSource(src network.Source) Option {
	return func(p *Poller) {
		p.adapters = src
	}
}

func New(provider sensor.Provider, builder *snapshot.Builder, config ConfigSource, log logger.Logger, opts ...Option) *Poller {
	p := &Poller{
		provider: provider,
		builder:  builder,
		tracker:  network.NewTracker(),
		watcher:  status.NewWatcher(),
		config:   config,
		logger:   log,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.configInterval = config.Interval()
	p.interval = p.configInterval

	return p
}

// Start begins polling. The first cycle runs immediately. Calling Start
// while running does nothing. Cancelling ctx stops the poller.
func (p *Poller) Start(ctx context.Context) error {
	errFactory := errors.New()
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Debug().Msg("Poller already running")
		return nil
	}
	if p.interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, p.interval.String())
	}

	p.running = true
	p.ticker = time.NewTicker(p.interval)
	p.stop = make(chan struct{})

	p.wg.Add(1)
	go p.loop(ctx, p.ticker, p.stop)

	p.logger.Info().Dur("interval", p.interval).Msg("Monitoring started")

	return nil
}

func (p *Poller) loop(ctx context.Context, ticker *time.Ticker, stop <-chan struct{}) {
	defer p.wg.Done()

	p.trigger(ctx)
	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return
		case <-stop:
			return
		case <-ticker.C:
			p.trigger(ctx)
		}
	}
}

// trigger starts a cycle unless one is still running.
func (p *Poller) trigger(ctx context.Context) {
	if !p.inCycle.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		p.logger.Debug().Msg("Previous cycle still running, skipping tick")
		return
	}
	p.executed.Add(1)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inCycle.Store(false)
		p.cycle(context.WithoutCancel(ctx))
	}()
}

// Stop prevents further cycles. A cycle already in progress finishes
// and still publishes its results.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false
	p.ticker.Stop()
	close(p.stop)

	p.logger.Info().Msg("Monitoring stopped")
}

// Wait blocks until the loop and any in-flight cycle have finished.
func (p *Poller) Wait() {
	p.wg.Wait()
}

// RunOnce runs a cycle synchronously on the caller's goroutine. It
// returns false without doing anything when a cycle is already running.
func (p *Poller) RunOnce(ctx context.Context) bool {
	if !p.inCycle.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		return false
	}
	defer p.inCycle.Store(false)
	p.executed.Add(1)

	p.cycle(ctx)

	return true
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// SetInterval changes the polling interval. A running schedule is
// re-armed immediately.
func (p *Poller) SetInterval(d time.Duration) error {
	errFactory := errors.New()
	if d <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, d.String())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if d == p.interval {
		return nil
	}
	p.interval = d
	if p.running {
		p.ticker.Reset(d)
	}
	p.logger.Info().Dur("interval", d).Msg("Polling interval changed")

	return nil
}

// Snapshot returns the latest published snapshot, or nil before the
// first successful cycle.
func (p *Poller) Snapshot() *hardware.Snapshot {
	return p.latest.Load()
}

func (p *Poller) Stats() Stats {
	return Stats{
		Executed: p.executed.Load(),
		Skipped:  p.skipped.Load(),
	}
}

// OnSnapshot registers fn for every published snapshot. Callbacks run
// on the polling goroutine and must not block. The returned function
// removes the subscription.
func (p *Poller) OnSnapshot(fn func(*hardware.Snapshot)) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	id := p.nextID
	p.nextID++
	p.snapshotSub = append(p.snapshotSub, subscription[*hardware.Snapshot]{id: id, fn: fn})

	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		p.snapshotSub = remove(p.snapshotSub, id)
	}
}

// OnStatusChanged registers fn for every status event. Events of a
// cycle are delivered after that cycle's snapshot.
func (p *Poller) OnStatusChanged(fn func(status.Event)) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	id := p.nextID
	p.nextID++
	p.statusSub = append(p.statusSub, subscription[status.Event]{id: id, fn: fn})

	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		p.statusSub = remove(p.statusSub, id)
	}
}

func remove[T any](subs []subscription[T], id int) []subscription[T] {
	out := make([]subscription[T], 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}

	return out
}
