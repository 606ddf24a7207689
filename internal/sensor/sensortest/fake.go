// Package sensortest provides an in-memory sensor provider for tests.
package sensortest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/hwmond/internal/sensor"
)

// Provider serves a device tree set by the test. Refresh can be made to
// fail or to block for a fixed delay.
type Provider struct {
	mu         sync.Mutex
	devices    []*sensor.Node
	openErr    error
	refreshErr error
	delay      time.Duration

	refreshes atomic.Int64
	active    atomic.Int64
	overlap   atomic.Bool
	closed    atomic.Bool
}

func New(devices ...*sensor.Node) *Provider {
	return &Provider{devices: devices}
}

// SetDevices replaces the tree served after the next Refresh.
func (p *Provider) SetDevices(devices ...*sensor.Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = devices
}

func (p *Provider) SetOpenError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openErr = err
}

func (p *Provider) SetRefreshError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshErr = err
}

// SetDelay makes every Refresh sleep for d.
func (p *Provider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

func (p *Provider) Open(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openErr
}

func (p *Provider) Refresh(context.Context) error {
	if p.active.Add(1) > 1 {
		p.overlap.Store(true)
	}
	defer p.active.Add(-1)
	p.refreshes.Add(1)

	p.mu.Lock()
	delay, err := p.delay, p.refreshErr
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	return err
}

func (p *Provider) Hardware() []sensor.Device {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]sensor.Device, len(p.devices))
	for i, d := range p.devices {
		out[i] = d
	}

	return out
}

func (p *Provider) Close() error {
	p.closed.Store(true)
	return nil
}

// Refreshes is the number of Refresh calls so far.
func (p *Provider) Refreshes() int64 { return p.refreshes.Load() }

// Overlapped reports whether two Refresh calls ever ran concurrently.
func (p *Provider) Overlapped() bool { return p.overlap.Load() }

func (p *Provider) Closed() bool { return p.closed.Load() }
