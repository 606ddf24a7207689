package sensor

import (
	"context"
	"sync"

	"codeberg.org/mutker/hwmond/internal/errors"
	"codeberg.org/mutker/hwmond/internal/logger"
)

// NamedProvider pairs a provider with a label used in logs.
type NamedProvider struct {
	Name     string
	Provider Provider
}

// Multi merges several providers into one tree. A provider that fails
// to open is dropped; a provider that fails to refresh contributes no
// devices for that cycle. Multi itself fails only when every provider
// does.
type Multi struct {
	providers []NamedProvider
	open      []NamedProvider
	fresh     []bool
	logger    logger.Logger
	mu        sync.RWMutex
}

func NewMulti(log logger.Logger, providers ...NamedProvider) *Multi {
	return &Multi{
		providers: providers,
		logger:    log,
	}
}

func (m *Multi) Open(ctx context.Context) error {
	errFactory := errors.New()
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	m.open = m.open[:0]
	for _, p := range m.providers {
		if err := p.Provider.Open(ctx); err != nil {
			m.logger.Warn().Err(err).Str("provider", p.Name).Msg("Sensor provider unavailable, skipping")
			errs = append(errs, err)
			continue
		}
		m.logger.Debug().Str("provider", p.Name).Msg("Sensor provider opened")
		m.open = append(m.open, p)
	}
	m.fresh = make([]bool, len(m.open))

	if len(m.open) == 0 {
		return errFactory.Wrap(errors.ErrProviderUnavailable, errors.Join(errs...))
	}

	return nil
}

func (m *Multi) Refresh(ctx context.Context) error {
	errFactory := errors.New()
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.open) == 0 {
		return errFactory.New(errors.ErrProviderUnavailable)
	}

	var errs []error
	for i, p := range m.open {
		if err := p.Provider.Refresh(ctx); err != nil {
			m.logger.Warn().Err(err).Str("provider", p.Name).Msg("Sensor provider refresh failed")
			m.fresh[i] = false
			errs = append(errs, err)
			continue
		}
		m.fresh[i] = true
	}

	if len(errs) == len(m.open) {
		return errFactory.Wrap(errors.ErrProviderUnavailable, errors.Join(errs...))
	}

	return nil
}

func (m *Multi) Hardware() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Device
	for i, p := range m.open {
		if !m.fresh[i] {
			continue
		}
		out = append(out, p.Provider.Hardware()...)
	}

	return out
}

func (m *Multi) Close() error {
	errFactory := errors.New()
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, p := range m.open {
		if err := p.Provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.open = nil
	m.fresh = nil

	if len(errs) > 0 {
		return errFactory.Wrap(errors.ErrShutdownFailed, errors.Join(errs...))
	}

	return nil
}
