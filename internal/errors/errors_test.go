package errors_test

import (
	"fmt"
	"sync"
	"testing"

	"codeberg.org/mutker/hwmond/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryMessages(t *testing.T) {
	f := errors.New()

	err := f.New(errors.ErrInvalidInterval)
	assert.Equal(t, errors.ErrInvalidInterval, err.Code())
	assert.Equal(t, "Invalid interval value", err.Error())

	err = f.WithMessage(errors.ErrInvalidConfig, "thresholds.cpu.usage")
	assert.Equal(t, "thresholds.cpu.usage", err.Error())

	err = f.WithData(errors.ErrInvalidThreshold, 42)
	assert.Equal(t, "Invalid threshold value: 42", err.Error())
}

func TestWrapKeepsChain(t *testing.T) {
	f := errors.New()
	root := fmt.Errorf("disk on fire")

	err := f.Wrap(errors.ErrRecordTelemetry, root)
	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestHasCode(t *testing.T) {
	f := errors.New()
	inner := f.New(errors.ErrProviderUnavailable)
	outer := f.Wrap(errors.ErrMainLoop, inner)

	assert.True(t, errors.HasCode(outer, errors.ErrMainLoop))
	assert.True(t, errors.HasCode(outer, errors.ErrProviderUnavailable))
	assert.False(t, errors.HasCode(outer, errors.ErrTimeout))
	assert.False(t, errors.HasCode(fmt.Errorf("plain"), errors.ErrTimeout))
	assert.False(t, errors.HasCode(nil, errors.ErrTimeout))
}

func TestErrorIsSafeForConcurrentUse(t *testing.T) {
	err := errors.New().Wrap(errors.ErrDeviceReadFailed, fmt.Errorf("i2c timeout"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Contains(t, err.Error(), "i2c timeout")
		}()
	}
	wg.Wait()

	// WithData after Error still starts from the default message
	assert.Contains(t, err.WithData("/cpu/0").Error(), "/cpu/0")
}
