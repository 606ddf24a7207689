package sensor_test

import (
	"context"
	"fmt"
	"testing"

	"codeberg.org/mutker/hwmond/internal/errors"
	"codeberg.org/mutker/hwmond/internal/logger"
	"codeberg.org/mutker/hwmond/internal/sensor"
	"codeberg.org/mutker/hwmond/internal/sensor/sensortest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeSensorIdentifiers(t *testing.T) {
	n := &sensor.Node{ID: "/cpu/0", Kind: sensor.HardwareCPU}
	n.Add("CPU Core #1", sensor.SensorLoad, 10).
		Add("CPU Core #2", sensor.SensorLoad, 20).
		Add("CPU Package", sensor.SensorTemperature, 50)

	readings, err := n.Sensors()
	require.NoError(t, err)
	require.Len(t, readings, 3)
	assert.Equal(t, "/cpu/0/load/0", readings[0].Identifier)
	assert.Equal(t, "/cpu/0/load/1", readings[1].Identifier)
	assert.Equal(t, "/cpu/0/temperature/0", readings[2].Identifier)
	assert.InDelta(t, 20, *readings[1].Value, 0.001)
}

func TestNodeReadError(t *testing.T) {
	n := &sensor.Node{ID: "/hdd/0", Err: fmt.Errorf("io timeout")}
	_, err := n.Sensors()
	require.Error(t, err)
}

func TestMultiSkipsFailedProviders(t *testing.T) {
	ctx := context.Background()
	good := sensortest.New(&sensor.Node{ID: "/cpu/0", Kind: sensor.HardwareCPU})
	broken := sensortest.New(&sensor.Node{ID: "/gpu-nvidia/0", Kind: sensor.HardwareGPUNvidia})
	missing := sensortest.New()
	missing.SetOpenError(fmt.Errorf("no nvml"))

	m := sensor.NewMulti(logger.Nop(),
		sensor.NamedProvider{Name: "host", Provider: good},
		sensor.NamedProvider{Name: "nvml", Provider: missing},
		sensor.NamedProvider{Name: "flaky", Provider: broken},
	)
	require.NoError(t, m.Open(ctx))

	require.NoError(t, m.Refresh(ctx))
	assert.Len(t, m.Hardware(), 2)

	broken.SetRefreshError(fmt.Errorf("bus error"))
	require.NoError(t, m.Refresh(ctx))
	devices := m.Hardware()
	require.Len(t, devices, 1)
	assert.Equal(t, "/cpu/0", devices[0].Identifier())

	good.SetRefreshError(fmt.Errorf("gone"))
	err := m.Refresh(ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrProviderUnavailable))

	require.NoError(t, m.Close())
	assert.True(t, good.Closed())
	assert.True(t, broken.Closed())
	assert.False(t, missing.Closed())
}

func TestMultiOpenFailsWhenNothingOpens(t *testing.T) {
	p := sensortest.New()
	p.SetOpenError(fmt.Errorf("denied"))

	m := sensor.NewMulti(logger.Nop(), sensor.NamedProvider{Name: "only", Provider: p})
	err := m.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrProviderUnavailable))
}
