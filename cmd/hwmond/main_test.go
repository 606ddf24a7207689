package main

import (
	"context"
	"net"
	"testing"
	"time"

	"codeberg.org/mutker/hwmond/internal/api"
	"codeberg.org/mutker/hwmond/internal/errors"
	"codeberg.org/mutker/hwmond/internal/logger"
	"codeberg.org/mutker/hwmond/internal/poller"
	"codeberg.org/mutker/hwmond/internal/sensor/sensortest"
	"codeberg.org/mutker/hwmond/internal/snapshot"
	"codeberg.org/mutker/hwmond/internal/status"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct{}

func (fakeHost) CoreCounts() (int, int) { return 2, 4 }
func (fakeHost) Uptime() time.Duration  { return time.Minute }

type fixedConfig struct{}

func (fixedConfig) Interval() time.Duration       { return time.Second }
func (fixedConfig) Thresholds() status.Thresholds { return status.DefaultThresholds() }

func newTestPoller() *poller.Poller {
	return poller.New(sensortest.New(), snapshot.New(fakeHost{}, logger.Nop()), fixedConfig{}, logger.Nop())
}

func serveAsync(ctx context.Context, listen string) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- serveAPI(ctx, api.Config{Enabled: true, Listen: listen}, newTestPoller(), logger.Nop())
	}()
	return done
}

func TestServeAPIReturnsWhenListenFails(t *testing.T) {
	gin.SetMode(gin.TestMode)

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	// ctx stays live; the hub must still be stopped
	select {
	case err := <-serveAsync(context.Background(), busy.Addr().String()):
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrStartServer))
	case <-time.After(5 * time.Second):
		t.Fatal("serveAPI did not return after the server failed")
	}
}

func TestServeAPIStopsOnCancel(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	done := serveAsync(ctx, "127.0.0.1:0")

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serveAPI did not return after cancel")
	}
}
