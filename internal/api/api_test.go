package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/hwmond/internal/errors"
	"codeberg.org/mutker/hwmond/internal/hardware"
	"codeberg.org/mutker/hwmond/internal/logger"
	"codeberg.org/mutker/hwmond/internal/poller"
	"codeberg.org/mutker/hwmond/internal/status"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeMonitor struct {
	mu       sync.Mutex
	running  bool
	interval time.Duration
	snap     *hardware.Snapshot
}

func (m *fakeMonitor) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	return nil
}

func (m *fakeMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

func (m *fakeMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *fakeMonitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

func (m *fakeMonitor) SetInterval(d time.Duration) error {
	if d <= 0 {
		return errors.New().New(errors.ErrInvalidInterval)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = d
	return nil
}

func (m *fakeMonitor) Snapshot() *hardware.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *fakeMonitor) Stats() poller.Stats { return poller.Stats{Executed: 7, Skipped: 2} }

type fakeSource struct {
	snapshotFn func(*hardware.Snapshot)
	statusFn   func(status.Event)
}

func (f *fakeSource) OnSnapshot(fn func(*hardware.Snapshot)) func() {
	f.snapshotFn = fn
	return func() { f.snapshotFn = nil }
}

func (f *fakeSource) OnStatusChanged(fn func(status.Event)) func() {
	f.statusFn = fn
	return func() { f.statusFn = nil }
}

func newTestServer(m *fakeMonitor) (*Server, *Hub) {
	hub := NewHub(logger.Nop())
	return NewServer(Config{Enabled: true}, m, hub, logger.Nop()), hub
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func withNetwork(up bool) *hardware.Snapshot {
	return &hardware.Snapshot{
		CapturedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Network: []*hardware.NetworkInfo{{
			Base:          hardware.Base{Identifier: "/nic/enp5s0", DisplayName: "enp5s0", Type: hardware.KindNetwork, IsOnline: up},
			AdapterName:   "enp5s0",
			Up:            up,
			DownloadSpeed: 1.5,
		}},
	}
}

func TestSnapshotUnavailableBeforeFirstCycle(t *testing.T) {
	s, _ := newTestServer(&fakeMonitor{})

	rec := do(t, s, http.MethodGet, "/api/snapshot", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSnapshot(t *testing.T) {
	s, _ := newTestServer(&fakeMonitor{snap: withNetwork(true)})

	rec := do(t, s, http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body["network"], 1)
}

func TestPrimaryNetwork(t *testing.T) {
	m := &fakeMonitor{snap: withNetwork(true)}
	s, _ := newTestServer(m)

	rec := do(t, s, http.MethodGet, "/api/network/primary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"adapter_name":"enp5s0"`)

	m.snap = &hardware.Snapshot{}
	rec = do(t, s, http.MethodGet, "/api/network/primary", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMonitoringControls(t *testing.T) {
	m := &fakeMonitor{interval: time.Second}
	s, _ := newTestServer(m)

	rec := do(t, s, http.MethodPost, "/api/monitoring/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, m.Running())

	rec = do(t, s, http.MethodGet, "/api/monitoring", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st monitoringStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, monitoringStatus{Running: true, IntervalMS: 1000, Executed: 7, Skipped: 2}, st)

	rec = do(t, s, http.MethodPost, "/api/monitoring/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, m.Running())
}

func TestSetIntervalValidation(t *testing.T) {
	m := &fakeMonitor{interval: time.Second}
	s, _ := newTestServer(m)

	rec := do(t, s, http.MethodPut, "/api/monitoring/interval", `{"interval_ms": 250}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 250*time.Millisecond, m.Interval())

	for _, body := range []string{`{"interval_ms": 0}`, `{"interval_ms": -5}`, `{}`, `nope`} {
		rec = do(t, s, http.MethodPut, "/api/monitoring/interval", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, 250*time.Millisecond, m.Interval())
}

func TestWebSocketStreamsSnapshotsAndEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, hub := newTestServer(&fakeMonitor{})
	go hub.Run(ctx)

	src := &fakeSource{}
	stop := hub.Follow(src)
	defer stop()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	src.snapshotFn(withNetwork(true))
	src.statusFn(status.Event{EntityID: "/cpu/0", Metric: status.MetricTemperature, To: status.Critical})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))

	assert.Equal(t, MessageSnapshot, first.Type)
	assert.Contains(t, string(first.Data), `"/nic/enp5s0"`)
	assert.Equal(t, MessageStatus, second.Type)
	assert.Contains(t, string(second.Data), `"to":"critical"`)

	cancel()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBroadcastNeverBlocks(t *testing.T) {
	hub := NewHub(logger.Nop())

	// nothing drains the queue
	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer*2; i++ {
			hub.Broadcast(Message{Type: MessageSnapshot})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked")
	}
}
