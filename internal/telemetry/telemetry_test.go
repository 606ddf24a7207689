package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/hwmond/internal/errors"
	"codeberg.org/mutker/hwmond/internal/hardware"
	"codeberg.org/mutker/hwmond/internal/logger"
	"codeberg.org/mutker/hwmond/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testSnapshot() *hardware.Snapshot {
	return &hardware.Snapshot{
		CapturedAt: at,
		CPUs: []*hardware.CPUInfo{{Base: hardware.Base{
			Identifier:  "/cpu/0",
			DisplayName: "Ryzen 7",
			Type:        hardware.KindCPU,
			IsOnline:    true,
			Readings: hardware.Readings{
				{Name: "CPU Package", Kind: hardware.Temperature, Value: 61.5, Valid: true},
				{Name: "CPU Total", Kind: hardware.Usage, Value: 12, Valid: true},
			},
		}}},
		Memory: []*hardware.MemoryInfo{{Base: hardware.Base{
			Identifier:  "/ram",
			DisplayName: "Memory",
			Type:        hardware.KindMemory,
			IsOnline:    true,
			Readings: hardware.Readings{
				{Name: "Memory", Kind: hardware.Usage, Value: 48, Valid: true},
			},
		}}},
	}
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Enabled:   true,
		DBPath:    filepath.Join(t.TempDir(), "data", "telemetry.db"),
		BatchSize: 100,
	}
}

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestDisabledServiceIsNoop(t *testing.T) {
	c, err := NewService(Config{}, logger.Nop())
	require.NoError(t, err)

	require.NoError(t, c.RecordSnapshot(context.Background(), testSnapshot()))
	require.NoError(t, c.Close())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{}.Validate())

	err := Config{Enabled: true}.Validate()
	assert.True(t, errors.HasCode(err, ErrInvalidDBPath))

	err = Config{BatchSize: -1}.Validate()
	assert.True(t, errors.HasCode(err, ErrInvalidConfig))
}

func TestFlushesWhenBatchIsFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 2
	c, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.RecordSnapshot(context.Background(), testSnapshot()))

	db := openDB(t, cfg.DBPath)
	assert.Equal(t, 2, count(t, db, "samples"))

	var temp, usage sql.NullFloat64
	var online int
	require.NoError(t, db.QueryRow(
		"SELECT temperature, usage, online FROM samples WHERE entity_id = ?", "/cpu/0",
	).Scan(&temp, &usage, &online))
	assert.InDelta(t, 61.5, temp.Float64, 0.001)
	assert.InDelta(t, 12, usage.Float64, 0.001)
	assert.Equal(t, 1, online)

	require.NoError(t, db.QueryRow(
		"SELECT temperature FROM samples WHERE entity_id = ?", "/ram",
	).Scan(&temp))
	assert.False(t, temp.Valid)
}

func TestCloseFlushesPendingRows(t *testing.T) {
	cfg := testConfig(t)
	c, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)

	ev := status.Event{
		EntityID:    "/ram",
		EntityName:  "Memory",
		Kind:        hardware.KindMemory,
		Metric:      status.MetricUsage,
		From:        status.Normal,
		To:          status.Warning,
		Value:       82,
		Threshold:   80,
		Description: "Memory usage is warning: 82.0% (threshold 80.0%)",
		At:          at,
	}
	require.NoError(t, c.RecordEvent(context.Background(), ev))
	require.NoError(t, c.RecordSnapshot(context.Background(), testSnapshot()))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	db := openDB(t, cfg.DBPath)
	assert.Equal(t, 2, count(t, db, "samples"))
	assert.Equal(t, 1, count(t, db, "status_events"))

	var metric, from, to string
	var when int64
	require.NoError(t, db.QueryRow(
		"SELECT metric, from_state, to_state, at FROM status_events",
	).Scan(&metric, &from, &to, &when))
	assert.Equal(t, "usage", metric)
	assert.Equal(t, "normal", from)
	assert.Equal(t, "warning", to)
	assert.Equal(t, at.UnixMilli(), when)
}

func TestTimerFlushesPendingRows(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchTimeout = 20 * time.Millisecond
	c, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.RecordSnapshot(context.Background(), testSnapshot()))

	db := openDB(t, cfg.DBPath)
	assert.Eventually(t, func() bool { return count(t, db, "samples") == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestRecordAfterCloseFails(t *testing.T) {
	c, err := NewService(testConfig(t), logger.Nop())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	err = c.RecordSnapshot(context.Background(), testSnapshot())
	assert.True(t, errors.HasCode(err, ErrStoreClosed))
}

func TestRecordRejectsNilSnapshot(t *testing.T) {
	c, err := NewService(testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer c.Close()

	err = c.RecordSnapshot(context.Background(), nil)
	assert.True(t, errors.HasCode(err, ErrInvalidSnapshot))
}

func TestRecordHonoursCancelledContext(t *testing.T) {
	c, err := NewService(testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.RecordSnapshot(ctx, testSnapshot())
	assert.True(t, errors.HasCode(err, ErrOperationTimeout))
}

func TestSchemaMismatchIsBackedUpAndRecreated(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm))

	db := openDB(t, cfg.DBPath)
	require.NoError(t, InitSchema(db, logger.Nop()))
	_, err := db.Exec("INSERT INTO schema_versions (version, applied_at) VALUES (99, datetime('now'))")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO samples (captured_at, entity_id, kind, name, online) VALUES (1, '/ram', 'memory', 'Memory', 1)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	c, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	backups, err := filepath.Glob(filepath.Join(cfg.backupDir(), "telemetry_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	db = openDB(t, cfg.DBPath)
	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
	assert.Zero(t, count(t, db, "samples"))
}

func TestSamples(t *testing.T) {
	rows := Samples(testSnapshot())
	require.Len(t, rows, 2)

	assert.Equal(t, "/cpu/0", rows[0].EntityID)
	assert.Equal(t, hardware.KindCPU, rows[0].Kind)
	require.NotNil(t, rows[0].Temperature)
	assert.InDelta(t, 61.5, *rows[0].Temperature, 0.001)

	assert.Equal(t, "/ram", rows[1].EntityID)
	assert.Nil(t, rows[1].Temperature)
	require.NotNil(t, rows[1].Usage)
	assert.InDelta(t, 48, *rows[1].Usage, 0.001)
}
