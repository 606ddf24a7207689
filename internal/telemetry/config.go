package telemetry

import (
	"path/filepath"
	"time"

	"codeberg.org/mutker/hwmond/internal/errors"
)

const (
	defaultDirPerm      = 0o755
	defaultDBPath       = "/var/lib/hwmond/telemetry.db"
	defaultBatchSize    = 50
	defaultBatchTimeout = 10 * time.Second
)

type Config struct {
	Enabled bool
	DBPath  string
	// BatchSize is the number of pending rows that triggers a flush.
	BatchSize int
	// BatchTimeout flushes pending rows periodically. Zero disables the
	// timer, leaving only size-triggered flushes and the final flush on
	// Close.
	BatchTimeout time.Duration
	// BackupDir receives a copy of the database before an incompatible
	// schema is recreated. Defaults to "backups" next to the database.
	BackupDir string
}

func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		DBPath:       defaultDBPath,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// only an enabled store needs a location
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize    int
			BatchTimeout time.Duration
		}{c.BatchSize, c.BatchTimeout})
	}

	return nil
}

func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}

	return filepath.Join(filepath.Dir(c.DBPath), "backups")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
