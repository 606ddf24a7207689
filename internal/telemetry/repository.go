package telemetry

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/hwmond/internal/errors"
	"codeberg.org/mutker/hwmond/internal/logger"
	"codeberg.org/mutker/hwmond/internal/status"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db     *sql.DB
	logger logger.Logger
	cfg    Config

	mu      sync.Mutex
	samples []Sample
	events  []status.Event
	closed  bool

	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
	closeErr      error
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	// a single connection serializes writers
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("Telemetry repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(cfg.BatchTimeout)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) Record(samples []Sample, events []status.Event) error {
	errFactory := errors.New()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errFactory.New(ErrStoreClosed)
	}

	r.samples = append(r.samples, samples...)
	r.events = append(r.events, events...)

	if len(r.samples)+len(r.events) >= max(r.cfg.BatchSize, 1) {
		return r.flush()
	}

	return nil
}

func (r *repository) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.close()
	})

	return r.closeErr
}

func (r *repository) close() error {
	errFactory := errors.New()

	close(r.shutdownChan)
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}
	<-r.flushDoneChan

	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	flushErr := r.flush()

	// fold the WAL back into the main database file
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to checkpoint WAL")
	}

	if err := r.db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Telemetry repository closed")

	return flushErr
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic telemetry flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush writes all pending rows in one transaction. Rows are dropped on
// failure so that a broken database cannot grow the buffer without
// bound. Callers hold r.mu.
func (r *repository) flush() error {
	if len(r.samples) == 0 && len(r.events) == 0 {
		return nil
	}

	errFactory := errors.New()
	samples, events := len(r.samples), len(r.events)
	defer func() {
		r.samples = r.samples[:0]
		r.events = r.events[:0]
	}()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	if err := r.insert(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error().Err(rbErr).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().
		Int("samples", samples).
		Int("events", events).
		Msg("Flushed telemetry to database")

	return nil
}

func (r *repository) insert(tx *sql.Tx) error {
	if len(r.samples) > 0 {
		stmt, err := tx.Prepare(insertSampleSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, s := range r.samples {
			if _, err := stmt.Exec(
				s.CapturedAt.UnixMilli(),
				s.EntityID,
				s.Kind.String(),
				s.Name,
				boolToInt(s.Online),
				s.Temperature,
				s.Usage,
			); err != nil {
				return err
			}
		}
	}

	if len(r.events) > 0 {
		stmt, err := tx.Prepare(insertEventSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, ev := range r.events {
			if _, err := stmt.Exec(
				ev.At.UnixMilli(),
				ev.EntityID,
				ev.EntityName,
				ev.Kind.String(),
				ev.Metric.String(),
				ev.From.String(),
				ev.To.String(),
				ev.Value,
				ev.Threshold,
				ev.Description,
			); err != nil {
				return err
			}
		}
	}

	return nil
}
