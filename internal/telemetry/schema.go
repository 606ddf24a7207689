package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/hwmond/internal/errors"
	"codeberg.org/mutker/hwmond/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS samples (
	       captured_at INTEGER NOT NULL,
	       entity_id   TEXT NOT NULL,
	       kind        TEXT NOT NULL,
	       name        TEXT NOT NULL,
	       online      INTEGER NOT NULL CHECK (online IN (0, 1)),
	       temperature REAL,
	       usage       REAL,
	       PRIMARY KEY (captured_at, entity_id)
	   );
	   CREATE INDEX IF NOT EXISTS samples_entity ON samples (entity_id, captured_at);
	   CREATE TABLE IF NOT EXISTS status_events (
	       id          INTEGER PRIMARY KEY AUTOINCREMENT,
	       at          INTEGER NOT NULL,
	       entity_id   TEXT NOT NULL,
	       entity_name TEXT NOT NULL,
	       kind        TEXT NOT NULL,
	       metric      TEXT NOT NULL,
	       from_state  TEXT NOT NULL,
	       to_state    TEXT NOT NULL,
	       value       REAL NOT NULL,
	       threshold   REAL NOT NULL,
	       description TEXT NOT NULL
	   );`

	insertSampleSQL = `
    INSERT INTO samples (
        captured_at, entity_id, kind, name, online, temperature, usage
    ) VALUES (?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(captured_at, entity_id) DO UPDATE SET
        name = excluded.name,
        online = excluded.online,
        temperature = excluded.temperature,
        usage = excluded.usage`

	insertEventSQL = `
    INSERT INTO status_events (
        at, entity_id, entity_name, kind, metric,
        from_state, to_state, value, threshold, description
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// InitSchema creates the tables and records the current schema version.
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "create_tables",
			Error: err.Error(),
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "record_version",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Telemetry schema initialized")

	return nil
}

// GetSchemaVersion returns the recorded schema version, or 0 for a
// database that has never been initialized.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := tableExists(db, "schema_versions")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	return version, nil
}

func tableExists(db *sql.DB, name string) (bool, error) {
	errFactory := errors.New()

	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, name).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: name,
			Error: err.Error(),
		})
	}

	return exists, nil
}
