package progress

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nanomad/ha-influx-to-victoriametrics/internal/errors"
	"github.com/nanomad/ha-influx-to-victoriametrics/internal/logger"
)

const defaultDirPerm = 0o755

type tracker struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewTracker opens (or creates) the progress database at the given path.
func NewTracker(dbPath string) (Tracker, error) {
	errFactory := errors.New()

	if dbPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	dsn := dbPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := validateSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().
		Str("path", dbPath).
		Int("schema_version", SchemaVersion).
		Msg("Progress tracker initialized")

	return &tracker{db: db, path: dbPath}, nil
}

func (t *tracker) Pending(domains []string, start, end time.Time) ([]Unit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	done, err := t.doneSet()
	if err != nil {
		return nil, err
	}

	all := Units(domains, start, end)
	pending := make([]Unit, 0, len(all))
	for _, unit := range all {
		if _, ok := done[unitKey(unit)]; !ok {
			pending = append(pending, unit)
		}
	}

	logger.Debug().
		Int("total_units", len(all)).
		Int("pending_units", len(pending)).
		Msg("Computed pending units")

	return pending, nil
}

func (t *tracker) doneSet() (map[string]struct{}, error) {
	errFactory := errors.New()

	rows, err := t.db.Query(`
        SELECT domain, window_start
        FROM progress
        WHERE status = 'done'
    `)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	done := make(map[string]struct{})
	for rows.Next() {
		var domain string
		var windowStart int64
		if err := rows.Scan(&domain, &windowStart); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		done[key(domain, windowStart)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return done, nil
}

func (t *tracker) MarkDone(unit Unit, cursor time.Time, records, batches int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFactory := errors.New()

	_, err := t.db.Exec(`
        INSERT INTO progress (domain, window_start, status, cursor_ts, records, batches, message, updated_at)
        VALUES (?, ?, 'done', ?, ?, ?, '', datetime('now'))
        ON CONFLICT(domain, window_start) DO UPDATE SET
            status = 'done',
            cursor_ts = excluded.cursor_ts,
            records = excluded.records,
            batches = excluded.batches,
            message = '',
            updated_at = excluded.updated_at
    `, unit.Domain, unit.Start.UTC().Unix(), cursor.UTC().Unix(), records, batches)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	logger.Debug().
		Str("unit", unit.String()).
		Int64("records", records).
		Int64("batches", batches).
		Msg("Unit marked done")

	return nil
}

func (t *tracker) MarkFailed(unit Unit, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFactory := errors.New()

	// A failed row never overwrites a done one: done means the destination
	// acknowledged the data.
	_, err := t.db.Exec(`
        INSERT INTO progress (domain, window_start, status, cursor_ts, records, batches, message, updated_at)
        VALUES (?, ?, 'failed', 0, 0, 0, ?, datetime('now'))
        ON CONFLICT(domain, window_start) DO UPDATE SET
            message = excluded.message,
            updated_at = excluded.updated_at
        WHERE progress.status != 'done'
    `, unit.Domain, unit.Start.UTC().Unix(), message)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	return nil
}

func (t *tracker) Totals() (int64, int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFactory := errors.New()

	var records, batches int64
	err := t.db.QueryRow(`
        SELECT COALESCE(SUM(records), 0), COALESCE(SUM(batches), 0)
        FROM progress
        WHERE status = 'done'
    `).Scan(&records, &batches)
	if err != nil {
		return 0, 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	return records, batches, nil
}

func (t *tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFactory := errors.New()

	if err := t.backup(); err != nil {
		return err
	}

	if _, err := t.db.Exec(`DELETE FROM progress`); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	logger.Info().Msg("Progress reset, all units pending again")
	return nil
}

// backup snapshots the database next to itself before destructive changes.
func (t *tracker) backup() error {
	errFactory := errors.New()

	var count int
	if err := t.db.QueryRow(`SELECT COUNT(*) FROM progress`).Scan(&count); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if count == 0 {
		return nil
	}

	timestamp := time.Now().UTC().Format("20060102T150405Z")
	backupPath := fmt.Sprintf("%s.%s.bak", t.path, timestamp)

	// VACUUM INTO requires no active transaction.
	if _, err := t.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", backupPath)); err != nil {
		return errFactory.Wrap(ErrBackupFailed, err)
	}

	logger.Info().Str("path", backupPath).Msg("Progress database backed up")
	return nil
}

func (t *tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFactory := errors.New()

	if _, err := t.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	if err := t.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	return nil
}

func unitKey(unit Unit) string {
	return key(unit.Domain, unit.Start.UTC().Unix())
}

func key(domain string, windowStart int64) string {
	return fmt.Sprintf("%s|%d", domain, windowStart)
}
