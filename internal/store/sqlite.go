package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/report-tracker/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Writes go through a single connection and transactions take the write lock
// up front, so a commit never has to upgrade a read snapshot.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if !strings.Contains(dsn, "_txlock=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_txlock=immediate"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS report_versions (
	key            TEXT    NOT NULL,
	version_number INTEGER NOT NULL CHECK (version_number > 0),
	reason         TEXT    NOT NULL,
	changed_fields TEXT    NOT NULL DEFAULT '[]',
	fingerprint    TEXT    NOT NULL,
	record         TEXT    NOT NULL,
	fetched_at     TEXT    NOT NULL,
	committed_at   TEXT    NOT NULL,
	PRIMARY KEY (key, version_number)
);

CREATE TABLE IF NOT EXISTS current_reports (
	key            TEXT    PRIMARY KEY,
	version_number INTEGER NOT NULL,
	fingerprint    TEXT    NOT NULL,
	record         TEXT    NOT NULL,
	updated_at     TEXT    NOT NULL,
	FOREIGN KEY (key, version_number) REFERENCES report_versions (key, version_number)
);

CREATE TABLE IF NOT EXISTS ingest_log (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT,
	key              TEXT,
	source_url       TEXT,
	status           TEXT    NOT NULL,
	error_type       TEXT,
	message          TEXT,
	version_number   INTEGER,
	fields_extracted INTEGER NOT NULL DEFAULT 0,
	fields_changed   INTEGER NOT NULL DEFAULT 0,
	warnings         INTEGER NOT NULL DEFAULT 0,
	size_bytes       INTEGER NOT NULL DEFAULT 0,
	attempts         INTEGER NOT NULL DEFAULT 0,
	http_status      INTEGER NOT NULL DEFAULT 0,
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	started_at       TEXT    NOT NULL,
	completed_at     TEXT,
	duration_ms      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_ingest_log_key ON ingest_log(key);
CREATE INDEX IF NOT EXISTS idx_ingest_log_status ON ingest_log(status);
CREATE INDEX IF NOT EXISTS idx_ingest_log_run_id ON ingest_log(run_id);
`

// sqliteLogUpgrades adds ingest_log columns introduced after the table was
// first created. SQLite has no ADD COLUMN IF NOT EXISTS.
var sqliteLogUpgrades = []struct{ column, ddl string }{
	{"http_status", `ALTER TABLE ingest_log ADD COLUMN http_status INTEGER NOT NULL DEFAULT 0`},
	{"response_time_ms", `ALTER TABLE ingest_log ADD COLUMN response_time_ms INTEGER NOT NULL DEFAULT 0`},
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	cols, err := s.columns(ctx, "ingest_log")
	if err != nil {
		return err
	}
	for _, u := range sqliteLogUpgrades {
		if cols[u.column] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, u.ddl); err != nil {
			return eris.Wrapf(err, "sqlite: add column %s", u.column)
		}
	}
	return nil
}

func (s *SQLiteStore) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: table info %s", table)
	}
	defer rows.Close() //nolint:errcheck

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan column")
		}
		cols[name] = true
	}
	return cols, eris.Wrap(rows.Err(), "sqlite: table info iterate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Current(ctx context.Context, key string) (*model.Current, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, version_number, fingerprint, record, updated_at FROM current_reports WHERE key = ?`,
		key,
	)
	return scanCurrent(row)
}

func (s *SQLiteStore) ListCurrent(ctx context.Context, filter ListFilter) ([]model.Current, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, version_number, fingerprint, record, updated_at FROM current_reports
		 ORDER BY key LIMIT ? OFFSET ?`,
		limitOr(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list current")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Current
	for rows.Next() {
		c, err := scanCurrent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list current iterate")
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM current_reports ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list keys")
	}
	defer rows.Close() //nolint:errcheck

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan key")
		}
		keys = append(keys, k)
	}
	return keys, eris.Wrap(rows.Err(), "sqlite: list keys iterate")
}

const sqliteVersionColumns = `key, version_number, reason, changed_fields, fingerprint, record, committed_at`

func (s *SQLiteStore) History(ctx context.Context, key string) ([]model.Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteVersionColumns+` FROM report_versions WHERE key = ? ORDER BY version_number`,
		key,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: history %s", key)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: history iterate")
}

func (s *SQLiteStore) Version(ctx context.Context, key string, n int) (*model.Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteVersionColumns+` FROM report_versions WHERE key = ? AND version_number = ?`,
		key, n,
	)
	return scanVersion(row)
}

func (s *SQLiteStore) Commit(ctx context.Context, req CommitRequest) error {
	if err := validateCommit(req); err != nil {
		return err
	}
	v := req.Version

	recJSON, err := encodeRecord(v.Record)
	if err != nil {
		return err
	}
	fieldsJSON, err := encodeFields(v.ChangedFields)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if isSQLiteBusy(err) {
			return ErrConflict
		}
		return eris.Wrap(err, "sqlite: begin commit")
	}
	defer tx.Rollback() //nolint:errcheck

	var current int
	err = tx.QueryRowContext(ctx, `SELECT version_number FROM current_reports WHERE key = ?`, v.Key).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		return eris.Wrapf(err, "sqlite: read current %s", v.Key)
	}
	if current != req.Expected {
		return ErrConflict
	}

	committed := formatTime(v.CommittedAt)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO report_versions (key, version_number, reason, changed_fields, fingerprint, record, fetched_at, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.Key, v.Number, string(v.Reason), string(fieldsJSON), v.Fingerprint, string(recJSON),
		formatTime(v.Record.FetchedAt), committed,
	); err != nil {
		if isSQLiteConstraint(err) {
			return ErrConflict
		}
		return eris.Wrapf(err, "sqlite: insert version %s/%d", v.Key, v.Number)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO current_reports (key, version_number, fingerprint, record, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET
			version_number = excluded.version_number,
			fingerprint = excluded.fingerprint,
			record = excluded.record,
			updated_at = excluded.updated_at`,
		v.Key, v.Number, v.Fingerprint, string(recJSON), committed,
	); err != nil {
		return eris.Wrapf(err, "sqlite: upsert current %s", v.Key)
	}

	entry := req.Log
	if err := insertSQLiteLog(ctx, tx, &entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if isSQLiteBusy(err) {
			return ErrConflict
		}
		return eris.Wrap(err, "sqlite: commit")
	}
	return nil
}

func (s *SQLiteStore) AppendLog(ctx context.Context, entry *model.LogEntry) error {
	return insertSQLiteLog(ctx, s.db, entry)
}

type sqliteExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSQLiteLog(ctx context.Context, ex sqliteExecer, e *model.LogEntry) error {
	var completed *string
	if e.CompletedAt != nil {
		c := formatTime(*e.CompletedAt)
		completed = &c
	}
	res, err := ex.ExecContext(ctx,
		`INSERT INTO ingest_log (run_id, key, source_url, status, error_type, message, version_number,
			fields_extracted, fields_changed, warnings, size_bytes, attempts, http_status, response_time_ms,
			started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Key, e.SourceURL, string(e.Status), e.ErrorType, e.Message, e.VersionNumber,
		e.FieldsExtracted, e.FieldsChanged, e.Warnings, e.SizeBytes, e.Attempts, e.HTTPStatus, e.ResponseTimeMS,
		formatTime(e.StartedAt), completed, e.DurationMS,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert log for %s", e.Key)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListLog(ctx context.Context, filter LogFilter) ([]model.LogEntry, error) {
	query := `SELECT id, run_id, key, source_url, status, error_type, message, version_number,
		fields_extracted, fields_changed, warnings, size_bytes, attempts, http_status, response_time_ms,
		started_at, completed_at, duration_ms
		FROM ingest_log WHERE 1=1`
	var args []any

	if filter.Key != "" {
		query += ` AND key = ?`
		args = append(args, filter.Key)
	}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.BeforeID > 0 {
		query += ` AND id < ?`
		args = append(args, filter.BeforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limitOr(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list log")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.LogEntry
	for rows.Next() {
		var (
			e                                model.LogEntry
			runID, key, srcURL, errType, msg sql.NullString
			status, started                  string
			completed                        sql.NullString
			version                          sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &runID, &key, &srcURL, &status, &errType, &msg, &version,
			&e.FieldsExtracted, &e.FieldsChanged, &e.Warnings, &e.SizeBytes, &e.Attempts,
			&e.HTTPStatus, &e.ResponseTimeMS, &started, &completed, &e.DurationMS); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan log")
		}
		e.RunID, e.Key, e.SourceURL = runID.String, key.String, srcURL.String
		e.ErrorType, e.Message = errType.String, msg.String
		e.Status = model.Status(status)
		e.VersionNumber = int(version.Int64)
		if e.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if completed.Valid {
			t, err := parseTime(completed.String)
			if err != nil {
				return nil, err
			}
			e.CompletedAt = &t
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list log iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCurrent(row scannable) (*model.Current, error) {
	var (
		c       model.Current
		recJSON string
		updated string
	)
	err := row.Scan(&c.Key, &c.Number, &c.Fingerprint, &recJSON, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan current")
	}
	if c.Record, err = decodeRecord([]byte(recJSON)); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanVersion(row scannable) (*model.Version, error) {
	var (
		v          model.Version
		reason     string
		fieldsJSON string
		recJSON    string
		committed  string
	)
	err := row.Scan(&v.Key, &v.Number, &reason, &fieldsJSON, &v.Fingerprint, &recJSON, &committed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan version")
	}
	v.Reason = model.Reason(reason)
	if v.ChangedFields, err = decodeFields([]byte(fieldsJSON)); err != nil {
		return nil, err
	}
	if v.Record, err = decodeRecord([]byte(recJSON)); err != nil {
		return nil, err
	}
	if v.CommittedAt, err = parseTime(committed); err != nil {
		return nil, err
	}
	return &v, nil
}

func sqliteCode(err error) (int, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code(), true
	}
	return 0, false
}

func isSQLiteConstraint(err error) bool {
	if code, ok := sqliteCode(err); ok {
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isSQLiteBusy(err error) bool {
	if code, ok := sqliteCode(err); ok {
		return code&0xff == sqlite3.SQLITE_BUSY
	}
	return false
}
