package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/report-tracker/internal/db"
	"github.com/sells-group/report-tracker/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID guards concurrent Migrate calls across processes.
const migrationLockID = 7342001

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Close does not close it.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Migrate applies pending embedded migrations in lexicographic order, holding
// an advisory lock so overlapping deploys do not race.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("postgres: failed to release migration lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}
		log.Info("applying migration", zap.String("file", name))
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}
		if _, err := s.pool.Exec(ctx,
			"INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, now())", name,
		); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", name)
		}
	}
	return nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "postgres: iterate migrations")
}

const currentColumns = `key, version_number, fingerprint, record, updated_at`

func (s *PostgresStore) Current(ctx context.Context, key string) (*model.Current, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+currentColumns+` FROM current_reports WHERE key = $1`, key)
	return scanPgCurrent(row)
}

func (s *PostgresStore) ListCurrent(ctx context.Context, filter ListFilter) ([]model.Current, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+currentColumns+` FROM current_reports ORDER BY key LIMIT $1 OFFSET $2`,
		limitOr(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list current")
	}
	defer rows.Close()

	var out []model.Current
	for rows.Next() {
		c, err := scanPgCurrent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list current iterate")
}

func (s *PostgresStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key FROM current_reports ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list keys")
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return keys, eris.Wrap(err, "postgres: collect keys")
}

const versionColumns = `key, version_number, reason, changed_fields, fingerprint, record, committed_at`

func (s *PostgresStore) History(ctx context.Context, key string) ([]model.Version, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+versionColumns+` FROM report_versions WHERE key = $1 ORDER BY version_number`,
		key,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: history %s", key)
	}
	defer rows.Close()

	var out []model.Version
	for rows.Next() {
		v, err := scanPgVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: history iterate")
}

func (s *PostgresStore) Version(ctx context.Context, key string, n int) (*model.Version, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM report_versions WHERE key = $1 AND version_number = $2`,
		key, n,
	)
	return scanPgVersion(row)
}

func (s *PostgresStore) Commit(ctx context.Context, req CommitRequest) error {
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

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var current int
		err := tx.QueryRow(ctx,
			`SELECT version_number FROM current_reports WHERE key = $1 FOR UPDATE`, v.Key,
		).Scan(&current)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			current = 0
		case err != nil:
			return eris.Wrapf(err, "postgres: read current %s", v.Key)
		}
		if current != req.Expected {
			return ErrConflict
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO report_versions (key, version_number, reason, changed_fields, fingerprint, record, fetched_at, committed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			v.Key, v.Number, string(v.Reason), fieldsJSON, v.Fingerprint, recJSON, v.Record.FetchedAt.UTC(), v.CommittedAt.UTC(),
		); err != nil {
			if db.IsUniqueViolation(err) {
				return ErrConflict
			}
			return eris.Wrapf(err, "postgres: insert version %s/%d", v.Key, v.Number)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO current_reports (key, version_number, fingerprint, record, updated_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (key) DO UPDATE SET
				version_number = EXCLUDED.version_number,
				fingerprint = EXCLUDED.fingerprint,
				record = EXCLUDED.record,
				updated_at = EXCLUDED.updated_at`,
			v.Key, v.Number, v.Fingerprint, recJSON, v.CommittedAt.UTC(),
		); err != nil {
			if db.IsUniqueViolation(err) {
				return ErrConflict
			}
			return eris.Wrapf(err, "postgres: upsert current %s", v.Key)
		}

		entry := req.Log
		return insertPgLog(ctx, tx, &entry)
	})
}

func (s *PostgresStore) AppendLog(ctx context.Context, entry *model.LogEntry) error {
	return insertPgLog(ctx, s.pool, entry)
}

type pgQueryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertPgLog(ctx context.Context, q pgQueryRower, e *model.LogEntry) error {
	err := q.QueryRow(ctx,
		`INSERT INTO ingest_log (run_id, key, source_url, status, error_type, message, version_number,
			fields_extracted, fields_changed, warnings, size_bytes, attempts, http_status, response_time_ms,
			started_at, completed_at, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17) RETURNING id`,
		e.RunID, e.Key, e.SourceURL, string(e.Status), e.ErrorType, e.Message, e.VersionNumber,
		e.FieldsExtracted, e.FieldsChanged, e.Warnings, e.SizeBytes, e.Attempts, e.HTTPStatus, e.ResponseTimeMS,
		e.StartedAt.UTC(), e.CompletedAt, e.DurationMS,
	).Scan(&e.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert log for %s", e.Key)
	}
	return nil
}

func (s *PostgresStore) ListLog(ctx context.Context, filter LogFilter) ([]model.LogEntry, error) {
	query := `SELECT id, COALESCE(run_id, ''), COALESCE(key, ''), COALESCE(source_url, ''), status,
		COALESCE(error_type, ''), COALESCE(message, ''), version_number, fields_extracted, fields_changed,
		warnings, size_bytes, attempts, http_status, response_time_ms, started_at, completed_at, duration_ms
		FROM ingest_log WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Key != "" {
		query += ` AND key = ` + arg(filter.Key)
	}
	if filter.RunID != "" {
		query += ` AND run_id = ` + arg(filter.RunID)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.BeforeID > 0 {
		query += ` AND id < ` + arg(filter.BeforeID)
	}
	query += ` ORDER BY id DESC LIMIT ` + arg(limitOr(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list log")
	}
	defer rows.Close()

	var out []model.LogEntry
	for rows.Next() {
		var (
			e      model.LogEntry
			status string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Key, &e.SourceURL, &status, &e.ErrorType, &e.Message,
			&e.VersionNumber, &e.FieldsExtracted, &e.FieldsChanged, &e.Warnings, &e.SizeBytes,
			&e.Attempts, &e.HTTPStatus, &e.ResponseTimeMS, &e.StartedAt, &e.CompletedAt, &e.DurationMS); err != nil {
			return nil, eris.Wrap(err, "postgres: scan log")
		}
		e.Status = model.Status(status)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list log iterate")
}

func scanPgCurrent(row pgx.Row) (*model.Current, error) {
	var (
		c       model.Current
		recJSON []byte
	)
	err := row.Scan(&c.Key, &c.Number, &c.Fingerprint, &recJSON, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan current")
	}
	if c.Record, err = decodeRecord(recJSON); err != nil {
		return nil, err
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func scanPgVersion(row pgx.Row) (*model.Version, error) {
	var (
		v          model.Version
		reason     string
		fieldsJSON []byte
		recJSON    []byte
	)
	err := row.Scan(&v.Key, &v.Number, &reason, &fieldsJSON, &v.Fingerprint, &recJSON, &v.CommittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan version")
	}
	v.Reason = model.Reason(reason)
	if v.ChangedFields, err = decodeFields(fieldsJSON); err != nil {
		return nil, err
	}
	if v.Record, err = decodeRecord(recJSON); err != nil {
		return nil, err
	}
	v.CommittedAt = v.CommittedAt.UTC()
	return &v, nil
}
