// Package store persists report versions, the current projection, and the
// ingestion log.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/report-tracker/internal/model"
)

// Sentinel errors, compared with errors.Is.
var (
	ErrNotFound = eris.New("store: not found")
	ErrConflict = eris.New("store: version conflict")
)

// CommitRequest writes one new version. Expected is the version number the
// caller saw as current, 0 when the key was absent.
type CommitRequest struct {
	Version  model.Version
	Log      model.LogEntry
	Expected int
}

// LogFilter specifies criteria for listing log entries, newest first.
// BeforeID is a keyset cursor: only entries with a smaller id are listed,
// so pages stay stable while new entries are appended.
type LogFilter struct {
	Key      string       `json:"key,omitempty"`
	RunID    string       `json:"run_id,omitempty"`
	Status   model.Status `json:"status,omitempty"`
	BeforeID int64        `json:"before_id,omitempty"`
	Limit    int          `json:"limit,omitempty"`
	Offset   int          `json:"offset,omitempty"`
}

// ListFilter pages through current reports.
type ListFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

const defaultLimit = 100

func limitOr(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return n
}

// Store defines the persistence interface for versioned reports.
type Store interface {
	// Current returns the latest projection for key, or ErrNotFound.
	Current(ctx context.Context, key string) (*model.Current, error)
	// History returns every version of key in ascending order.
	History(ctx context.Context, key string) ([]model.Version, error)
	// Version returns version n of key, or ErrNotFound.
	Version(ctx context.Context, key string, n int) (*model.Version, error)
	// Commit inserts the version, replaces Current and appends the log entry
	// atomically. A stale Expected or a duplicate version number returns
	// ErrConflict and persists nothing.
	Commit(ctx context.Context, req CommitRequest) error

	ListCurrent(ctx context.Context, filter ListFilter) ([]model.Current, error)
	Keys(ctx context.Context) ([]string, error)

	// Ingestion log
	AppendLog(ctx context.Context, entry *model.LogEntry) error
	ListLog(ctx context.Context, filter LogFilter) ([]model.LogEntry, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func validateCommit(req CommitRequest) error {
	v := req.Version
	if v.Key == "" {
		return eris.New("store: commit without key")
	}
	if req.Expected < 0 || v.Number != req.Expected+1 {
		return ErrConflict
	}
	if v.Record.Key != v.Key {
		return eris.Errorf("store: record key %q does not match version key %q", v.Record.Key, v.Key)
	}
	return nil
}
