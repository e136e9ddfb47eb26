// Package tracker turns raw report documents into versioned history. It owns
// the extract → fingerprint → decide → commit sequence and writes exactly one
// operation log entry per attempt.
package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/report-tracker/internal/change"
	"github.com/sells-group/report-tracker/internal/extract"
	"github.com/sells-group/report-tracker/internal/fingerprint"
	"github.com/sells-group/report-tracker/internal/model"
	"github.com/sells-group/report-tracker/internal/store"
)

// DefaultConflictRetries bounds how often a commit is retried after the
// store reports another writer got there first.
const DefaultConflictRetries = 3

// Document is one fetched source handed to Ingest.
type Document struct {
	// Key overrides identity resolution when set.
	Key       string
	SourceURL string
	Body      []byte
	FetchedAt time.Time
	RunID     string
	// Attempts is the number of fetch attempts it took to obtain Body.
	Attempts int
	// HTTPStatus and ResponseTime describe the successful fetch, if any.
	HTTPStatus   int
	ResponseTime time.Duration
}

// Result summarizes one ingestion attempt.
type Result struct {
	Status        model.Status     `json:"status"`
	Key           string           `json:"key,omitempty"`
	VersionNumber int              `json:"version_number,omitempty"`
	ChangedFields []string         `json:"changed_fields,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
	Failure       *extract.Failure `json:"failure,omitempty"`
}

// FetchFailure describes a source that could not be fetched.
type FetchFailure struct {
	Key       string
	SourceURL string
	RunID     string
	Transient bool
	Err       error
	Attempts  int
	StartedAt time.Time
	// HTTPStatus is the last response status, 0 when none was received.
	HTTPStatus int
}

// Options tunes a Tracker. Zero values pick defaults.
type Options struct {
	Now             func() time.Time
	ConflictRetries int
}

// Tracker is the versioning core. It is safe for concurrent use; ingestion
// of one identity is serialized only during the commit phase.
type Tracker struct {
	store     store.Store
	extractor *extract.Extractor
	schema    *model.Schema
	locks     *keyLocks
	now       func() time.Time
	retries   int
}

// New returns a Tracker writing to st.
func New(st store.Store, ex *extract.Extractor, opts Options) *Tracker {
	if ex == nil {
		ex = extract.New()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = DefaultConflictRetries
	}
	return &Tracker{
		store:     st,
		extractor: ex,
		schema:    ex.Schema(),
		locks:     newKeyLocks(),
		now:       opts.Now,
		retries:   opts.ConflictRetries,
	}
}

// Ingest extracts doc, and commits a new version when the identity is new or
// its content changed. Extraction failures are reported through
// Result.Failure with a nil error; storage and fingerprint failures are
// returned as errors.
func (t *Tracker) Ingest(ctx context.Context, doc Document) (*Result, error) {
	start := t.now()
	entry := model.LogEntry{
		RunID:     doc.RunID,
		Key:       doc.Key,
		SourceURL: doc.SourceURL,
		SizeBytes: len(doc.Body),
		Attempts:  doc.Attempts,
		StartedAt: start,

		HTTPStatus:     doc.HTTPStatus,
		ResponseTimeMS: doc.ResponseTime.Milliseconds(),
	}
	fetchedAt := doc.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = start
	}

	rec, err := t.extractor.Extract(doc.Body, extract.Source{Key: doc.Key, URL: doc.SourceURL, FetchedAt: fetchedAt})
	if err != nil {
		var fail *extract.Failure
		if !errors.As(err, &fail) {
			fail = &extract.Failure{Reason: err.Error()}
		}
		if fail.Key != "" {
			entry.Key = fail.Key
		}
		entry.Status = model.StatusParseError
		entry.ErrorType = model.ErrorExtraction
		entry.Message = fail.Error()
		entry.Warnings = len(fail.Warnings)
		res := &Result{Status: entry.Status, Key: entry.Key, Warnings: fail.Warnings, Failure: fail}
		return res, t.record(ctx, &entry)
	}

	entry.Key = rec.Key
	entry.FieldsExtracted = rec.CountPopulated()
	entry.Warnings = len(rec.Warnings)
	log := zap.L().With(zap.String("key", rec.Key), zap.String("run_id", doc.RunID))

	fp, err := fingerprint.Of(rec, t.schema)
	if err != nil {
		t.fingerprintFailed(ctx, &entry, err)
		return &Result{Status: entry.Status, Key: rec.Key, Warnings: rec.Warnings},
			eris.Wrapf(err, "tracker: fingerprint %s", rec.Key)
	}

	seen, err := t.current(ctx, rec.Key)
	if err != nil {
		return t.storageFailed(ctx, &entry, rec, err)
	}
	if seen != nil && seen.Fingerprint == fp.String() {
		entry.VersionNumber = seen.Number
		return t.unchanged(ctx, &entry, rec)
	}

	unlock := t.locks.lock(rec.Key)
	defer unlock()

	for attempt := 0; ; attempt++ {
		cur, err := t.current(ctx, rec.Key)
		if err != nil {
			return t.storageFailed(ctx, &entry, rec, err)
		}
		if superseded(seen, cur, rec) {
			redundantCommits.Inc()
			log.Debug("tracker: concurrent writer committed newer snapshot", zap.Int("version", cur.Number))
			entry.VersionNumber = cur.Number
			entry.Message = "superseded by concurrent commit"
			return t.unchanged(ctx, &entry, rec)
		}

		dec, err := change.Decide(cur, rec, fp, t.schema)
		if err != nil {
			t.fingerprintFailed(ctx, &entry, err)
			return &Result{Status: entry.Status, Key: rec.Key, Warnings: rec.Warnings},
				eris.Wrapf(err, "tracker: diff %s", rec.Key)
		}
		if dec.Action == change.Skip {
			if seen == nil || seen.Number != cur.Number {
				redundantCommits.Inc()
			}
			entry.VersionNumber = dec.Number
			return t.unchanged(ctx, &entry, rec)
		}

		expected := 0
		if cur != nil {
			expected = cur.Number
		}
		committed := t.now()
		v := model.Version{
			Key:           rec.Key,
			Number:        dec.Number,
			Reason:        dec.Reason,
			ChangedFields: dec.ChangedFields,
			Fingerprint:   fp.String(),
			Record:        *rec,
			CommittedAt:   committed,
		}
		entry.Status = statusFor(dec.Reason)
		entry.VersionNumber = dec.Number
		entry.FieldsChanged = len(dec.ChangedFields)
		entry.Finish(committed)

		err = t.store.Commit(ctx, store.CommitRequest{Version: v, Log: entry, Expected: expected})
		if err == nil {
			observe(entry)
			log.Info("tracker: committed version",
				zap.String("status", string(entry.Status)),
				zap.Int("version", v.Number),
				zap.Strings("changed_fields", v.ChangedFields),
			)
			return &Result{
				Status:        entry.Status,
				Key:           rec.Key,
				VersionNumber: v.Number,
				ChangedFields: v.ChangedFields,
				Warnings:      rec.Warnings,
			}, nil
		}
		if errors.Is(err, store.ErrConflict) && attempt < t.retries {
			commitConflicts.Inc()
			log.Debug("tracker: commit conflict, re-reading", zap.Int("attempt", attempt+1))
			seen = cur
			continue
		}
		entry.FieldsChanged = 0
		return t.storageFailed(ctx, &entry, rec, err)
	}
}

// superseded reports whether another writer advanced the identity after our
// optimistic read with a snapshot fetched strictly later than ours. Equal
// fetch times are left to change.Decide, so distinct content still commits.
func superseded(seen, cur *model.Current, rec *model.Record) bool {
	if cur == nil {
		return false
	}
	if seen != nil && seen.Number == cur.Number {
		return false
	}
	return cur.Record.FetchedAt.After(rec.FetchedAt)
}

func statusFor(r model.Reason) model.Status {
	if r == model.ReasonNew {
		return model.StatusNew
	}
	return model.StatusChanged
}

// current returns nil when the identity has no versions yet.
func (t *Tracker) current(ctx context.Context, key string) (*model.Current, error) {
	cur, err := t.store.Current(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return cur, err
}

func (t *Tracker) unchanged(ctx context.Context, entry *model.LogEntry, rec *model.Record) (*Result, error) {
	entry.Status = model.StatusUnchanged
	res := &Result{Status: entry.Status, Key: rec.Key, VersionNumber: entry.VersionNumber, Warnings: rec.Warnings}
	return res, t.record(ctx, entry)
}

func (t *Tracker) fingerprintFailed(ctx context.Context, entry *model.LogEntry, err error) {
	entry.Status = model.StatusParseError
	entry.ErrorType = model.ErrorFingerprint
	entry.Message = err.Error()
	if logErr := t.record(ctx, entry); logErr != nil {
		zap.L().Warn("tracker: log fingerprint failure", zap.String("key", entry.Key), zap.Error(logErr))
	}
}

// storageFailed records a best-effort storage-error entry. The store may be
// the very thing that is failing, so a logging error is only warned about.
func (t *Tracker) storageFailed(ctx context.Context, entry *model.LogEntry, rec *model.Record, err error) (*Result, error) {
	entry.Status = model.StatusStorageError
	entry.ErrorType = model.ErrorStorage
	entry.Message = err.Error()
	entry.VersionNumber = 0
	if logErr := t.record(ctx, entry); logErr != nil {
		zap.L().Warn("tracker: log storage failure", zap.String("key", entry.Key), zap.Error(logErr))
	}
	res := &Result{Status: entry.Status, Key: rec.Key, Warnings: rec.Warnings}
	return res, eris.Wrapf(err, "tracker: store %s", rec.Key)
}

// record appends entry outside of any version commit.
func (t *Tracker) record(ctx context.Context, entry *model.LogEntry) error {
	entry.Finish(t.now())
	observe(*entry)
	if err := t.store.AppendLog(ctx, entry); err != nil {
		return eris.Wrapf(err, "tracker: append log for %q", entry.Key)
	}
	return nil
}

func observe(e model.LogEntry) {
	ingestTotal.WithLabelValues(string(e.Status)).Inc()
	ingestDuration.WithLabelValues(string(e.Status)).Observe(float64(e.DurationMS) / 1000)
}

// RecordFailure logs a source that never produced a document. Current and
// history are not touched.
func (t *Tracker) RecordFailure(ctx context.Context, f FetchFailure) (*Result, error) {
	entry := model.LogEntry{
		RunID:     f.RunID,
		Key:       f.Key,
		SourceURL: f.SourceURL,
		Status:    model.StatusFetchError,
		ErrorType: model.ErrorPermanent,
		Attempts:  f.Attempts,
		StartedAt: f.StartedAt,

		HTTPStatus: f.HTTPStatus,
	}
	if f.Transient {
		entry.ErrorType = model.ErrorTransient
	}
	if f.Err != nil {
		entry.Message = f.Err.Error()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = t.now()
	}
	zap.L().Warn("tracker: fetch failed",
		zap.String("url", f.SourceURL),
		zap.String("error_type", entry.ErrorType),
		zap.Int("attempt", f.Attempts),
		zap.Int("http_status", f.HTTPStatus),
		zap.Error(f.Err),
	)
	return &Result{Status: entry.Status, Key: f.Key}, t.record(ctx, &entry)
}

// Current returns the latest snapshot for key, store.ErrNotFound when the
// identity has never been ingested.
func (t *Tracker) Current(ctx context.Context, key string) (*model.Record, error) {
	cur, err := t.store.Current(ctx, key)
	if err != nil {
		return nil, err
	}
	return &cur.Record, nil
}

// History returns every version of key in ascending order.
func (t *Tracker) History(ctx context.Context, key string) ([]model.Version, error) {
	return t.store.History(ctx, key)
}

// Diff returns the fields that differ between versions v1 and v2 of key.
func (t *Tracker) Diff(ctx context.Context, key string, v1, v2 int) (map[string]change.Change, error) {
	a, err := t.store.Version(ctx, key, v1)
	if err != nil {
		return nil, err
	}
	b, err := t.store.Version(ctx, key, v2)
	if err != nil {
		return nil, err
	}
	return change.Diff(&a.Record, &b.Record, t.schema)
}

// Schema returns the field declarations the tracker versions against.
func (t *Tracker) Schema() *model.Schema {
	return t.schema
}
