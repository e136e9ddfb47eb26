package model

import "time"

// Status is the outcome of one ingestion attempt.
type Status string

// Ingestion outcomes.
const (
	StatusNew          Status = "success-new"
	StatusChanged      Status = "success-changed"
	StatusUnchanged    Status = "success-unchanged"
	StatusParseError   Status = "parse-error"
	StatusFetchError   Status = "fetch-error"
	StatusStorageError Status = "storage-error"
)

// IsSuccess reports whether the attempt reached a versioning decision.
func (s Status) IsSuccess() bool {
	switch s {
	case StatusNew, StatusChanged, StatusUnchanged:
		return true
	default:
		return false
	}
}

// Error types recorded alongside failed statuses.
const (
	ErrorTransient   = "transient"
	ErrorPermanent   = "permanent"
	ErrorExtraction  = "extraction"
	ErrorFingerprint = "fingerprint"
	ErrorStorage     = "storage"
)

// LogEntry records one ingestion attempt, whether or not a version resulted.
type LogEntry struct {
	ID              int64      `json:"id,omitempty"`
	RunID           string     `json:"run_id,omitempty"`
	Key             string     `json:"key,omitempty"`
	SourceURL       string     `json:"source_url,omitempty"`
	Status          Status     `json:"status"`
	ErrorType       string     `json:"error_type,omitempty"`
	Message         string     `json:"message,omitempty"`
	VersionNumber   int        `json:"version_number,omitempty"`
	FieldsExtracted int        `json:"fields_extracted"`
	FieldsChanged   int        `json:"fields_changed"`
	Warnings        int        `json:"warnings"`
	SizeBytes       int        `json:"size_bytes"`
	Attempts        int        `json:"attempts"`
	HTTPStatus      int        `json:"http_status,omitempty"`
	ResponseTimeMS  int64      `json:"response_time_ms,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationMS      int64      `json:"duration_ms"`
}

// Finish stamps completion time and duration.
func (e *LogEntry) Finish(now time.Time) {
	e.CompletedAt = &now
	e.DurationMS = now.Sub(e.StartedAt).Milliseconds()
}
