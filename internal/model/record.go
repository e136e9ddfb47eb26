package model

import "time"

// Record is the normalized form of one source document at one point in time.
// Records are produced fresh on every ingestion attempt and never mutated
// after extraction.
type Record struct {
	Key       string           `json:"key"`
	FetchedAt time.Time        `json:"fetched_at"`
	Fields    map[string]Value `json:"fields"`
	Warnings  []string         `json:"warnings,omitempty"`
}

// Get returns the value for key, null when absent.
func (r *Record) Get(key string) Value {
	if r == nil || r.Fields == nil {
		return Value{}
	}
	return r.Fields[key]
}

// CountPopulated returns the number of non-null fields.
func (r *Record) CountPopulated() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, v := range r.Fields {
		if !v.IsNull() {
			n++
		}
	}
	return n
}

// Reason explains why a version was committed.
type Reason string

// Version reasons.
const (
	ReasonNew     Reason = "new"
	ReasonChanged Reason = "changed"
)

// Version is an immutable snapshot of a Record plus change metadata.
type Version struct {
	Key           string    `json:"key"`
	Number        int       `json:"version_number"`
	Reason        Reason    `json:"reason"`
	ChangedFields []string  `json:"changed_fields"`
	Fingerprint   string    `json:"fingerprint"`
	Record        Record    `json:"record"`
	CommittedAt   time.Time `json:"committed_at"`
}

// Current is the latest-version projection for one identity.
type Current struct {
	Key         string    `json:"key"`
	Number      int       `json:"version_number"`
	Fingerprint string    `json:"fingerprint"`
	Record      Record    `json:"record"`
	UpdatedAt   time.Time `json:"updated_at"`
}
