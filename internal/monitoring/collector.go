// Package monitoring watches the ingestion log for failure spikes and
// reports that have stopped refreshing, and delivers alerts by webhook.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/report-tracker/internal/model"
	"github.com/sells-group/report-tracker/internal/store"
)

// pageSize bounds each log and report query the collector issues.
const pageSize = 500

// Snapshot holds a point-in-time view of ingestion health.
type Snapshot struct {
	// Attempt counts within the lookback window.
	Attempts      int     `json:"attempts"`
	New           int     `json:"new"`
	Changed       int     `json:"changed"`
	Unchanged     int     `json:"unchanged"`
	ParseErrors   int     `json:"parse_errors"`
	FetchErrors   int     `json:"fetch_errors"`
	StorageErrors int     `json:"storage_errors"`
	FailureRate   float64 `json:"failure_rate"`

	// Reports tracked, and those with no successful attempt in the window.
	Reports int      `json:"reports"`
	Stale   []string `json:"stale,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Reader is the part of store.Store the collector queries.
type Reader interface {
	ListLog(ctx context.Context, filter store.LogFilter) ([]model.LogEntry, error)
	ListCurrent(ctx context.Context, filter store.ListFilter) ([]model.Current, error)
}

// Collector gathers ingestion metrics from the store.
type Collector struct {
	store Reader
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st Reader) *Collector {
	return &Collector{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// The log lists newest first; stop paging at the first entry older
	// than the window. Paging by id keeps entries appended meanwhile from
	// shifting later pages.
	fresh := make(map[string]bool)
	var before int64
	for {
		entries, err := c.store.ListLog(ctx, store.LogFilter{Limit: pageSize, BeforeID: before})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list log")
		}
		done := len(entries) < pageSize
		if len(entries) > 0 {
			before = entries[len(entries)-1].ID
		}
		for _, e := range entries {
			if e.StartedAt.Before(cutoff) {
				done = true
				break
			}
			snap.Attempts++
			switch e.Status {
			case model.StatusNew:
				snap.New++
			case model.StatusChanged:
				snap.Changed++
			case model.StatusUnchanged:
				snap.Unchanged++
			case model.StatusParseError:
				snap.ParseErrors++
			case model.StatusFetchError:
				snap.FetchErrors++
			case model.StatusStorageError:
				snap.StorageErrors++
			}
			if e.Status.IsSuccess() {
				fresh[e.Key] = true
			}
		}
		if done {
			break
		}
	}
	if snap.Attempts > 0 {
		failed := snap.ParseErrors + snap.FetchErrors + snap.StorageErrors
		snap.FailureRate = float64(failed) / float64(snap.Attempts)
	}

	for offset := 0; ; offset += pageSize {
		list, err := c.store.ListCurrent(ctx, store.ListFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list reports")
		}
		for _, cur := range list {
			snap.Reports++
			if !fresh[cur.Key] {
				snap.Stale = append(snap.Stale, cur.Key)
			}
		}
		if len(list) < pageSize {
			break
		}
	}
	sort.Strings(snap.Stale)

	return snap, nil
}
