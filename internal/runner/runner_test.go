package runner

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/report-tracker/internal/fetcher"
	"github.com/sells-group/report-tracker/internal/model"
	"github.com/sells-group/report-tracker/internal/resilience"
	"github.com/sells-group/report-tracker/internal/store"
	"github.com/sells-group/report-tracker/internal/tracker"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// scriptedFetcher replays per-URL responses; the last one repeats.
type scriptedFetcher struct {
	mu      sync.Mutex
	script  map[string][]func() (*fetcher.Page, error)
	calls   map[string]int
	active  atomic.Int32
	peak    atomic.Int32
	latency time.Duration
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{script: map[string][]func() (*fetcher.Page, error){}, calls: map[string]int{}}
}

func (f *scriptedFetcher) on(url string, steps ...func() (*fetcher.Page, error)) {
	f.script[url] = steps
}

func (f *scriptedFetcher) Fetch(ctx context.Context, url string) (*fetcher.Page, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	steps := f.script[url]
	i := f.calls[url]
	f.calls[url]++
	f.mu.Unlock()
	if len(steps) == 0 {
		return nil, &resilience.StatusError{StatusCode: 404, URL: url}
	}
	if i >= len(steps) {
		i = len(steps) - 1
	}
	return steps[i]()
}

func (f *scriptedFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func html(title, cagr string) string {
	return `<html><head><title>` + title + `</title>
<script type="application/ld+json">{"@type":"Dataset","variableMeasured":[{"@type":"PropertyValue","name":"CAGR","value":"` + cagr + `"}]}</script>
</head><body></body></html>`
}

func ok(body string) func() (*fetcher.Page, error) {
	return func() (*fetcher.Page, error) {
		return &fetcher.Page{
			Body:         []byte(body),
			StatusCode:   200,
			FetchedAt:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			ResponseTime: 85 * time.Millisecond,
		}, nil
	}
}

func fail(code int) func() (*fetcher.Page, error) {
	return func() (*fetcher.Page, error) {
		return nil, &resilience.StatusError{StatusCode: code, URL: "u"}
	}
}

func quickRetry() resilience.Policy {
	return resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
}

func newTracker(t *testing.T) (*tracker.Tracker, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return tracker.New(st, nil, tracker.Options{}), st
}

func TestRun_MixedOutcomes(t *testing.T) {
	tr, st := newTracker(t)
	f := newScriptedFetcher()
	f.on("https://example.com/reports/payments", ok(html("Payments Market", "5.51")))
	f.on("https://example.com/reports/cards", fail(503), ok(html("Cards Market", "7.2")))
	f.on("https://example.com/reports/gone", fail(404))
	f.on("https://example.com/reports/flaky", fail(503))
	f.on("https://example.com/reports/broken", ok("<html><body>no title here</body></html>"))

	sources := []Source{
		{URL: "https://example.com/reports/payments"},
		{URL: "https://example.com/reports/cards"},
		{URL: "https://example.com/reports/gone"},
		{URL: "https://example.com/reports/flaky"},
		{URL: "https://example.com/reports/broken"},
	}
	r := New(tr, f, Config{Workers: 2, Retry: quickRetry()})
	sum, err := r.Run(context.Background(), sources)
	require.NoError(t, err)

	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 5, sum.Total)
	assert.Equal(t, 5, sum.Attempted)
	assert.Equal(t, 2, sum.Counts[model.StatusNew])
	assert.Equal(t, 2, sum.Counts[model.StatusFetchError])
	assert.Equal(t, 1, sum.Counts[model.StatusParseError])
	assert.Equal(t, 2, sum.Errors)

	// Transient failure retried once then succeeded; permanent not retried;
	// persistent transient exhausted the policy.
	assert.Equal(t, 2, f.callCount("https://example.com/reports/cards"))
	assert.Equal(t, 1, f.callCount("https://example.com/reports/gone"))
	assert.Equal(t, 3, f.callCount("https://example.com/reports/flaky"))

	entries, err := st.ListLog(context.Background(), store.LogFilter{RunID: sum.RunID})
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	byKey := map[string]model.LogEntry{}
	for _, e := range entries {
		byKey[e.Key] = e
	}
	assert.Equal(t, 2, byKey["cards"].Attempts)
	assert.Equal(t, model.ErrorPermanent, byKey["gone"].ErrorType)
	assert.Equal(t, model.ErrorTransient, byKey["flaky"].ErrorType)
	assert.Equal(t, 3, byKey["flaky"].Attempts)
	assert.Equal(t, 404, byKey["gone"].HTTPStatus)
	assert.Equal(t, 503, byKey["flaky"].HTTPStatus)
	assert.Equal(t, 200, byKey["payments"].HTTPStatus)
	assert.Equal(t, int64(85), byKey["payments"].ResponseTimeMS)

	_, err = st.Current(context.Background(), "gone")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestRun_RerunIsUnchanged(t *testing.T) {
	tr, _ := newTracker(t)
	f := newScriptedFetcher()
	f.on("https://example.com/reports/payments", ok(html("Payments Market", "5.51")))
	sources := []Source{{URL: "https://example.com/reports/payments"}}
	r := New(tr, f, Config{Workers: 1, Retry: quickRetry()})

	first, err := r.Run(context.Background(), sources)
	require.NoError(t, err)
	second, err := r.Run(context.Background(), sources)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 1, first.Counts[model.StatusNew])
	assert.Equal(t, 1, second.Counts[model.StatusUnchanged])
}

func TestRun_BoundedWorkers(t *testing.T) {
	tr, _ := newTracker(t)
	f := newScriptedFetcher()
	f.latency = 10 * time.Millisecond
	var sources []Source
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		u := "https://example.com/reports/" + k
		f.on(u, ok(html(strings.ToUpper(k)+" Market", "4")))
		sources = append(sources, Source{URL: u})
	}

	sum, err := New(tr, f, Config{Workers: 3, Retry: quickRetry()}).Run(context.Background(), sources)
	require.NoError(t, err)
	assert.Equal(t, 8, sum.Counts[model.StatusNew])
	assert.LessOrEqual(t, f.peak.Load(), int32(3))
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	tr, st := newTracker(t)
	f := newScriptedFetcher()
	f.on("https://example.com/reports/a", ok(html("A", "1")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := New(tr, f, Config{Workers: 2, Retry: quickRetry()}).Run(ctx, []Source{{URL: "https://example.com/reports/a"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.Attempted)
	assert.Zero(t, f.callCount("https://example.com/reports/a"))

	entries, err := st.ListLog(context.Background(), store.LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_CancelMidRunKeepsCommitted(t *testing.T) {
	tr, st := newTracker(t)
	f := newScriptedFetcher()
	var sources []Source
	for _, k := range []string{"a", "b", "c", "d", "e", "f"} {
		u := "https://example.com/reports/" + k
		f.on(u, ok(html(strings.ToUpper(k)+" Market", "3")))
		sources = append(sources, Source{URL: u})
	}

	ctx, cancel := context.WithCancel(context.Background())
	ing := &cancelAfter{Ingester: tr, n: 2, cancel: cancel}
	sum, err := New(ing, f, Config{Workers: 1, Retry: quickRetry()}).Run(ctx, sources)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, sum.Attempted, len(sources))

	keys, err := st.Keys(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, sum.Counts[model.StatusNew])
	for _, k := range keys {
		hist, err := st.History(context.Background(), k)
		require.NoError(t, err)
		assert.Len(t, hist, 1)
	}
}

// cancelAfter cancels the run once n documents were ingested.
type cancelAfter struct {
	Ingester
	mu     sync.Mutex
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) Ingest(ctx context.Context, doc tracker.Document) (*tracker.Result, error) {
	res, err := c.Ingester.Ingest(ctx, doc)
	c.mu.Lock()
	c.n--
	if c.n == 0 {
		c.cancel()
	}
	c.mu.Unlock()
	return res, err
}
