// Package runner drives a batch of sources through fetch and ingestion with
// a bounded worker pool.
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/report-tracker/internal/extract"
	"github.com/sells-group/report-tracker/internal/fetcher"
	"github.com/sells-group/report-tracker/internal/model"
	"github.com/sells-group/report-tracker/internal/resilience"
	"github.com/sells-group/report-tracker/internal/tracker"
)

// Ingester is the subset of *tracker.Tracker the runner drives.
type Ingester interface {
	Ingest(ctx context.Context, doc tracker.Document) (*tracker.Result, error)
	RecordFailure(ctx context.Context, f tracker.FetchFailure) (*tracker.Result, error)
}

// Config controls a Runner.
type Config struct {
	Workers int
	Retry   resilience.Policy
}

// Outcome is what happened to one source.
type Outcome struct {
	Source Source          `json:"source"`
	Result *tracker.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Summary aggregates one run.
type Summary struct {
	RunID      string               `json:"run_id"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Total      int                  `json:"total"`
	Attempted  int                  `json:"attempted"`
	Counts     map[model.Status]int `json:"counts"`
	Errors     int                  `json:"errors"`
	Outcomes   []Outcome            `json:"outcomes"`
}

// Runner fetches and ingests sources.
type Runner struct {
	ingester Ingester
	fetcher  fetcher.Fetcher
	cfg      Config
	now      func() time.Time
}

// New returns a Runner. Workers defaults to 4.
func New(ing Ingester, f fetcher.Fetcher, cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Runner{
		ingester: ing,
		fetcher:  f,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run processes sources concurrently. One source's failure never stops the
// others. When ctx is canceled no further sources are started, in-flight
// commits finish, and ctx's error is returned alongside the partial summary.
func (r *Runner) Run(ctx context.Context, sources []Source) (*Summary, error) {
	runID := uuid.NewString()
	sum := &Summary{
		RunID:     runID,
		StartedAt: r.now(),
		Total:     len(sources),
		Counts:    make(map[model.Status]int),
	}
	log := zap.L().With(zap.String("run_id", runID))
	log.Info("run starting", zap.Int("sources", len(sources)), zap.Int("workers", r.cfg.Workers))

	outcomes := make([]*Outcome, len(sources))
	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)

	var mu sync.Mutex
	for i, src := range sources {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			o := r.process(ctx, runID, src)
			mu.Lock()
			outcomes[i] = o
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o == nil {
			continue
		}
		sum.Attempted++
		if o.Result != nil {
			sum.Counts[o.Result.Status]++
		}
		if o.Error != "" {
			sum.Errors++
		}
		sum.Outcomes = append(sum.Outcomes, *o)
	}
	sum.FinishedAt = r.now()

	log.Info("run complete",
		zap.Int("attempted", sum.Attempted),
		zap.Int("new", sum.Counts[model.StatusNew]),
		zap.Int("changed", sum.Counts[model.StatusChanged]),
		zap.Int("unchanged", sum.Counts[model.StatusUnchanged]),
		zap.Int("errors", sum.Errors),
	)
	return sum, ctx.Err()
}

func (r *Runner) process(ctx context.Context, runID string, src Source) *Outcome {
	log := zap.L().With(zap.String("run_id", runID), zap.String("url", src.URL))
	started := r.now()
	out := &Outcome{Source: src}

	policy := r.cfg.Retry
	policy.OnRetry = resilience.RetryLogger("fetch", src.URL)
	page, attempts, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (*fetcher.Page, error) {
		return r.fetcher.Fetch(ctx, src.URL)
	})

	// Logging and committing must not be cut short by cancellation once the
	// attempt has started.
	bg := context.WithoutCancel(ctx)

	if err != nil {
		out.Error = err.Error()
		key := src.Key
		if key == "" {
			key = extract.Slug(src.URL)
		}
		res, logErr := r.ingester.RecordFailure(bg, tracker.FetchFailure{
			Key:       key,
			SourceURL: src.URL,
			RunID:     runID,
			Transient: resilience.IsTransient(err),
			Err:       err,
			Attempts:  attempts,
			StartedAt: started,

			HTTPStatus: resilience.HTTPStatus(err),
		})
		out.Result = res
		if logErr != nil {
			log.Error("record fetch failure", zap.Error(logErr))
		}
		return out
	}

	res, err := r.ingester.Ingest(bg, tracker.Document{
		Key:       src.Key,
		SourceURL: src.URL,
		Body:      page.Body,
		FetchedAt: page.FetchedAt,
		RunID:     runID,
		Attempts:  attempts,

		HTTPStatus:   page.StatusCode,
		ResponseTime: page.ResponseTime,
	})
	out.Result = res
	if err != nil {
		out.Error = err.Error()
		log.Error("ingest failed", zap.Error(err))
	} else if res != nil {
		log.Debug("ingested",
			zap.String("key", res.Key),
			zap.String("status", string(res.Status)),
			zap.Int("version", res.VersionNumber),
		)
	}
	return out
}
