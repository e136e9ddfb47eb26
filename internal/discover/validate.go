package discover

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Checker reports the final HTTP status of a URL. *fetcher.HTTPFetcher
// satisfies it with a HEAD request.
type Checker interface {
	Head(ctx context.Context, url string) (int, error)
}

// Validation buckets URLs by how they answered.
type Validation struct {
	// Valid answered 200.
	Valid []string `json:"valid"`
	// Invalid answered 4xx and is likely gone.
	Invalid []string `json:"invalid"`
	// Unreachable failed at the transport or answered anything else.
	Unreachable []string `json:"unreachable"`
}

// Validate checks urls with at most workers requests in flight. Each bucket
// is sorted. A cancelled ctx leaves the remaining URLs unreachable and is
// returned as the error.
func Validate(ctx context.Context, c Checker, urls []string, workers int) (*Validation, error) {
	if workers < 1 {
		workers = 1
	}
	res := &Validation{Valid: []string{}, Invalid: []string{}, Unreachable: []string{}}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(workers)
	for _, u := range urls {
		g.Go(func() error {
			code, err := c.Head(ctx, u)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				zap.L().Debug("discover: url unreachable", zap.String("url", u), zap.Error(err))
				res.Unreachable = append(res.Unreachable, u)
			case code == http.StatusOK:
				res.Valid = append(res.Valid, u)
			case code >= 400 && code < 500:
				res.Invalid = append(res.Invalid, u)
			default:
				res.Unreachable = append(res.Unreachable, u)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.Valid)
	sort.Strings(res.Invalid)
	sort.Strings(res.Unreachable)
	zap.L().Info("discover: validated urls",
		zap.Int("valid", len(res.Valid)),
		zap.Int("invalid", len(res.Invalid)),
		zap.Int("unreachable", len(res.Unreachable)),
	)
	return res, ctx.Err()
}
