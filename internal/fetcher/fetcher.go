// Package fetcher retrieves raw report pages over HTTP while honoring a
// per-origin politeness throttle.
package fetcher

import (
	"context"
	"time"
)

// Page is one fetched document. Body is converted to UTF-8 when the
// response declared its charset.
type Page struct {
	URL          string
	FinalURL     string
	StatusCode   int
	ContentType  string
	Body         []byte
	ETag         string
	FetchedAt    time.Time
	ResponseTime time.Duration
}

// Fetcher defines the interface for downloading report pages.
type Fetcher interface {
	// Fetch performs a single GET. Non-2xx responses are returned as
	// *resilience.StatusError so callers can classify them.
	Fetch(ctx context.Context, url string) (*Page, error)
}
