package fetcher

import (
	"context"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/sells-group/report-tracker/internal/resilience"
)

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes = 10 << 20

const maxRedirects = 5

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	Throttle     *Throttle
}

// HTTPFetcher implements Fetcher using net/http. It makes exactly one
// request per Fetch; retrying is the caller's policy.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
	now    func() time.Time
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "report-tracker/1.0"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts: opts,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Fetch waits for the origin throttle, then GETs rawURL.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	if err := f.opts.Throttle.Wait(ctx, rawURL); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: get %s", rawURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		f.opts.Throttle.Penalize(rawURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		zap.L().Debug("fetcher: unexpected status",
			zap.String("url", rawURL),
			zap.Int("status", resp.StatusCode),
		)
		prefix, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if blocked, kind := DetectBlock(resp, prefix); blocked {
			return nil, f.blocked(rawURL, resp.StatusCode, kind)
		}
		return nil, &resilience.StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read body %s", rawURL)
	}
	if int64(len(body)) > f.opts.MaxBodyBytes {
		return nil, eris.Errorf("fetcher: body of %s exceeds %d bytes", rawURL, f.opts.MaxBodyBytes)
	}
	if blocked, kind := DetectBlock(resp, body); blocked {
		return nil, f.blocked(rawURL, resp.StatusCode, kind)
	}
	f.opts.Throttle.Relax(rawURL)

	contentType := resp.Header.Get("Content-Type")
	return &Page{
		URL:          rawURL,
		FinalURL:     resp.Request.URL.String(),
		StatusCode:   resp.StatusCode,
		ContentType:  contentType,
		Body:         decodeBody(body, contentType),
		ETag:         resp.Header.Get("ETag"),
		FetchedAt:    f.now(),
		ResponseTime: time.Since(start),
	}, nil
}

// Head reports the final status of a HEAD request to rawURL after at most
// maxRedirects hops. It waits for the origin throttle like Fetch does.
func (f *HTTPFetcher) Head(ctx context.Context, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	if err := f.opts.Throttle.Wait(ctx, rawURL); err != nil {
		return 0, err
	}

	client := *f.client
	client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return http.ErrUseLastResponse
		}
		return nil
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, eris.Wrapf(err, "fetcher: head %s", rawURL)
	}
	_ = resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		f.opts.Throttle.Penalize(rawURL)
	}
	return resp.StatusCode, nil
}

// blocked stretches the origin's spacing like a 429 would and reports the
// challenge as a transient failure.
func (f *HTTPFetcher) blocked(rawURL string, status int, kind BlockType) error {
	f.opts.Throttle.Penalize(rawURL)
	zap.L().Warn("fetcher: bot challenge detected",
		zap.String("url", rawURL),
		zap.Int("status", status),
		zap.String("block_type", string(kind)),
	)
	return &BlockedError{URL: rawURL, StatusCode: status, Type: kind}
}

// decodeBody converts body to UTF-8 when the Content-Type header declares
// another charset. Bodies without a declared charset are left for the
// extractor to sniff.
func decodeBody(body []byte, contentType string) []byte {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil || params["charset"] == "" {
		return body
	}
	enc, name := charset.Lookup(params["charset"])
	if enc == nil || name == "utf-8" {
		return body
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return out
}
