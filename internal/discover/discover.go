// Package discover builds source lists by reading a report index page and
// its paged listing API, and checks which of the found pages still answer.
package discover

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/sells-group/report-tracker/internal/fetcher"
	"github.com/sells-group/report-tracker/internal/resilience"
)

// DefaultPathContains is the path fragment report pages carry.
const DefaultPathContains = "/industry-reports/"

// Options controls which links count as report pages and where the
// listing API lives.
type Options struct {
	// Host limits results to this host and its subdomains. Empty means the
	// index page's host without a leading "www.".
	Host string
	// PathContains must appear in every report URL's path.
	PathContains string

	// APIURL is an optional paged listing endpoint. It is queried with page
	// and limit parameters from FirstPage to LastPage, stopping early at a
	// 404 or an empty page.
	APIURL    string
	FirstPage int
	LastPage  int
	PageSize  int
}

// Discoverer finds report URLs.
type Discoverer struct {
	fetcher fetcher.Fetcher
	opts    Options
}

// New creates a Discoverer. The index page usually embeds the first listing
// page, so the API defaults to pages 2 through 6.
func New(f fetcher.Fetcher, opts Options) *Discoverer {
	if opts.PathContains == "" {
		opts.PathContains = DefaultPathContains
	}
	if opts.FirstPage <= 0 {
		opts.FirstPage = 2
	}
	if opts.LastPage <= 0 {
		opts.LastPage = 6
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 30
	}
	return &Discoverer{fetcher: f, opts: opts}
}

// Discover returns the sorted, deduplicated report URLs reachable from
// indexURL. Relative links resolve against indexURL.
func (d *Discoverer) Discover(ctx context.Context, indexURL string) ([]string, error) {
	base, err := url.Parse(indexURL)
	if err != nil || !base.IsAbs() {
		return nil, eris.Errorf("discover: %q is not an absolute URL", indexURL)
	}

	page, err := d.fetcher.Fetch(ctx, indexURL)
	if err != nil {
		return nil, eris.Wrapf(err, "discover: fetch index %s", indexURL)
	}
	links := indexLinks(page.Body)
	fromIndex := len(links)

	if d.opts.APIURL != "" {
		more, err := d.apiLinks(ctx)
		if err != nil {
			return nil, err
		}
		links = append(links, more...)
	}

	out := d.filter(base, links)
	zap.L().Info("discover: report urls found",
		zap.String("index", indexURL),
		zap.Int("index_links", fromIndex),
		zap.Int("api_links", len(links)-fromIndex),
		zap.Int("reports", len(out)),
	)
	return out, nil
}

func (d *Discoverer) apiLinks(ctx context.Context) ([]string, error) {
	api, err := url.Parse(d.opts.APIURL)
	if err != nil || !api.IsAbs() {
		return nil, eris.Errorf("discover: %q is not an absolute URL", d.opts.APIURL)
	}

	var out []string
	for p := d.opts.FirstPage; p <= d.opts.LastPage; p++ {
		u := *api
		q := u.Query()
		q.Set("page", strconv.Itoa(p))
		q.Set("limit", strconv.Itoa(d.opts.PageSize))
		u.RawQuery = q.Encode()

		page, err := d.fetcher.Fetch(ctx, u.String())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if resilience.HTTPStatus(err) == http.StatusNotFound {
				break
			}
			zap.L().Warn("discover: listing page failed",
				zap.String("url", u.String()),
				zap.Error(err),
			)
			continue
		}
		items := listingItems(page.Body)
		if len(items) == 0 {
			break
		}
		out = append(out, itemLinks(items)...)
	}
	return out, nil
}

func (d *Discoverer) filter(base *url.URL, links []string) []string {
	host := strings.ToLower(d.opts.Host)
	if host == "" {
		host = strings.TrimPrefix(strings.ToLower(base.Hostname()), "www.")
	}

	seen := make(map[string]bool, len(links))
	out := []string{}
	for _, link := range links {
		ref, err := url.Parse(strings.TrimSpace(link))
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		if abs.Scheme != "http" && abs.Scheme != "https" {
			continue
		}
		h := strings.ToLower(abs.Hostname())
		if h != host && !strings.HasSuffix(h, "."+host) {
			continue
		}
		if !strings.Contains(abs.Path, d.opts.PathContains) {
			continue
		}
		s := abs.String()
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// indexLinks prefers the listing embedded in a __NEXT_DATA__ script and falls
// back to the page's anchors.
func indexLinks(body []byte) []string {
	var (
		anchors  []string
		nextData strings.Builder
		inNext   bool
	)
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				zap.L().Debug("discover: index tokenize stopped", zap.Error(z.Err()))
			}
			if links := nextDataLinks([]byte(nextData.String())); len(links) > 0 {
				return links
			}
			return anchors
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "a":
				if href := attr(tok, "href"); href != "" {
					anchors = append(anchors, href)
				}
			case "script":
				inNext = tt == html.StartTagToken && attr(tok, "id") == "__NEXT_DATA__"
			}
		case html.EndTagToken:
			if tok := z.Token(); tok.Data == "script" {
				inNext = false
			}
		case html.TextToken:
			if inNext {
				nextData.Write(z.Text())
			}
		}
	}
}

var nextDataPaths = [][]string{
	{"reports"},
	{"listings"},
	{"data", "reports"},
}

func nextDataLinks(raw []byte) []string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		zap.L().Debug("discover: malformed __NEXT_DATA__", zap.Error(err))
		return nil
	}
	props := dig(root, "props", "pageProps")
	for _, path := range nextDataPaths {
		if items, ok := dig(props, path...).([]any); ok && len(items) > 0 {
			return itemLinks(items)
		}
	}
	return nil
}

// listingItems reads an API page: a bare array, or an object holding the
// array under "data" or "reports".
func listingItems(body []byte) []any {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil
	}
	if items, ok := v.([]any); ok {
		return items
	}
	for _, key := range []string{"data", "reports"} {
		if items, ok := dig(v, key).([]any); ok {
			return items
		}
	}
	return nil
}

func itemLinks(items []any) []string {
	var out []string
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range []string{"url", "link", "href"} {
			if s, ok := m[key].(string); ok && s != "" {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func dig(v any, keys ...string) any {
	for _, k := range keys {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[k]
	}
	return v
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
