package discover

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/report-tracker/internal/fetcher"
)

func newFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{UserAgent: "test-agent", Timeout: 5 * time.Second})
}

const nextDataIndex = `<!DOCTYPE html><html><head><title>Payments Reports</title></head><body>
<a href="/industry-reports/ignored-anchor">anchor</a>
<script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{"reports":[
 {"url":"/industry-reports/payments-market"},
 {"link":"/industry-reports/cards-market#summary"},
 {"href":"https://shop.example.com/industry-reports/wallets-market"},
 {"url":"https://other.org/industry-reports/foreign"},
 {"url":"/blog/not-a-report"},
 {"title":"no link"},
 "not an object"
]}}}</script>
</body></html>`

func TestDiscover_NextData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, nextDataIndex)
	}))
	defer srv.Close()

	got, err := New(newFetcher(), Options{Host: "127.0.0.1"}).Discover(context.Background(), srv.URL+"/market-analysis/payments")
	require.NoError(t, err)
	assert.Equal(t, []string{
		srv.URL + "/industry-reports/cards-market",
		srv.URL + "/industry-reports/payments-market",
	}, got, "anchors are ignored when the embedded listing has reports")
}

func TestDiscover_HostSuffixMatch(t *testing.T) {
	d := New(nil, Options{Host: "example.com"})
	base, err := url.Parse("https://www.example.com/market-analysis/payments")
	require.NoError(t, err)
	got := d.filter(base, []string{
		"/industry-reports/payments-market",
		"https://shop.example.com/industry-reports/wallets-market",
		"https://badexample.com/industry-reports/fake",
		"mailto:sales@example.com",
		"/industry-reports/payments-market",
	})
	assert.Equal(t, []string{
		"https://shop.example.com/industry-reports/wallets-market",
		"https://www.example.com/industry-reports/payments-market",
	}, got)
}

func TestDiscover_FallsBackToAnchors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
<script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{}}}</script>
<a href="/industry-reports/payments-market">Payments</a>
<a href="industry-reports/relative-market">Relative</a>
<a href="/about">About</a>
</body></html>`)
	}))
	defer srv.Close()

	got, err := New(newFetcher(), Options{Host: "127.0.0.1"}).Discover(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		srv.URL + "/industry-reports/payments-market",
		srv.URL + "/industry-reports/relative-market",
	}, got)
}

func TestDiscover_ListingAPI(t *testing.T) {
	var pages []int
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/index", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{"data":{"reports":[{"url":"/industry-reports/a"}]}}}}</script>`)
	})
	mux.HandleFunc("/api/reports", func(w http.ResponseWriter, r *http.Request) {
		p, _ := strconv.Atoi(r.URL.Query().Get("page"))
		assert.Equal(t, "30", r.URL.Query().Get("limit"))
		assert.Equal(t, "payments", r.URL.Query().Get("category"))
		mu.Lock()
		pages = append(pages, p)
		mu.Unlock()
		switch p {
		case 2:
			fmt.Fprint(w, `{"data":[{"url":"/industry-reports/b"},{"link":"/industry-reports/a"}]}`)
		case 3:
			w.WriteHeader(http.StatusInternalServerError)
		case 4:
			fmt.Fprint(w, `{"reports":[{"href":"/industry-reports/c"}]}`)
		default:
			fmt.Fprint(w, `{"data":[]}`)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := New(newFetcher(), Options{Host: "127.0.0.1", APIURL: srv.URL + "/api/reports?category=payments"})
	got, err := d.Discover(context.Background(), srv.URL+"/index")
	require.NoError(t, err)
	assert.Equal(t, []string{
		srv.URL + "/industry-reports/a",
		srv.URL + "/industry-reports/b",
		srv.URL + "/industry-reports/c",
	}, got)
	assert.Equal(t, []int{2, 3, 4, 5}, pages, "a failed page is skipped and an empty page stops paging")
}

func TestDiscover_ListingAPINotFoundStops(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/index", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<a href="/industry-reports/a">a</a>`)
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.NotFound(w, nil)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	got, err := New(newFetcher(), Options{Host: "127.0.0.1", APIURL: srv.URL + "/api/v1"}).Discover(context.Background(), srv.URL+"/index")
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/industry-reports/a"}, got)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDiscover_IndexErrors(t *testing.T) {
	_, err := New(newFetcher(), Options{}).Discover(context.Background(), "not a url")
	assert.ErrorContains(t, err, "not an absolute URL")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	_, err = New(newFetcher(), Options{}).Discover(context.Background(), srv.URL+"/index")
	assert.ErrorContains(t, err, "discover: fetch index")
}

func TestNextDataLinks_Malformed(t *testing.T) {
	assert.Nil(t, nextDataLinks([]byte(`{"props":`)))
	assert.Nil(t, nextDataLinks([]byte(`  `)))
	assert.Equal(t, []string{"/x"}, nextDataLinks([]byte(`{"props":{"pageProps":{"listings":[{"href":"/x"}]}}}`)))
}

func TestListingItems_BareArray(t *testing.T) {
	items := listingItems([]byte(`[{"url":"/a"},{"url":"/b"}]`))
	assert.Equal(t, []string{"/a", "/b"}, itemLinks(items))
	assert.Nil(t, listingItems([]byte(`<html>`)))
}
