package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/report-tracker/internal/resilience"
)

func newTestFetcher(th *Throttle) *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent: "test-agent",
		Timeout:   5 * time.Second,
		Throttle:  th,
	})
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("<html><title>Payments</title></html>")) //nolint:errcheck
	}))
	defer srv.Close()

	page, err := newTestFetcher(nil).Fetch(context.Background(), srv.URL+"/reports/payments")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "<html><title>Payments</title></html>", string(page.Body))
	assert.Equal(t, `"v1"`, page.ETag)
	assert.Equal(t, srv.URL+"/reports/payments", page.FinalURL)
	assert.False(t, page.FetchedAt.IsZero())
}

func TestFetch_FollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("moved")) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	page, err := newTestFetcher(nil).Fetch(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/old", page.URL)
	assert.Equal(t, srv.URL+"/new", page.FinalURL)
}

func TestFetch_StatusErrors(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusNotFound, false},
		{http.StatusForbidden, false},
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := newTestFetcher(nil).Fetch(context.Background(), srv.URL)
			require.Error(t, err)
			var se *resilience.StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tc.status, se.StatusCode)
			assert.Equal(t, tc.transient, resilience.IsTransient(err))
		})
	}
}

func TestFetch_BodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100))) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{MaxBodyBytes: 10})
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 10 bytes")
	assert.False(t, resilience.IsTransient(err))
}

func TestFetch_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := newTestFetcher(nil).Fetch(context.Background(), addr)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestFetch_ThrottleSpacesRequests(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		w.Write([]byte("ok")) //nolint:errcheck
	}))
	defer srv.Close()

	f := newTestFetcher(NewThrottle(50 * time.Millisecond))
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Fetch(context.Background(), srv.URL+"/r")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, times, 4)
	first, last := times[0], times[0]
	for _, ts := range times {
		if ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	// Four requests with burst 1 need at least three full intervals.
	assert.GreaterOrEqual(t, last.Sub(first), 140*time.Millisecond)
}

func TestFetch_429WidensSpacing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok")) //nolint:errcheck
	}))
	defer srv.Close()

	th := NewThrottle(10 * time.Millisecond)
	f := newTestFetcher(th)

	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, 20*time.Millisecond, th.Spacing(srv.URL))

	_, err = f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 16*time.Millisecond, th.Spacing(srv.URL))
}

func TestFetch_ChallengePageIsBlocked(t *testing.T) {
	challenge := `<!DOCTYPE html><html><head><title>Just a moment...</title></head>
<body><div id="cf-browser-verification">Checking your browser before accessing example.com.</div></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(challenge)) //nolint:errcheck
	}))
	defer srv.Close()

	th := NewThrottle(10 * time.Millisecond)
	_, err := newTestFetcher(th).Fetch(context.Background(), srv.URL+"/reports/payments")
	require.Error(t, err)
	var be *BlockedError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, BlockCloudflare, be.Type)
	assert.Equal(t, http.StatusOK, be.StatusCode)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, http.StatusOK, resilience.HTTPStatus(err))
	assert.Greater(t, th.Spacing(srv.URL), 10*time.Millisecond)
}

func TestFetch_CloudflareForbiddenIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("cf-ray", "8b1c2d3e4f-IAD")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestFetcher(nil).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	var be *BlockedError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, http.StatusForbidden, be.StatusCode)
	assert.True(t, resilience.IsTransient(err))
}

func TestFetch_DecodesDeclaredCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1252")
		w.Write([]byte("<title>Caf\xe9 Market</title>")) //nolint:errcheck
	}))
	defer srv.Close()

	page, err := newTestFetcher(nil).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<title>Café Market</title>", string(page.Body))
	assert.Equal(t, "text/html; charset=windows-1252", page.ContentType)
	assert.Positive(t, page.ResponseTime)
}

func TestDetectBlock(t *testing.T) {
	ok := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}}
	reportPage := "<title>Payments Market</title>" + strings.Repeat("<p>market overview</p>", 3000) +
		`<form class="sample-request"><div class="g-recaptcha"></div></form>` +
		`<script src="/cdn-cgi/challenge-platform/scripts/jsd/main.js"></script>`

	tests := []struct {
		name string
		resp *http.Response
		body string
		want BlockType
	}{
		{"nil response", nil, "", BlockNone},
		{"report page with captcha form", ok, reportPage, BlockNone},
		{"captcha interstitial", ok, `<title>Verify</title><div class="h-captcha"></div>`, BlockCaptcha},
		{"js shell", ok, `<noscript>Please enable JavaScript</noscript>`, BlockJSShell},
		{"meta refresh", ok, `<meta http-equiv="refresh" content="0;url=/r">`, BlockJSShell},
		{"cloudflare server 503", &http.Response{StatusCode: 503, Header: http.Header{"Server": {"cloudflare"}}}, "", BlockCloudflare},
		{"plain 404", &http.Response{StatusCode: 404, Header: http.Header{}}, "not found", BlockNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocked, kind := DetectBlock(tt.resp, []byte(tt.body))
			assert.Equal(t, tt.want != BlockNone, blocked)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestHead(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/report", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newTestFetcher(nil)
	ctx := context.Background()

	code, err := f.Head(ctx, srv.URL+"/moved")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)

	code, err = f.Head(ctx, srv.URL+"/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, code)

	code, err = f.Head(ctx, srv.URL+"/loop")
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, code, "redirect chain is cut at the cap")
}

func TestHead_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestFetcher(nil).Head(context.Background(), url)
	require.Error(t, err)
}
