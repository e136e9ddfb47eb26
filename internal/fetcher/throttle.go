package fetcher

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxPenalty bounds how far a rate-limited origin's spacing is stretched.
const maxPenalty = 4

// Throttle enforces a minimum spacing between requests to the same origin,
// independent of how many workers share it. A 429 from an origin doubles
// its spacing (up to 4x); successes relax it back toward the base.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	origins  map[string]*originLimiter
}

type originLimiter struct {
	limiter *rate.Limiter
	factor  float64
}

// NewThrottle returns a Throttle spacing requests per origin by interval.
// A non-positive interval disables throttling.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval, origins: make(map[string]*originLimiter)}
}

// Origin returns scheme://host for rawURL, lowercased.
func Origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func (t *Throttle) get(origin string) *originLimiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.origins[origin]
	if !ok {
		o = &originLimiter{limiter: rate.NewLimiter(rate.Every(t.interval), 1), factor: 1}
		t.origins[origin] = o
	}
	return o
}

// Wait blocks until a request to rawURL's origin may be sent.
func (t *Throttle) Wait(ctx context.Context, rawURL string) error {
	if t == nil || t.interval <= 0 {
		return nil
	}
	if err := t.get(Origin(rawURL)).limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "fetcher: throttle wait")
	}
	return nil
}

// Penalize stretches the spacing for rawURL's origin after a 429.
func (t *Throttle) Penalize(rawURL string) {
	t.adjust(rawURL, 2)
}

// Relax shrinks a stretched spacing by 20% after a success.
func (t *Throttle) Relax(rawURL string) {
	t.adjust(rawURL, 0.8)
}

func (t *Throttle) adjust(rawURL string, by float64) {
	if t == nil || t.interval <= 0 {
		return
	}
	origin := Origin(rawURL)
	o := t.get(origin)

	t.mu.Lock()
	defer t.mu.Unlock()
	f := o.factor * by
	if f < 1 {
		f = 1
	}
	if f > maxPenalty {
		f = maxPenalty
	}
	if f == o.factor {
		return
	}
	o.factor = f
	o.limiter.SetLimit(rate.Every(time.Duration(float64(t.interval) * f)))
	if by > 1 {
		zap.L().Warn("fetcher: origin rate limited, widening spacing",
			zap.String("origin", origin),
			zap.Duration("spacing", time.Duration(float64(t.interval)*f)),
		)
	}
}

// Spacing returns the current minimum spacing for rawURL's origin.
func (t *Throttle) Spacing(rawURL string) time.Duration {
	if t == nil || t.interval <= 0 {
		return 0
	}
	o := t.get(Origin(rawURL))
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Duration(float64(t.interval) * o.factor)
}
