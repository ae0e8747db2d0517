package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	window      = 60 * time.Second
	burstWindow = 10 * time.Second
)

// Decision is the outcome of one admission check
type Decision struct {
	Allowed    bool
	RetryAfter int // Seconds, set when rejected
	Limit      int
	Remaining  int
	Reset      int64 // Unix seconds when the oldest request leaves the window
}

// Limiter is an in-process per-client sliding window limiter.
// A client gets at most limit requests per 60s and at most burst per 10s.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string][]time.Time // Admitted request times, oldest first
	limit   int
	burst   int
	now     func() time.Time
	log     *logrus.Entry
}

// NewLimiter creates a limiter admitting limit requests per minute with a 10s burst cap
func NewLimiter(limit, burst int, log *logrus.Entry) *Limiter {
	return &Limiter{
		buckets: make(map[string][]time.Time),
		limit:   limit,
		burst:   burst,
		now:     time.Now,
		log:     log,
	}
}

// Allow checks key against both windows and records the request when admitted
func (l *Limiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stamps := pruneBefore(l.buckets[key], now.Add(-window))

	if len(stamps) >= l.limit {
		l.buckets[key] = stamps
		wait := int(math.Ceil(stamps[0].Add(window).Sub(now).Seconds()))
		if wait < 1 {
			wait = 1
		}
		return Decision{RetryAfter: wait, Limit: l.limit, Reset: stamps[0].Add(window).Unix()}
	}

	recent := 0
	burstStart := now.Add(-burstWindow)
	for i := len(stamps) - 1; i >= 0 && stamps[i].After(burstStart); i-- {
		recent++
	}
	if recent >= l.burst {
		l.buckets[key] = stamps
		return Decision{RetryAfter: int(burstWindow / time.Second), Limit: l.limit, Remaining: l.limit - len(stamps), Reset: stamps[0].Add(window).Unix()}
	}

	stamps = append(stamps, now)
	l.buckets[key] = stamps
	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - len(stamps),
		Reset:     stamps[0].Add(window).Unix(),
	}
}

// Sweep drops clients whose newest request is older than idle. Returns how many were dropped.
func (l *Limiter) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idle)
	dropped := 0
	for key, stamps := range l.buckets {
		if len(stamps) == 0 || stamps[len(stamps)-1].Before(cutoff) {
			delete(l.buckets, key)
			dropped++
		}
	}
	return dropped
}

// Clients returns the number of tracked clients
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RunSweeper sweeps idle clients every interval until ctx ends
func (l *Limiter) RunSweeper(ctx context.Context, interval, idle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := l.Sweep(idle); n > 0 {
				l.log.Debugf("Rate limiter dropped %d idle client(s)", n)
			}
		}
	}
}

// Middleware enforces the limiter on every path not listed in exempt.
// Rejections answer 429 with a JSON body and a Retry-After header.
func (l *Limiter) Middleware(exempt []string) echo.MiddlewareFunc {
	skip := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		skip[p] = struct{}{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := skip[c.Request().URL.Path]; ok {
				return next(c)
			}
			key := c.RealIP()
			d := l.Allow(key)
			h := c.Response().Header()
			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(d.RetryAfter))
				l.log.WithFields(logrus.Fields{"client": key, "path": c.Request().URL.Path}).Warnf("Rate limited, retry after %ds", d.RetryAfter)
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"detail":      "Rate limit exceeded. Try again later.",
					"retry_after": d.RetryAfter,
				})
			}
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset, 10))
			return next(c)
		}
	}
}

// pruneBefore drops timestamps at or before cutoff, reusing the backing array
func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}
