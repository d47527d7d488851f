package fetcher

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const (
	defaultBaseDelay = 1 * time.Second
	maxDelay         = 60 * time.Second
	backoffFactor    = 2.0
	recoveryFactor   = 0.9
	breakerFailures  = 5
	breakerCooldown  = 300 * time.Second
)

// Throttle adapts per-host request pacing to server pushback. Rate-limit
// responses double the delay; successes shrink it back toward the base
// value. Five consecutive failures trip a circuit breaker.
type Throttle struct {
	mu           sync.Mutex
	base         time.Duration
	delays       map[string]time.Duration
	failures     map[string]int
	breakerUntil map[string]time.Time
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewThrottle builds a throttle with the given base delay per host.
// Non-positive values fall back to the default.
func NewThrottle(base time.Duration) *Throttle {
	if base <= 0 {
		base = defaultBaseDelay
	}
	return &Throttle{
		base:         base,
		delays:       make(map[string]time.Duration),
		failures:     make(map[string]int),
		breakerUntil: make(map[string]time.Time),
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait blocks for the host's current delay, extended to the breaker expiry
// when the breaker is open.
func (t *Throttle) Wait(ctx context.Context, host string) error {
	t.mu.Lock()
	d := t.delays[host]
	if d == 0 {
		d = t.base
	}
	if until, ok := t.breakerUntil[host]; ok {
		if wait := until.Sub(t.now()); wait > d {
			d = wait
		}
	}
	t.mu.Unlock()

	return t.sleep(ctx, d)
}

// Observe records one response outcome and adjusts the host's pacing.
// retryAfter is the raw Retry-After header value, honored in seconds form.
func (t *Throttle) Observe(host string, statusCode int, retryAfter string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.delays[host]
	if d == 0 {
		d = t.base
	}

	switch {
	case statusCode == 429 || statusCode == 503:
		d = time.Duration(float64(d) * backoffFactor)
		if ra := parseRetryAfter(retryAfter); ra > d {
			d = ra
		}
		if d > maxDelay {
			d = maxDelay
		}
		t.failures[host]++
		if t.failures[host] >= breakerFailures {
			t.breakerUntil[host] = t.now().Add(breakerCooldown)
			t.failures[host] = 0
		}
	case statusCode >= 200 && statusCode < 400:
		d = time.Duration(float64(d) * recoveryFactor)
		if d < t.base {
			d = t.base
		}
		t.failures[host] = 0
		delete(t.breakerUntil, host)
	default:
		// other errors neither speed up nor slow down pacing
	}

	t.delays[host] = d
}

// Delay reports the host's current pacing, for logging and tests.
func (t *Throttle) Delay(host string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, ok := t.delays[host]; ok {
		return d
	}
	return t.base
}

// BreakerOpen reports whether the host's circuit breaker is active.
func (t *Throttle) BreakerOpen(host string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.breakerUntil[host]
	return ok && t.now().Before(until)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
