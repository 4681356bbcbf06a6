package fetch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter spaces out requests to the same host. Each host gets its own
// token bucket; hosts that stay quiet for longer than idleTTL are evicted.
type HostLimiter struct {
	perSecond float64
	burst     int
	idleTTL   time.Duration
	nowFunc   func() time.Time

	mu      sync.Mutex
	buckets map[string]*hostBucket
}

type hostBucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// HostLimiterOption configures the HostLimiter.
type HostLimiterOption func(*HostLimiter)

// WithHostLimiterNowFunc overrides the time function for testing.
func WithHostLimiterNowFunc(f func() time.Time) HostLimiterOption {
	return func(h *HostLimiter) {
		h.nowFunc = f
	}
}

// WithIdleTTL sets how long an unused host bucket is kept.
func WithIdleTTL(d time.Duration) HostLimiterOption {
	return func(h *HostLimiter) {
		h.idleTTL = d
	}
}

// NewHostLimiter creates a limiter allowing perSecond requests per host
// with the given burst. A non-positive rate disables limiting.
func NewHostLimiter(perSecond float64, burst int, opts ...HostLimiterOption) *HostLimiter {
	if burst < 1 {
		burst = 1
	}
	h := &HostLimiter{
		perSecond: perSecond,
		burst:     burst,
		idleTTL:   time.Hour,
		nowFunc:   time.Now,
		buckets:   make(map[string]*hostBucket),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Wait blocks until a request to host is allowed or ctx is done.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil || h.perSecond <= 0 {
		return nil
	}
	if err := h.bucket(host).Wait(ctx); err != nil {
		return fmt.Errorf("host limiter wait for %s: %w", host, err)
	}
	return nil
}

// Hosts returns the number of hosts currently tracked.
func (h *HostLimiter) Hosts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.buckets)
}

func (h *HostLimiter) bucket(host string) *rate.Limiter {
	key := strings.ToLower(host)
	now := h.nowFunc()

	h.mu.Lock()
	defer h.mu.Unlock()

	for k, b := range h.buckets {
		if k != key && now.Sub(b.lastUsed) > h.idleTTL {
			delete(h.buckets, k)
		}
	}

	b, ok := h.buckets[key]
	if !ok {
		b = &hostBucket{limiter: rate.NewLimiter(rate.Limit(h.perSecond), h.burst)}
		h.buckets[key] = b
	}
	b.lastUsed = now
	return b.limiter
}
