package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitError is returned by the wrapped transport when a call is blocked locally.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity int
	tokens   float64
	last     time.Time
}

// Guard enforces a token-bucket budget and upstream Retry-After cooldowns.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu       sync.Mutex
	buckets  map[Window]*bucket
	cooldown time.Time
}

// NewGuard builds a guard with full buckets.
func NewGuard(decl Declaration) *Guard {
	g := &Guard{
		decl:    decl,
		now:     time.Now,
		buckets: make(map[Window]*bucket),
	}
	for window, limit := range decl.Limits() {
		g.buckets[window] = &bucket{capacity: limit, tokens: float64(limit)}
	}
	return g
}

// WrapHTTP wraps an http.Client with rate-limit enforcement. A declaration without
// limits still honours upstream cooldowns.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	return NewGuard(decl).Wrap(base)
}

// Wrap returns a shallow copy of base whose transport consults the guard.
func (g *Guard) Wrap(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: g}
	return &client
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall()
	if !decision.Allowed {
		blockedTotal.WithLabelValues(rt.guard.decl.ProviderName(), decision.Reason).Inc()
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, RateLimitError{
			Provider: rt.guard.decl.ProviderName(),
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

// ShouldCall consumes one token from every window, or explains why it cannot.
func (g *Guard) ShouldCall() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: g.cooldown}
	}

	for window, b := range g.buckets {
		refill(b, window.Duration(), now)
		remainingGauge.WithLabelValues(g.decl.ProviderName(), window.String()).Set(b.tokens)
		if b.tokens < 1 {
			retryAt := now.Add(window.Duration() / time.Duration(b.capacity))
			return Decision{Allowed: false, Reason: "budget", RetryAt: retryAt}
		}
	}
	for _, b := range g.buckets {
		b.tokens--
	}
	return Decision{Allowed: true}
}

// RecordResponse applies upstream throttling hints.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lastStatusGauge.WithLabelValues(g.decl.ProviderName()).Set(float64(status))

	seconds := headerSeconds(headers, g.decl.retryAfter)
	if seconds <= 0 && status == http.StatusTooManyRequests {
		seconds = 60
	}
	if seconds > 0 {
		g.cooldown = g.now().Add(time.Duration(seconds) * time.Second)
		retryAfterGauge.WithLabelValues(g.decl.ProviderName()).Set(float64(seconds))
	}
}

func refill(b *bucket, window time.Duration, now time.Time) {
	if b.last.IsZero() {
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Seconds()
	rate := float64(b.capacity) / window.Seconds()
	b.tokens = min(float64(b.capacity), b.tokens+elapsed*rate)
	b.last = now
}

func headerSeconds(h http.Header, key string) int {
	if key == "" {
		return -1
	}
	val := strings.TrimSpace(h.Get(key))
	if val == "" {
		return -1
	}
	out, err := strconv.Atoi(val)
	if err != nil {
		return -1
	}
	return out
}
