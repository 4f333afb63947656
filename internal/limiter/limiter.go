// Package limiter implements per-client sliding-window rate limiting over a
// narrow counter-store interface. Counters are keyed by (action, client
// address) and expire on their own; the check-and-increment sequence is not
// atomic, which is accepted — the limiter dampens abuse, it is not a hard
// security boundary, and a burst slightly over the nominal limit under
// concurrent requests is tolerable.
package limiter

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/cipherdrop/cipherdrop/internal/config"
)

// Action is the request class a counter window applies to.
type Action string

const (
	ActionUpload Action = "upload"
	ActionRead   Action = "read"
)

// Decision is the outcome of a limit check. RetryAfter is meaningful only
// when Allowed is false.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// CounterStore is the backing for the windowed counters. The in-process
// ttlcache implementation below is the default; anything with per-key TTL
// (Redis and friends) substitutes cleanly.
type CounterStore interface {
	Get(key string) (int, bool)
	Set(key string, count int, ttl time.Duration)
}

type cacheCounters struct {
	cache *ttlcache.Cache[string, int]
}

// NewCacheCounters builds the default in-process counter store.
func NewCacheCounters() *cacheCounters {
	cache := ttlcache.New[string, int](
		// Reads must not extend a window.
		ttlcache.WithDisableTouchOnHit[string, int](),
	)
	go cache.Start()
	return &cacheCounters{cache: cache}
}

func (c *cacheCounters) Get(key string) (int, bool) {
	item := c.cache.Get(key)
	if item == nil || item.IsExpired() {
		return 0, false
	}
	return item.Value(), true
}

func (c *cacheCounters) Set(key string, count int, ttl time.Duration) {
	c.cache.Set(key, count, ttl)
}

func (c *cacheCounters) Stop() {
	c.cache.Stop()
}

type Limiter struct {
	logger   *slog.Logger
	counters CounterStore
	windows  map[Action]config.RateLimitConfig
}

func New(logger *slog.Logger, counters CounterStore, cfg config.RateLimits) *Limiter {
	return &Limiter{
		logger:   logger.With("component", "rate-limiter"),
		counters: counters,
		windows: map[Action]config.RateLimitConfig{
			ActionUpload: cfg.Upload,
			ActionRead:   cfg.Read,
		},
	}
}

// Check reads the counter for (action, clientKey), denies with the window
// length as the retry hint when the limit is reached, and otherwise writes
// count+1 back with TTL equal to the window.
func (l *Limiter) Check(action Action, clientKey string) Decision {
	w, ok := l.windows[action]
	if !ok {
		l.logger.Warn("no window configured for action, allowing", "action", action)
		return Decision{Allowed: true}
	}

	key := fmt.Sprintf("%s:%s", action, clientKey)
	count, _ := l.counters.Get(key)
	if count >= w.Requests {
		l.logger.Warn("rate limit exceeded", "action", action, "client", clientKey, "count", count, "limit", w.Requests)
		return Decision{Allowed: false, RetryAfter: w.Window}
	}

	l.counters.Set(key, count+1, w.Window)
	return Decision{Allowed: true, Remaining: w.Requests - (count + 1)}
}

// ClientAddress derives the limiter key from the request. X-Forwarded-For is
// honored only when the direct peer is a trusted proxy; anyone else gets
// keyed by their socket address.
func ClientAddress(r *http.Request, trustedProxies []string) string {
	remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteIP = r.RemoteAddr
	}

	for _, proxy := range trustedProxies {
		if proxy != remoteIP {
			continue
		}
		if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			ips := strings.Split(forwardedFor, ",")
			return strings.TrimSpace(ips[0])
		}
	}
	return remoteIP
}
