package limiter

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cipherdrop/cipherdrop/internal/config"
)

// mapCounters is a deterministic CounterStore without timers, so the window
// arithmetic can be tested without sleeping.
type mapCounters struct {
	values map[string]int
	ttls   map[string]time.Duration
}

func newMapCounters() *mapCounters {
	return &mapCounters{values: make(map[string]int), ttls: make(map[string]time.Duration)}
}

func (m *mapCounters) Get(key string) (int, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *mapCounters) Set(key string, count int, ttl time.Duration) {
	m.values[key] = count
	m.ttls[key] = ttl
}

func testLimits() config.RateLimits {
	return config.RateLimits{
		Upload: config.RateLimitConfig{Requests: 3, Window: time.Hour},
		Read:   config.RateLimitConfig{Requests: 5, Window: time.Minute},
	}
}

func newTestLimiter(counters CounterStore) *Limiter {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), counters, testLimits())
}

func TestCheck(t *testing.T) {
	t.Run("denies after limit within window", func(t *testing.T) {
		counters := newMapCounters()
		l := newTestLimiter(counters)

		for i := 0; i < 3; i++ {
			d := l.Check(ActionUpload, "10.0.0.1")
			if !d.Allowed {
				t.Fatalf("Request %d unexpectedly denied", i+1)
			}
			if d.Remaining != 3-(i+1) {
				t.Errorf("Request %d: expected %d remaining, got %d", i+1, 3-(i+1), d.Remaining)
			}
		}

		d := l.Check(ActionUpload, "10.0.0.1")
		if d.Allowed {
			t.Fatal("Fourth upload within the window must be denied")
		}
		if d.RetryAfter != time.Hour {
			t.Errorf("Expected retry hint equal to the window, got %v", d.RetryAfter)
		}
	})

	t.Run("counters are per client", func(t *testing.T) {
		l := newTestLimiter(newMapCounters())
		for i := 0; i < 3; i++ {
			l.Check(ActionUpload, "10.0.0.1")
		}
		if d := l.Check(ActionUpload, "10.0.0.2"); !d.Allowed {
			t.Fatal("A different client must not share the counter")
		}
	})

	t.Run("counters are per action", func(t *testing.T) {
		l := newTestLimiter(newMapCounters())
		for i := 0; i < 3; i++ {
			l.Check(ActionUpload, "10.0.0.1")
		}
		if d := l.Check(ActionRead, "10.0.0.1"); !d.Allowed {
			t.Fatal("Read action must not share the upload counter")
		}
	})

	t.Run("counter ttl equals the window", func(t *testing.T) {
		counters := newMapCounters()
		l := newTestLimiter(counters)
		l.Check(ActionRead, "10.0.0.9")
		if got := counters.ttls["read:10.0.0.9"]; got != time.Minute {
			t.Errorf("Expected counter ttl 1m, got %v", got)
		}
	})
}

func TestCacheCounters(t *testing.T) {
	counters := NewCacheCounters()
	defer counters.Stop()

	if _, ok := counters.Get("upload:none"); ok {
		t.Fatal("Expected miss on a fresh store")
	}

	counters.Set("upload:1.2.3.4", 7, time.Minute)
	v, ok := counters.Get("upload:1.2.3.4")
	if !ok || v != 7 {
		t.Fatalf("Expected 7, got %d (ok=%v)", v, ok)
	}

	counters.Set("read:1.2.3.4", 1, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if _, ok := counters.Get("read:1.2.3.4"); ok {
		t.Fatal("Counter survived its ttl")
	}
}

func TestClientAddress(t *testing.T) {
	t.Run("plain socket address", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "192.0.2.7:54321"
		if got := ClientAddress(r, nil); got != "192.0.2.7" {
			t.Errorf("Expected 192.0.2.7, got %q", got)
		}
	})

	t.Run("forwarded-for honored for trusted proxy", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
		if got := ClientAddress(r, []string{"10.0.0.1"}); got != "203.0.113.5" {
			t.Errorf("Expected forwarded client, got %q", got)
		}
	})

	t.Run("forwarded-for ignored from untrusted peer", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "198.51.100.2:1234"
		r.Header.Set("X-Forwarded-For", "203.0.113.5")
		if got := ClientAddress(r, []string{"10.0.0.1"}); got != "198.51.100.2" {
			t.Errorf("Expected socket address, got %q", got)
		}
	})
}
