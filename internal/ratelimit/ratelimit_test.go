package ratelimit

import (
	"testing"
	"time"
)

func fixedRules(max int, window time.Duration) map[Target]Rule {
	return map[Target]Rule{
		TargetAuth: {Enabled: true, MaxRequests: max, WindowMs: window.Milliseconds()},
	}
}

// TestAllowWithinWindow allows at most M requests per window and
// reports a Retry-After no larger than the window.
func TestAllowWithinWindow(t *testing.T) {
	l := New(fixedRules(3, 10*time.Second))
	defer l.Stop()
	base := time.Now()
	l.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow(TargetAuth, "1.2.3.4"); !ok {
			t.Fatalf("request %d denied", i+1)
		}
	}
	ok, retry := l.Allow(TargetAuth, "1.2.3.4")
	if ok {
		t.Fatalf("4th request allowed")
	}
	if retry < 1 || retry > 10 {
		t.Fatalf("retryAfterSec = %d, want 1..10", retry)
	}
}

// TestWindowReset allows again once the window has elapsed.
func TestWindowReset(t *testing.T) {
	l := New(fixedRules(1, time.Second))
	defer l.Stop()
	base := time.Now()
	l.now = func() time.Time { return base }

	if ok, _ := l.Allow(TargetAuth, "1.2.3.4"); !ok {
		t.Fatalf("first request denied")
	}
	if ok, _ := l.Allow(TargetAuth, "1.2.3.4"); ok {
		t.Fatalf("second request in window allowed")
	}
	l.now = func() time.Time { return base.Add(time.Second) }
	if ok, _ := l.Allow(TargetAuth, "1.2.3.4"); !ok {
		t.Fatalf("request after window denied")
	}
}

// TestIPsIsolated distinct IPs own distinct buckets.
func TestIPsIsolated(t *testing.T) {
	l := New(fixedRules(1, time.Minute))
	defer l.Stop()
	if ok, _ := l.Allow(TargetAuth, "1.1.1.1"); !ok {
		t.Fatalf("first ip denied")
	}
	if ok, _ := l.Allow(TargetAuth, "2.2.2.2"); !ok {
		t.Fatalf("second ip should have its own bucket")
	}
}

// TestDisabledAlwaysAllows disabled or unknown targets never deny.
func TestDisabledAlwaysAllows(t *testing.T) {
	l := New(map[Target]Rule{TargetAuth: {Enabled: false, MaxRequests: 1, WindowMs: 60_000}})
	defer l.Stop()
	for i := 0; i < 10; i++ {
		if ok, _ := l.Allow(TargetAuth, "1.2.3.4"); !ok {
			t.Fatalf("disabled rule denied")
		}
		if ok, _ := l.Allow(TargetDownload, "1.2.3.4"); !ok {
			t.Fatalf("unknown target denied")
		}
	}
}
