package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	l := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("ip-a")
		if !ok {
			t.Fatalf("request %d: expected allowed", i)
		}
	}
	ok, retryAfter := l.Allow("ip-a")
	if ok {
		t.Fatal("expected fourth request to be denied")
	}
	if retryAfter <= 0 {
		t.Fatal("expected a positive retry-after duration")
	}
}

func TestAllowIsolatesKeys(t *testing.T) {
	l := New(1, time.Minute)
	ok, _ := l.Allow("ip-a")
	if !ok {
		t.Fatal("expected first request for ip-a to be allowed")
	}
	ok, _ = l.Allow("ip-b")
	if !ok {
		t.Fatal("expected first request for a distinct key to be allowed")
	}
}

func TestAllowSlidesWindow(t *testing.T) {
	l := New(1, 50*time.Millisecond)
	ok, _ := l.Allow("ip-a")
	if !ok {
		t.Fatal("expected first request to be allowed")
	}
	ok, _ = l.Allow("ip-a")
	if ok {
		t.Fatal("expected immediate second request to be denied")
	}
	time.Sleep(60 * time.Millisecond)
	ok, _ = l.Allow("ip-a")
	if !ok {
		t.Fatal("expected request after window elapsed to be allowed")
	}
}

func TestResetClearsHistory(t *testing.T) {
	l := New(1, time.Minute)
	l.Allow("ip-a")
	l.Reset("ip-a")
	ok, _ := l.Allow("ip-a")
	if !ok {
		t.Fatal("expected request after reset to be allowed")
	}
}

func TestSweepDropsIdleKeys(t *testing.T) {
	l := New(1, 10*time.Millisecond)
	l.Allow("ip-a")
	time.Sleep(20 * time.Millisecond)
	l.Sweep()
	l.mu.Lock()
	_, exists := l.windows["ip-a"]
	l.mu.Unlock()
	if exists {
		t.Fatal("expected idle key to be swept")
	}
}
