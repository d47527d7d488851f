package fetcher

import (
	"context"
	"testing"
	"time"
)

func testThrottle() (*Throttle, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t := NewThrottle(0)
	t.now = func() time.Time { return now }
	t.sleep = func(context.Context, time.Duration) error { return nil }
	return t, &now
}

func TestThrottleBackoffAndRecovery(t *testing.T) {
	th, _ := testThrottle()

	th.Observe("example.com", 429, "")
	if d := th.Delay("example.com"); d != 2*time.Second {
		t.Fatalf("delay after one 429 = %v, want 2s", d)
	}
	th.Observe("example.com", 429, "")
	if d := th.Delay("example.com"); d != 4*time.Second {
		t.Fatalf("delay after two 429s = %v, want 4s", d)
	}

	th.Observe("example.com", 200, "")
	if d := th.Delay("example.com"); d != time.Duration(float64(4*time.Second)*0.9) {
		t.Fatalf("delay after recovery = %v", d)
	}
}

func TestThrottleCapsAtMax(t *testing.T) {
	th, _ := testThrottle()
	for i := 0; i < 4; i++ {
		th.Observe("example.com", 503, "")
	}
	// fifth failure trips the breaker, so stop one short
	if d := th.Delay("example.com"); d != 16*time.Second {
		t.Fatalf("delay = %v, want 16s", d)
	}

	th2, _ := testThrottle()
	for i := 0; i < 12; i++ {
		th2.Observe("example.com", 503, "")
		th2.Observe("example.com", 200, "")
		th2.Observe("example.com", 503, "")
	}
	if d := th2.Delay("example.com"); d > 60*time.Second {
		t.Fatalf("delay exceeded cap: %v", d)
	}
}

func TestThrottleRetryAfterHonored(t *testing.T) {
	th, _ := testThrottle()
	th.Observe("example.com", 429, "30")
	if d := th.Delay("example.com"); d != 30*time.Second {
		t.Fatalf("delay = %v, want 30s from Retry-After", d)
	}
}

func TestThrottleBreaker(t *testing.T) {
	th, now := testThrottle()
	for i := 0; i < 5; i++ {
		th.Observe("example.com", 429, "")
	}
	if !th.BreakerOpen("example.com") {
		t.Fatal("breaker should open after five consecutive failures")
	}

	*now = now.Add(breakerCooldown + time.Second)
	if th.BreakerOpen("example.com") {
		t.Fatal("breaker should expire after the cooldown")
	}
}

func TestThrottleRecoveryFloorsAtBase(t *testing.T) {
	th, _ := testThrottle()
	for i := 0; i < 10; i++ {
		th.Observe("example.com", 200, "")
	}
	if d := th.Delay("example.com"); d != defaultBaseDelay {
		t.Fatalf("delay = %v, want %v", d, defaultBaseDelay)
	}
}

func TestThrottleCustomBaseDelay(t *testing.T) {
	th := NewThrottle(250 * time.Millisecond)
	th.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	th.sleep = func(context.Context, time.Duration) error { return nil }

	if d := th.Delay("example.com"); d != 250*time.Millisecond {
		t.Fatalf("initial delay = %v, want 250ms", d)
	}
	th.Observe("example.com", 429, "")
	if d := th.Delay("example.com"); d != 500*time.Millisecond {
		t.Fatalf("delay after 429 = %v, want 500ms", d)
	}
	for i := 0; i < 10; i++ {
		th.Observe("example.com", 200, "")
	}
	if d := th.Delay("example.com"); d != 250*time.Millisecond {
		t.Fatalf("recovery floor = %v, want 250ms", d)
	}
}

func TestThrottleSuccessResetsFailureStreak(t *testing.T) {
	th, _ := testThrottle()
	for i := 0; i < 4; i++ {
		th.Observe("example.com", 429, "")
	}
	th.Observe("example.com", 200, "")
	for i := 0; i < 4; i++ {
		th.Observe("example.com", 429, "")
	}
	if th.BreakerOpen("example.com") {
		t.Fatal("breaker must require five consecutive failures")
	}
}
