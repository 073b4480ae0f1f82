package nlp

import (
	"testing"
	"time"
)

func testBreaker(at time.Time) (*Breaker, *time.Time) {
	clock := at
	b := NewBreaker()
	b.now = func() time.Time { return clock }
	return b, &clock
}

func TestBreakerStartsAtZero(t *testing.T) {
	b, _ := testBreaker(time.Date(2026, 3, 10, 14, 30, 20, 0, time.UTC))
	if got := b.StartIndex(); got != 0 {
		t.Errorf("StartIndex = %d, want 0", got)
	}
}

func TestBreakerMinuteDisablement(t *testing.T) {
	b, clock := testBreaker(time.Date(2026, 3, 10, 14, 30, 20, 0, time.UTC))

	b.OnRateLimit(0, time.Time{})
	if got := b.StartIndex(); got != 1 {
		t.Errorf("StartIndex after rate limit = %d, want 1", got)
	}

	// The disablement ends at the next whole minute.
	*clock = time.Date(2026, 3, 10, 14, 30, 59, 0, time.UTC)
	if got := b.StartIndex(); got != 1 {
		t.Errorf("StartIndex at :59 = %d, want 1", got)
	}
	*clock = time.Date(2026, 3, 10, 14, 31, 1, 0, time.UTC)
	if got := b.StartIndex(); got != 0 {
		t.Errorf("StartIndex after expiry = %d, want 0", got)
	}
}

func TestBreakerDisablesBetterTiersToo(t *testing.T) {
	b, _ := testBreaker(time.Date(2026, 3, 10, 14, 30, 20, 0, time.UTC))

	b.OnRateLimit(2, time.Time{})
	if got := b.StartIndex(); got != 3 {
		t.Errorf("StartIndex = %d, want 3", got)
	}
}

// TestBreakerEscalatesToDay verifies a second rate limit on an
// already-disabled tier promotes the penalty to the daily quota reset.
func TestBreakerEscalatesToDay(t *testing.T) {
	b, clock := testBreaker(time.Date(2026, 3, 10, 14, 30, 20, 0, time.UTC))

	b.OnRateLimit(0, time.Time{})
	b.OnRateLimit(0, time.Time{})

	// Past the minute boundary the tier stays disabled.
	*clock = time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)
	if got := b.StartIndex(); got != 1 {
		t.Errorf("StartIndex after escalation = %d, want 1", got)
	}

	// 08:00 UTC the next day clears it.
	*clock = time.Date(2026, 3, 11, 7, 59, 0, 0, time.UTC)
	if got := b.StartIndex(); got != 1 {
		t.Errorf("StartIndex before daily reset = %d, want 1", got)
	}
	*clock = time.Date(2026, 3, 11, 8, 0, 1, 0, time.UTC)
	if got := b.StartIndex(); got != 0 {
		t.Errorf("StartIndex after daily reset = %d, want 0", got)
	}
}

// TestBreakerEscalationUsesServerTime anchors the daily expiry to the
// provider's clock when it is known.
func TestBreakerEscalationUsesServerTime(t *testing.T) {
	local := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	b, clock := testBreaker(local)

	// The provider's clock is already past today's reset boundary, so the
	// disablement runs to tomorrow's even though local time has not reached
	// today's yet.
	server := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	b.OnRateLimit(0, time.Time{})
	b.OnRateLimit(0, server)

	*clock = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if got := b.StartIndex(); got != 1 {
		t.Errorf("StartIndex = %d, want 1", got)
	}
	*clock = time.Date(2026, 3, 11, 8, 0, 1, 0, time.UTC)
	if got := b.StartIndex(); got != 0 {
		t.Errorf("StartIndex after server-anchored reset = %d, want 0", got)
	}
}

func TestBreakerOnSuccessClearsMinute(t *testing.T) {
	b, _ := testBreaker(time.Date(2026, 3, 10, 14, 30, 20, 0, time.UTC))

	b.OnRateLimit(1, time.Time{})
	if got := b.StartIndex(); got != 2 {
		t.Fatalf("StartIndex = %d, want 2", got)
	}
	b.OnSuccess(1)
	if got := b.StartIndex(); got != 0 {
		t.Errorf("StartIndex after recovery = %d, want 0", got)
	}
}

func TestNextDailyReset(t *testing.T) {
	cases := []struct {
		ref  time.Time
		want time.Time
	}{
		{time.Date(2026, 3, 10, 7, 59, 0, 0, time.UTC), time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC), time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC), time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := nextDailyReset(tc.ref); !got.Equal(tc.want) {
			t.Errorf("nextDailyReset(%v) = %v, want %v", tc.ref, got, tc.want)
		}
	}
}
