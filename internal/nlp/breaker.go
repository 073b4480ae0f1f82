package nlp

import "time"

// dailyResetHourUTC approximates a US-Pacific midnight, when most providers
// reset their daily quotas.
const dailyResetHourUTC = 8

// Breaker tracks which provider tiers are temporarily unusable. It records
// the index of the lowest-quality tier disabled; that tier and every better
// one are skipped. Two horizons exist: a per-minute disablement (transient
// rate limit) and a per-day one (quota exhausted). -1 means none disabled.
//
// The breaker outlives individual requests: a rate limit hit by one request
// steers every subsequent request until it expires.
type Breaker struct {
	minuteIdx    int
	minuteExpiry time.Time
	dayIdx       int
	dayExpiry    time.Time
	now          func() time.Time
}

// NewBreaker creates a Breaker with nothing disabled.
func NewBreaker() *Breaker {
	return &Breaker{minuteIdx: -1, dayIdx: -1, now: time.Now}
}

// StartIndex returns the first tier index worth attempting right now.
func (b *Breaker) StartIndex() int {
	if b.now().After(b.dayExpiry) {
		b.dayIdx = -1
	}
	effMinute := -1
	if !b.now().After(b.minuteExpiry) {
		effMinute = b.minuteIdx
	}
	return max(effMinute, b.dayIdx) + 1
}

// OnRateLimit records a rate limit from tier i. A tier already under a
// minute disablement escalates to a day disablement (repeated rate-limiting
// promotes the short penalty to a long one); otherwise the tier is disabled
// until the next whole minute. serverTime, when known, anchors the daily
// expiry to the provider's clock.
func (b *Breaker) OnRateLimit(i int, serverTime time.Time) {
	if i <= b.minuteIdx {
		ref := serverTime
		if ref.IsZero() {
			ref = b.now()
		}
		b.dayIdx = i
		b.dayExpiry = nextDailyReset(ref)
		return
	}
	b.minuteIdx = i
	b.minuteExpiry = b.now().Truncate(time.Minute).Add(time.Minute)
}

// OnSuccess clears the minute disablement when the disabled tier recovers.
func (b *Breaker) OnSuccess(i int) {
	if i == b.minuteIdx {
		b.minuteIdx = -1
	}
}

// nextDailyReset returns the next daily quota reset boundary after ref.
func nextDailyReset(ref time.Time) time.Time {
	reset := time.Date(ref.UTC().Year(), ref.UTC().Month(), ref.UTC().Day(), dailyResetHourUTC, 0, 0, 0, time.UTC)
	if !reset.After(ref) {
		reset = reset.AddDate(0, 0, 1)
	}
	return reset
}
