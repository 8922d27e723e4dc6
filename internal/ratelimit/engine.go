package ratelimit

import (
	"math/bits"
	"time"
)

// Decide computes the tokens available to a key at now and consumes one if
// possible. found=false means the key has never been seen and starts full.
//
// A denied request returns prior untouched so refill keeps accruing from the
// last admitted request.
func Decide(prior Bucket, found bool, now time.Time, p Policy) (Decision, Bucket) {
	available := p.Capacity
	if found {
		// capped before adding so capacities near MaxInt cannot overflow
		available = prior.Tokens + min(refill(now.Sub(prior.LastRefill), p), p.Capacity-prior.Tokens)
	}

	if available <= 0 {
		return Decision{Allowed: false, Limit: p.Capacity, Remaining: 0}, prior
	}

	next := Bucket{Tokens: available - 1, LastRefill: now}
	return Decision{Allowed: true, Limit: p.Capacity, Remaining: next.Tokens}, next
}

// refill returns floor(capacity * elapsed / period). Negative elapsed (clock
// stepped backwards) yields zero.
func refill(elapsed time.Duration, p Policy) int {
	if elapsed <= 0 {
		return 0
	}
	if elapsed >= p.RefillPeriod {
		return p.Capacity
	}
	// elapsed < period keeps the 128-bit quotient below capacity, so Div64
	// cannot overflow.
	hi, lo := bits.Mul64(uint64(p.Capacity), uint64(elapsed))
	q, _ := bits.Div64(hi, lo, uint64(p.RefillPeriod))
	return int(q)
}
