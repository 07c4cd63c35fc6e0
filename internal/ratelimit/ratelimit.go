// Package ratelimit bounds the rate of inbound control frames. A sender that
// floods the data channel gets its excess frames dropped (and acked) rather
// than queued toward the actuators.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the wall-clock Clock used outside tests.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// One token is 1e9 nano-tokens, so a rate of X tokens/sec refills at exactly
// X nano-tokens per elapsed nanosecond with no float rounding.
const nanosPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// FrameLimiter is a deterministic token bucket refilled at an integer rate
// (frames/sec) from a provided Clock. The bucket starts full, so a burst up
// to capacity is always admitted after idle periods.
type FrameLimiter struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // frames
	rate     int64 // frames/sec

	availableNanos int64
	last           time.Time
}

// NewFrameLimiter builds a limiter admitting up to rate frames/sec with a
// burst of capacity frames. A nil clock uses RealClock. Non-positive capacity
// or rate yields a limiter that admits nothing beyond the initial burst.
func NewFrameLimiter(clock Clock, capacity, rate int64) *FrameLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &FrameLimiter{
		clock:          clock,
		capacity:       capacity,
		rate:           rate,
		availableNanos: tokensToNanos(capacity),
		last:           clock.Now(),
	}
}

// Allow consumes one frame's worth of budget, reporting whether the frame may
// proceed.
func (l *FrameLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()

	if l.availableNanos < nanosPerToken {
		return false
	}
	l.availableNanos -= nanosPerToken
	return true
}

func (l *FrameLimiter) refillLocked() {
	now := l.clock.Now()
	if now.Before(l.last) {
		// Time went backwards; move the reference point without refilling.
		l.last = now
		return
	}

	elapsed := now.Sub(l.last)
	if elapsed <= 0 {
		return
	}
	l.last = now

	if l.rate <= 0 || l.capacity <= 0 {
		return
	}

	capacityNanos := tokensToNanos(l.capacity)
	if l.availableNanos >= capacityNanos {
		l.availableNanos = capacityNanos
		return
	}

	// rate frames/sec equals rate nano-tokens per nanosecond. If the elapsed
	// time is enough to fill the bucket, clamp instead of multiplying, which
	// also avoids overflow for long idle gaps.
	need := capacityNanos - l.availableNanos
	elapsedNanos := elapsed.Nanoseconds()
	if fillTime := need / l.rate; fillTime <= 0 || elapsedNanos >= fillTime {
		l.availableNanos = capacityNanos
		return
	}

	l.availableNanos += elapsedNanos * l.rate
	if l.availableNanos > capacityNanos {
		l.availableNanos = capacityNanos
	}
}

func tokensToNanos(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanosPerToken {
		return maxInt64
	}
	return tokens * nanosPerToken
}
