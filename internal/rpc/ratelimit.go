package rpc

import (
	"strconv"
	"sync"
	"time"

	"github.com/org/authbroker/internal/clock"
	"github.com/org/authbroker/internal/origin"
)

// rateLimiter is a per-origin token bucket applied to login calls.
type rateLimiter struct {
	clock   clock.Clock
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // attempts per second
	burst   int
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

func newRateLimiter(c clock.Clock, rate float64, burst int) *rateLimiter {
	return &rateLimiter{
		clock:   c,
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clock.Now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastCheck: now}
		rl.buckets[key] = b
	}
	b.tokens += now.Sub(b.lastCheck).Seconds() * rl.rate
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.lastCheck = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// prune drops buckets that have refilled completely.
func (rl *rateLimiter) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clock.Now()
	for key, b := range rl.buckets {
		if b.tokens+now.Sub(b.lastCheck).Seconds()*rl.rate >= float64(rl.burst) {
			delete(rl.buckets, key)
		}
	}
}

// limiterKey groups connections by remote host or by local uid, so a
// client cannot dodge the limit by reconnecting.
func limiterKey(o origin.Origin) string {
	switch o := o.(type) {
	case origin.TCP:
		return "tcp:" + o.Addr
	case origin.UnixSocket:
		return "uid:" + strconv.Itoa(o.UID)
	}
	return "unknown"
}
