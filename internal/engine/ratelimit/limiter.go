// Package ratelimit provides per-source token-bucket admission control.
// Each source gets its own bucket so a throttled source never stalls
// workers serving other sources.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hoardr-dl/hoardr/internal/engine/types"
)

// throttleFactor divides a bucket's refill rate while backpressure from a
// remote 429 is in effect.
const throttleFactor = 2

type bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	perSecond  float64
	lastRefill time.Time

	throttledUntil time.Time
}

func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rate := b.perSecond
	if now.Before(b.throttledUntil) {
		rate /= throttleFactor
	}
	b.tokens += elapsed * rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// take consumes one token if available, otherwise returns how long to wait
// before trying again.
func (b *bucket) take(now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	rate := b.perSecond
	if now.Before(b.throttledUntil) {
		rate /= throttleFactor
	}
	missing := 1 - b.tokens
	wait := time.Duration(missing / rate * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return false, wait
}

// Limiter hands out admission tokens per source identifier. Buckets are
// created lazily on first reference; unconfigured sources use the default
// rate.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	def   types.Rate
	rates map[string]types.Rate

	now func() time.Time // test hook
}

// New builds a limiter with the given default rate and optional per-source
// overrides.
func New(def types.Rate, rates map[string]types.Rate) *Limiter {
	if def.Capacity <= 0 || def.PerSecond <= 0 {
		def = types.DefaultRate
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		def:     def,
		rates:   rates,
		now:     time.Now,
	}
}

func (l *Limiter) bucketFor(source string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[source]; ok {
		return b
	}
	rate := l.def
	if r, ok := l.rates[source]; ok && r.Capacity > 0 && r.PerSecond > 0 {
		rate = r
	}
	b := &bucket{
		capacity:   rate.Capacity,
		tokens:     rate.Capacity,
		perSecond:  rate.PerSecond,
		lastRefill: l.now(),
	}
	l.buckets[source] = b
	return b
}

// Admit blocks until a token is available for the source, then consumes
// it. It returns the context's error if cancellation fires first. Waiting
// on one source never blocks admission on another.
func (l *Limiter) Admit(ctx context.Context, source string) error {
	b := l.bucketFor(source)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, wait := b.take(l.now())
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Throttle applies backpressure to a source after a remote 429: pending
// tokens are drained and the refill rate is halved until the deadline. A
// zero duration falls back to one full refill period.
func (l *Limiter) Throttle(source string, d time.Duration) time.Time {
	b := l.bucketFor(source)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	b.refillLocked(now)
	if d <= 0 {
		d = time.Duration(b.capacity / b.perSecond * float64(time.Second))
	}
	b.tokens = 0
	until := now.Add(d)
	if until.After(b.throttledUntil) {
		b.throttledUntil = until
	}
	return b.throttledUntil
}
