// Package retry decides whether and when a failed fetch is attempted
// again.
package retry

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/hoardr-dl/hoardr/internal/engine/types"
)

// Decision is the outcome of consulting the policy: either retry after
// Delay, or give up.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// GiveUp is the terminal decision.
var GiveUp = Decision{}

// Policy applies bounded exponential backoff with jitter to transient
// errors. Permanent and cancelled errors never retry.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// OnRateLimited is invoked when a remote 429 is observed, so the
	// rate limiter can apply backpressure for the source. retryAfter is
	// zero when the server did not send a usable Retry-After.
	OnRateLimited func(source string, retryAfter time.Duration)

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a policy with the given bounds. Zero values select the
// session defaults.
func New(maxAttempts int, base, max time.Duration) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = types.DefaultMaxAttempts
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		MaxDelay:    max,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Decide returns the policy's verdict for a task that just failed its
// attempt-th try (1-based) with err. A transient error within the attempt
// budget retries after min(maxDelay, base*2^attempt) scaled by a uniform
// jitter in [0.5, 1.5); anything else gives up.
func (p *Policy) Decide(source string, err error, attempt int) Decision {
	kind := types.Classify(err)

	var status *types.StatusError
	if errors.As(err, &status) && status.RateLimited() && p.OnRateLimited != nil {
		p.OnRateLimited(source, status.RetryAfter)
	}

	if kind != types.KindTransient {
		return GiveUp
	}
	if attempt >= p.MaxAttempts {
		return GiveUp
	}

	delay := p.BaseDelay << uint(attempt)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}

	// Prefer the server's own schedule on 429.
	if status != nil && status.RetryAfter > delay {
		delay = status.RetryAfter
	}

	return Decision{Retry: true, Delay: p.jitter(delay)}
}

func (p *Policy) jitter(d time.Duration) time.Duration {
	p.mu.Lock()
	f := 0.5 + p.rng.Float64()
	p.mu.Unlock()
	return time.Duration(float64(d) * f)
}
