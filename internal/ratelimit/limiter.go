package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Limiter is a token bucket guarding outbound Riot API calls. Tokens refill
// continuously at requests/window; Acquire consumes one token, blocking the
// caller until one is available. A server-advertised cooldown reported via
// OnRemoteBackoff overrides local token availability until it elapses.
type Limiter struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
	notBefore  time.Time
	logger     zerolog.Logger
}

// New constructs a Limiter allowing requests permits per window.
func New(requests int, window time.Duration, logger zerolog.Logger) *Limiter {
	if requests <= 0 {
		requests = 100
	}
	if window <= 0 {
		window = 2 * time.Minute
	}

	return &Limiter{
		capacity:   float64(requests),
		refillRate: float64(requests) / window.Seconds(),
		tokens:     float64(requests),
		lastRefill: time.Now(),
		logger:     logger.With().Str("component", "ratelimit").Logger(),
	}
}

// Acquire blocks until a permit is available. The only error it returns is
// the context's, so blocking is the sole backpressure signal for live callers.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.tryTake()
		if ok {
			return nil
		}

		l.logger.Debug().Dur("wait", wait).Msg("waiting for rate limit permit")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// Re-check under the lock; another waiter may have won the token.
		}
	}
}

// OnRemoteBackoff records a server-signaled cooldown. Subsequent Acquire
// calls do not grant a permit before it elapses, even with tokens available.
func (l *Limiter) OnRemoteBackoff(d time.Duration) {
	if d <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	until := time.Now().Add(d)
	if until.After(l.notBefore) {
		l.notBefore = until
		l.logger.Warn().Dur("cooldown", d).Msg("remote backoff requested; pausing permits")
	}
}

// Available reports the current token count, for diagnostics only.
func (l *Limiter) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(time.Now())
	return l.tokens
}

// tryTake consumes a token if permitted, otherwise returns how long the
// caller should wait before retrying.
func (l *Limiter) tryTake() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.refill(now)

	if cooldown := l.notBefore.Sub(now); cooldown > 0 {
		return cooldown, false
	}

	if l.tokens >= 1 {
		l.tokens--
		return 0, true
	}

	wait := time.Duration((1 - l.tokens) / l.refillRate * float64(time.Second))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.refillRate
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.lastRefill = now
}
