package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kind selects which limit configuration applies to a key.
type Kind string

const (
	// KindIdentifier throttles OTP issuance per identifier hash.
	KindIdentifier Kind = "identifier"
	// KindIP throttles OTP issuance per client IP hash.
	KindIP Kind = "ip"
)

// Window is one (max, windowSeconds) limit configuration.
type Window struct {
	Max    int
	Window time.Duration
}

// Config holds the per-kind limit windows.
type Config struct {
	Identifier Window
	IP         Window
}

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// ErrUnavailable means the counter store could not be reached.
var ErrUnavailable = errors.New("rate limit store unavailable")

// Limiter is a fixed-window counter backed by Redis: the first hit in a
// window creates the counter with a TTL, later hits INCR it. Check and
// Increment are separate on purpose: gating a request must not consume
// budget; only an actual send does. Two concurrent requests can both pass
// Check before either Increments; that race is accepted (approximate
// limiting), not a bug.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{redis: redisClient, config: cfg}
}

// Check reports whether the key still has budget in the current window,
// without consuming any. A missing counter means a fresh window.
func (l *Limiter) Check(ctx context.Context, kind Kind, key string) (Result, error) {
	window := l.window(kind)

	count, err := l.redis.Get(ctx, counterKey(kind, key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Result{Allowed: true, Remaining: window.Max, ResetAt: time.Now().Add(window.Window)}, nil
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ttl, err := l.redis.PTTL(ctx, counterKey(kind, key)).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl < 0 {
		// Key has no expiry or vanished between calls; treat as a fresh window.
		return Result{Allowed: true, Remaining: window.Max, ResetAt: time.Now().Add(window.Window)}, nil
	}

	remaining := window.Max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   int(count) < window.Max,
		Remaining: remaining,
		ResetAt:   time.Now().Add(ttl),
	}, nil
}

// Increment consumes one unit of budget. The counter expires with the window;
// no explicit cleanup is needed.
func (l *Limiter) Increment(ctx context.Context, kind Kind, key string) error {
	window := l.window(kind)

	count, err := l.redis.Incr(ctx, counterKey(kind, key)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, counterKey(kind, key), window.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

func (l *Limiter) window(kind Kind) Window {
	if kind == KindIP {
		return l.config.IP
	}
	return l.config.Identifier
}

func counterKey(kind Kind, key string) string {
	return fmt.Sprintf("ratelimit:%s:%s", kind, key)
}
