package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

const keyPrefix = "chatgate:rate:"

// Store is the slice of the redis store the limiter uses. Window expiry is
// implicit via TTL; there is no reset job.
type Store interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) error
}

// Limiter counts requests per client over a fixed window. The counter key
// gets its TTL on the first hit of a window and expires on its own.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration

	// OnExceeded fires when a request is rejected, for observability.
	OnExceeded func(clientKey string, count int64)
}

func New(store Store, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, limit: limit, window: window}
}

func (l *Limiter) Limit() int { return l.limit }

// Check consumes one slot for clientKey. Exactly limit requests pass per
// window; callers decide what to do on a store error (the pipeline allows
// the request rather than failing closed on infrastructure trouble).
func (l *Limiter) Check(ctx context.Context, clientKey string) (bool, error) {
	key := l.key(clientKey)
	n, err := l.store.Incr(ctx, key)
	if err != nil {
		return true, err
	}
	if n == 1 {
		if err := l.store.Expire(ctx, key, l.window); err != nil {
			return true, err
		}
	}
	if n > int64(l.limit) {
		if l.OnExceeded != nil {
			l.OnExceeded(clientKey, n)
		}
		return false, nil
	}
	return true, nil
}

// Remaining reports how many requests the client may still make in the
// current window. Read-only; used for rate-limit response headers.
func (l *Limiter) Remaining(ctx context.Context, clientKey string) int {
	v, ok, err := l.store.Get(ctx, l.key(clientKey))
	if err != nil || !ok {
		return l.limit
	}
	n := parseCount(v)
	if n >= int64(l.limit) {
		return 0
	}
	return l.limit - int(n)
}

// ResetAfter reports how long until the current window expires.
func (l *Limiter) ResetAfter(ctx context.Context, clientKey string) time.Duration {
	d, err := l.store.TTL(ctx, l.key(clientKey))
	if err != nil {
		return 0
	}
	return d
}

// Headers returns the standard X-RateLimit response header values for the
// client's current window.
func (l *Limiter) Headers(ctx context.Context, clientKey string) map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(l.limit),
		"X-RateLimit-Remaining": strconv.Itoa(l.Remaining(ctx, clientKey)),
		"X-RateLimit-Reset":     strconv.Itoa(int(l.ResetAfter(ctx, clientKey).Seconds())),
	}
}

// Reset clears the window for clientKey.
func (l *Limiter) Reset(ctx context.Context, clientKey string) error {
	return l.store.Del(ctx, l.key(clientKey))
}

func (l *Limiter) key(clientKey string) string {
	sum := sha256.Sum256([]byte(clientKey))
	return keyPrefix + hex.EncodeToString(sum[:16])
}

func parseCount(v string) int64 {
	var n int64
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	return n
}
