// Package ratelimit throttles credential attempts per caller.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether the caller identified by key may proceed. When it
// may not, retryAfter estimates how long to wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Local keeps a token bucket per key in process memory. Buckets idle for
// longer than the ttl are dropped.
type Local struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
}

// NewLocal allows limit events per window for each key, with a burst of limit.
func NewLocal(limit int, window time.Duration) *Local {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	ttl := 5 * time.Minute
	if window*2 > ttl {
		ttl = window * 2
	}
	return &Local{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (l *Local) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	if key == "" {
		key = "unknown"
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	v := l.visitorLocked(key, now)
	l.gcLocked(now)

	reservation := v.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, 0, nil
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

func (l *Local) visitorLocked(key string, now time.Time) *visitor {
	if v, ok := l.visitors[key]; ok {
		v.lastSeen = now
		return v
	}
	v := &visitor{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.visitors[key] = v
	return v
}

func (l *Local) gcLocked(now time.Time) {
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, key)
		}
	}
}

// Len reports how many keys are currently tracked.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// WithNowFunc allows tests to override the time source.
func (l *Local) WithNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
