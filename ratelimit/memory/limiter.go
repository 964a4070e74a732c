// Package memorylimiter bounds how often a process calls a token endpoint.
package memorylimiter

import (
	"fmt"
	"sync"
	"time"
)

// Limit defines window and max count for a bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

// DefaultLimits caps token endpoint calls per client. With caching enabled a
// healthy client fetches once per token lifetime, so hitting this means
// something is refetching in a loop.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		"token_endpoint": {Limit: 60, Window: time.Minute},
		"default":        {Limit: 100, Window: time.Minute},
	}
}

type bucketState struct {
	// timestamps holds request times in Unix ms, newest last.
	timestamps []int64
	windowMs   int64
}

// sweepEvery bounds how often idle buckets are scanned for.
const sweepEvery = time.Minute

// Limiter is an in-memory sliding-window rate limiter.
// It is intended as a single-node fallback when Redis is unavailable.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	buckets map[string]*bucketState
	now     func() time.Time

	lastSweep int64
}

// New constructs a limiter with the provided per-bucket limits, or
// DefaultLimits when limits is nil.
func New(limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Limiter{
		limits:  limits,
		buckets: make(map[string]*bucketState),
		now:     time.Now,
	}
}

func (l *Limiter) get(bucket string) Limit {
	if v, ok := l.limits[bucket]; ok {
		return v
	}
	if v, ok := l.limits["default"]; ok {
		return v
	}
	return Limit{Limit: 100, Window: time.Minute}
}

// AllowNamed matches clientkit.RateLimiter. The bucket names the endpoint
// and the key names the client. Expired entries are pruned on each call, and
// buckets whose every entry has left the window are dropped by a periodic
// sweep.
func (l *Limiter) AllowNamed(bucket, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, fmt.Errorf("bucket and key required")
	}

	lim := l.get(bucket)
	nowMs := l.now().UnixMilli()
	windowStart := nowMs - lim.Window.Milliseconds()
	limitKey := key + ":" + bucket

	l.mu.Lock()
	defer l.mu.Unlock()

	if nowMs-l.lastSweep >= sweepEvery.Milliseconds() {
		l.sweep(nowMs)
		l.lastSweep = nowMs
	}

	b, ok := l.buckets[limitKey]
	if !ok {
		b = &bucketState{}
		l.buckets[limitKey] = b
	}
	b.windowMs = lim.Window.Milliseconds()

	ts := b.timestamps
	pruneIdx := 0
	for pruneIdx < len(ts) && ts[pruneIdx] <= windowStart {
		pruneIdx++
	}
	ts = ts[pruneIdx:]

	if len(ts) >= lim.Limit {
		// Deny without recording this attempt.
		b.timestamps = ts
		if len(ts) == 0 {
			delete(l.buckets, limitKey)
		}
		return false, nil
	}

	b.timestamps = append(ts, nowMs)
	return true, nil
}

// sweep drops buckets with no entry left in their window. Callers hold mu.
func (l *Limiter) sweep(nowMs int64) {
	for k, b := range l.buckets {
		if n := len(b.timestamps); n == 0 || b.timestamps[n-1] <= nowMs-b.windowMs {
			delete(l.buckets, k)
		}
	}
}
