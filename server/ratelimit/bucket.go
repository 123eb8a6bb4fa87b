package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a simple, precise token-rate limiter (thread-safe).
// All fields are integer-based (tokens, ns) to avoid float overhead.
type Bucket struct {
	mu       sync.Mutex
	rate     int64     // tokens per second
	capacity int64     // max tokens (burst), typically = rate
	tokens   int64     // current tokens
	last     time.Time // last refill time
}

// NewBucket creates a bucket with the given per-second rate and burst.
// If burst <= 0, it defaults to rate. Returns nil for non-positive
// rates; a nil bucket admits everything.
func NewBucket(rate int64, burst int64) *Bucket {
	if rate <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = rate
	}
	return &Bucket{rate: rate, capacity: burst, tokens: burst, last: time.Now()}
}

// Allow consumes one token if available and reports whether the caller
// may proceed. It never blocks.
func (b *Bucket) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(b.last)
	if elapsed > 0 {
		refill := (elapsed.Nanoseconds() * b.rate) / int64(time.Second)
		if refill > 0 {
			b.tokens += refill
			if b.tokens > b.capacity {
				b.tokens = b.capacity
			}
			b.last = now
		}
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

const (
	sweepThreshold = 1024
	idleTTL        = time.Minute
)

type ipEntry struct {
	bucket   *Bucket
	lastSeen time.Time
}

// PerIP keeps one bucket per remote host so a single noisy client
// cannot starve the accept loop for everyone else. Idle entries are
// swept once the map grows past sweepThreshold.
type PerIP struct {
	mu      sync.Mutex
	rate    int64
	burst   int64
	entries map[string]*ipEntry
}

// NewPerIP creates a per-host limiter. Returns nil for non-positive
// rates; a nil limiter admits everything.
func NewPerIP(rate int64, burst int64) *PerIP {
	if rate <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = rate
	}
	return &PerIP{rate: rate, burst: burst, entries: make(map[string]*ipEntry)}
}

// Allow reports whether a new connection from host may proceed,
// consuming one token from that host's bucket.
func (p *PerIP) Allow(host string) bool {
	if p == nil {
		return true
	}
	now := time.Now()
	p.mu.Lock()
	e, ok := p.entries[host]
	if !ok {
		if len(p.entries) >= sweepThreshold {
			p.sweepLocked(now)
		}
		e = &ipEntry{bucket: NewBucket(p.rate, p.burst)}
		p.entries[host] = e
	}
	e.lastSeen = now
	p.mu.Unlock()
	return e.bucket.Allow()
}

func (p *PerIP) sweepLocked(now time.Time) {
	for host, e := range p.entries {
		if now.Sub(e.lastSeen) > idleTTL {
			delete(p.entries, host)
		}
	}
}
