// Package ratelimit throttles call volume per key with lazily created
// token buckets.
package ratelimit

import (
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"callsplit/domain/core"
)

const (
	// minRate is the floor a downshift can reach, in tokens per second.
	minRate = 0.1
	// defaultIdleTTL is how long an untouched bucket survives before GC.
	defaultIdleTTL = 24 * time.Hour
)

// Config sizes the buckets of one limiter.
type Config struct {
	// BurstCapacity is the bucket capacity in tokens.
	BurstCapacity int
	// RefillRate is tokens per second.
	RefillRate float64
	// DownshiftFactor multiplies the refill rate on ApplyDownshift.
	DownshiftFactor float64
	// IdleTTL garbage-collects buckets untouched for this long (default 24h).
	IdleTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.BurstCapacity <= 0 {
		c.BurstCapacity = 1
	}
	if c.RefillRate <= 0 {
		c.RefillRate = 1
	}
	if c.DownshiftFactor <= 0 || c.DownshiftFactor >= 1 {
		c.DownshiftFactor = 0.5
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = defaultIdleTTL
	}
	return c
}

// Status is the outcome of one admission check.
type Status struct {
	Allowed   bool      `json:"allowed"`
	Remaining float64   `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Key       string    `json:"key"`
}

type bucket struct {
	lim      *rate.Limiter
	baseRate rate.Limit
	lastSeen time.Time
}

// Limiter is a per-key token-bucket throttle. Buckets refill lazily with
// elapsed time, are created on first use and dropped after IdleTTL of
// inactivity. Safe for concurrent use from multiple test loops.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	clock   core.Clock
	buckets map[string]*bucket
	lastGC  time.Time
}

// New creates a limiter. A nil clock falls back to the system clock.
func New(cfg Config, clock core.Clock) *Limiter {
	if clock == nil {
		clock = core.SystemClock()
	}
	cfg = cfg.withDefaults()
	return &Limiter{
		cfg:     cfg,
		clock:   clock,
		buckets: make(map[string]*bucket),
		lastGC:  clock.Now(),
	}
}

// Allow consumes one token for key if available.
func (l *Limiter) Allow(key string) Status {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.gcLocked(now)

	b := l.bucketLocked(key, now)
	b.lastSeen = now
	allowed := b.lim.AllowN(now, 1)
	return l.statusLocked(key, b, now, allowed)
}

// Peek reports the current state of key's bucket without consuming a token.
func (l *Limiter) Peek(key string) Status {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketLocked(key, now)
	remaining := b.lim.TokensAt(now)
	return l.statusLocked(key, b, now, remaining >= 1)
}

// ApplyDownshift multiplies key's refill rate by the downshift factor,
// clamped to the minimum rate. Used when the quality gate signals slow.
func (l *Limiter) ApplyDownshift(key string) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketLocked(key, now)
	next := rate.Limit(float64(b.lim.Limit()) * l.cfg.DownshiftFactor)
	if next < minRate {
		next = minRate
	}
	b.lim.SetLimitAt(now, next)
	log.Printf("[RateLimit] downshifted %q to %.2f tokens/s", key, float64(next))
}

// ResetRate restores key's configured refill rate.
func (l *Limiter) ResetRate(key string) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketLocked(key, now)
	b.lim.SetLimitAt(now, b.baseRate)
}

// Keys returns the currently tracked bucket keys.
func (l *Limiter) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.buckets))
	for k := range l.buckets {
		keys = append(keys, k)
	}
	return keys
}

func (l *Limiter) bucketLocked(key string, now time.Time) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		base := rate.Limit(l.cfg.RefillRate)
		b = &bucket{
			lim:      rate.NewLimiter(base, l.cfg.BurstCapacity),
			baseRate: base,
			lastSeen: now,
		}
		l.buckets[key] = b
	}
	return b
}

func (l *Limiter) statusLocked(key string, b *bucket, now time.Time, allowed bool) Status {
	remaining := b.lim.TokensAt(now)
	if remaining < 0 {
		remaining = 0
	}
	st := Status{
		Allowed:   allowed,
		Remaining: remaining,
		Key:       key,
		ResetAt:   now,
	}
	missing := float64(l.cfg.BurstCapacity) - remaining
	if missing > 0 {
		refill := float64(b.lim.Limit())
		if refill > 0 {
			st.ResetAt = now.Add(time.Duration(missing / refill * float64(time.Second)))
		}
	}
	return st
}

// gcLocked drops buckets idle past the TTL. Runs at most once per TTL window
// scan interval.
func (l *Limiter) gcLocked(now time.Time) {
	if now.Sub(l.lastGC) < l.cfg.IdleTTL/24 {
		return
	}
	l.lastGC = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.cfg.IdleTTL {
			delete(l.buckets, key)
		}
	}
}
