package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limiter defaults.
const (
	DefaultRateLimitMaxEntries  = 10000
	DefaultRateLimitIdleTimeout = 30 * time.Minute
)

// RateLimitConfig configures a RateLimiter.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per identifier.
	RequestsPerSecond float64

	// Burst is the bucket size per identifier.
	Burst int

	// MaxEntries bounds the number of tracked identifiers. The least recently
	// seen identifier is dropped when the bound is hit.
	// Default: 10000
	MaxEntries int

	// IdleTimeout drops identifiers not seen for this long on each Cleanup.
	// Default: 30 minutes
	IdleTimeout time.Duration
}

type bucket struct {
	key      string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per identifier (client IP or client_id)
// with one token bucket each. Memory is bounded by MaxEntries.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*list.Element
	order   *list.List // front = most recently seen
	config  RateLimitConfig
	logger  *slog.Logger
	now     func() time.Time

	evictions int64
}

// NewRateLimiter creates a limiter. Zero-valued config fields take defaults.
func NewRateLimiter(config RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultRateLimitMaxEntries
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultRateLimitIdleTimeout
	}
	return &RateLimiter{
		buckets: make(map[string]*list.Element),
		order:   list.New(),
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// Allow reports whether one more request from identifier fits in its bucket.
func (rl *RateLimiter) Allow(identifier string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if elem, ok := rl.buckets[identifier]; ok {
		rl.order.MoveToFront(elem)
		b := elem.Value.(*bucket)
		b.lastSeen = now
		return b.limiter.AllowN(now, 1)
	}

	if len(rl.buckets) >= rl.config.MaxEntries {
		rl.evictOldest()
	}

	b := &bucket{
		key:      identifier,
		limiter:  rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst),
		lastSeen: now,
	}
	rl.buckets[identifier] = rl.order.PushFront(b)
	return b.limiter.AllowN(now, 1)
}

// evictOldest must be called with mu held.
func (rl *RateLimiter) evictOldest() {
	elem := rl.order.Back()
	if elem == nil {
		return
	}
	b := elem.Value.(*bucket)
	delete(rl.buckets, b.key)
	rl.order.Remove(elem)
	rl.evictions++
	rl.logger.Debug("Rate limiter evicted identifier", "evictions", rl.evictions, "entries", len(rl.buckets))
}

// Cleanup drops identifiers idle for longer than IdleTimeout and returns how
// many were removed. The storage sweeper calls it on each pass.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.config.IdleTimeout)
	removed := 0
	for elem := rl.order.Back(); elem != nil; {
		b := elem.Value.(*bucket)
		if !b.lastSeen.Before(cutoff) {
			// list is ordered by lastSeen, everything in front is newer
			break
		}
		prev := elem.Prev()
		delete(rl.buckets, b.key)
		rl.order.Remove(elem)
		removed++
		elem = prev
	}
	if removed > 0 {
		rl.logger.Debug("Rate limiter cleanup completed", "removed", removed, "remaining", len(rl.buckets))
	}
	return removed
}

// Len returns the number of tracked identifiers.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
