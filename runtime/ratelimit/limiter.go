// Package ratelimit enforces a per-principal daily ceiling with a
// process-local cache backed by a durable store. The cache is the hot read
// path; the durable store is authoritative on cold start and is best-effort
// on every write (failures degrade silently to cache-only mode).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/fleetserve/servingplane/runtime/apierrors"
	"github.com/fleetserve/servingplane/runtime/telemetry"
)

// Role and Tier mirror the coarse classes used for quota purposes. They are
// duplicated here (rather than imported from a shared "principal" package)
// because the rate limiter only ever needs the daily-limit lookup.
type (
	Role string
	Tier string
)

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleGuest Role = "guest"

	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

const unbounded = -1

// DailyLimit resolves the daily ceiling for a role/tier pair per spec §4.2.
// admin/enterprise are unbounded; pro=1000; free/user=100; guest=20.
func DailyLimit(role Role, tier Tier) int {
	switch {
	case role == RoleAdmin || tier == TierEnterprise:
		return unbounded
	case tier == TierPro:
		return 1000
	case role == RoleGuest:
		return 20
	case tier == TierFree, role == RoleUser:
		return 100
	default:
		return 20
	}
}

// Entry is a per-principal counter with its next UTC-midnight reset.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// DurableStore is the authoritative rate-limit store (§6 "Storage
// contract"). Implementations must never block callers indefinitely;
// failures are swallowed by Limiter and degrade to cache-only mode.
type DurableStore interface {
	// Load returns the stored entry for key, or ok=false if absent or expired.
	Load(ctx context.Context, key string) (Entry, bool, error)
	// Upsert stores entry for key.
	Upsert(ctx context.Context, key string, entry Entry) error
	// Sweep deletes rows whose ResetAt is at or before now.
	Sweep(ctx context.Context, now time.Time) error
}

// Limiter enforces the daily ceiling described in spec §4.2.
type Limiter struct {
	cache   *memoryCache
	durable DurableStore
	logger  telemetry.Logger

	mu sync.Mutex // serializes Check's read-increment-write

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used for best-effort failure reporting.
func WithLogger(l telemetry.Logger) Option {
	return func(lim *Limiter) { lim.logger = l }
}

// New constructs a Limiter backed by durable. durable may be nil, in which
// case the limiter runs cache-only (as if every durable call failed).
func New(durable DurableStore, opts ...Option) *Limiter {
	lim := &Limiter{
		cache:     newMemoryCache(),
		durable:   durable,
		logger:    telemetry.NewNoopLogger(),
		sweepStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(lim)
	}
	return lim
}

// StartSweeper launches the periodic cache/durable-store hygiene sweep
// (every 60s per spec §4.2). Call Stop to terminate it.
func (l *Limiter) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.sweepStop:
				return
			case <-ticker.C:
				now := time.Now().UTC()
				l.cache.sweep(now)
				if l.durable != nil {
					if err := l.durable.Sweep(ctx, now); err != nil {
						l.logger.Warn(ctx, "rate limit durable sweep failed", "error", err.Error())
					}
				}
			}
		}
	}()
}

// Stop halts the background sweeper started by StartSweeper. Safe to call
// multiple times.
func (l *Limiter) Stop() {
	l.sweepOnce.Do(func() { close(l.sweepStop) })
}

// nextUTCMidnight returns the next UTC midnight strictly after now.
func nextUTCMidnight(now time.Time) time.Time {
	now = now.UTC()
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// Check increments the counter for principalKey and returns a *RateLimited
// failure when the post-increment count exceeds the daily limit for
// role/tier. Unbounded principals bypass the counter entirely. persist
// controls whether the durable write is awaited (blocking duplex-stream
// callers) or fired without waiting for completion (non-blocking HTTP-style
// callers); durable failures are swallowed either way.
func (l *Limiter) Check(ctx context.Context, principalKey string, role Role, tier Tier, persist bool) error {
	limit := DailyLimit(role, tier)
	if limit == unbounded {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	entry, ok := l.cache.get(principalKey)
	if !ok {
		if l.durable != nil {
			if loaded, found, err := l.durable.Load(ctx, principalKey); err != nil {
				l.logger.Warn(ctx, "rate limit durable load failed", "error", err.Error(), "key", principalKey)
			} else if found && loaded.ResetAt.After(now) {
				entry = loaded
				ok = true
			}
		}
	}
	if !ok || !entry.ResetAt.After(now) {
		entry = Entry{Count: 0, ResetAt: nextUTCMidnight(now)}
	}

	entry.Count++
	l.cache.set(principalKey, entry)

	if l.durable != nil {
		if persist {
			if err := l.durable.Upsert(ctx, principalKey, entry); err != nil {
				l.logger.Warn(ctx, "rate limit durable upsert failed", "error", err.Error(), "key", principalKey)
			}
		} else {
			go func() {
				if err := l.durable.Upsert(context.Background(), principalKey, entry); err != nil {
					l.logger.Warn(context.Background(), "rate limit durable upsert failed", "error", err.Error(), "key", principalKey)
				}
			}()
		}
	}

	if entry.Count > limit {
		return &apierrors.RateLimited{Limit: limit, RetryAfterSeconds: int(entry.ResetAt.Sub(now).Seconds())}
	}
	return nil
}

// CacheLen reports the current number of cached principals, for tests and
// operational introspection.
func (l *Limiter) CacheLen() int { return l.cache.len() }
