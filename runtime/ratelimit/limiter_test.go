package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetserve/servingplane/runtime/apierrors"
	"github.com/fleetserve/servingplane/runtime/ratelimit"
)

type fakeDurableStore struct {
	mu      sync.Mutex
	entries map[string]ratelimit.Entry
	failing bool
}

func newFakeDurableStore() *fakeDurableStore {
	return &fakeDurableStore{entries: make(map[string]ratelimit.Entry)}
}

func (s *fakeDurableStore) Load(_ context.Context, key string) (ratelimit.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return ratelimit.Entry{}, false, assertErr
	}
	e, ok := s.entries[key]
	return e, ok, nil
}

func (s *fakeDurableStore) Upsert(_ context.Context, key string, entry ratelimit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return assertErr
	}
	s.entries[key] = entry
	return nil
}

func (s *fakeDurableStore) Sweep(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if !e.ResetAt.After(now) {
			delete(s.entries, k)
		}
	}
	return nil
}

var assertErr = assertError("durable store unavailable")

type assertError string

func (e assertError) Error() string { return string(e) }

func TestDailyLimitByRoleTier(t *testing.T) {
	assert.Equal(t, -1, ratelimit.DailyLimit(ratelimit.RoleAdmin, ratelimit.TierFree))
	assert.Equal(t, -1, ratelimit.DailyLimit(ratelimit.RoleUser, ratelimit.TierEnterprise))
	assert.Equal(t, 1000, ratelimit.DailyLimit(ratelimit.RoleUser, ratelimit.TierPro))
	assert.Equal(t, 100, ratelimit.DailyLimit(ratelimit.RoleUser, ratelimit.TierFree))
	assert.Equal(t, 20, ratelimit.DailyLimit(ratelimit.RoleGuest, ""))
}

func TestCheckAllowsUpToLimitThenRateLimits(t *testing.T) {
	lim := ratelimit.New(nil)
	for i := 0; i < 20; i++ {
		require.NoError(t, lim.Check(context.Background(), "guest-1", ratelimit.RoleGuest, "", true))
	}
	err := lim.Check(context.Background(), "guest-1", ratelimit.RoleGuest, "", true)
	require.Error(t, err)
	var rl *apierrors.RateLimited
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 20, rl.Limit)
}

func TestCheckUnboundedPrincipalNeverLimited(t *testing.T) {
	lim := ratelimit.New(nil)
	for i := 0; i < 5000; i++ {
		require.NoError(t, lim.Check(context.Background(), "admin-1", ratelimit.RoleAdmin, "", true))
	}
}

func TestCheckDegradesToCacheOnlyWhenDurableFails(t *testing.T) {
	store := newFakeDurableStore()
	store.failing = true
	lim := ratelimit.New(store)
	require.NoError(t, lim.Check(context.Background(), "u1", ratelimit.RoleUser, ratelimit.TierFree, true))
	assert.Equal(t, 1, lim.CacheLen())
}

func TestCheckLoadsColdCacheFromDurableStore(t *testing.T) {
	store := newFakeDurableStore()
	store.entries["u1"] = ratelimit.Entry{Count: 99, ResetAt: time.Now().Add(time.Hour)}
	lim := ratelimit.New(store)

	err := lim.Check(context.Background(), "u1", ratelimit.RoleUser, ratelimit.TierFree, true)
	require.Error(t, err)
	var rl *apierrors.RateLimited
	require.ErrorAs(t, err, &rl)
}

func TestCheckExpiredDurableEntryResets(t *testing.T) {
	store := newFakeDurableStore()
	store.entries["u1"] = ratelimit.Entry{Count: 99, ResetAt: time.Now().Add(-time.Hour)}
	lim := ratelimit.New(store)

	require.NoError(t, lim.Check(context.Background(), "u1", ratelimit.RoleUser, ratelimit.TierFree, true))
}

func TestConcurrentChecksNeverExceedLimit(t *testing.T) {
	lim := ratelimit.New(nil)
	const limit = 100
	const workers = 50
	var wg sync.WaitGroup
	var successes int32
	var mu sync.Mutex
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if err := lim.Check(context.Background(), "shared", ratelimit.RoleUser, ratelimit.TierFree, true); err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, int(successes), limit)
}
