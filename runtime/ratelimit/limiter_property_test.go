package ratelimit_test

import (
	"context"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/fleetserve/servingplane/runtime/ratelimit"
)

// TestPropertyDailyCeilingNeverExceeded is spec §8 P1: for any principal with
// daily limit L, the number of successful Check calls accepted in any UTC
// day is <= L, across random concurrent interleavings.
func TestPropertyDailyCeilingNeverExceeded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("concurrent increments never exceed the daily limit", prop.ForAll(
		func(workers, attemptsPerWorker int) bool {
			lim := ratelimit.New(nil)
			limit := ratelimit.DailyLimit(ratelimit.RoleUser, ratelimit.TierFree)

			var wg sync.WaitGroup
			var mu sync.Mutex
			successes := 0
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < attemptsPerWorker; j++ {
						if err := lim.Check(context.Background(), "principal", ratelimit.RoleUser, ratelimit.TierFree, true); err == nil {
							mu.Lock()
							successes++
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()
			return successes <= limit
		},
		gen.IntRange(1, 25),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
