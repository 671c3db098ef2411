package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		RequestsPerHour:   1000,
		RequestsPerDay:    10000,
		BurstLimit:        10,
		BlockDuration:     300 * time.Second,
	}
}

func newTestLimiter(cfg Config, opts ...Option) (*MemoryLimiter, *fakeClock) {
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewMemoryLimiter(cfg, opts...), clock
}

// admit mimics the middleware: check, then record on success.
func admit(l *MemoryLimiter, id string) (bool, Info) {
	allowed, info := l.IsAllowed(id)
	if allowed {
		l.RecordRequest(id)
	}
	return allowed, info
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60, cfg.RequestsPerMinute)
	assert.Equal(t, 1000, cfg.RequestsPerHour)
	assert.Equal(t, 10000, cfg.RequestsPerDay)
	assert.Equal(t, 10, cfg.BurstLimit)
	assert.Equal(t, 300*time.Second, cfg.BlockDuration)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero per minute", func(c *Config) { c.RequestsPerMinute = 0 }},
		{"negative per hour", func(c *Config) { c.RequestsPerHour = -1 }},
		{"zero per day", func(c *Config) { c.RequestsPerDay = 0 }},
		{"zero burst", func(c *Config) { c.BurstLimit = 0 }},
		{"zero block duration", func(c *Config) { c.BlockDuration = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMemoryLimiter_PerMinuteScenario(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerMinute = 3
	limiter, _ := newTestLimiter(cfg)

	for i := 0; i < 3; i++ {
		allowed, _ := admit(limiter, "A")
		require.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, info := admit(limiter, "A")
	assert.False(t, allowed)
	assert.Equal(t, ReasonMinute, info.Reason)
	assert.Equal(t, 300*time.Second, info.RetryAfter)
	assert.True(t, info.NewlyBlocked)
	assert.Equal(t, 0, info.Remaining)
}

func TestMemoryLimiter_BurstScenario(t *testing.T) {
	cfg := testConfig()
	cfg.BurstLimit = 2
	limiter, _ := newTestLimiter(cfg)

	for i := 0; i < 2; i++ {
		allowed, _ := admit(limiter, "B")
		require.True(t, allowed)
	}

	allowed, info := admit(limiter, "B")
	assert.False(t, allowed)
	assert.Equal(t, ReasonBurst, info.Reason)
}

func TestMemoryLimiter_BlockLastsFullDuration(t *testing.T) {
	cfg := testConfig()
	cfg.BurstLimit = 2
	limiter, clock := newTestLimiter(cfg)

	admit(limiter, "B")
	admit(limiter, "B")
	allowed, _ := admit(limiter, "B")
	require.False(t, allowed)

	clock.Advance(299 * time.Second)
	allowed, info := admit(limiter, "B")
	assert.False(t, allowed, "client should stay blocked for the whole block duration")
	assert.Equal(t, ReasonBlocked, info.Reason)
	assert.Equal(t, time.Second, info.RetryAfter)
	assert.False(t, info.NewlyBlocked)

	clock.Advance(time.Second)
	allowed, _ = admit(limiter, "B")
	assert.True(t, allowed, "client should be admitted once the block elapses")
}

func TestMemoryLimiter_RetriesWhileBlockedDoNotCountAsViolations(t *testing.T) {
	cfg := testConfig()
	cfg.BurstLimit = 1
	limiter, clock := newTestLimiter(cfg)

	admit(limiter, "C")
	admit(limiter, "C")
	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Second)
		admit(limiter, "C")
	}

	stats, ok := limiter.ClientStats("C")
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalBlocked)
}

func TestMemoryLimiter_BurstResetsAfterGap(t *testing.T) {
	cfg := testConfig()
	cfg.BurstLimit = 2
	limiter, clock := newTestLimiter(cfg)

	admit(limiter, "gap")
	admit(limiter, "gap")

	clock.Advance(1100 * time.Millisecond)
	allowed, _ := admit(limiter, "gap")
	assert.True(t, allowed)

	stats, _ := limiter.ClientStats("gap")
	assert.Equal(t, 1, stats.BurstCount)
}

func TestMemoryLimiter_BurstBoundaryIsInclusive(t *testing.T) {
	cfg := testConfig()
	cfg.BurstLimit = 2
	limiter, clock := newTestLimiter(cfg)

	admit(limiter, "edge")
	admit(limiter, "edge")

	// Exactly one second after the last request the sub-window has not
	// elapsed yet.
	clock.Advance(time.Second)
	allowed, info := admit(limiter, "edge")
	assert.False(t, allowed)
	assert.Equal(t, ReasonBurst, info.Reason)
}

func TestMemoryLimiter_HourAndDayTiers(t *testing.T) {
	t.Run("hour", func(t *testing.T) {
		cfg := testConfig()
		cfg.RequestsPerHour = 5
		limiter, clock := newTestLimiter(cfg)

		for i := 0; i < 5; i++ {
			allowed, _ := admit(limiter, "h")
			require.True(t, allowed)
			clock.Advance(30 * time.Second)
		}
		allowed, info := admit(limiter, "h")
		assert.False(t, allowed)
		assert.Equal(t, ReasonHour, info.Reason)
	})

	t.Run("day", func(t *testing.T) {
		cfg := testConfig()
		cfg.RequestsPerDay = 4
		limiter, clock := newTestLimiter(cfg)

		for i := 0; i < 4; i++ {
			allowed, _ := admit(limiter, "d")
			require.True(t, allowed)
			clock.Advance(2 * time.Hour)
		}
		allowed, info := admit(limiter, "d")
		assert.False(t, allowed)
		assert.Equal(t, ReasonDay, info.Reason)

		// Once the oldest entries slide out the client recovers.
		clock.Advance(24 * time.Hour)
		allowed, _ = admit(limiter, "d")
		assert.True(t, allowed)
	})
}

func TestMemoryLimiter_IsAllowedDoesNotRecord(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerMinute = 2
	limiter, _ := newTestLimiter(cfg)

	for i := 0; i < 5; i++ {
		allowed, _ := limiter.IsAllowed("observer")
		assert.True(t, allowed)
	}

	stats, ok := limiter.ClientStats("observer")
	require.True(t, ok, "client should be created lazily on first observation")
	assert.Equal(t, int64(0), stats.TotalRequests)
	assert.Equal(t, 0, stats.MinuteCount)
}

func TestMemoryLimiter_InfoOnAllow(t *testing.T) {
	limiter, clock := newTestLimiter(testConfig())

	admit(limiter, "info")
	allowed, info := limiter.IsAllowed("info")
	require.True(t, allowed)

	now := clock.Now()
	assert.Equal(t, 60, info.Limit)
	assert.Equal(t, 59, info.Remaining)
	assert.Equal(t, now.Add(time.Minute), info.ResetAt)
	assert.Empty(t, info.Reason)
	assert.Equal(t, 999, info.Tier(TierHour).Remaining)
	assert.Equal(t, 9999, info.Tier(TierDay).Remaining)
	assert.Equal(t, now.Add(time.Hour), info.Tier(TierHour).ResetAt)
	assert.Equal(t, now.Add(24*time.Hour), info.Tier(TierDay).ResetAt)
	assert.Equal(t, TierInfo{}, info.Tier(Tier(7)))
}

func TestMemoryLimiter_WindowsNeverExceedCaps(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 5,
		RequestsPerHour:   7,
		RequestsPerDay:    9,
		BurstLimit:        100,
		BlockDuration:     time.Second,
	}
	limiter, clock := newTestLimiter(cfg)

	for i := 0; i < 200; i++ {
		admit(limiter, "cap")
		clock.Advance(700 * time.Millisecond)

		limiter.mu.Lock()
		c := limiter.clients["cap"]
		for _, tier := range Tiers {
			assert.LessOrEqual(t, c.windows[tier].Len(), cfg.Limit(tier))
		}
		limiter.mu.Unlock()
	}
}

func TestMemoryLimiter_ResetClient(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerMinute = 1
	limiter, _ := newTestLimiter(cfg)

	admit(limiter, "r")
	allowed, _ := admit(limiter, "r")
	require.False(t, allowed)

	assert.True(t, limiter.ResetClient("r"))

	allowed, _ = limiter.IsAllowed("r")
	assert.True(t, allowed)

	stats, _ := limiter.ClientStats("r")
	assert.False(t, stats.Blocked)
	assert.Equal(t, 0, stats.MinuteCount)
	assert.Equal(t, int64(1), stats.TotalRequests, "cumulative counters survive a reset")
	assert.Equal(t, int64(1), stats.TotalBlocked)
}

func TestMemoryLimiter_ResetUnknownClient(t *testing.T) {
	limiter, _ := newTestLimiter(testConfig())
	assert.False(t, limiter.ResetClient("nobody"))
}

func TestMemoryLimiter_BlockClient(t *testing.T) {
	limiter, clock := newTestLimiter(testConfig())

	until := limiter.BlockClient("manual", 0)
	assert.Equal(t, clock.Now().Add(300*time.Second), until)

	allowed, info := limiter.IsAllowed("manual")
	assert.False(t, allowed)
	assert.Equal(t, ReasonBlocked, info.Reason)

	until = limiter.BlockClient("manual", 10*time.Second)
	assert.Equal(t, clock.Now().Add(10*time.Second), until, "manual block overrides unconditionally")

	clock.Advance(10 * time.Second)
	allowed, _ = limiter.IsAllowed("manual")
	assert.True(t, allowed)
}

func TestMemoryLimiter_ClientStatsUnknown(t *testing.T) {
	limiter, _ := newTestLimiter(testConfig())
	_, ok := limiter.ClientStats("ghost")
	assert.False(t, ok)
}

func TestMemoryLimiter_GlobalStats(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerMinute = 2
	limiter, _ := newTestLimiter(cfg)

	empty := limiter.GlobalStats()
	assert.Equal(t, 0.0, empty.BlockRate)
	assert.Equal(t, cfg, empty.Config)

	admit(limiter, "a")
	admit(limiter, "a")
	admit(limiter, "a") // blocked
	admit(limiter, "b")
	admit(limiter, "b")

	stats := limiter.GlobalStats()
	assert.Equal(t, 2, stats.TrackedClients)
	assert.Equal(t, 1, stats.BlockedClients)
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalBlocked)
	assert.InDelta(t, 0.25, stats.BlockRate, 1e-9)

	assert.Equal(t, []string{"a", "b"}, limiter.Clients())
}

func TestMemoryLimiter_EvictsStaleClients(t *testing.T) {
	cfg := testConfig()
	cfg.BurstLimit = 1000
	cfg.RequestsPerMinute = 1000
	limiter, clock := newTestLimiter(cfg, WithCleanupEvery(10))

	admit(limiter, "stale")
	limiter.BlockClient("blocked", 48*time.Hour)

	clock.Advance(25 * time.Hour)
	for i := 0; i < 10; i++ {
		admit(limiter, "active")
	}

	assert.Equal(t, []string{"active", "blocked"}, limiter.Clients())
}

func TestMemoryLimiter_EvictionFollowsLastAdmittedRequest(t *testing.T) {
	cfg := testConfig()
	cfg.BurstLimit = 1000
	cfg.RequestsPerMinute = 1000
	limiter, clock := newTestLimiter(cfg, WithRetention(time.Hour), WithCleanupEvery(5))

	admit(limiter, "checker")
	clock.Advance(2 * time.Hour)

	// Checks without an admitted request do not keep a client alive.
	for i := 0; i < 3; i++ {
		allowed, _ := limiter.IsAllowed("checker")
		require.True(t, allowed)
	}
	for i := 0; i < 5; i++ {
		admit(limiter, "active")
	}

	assert.Equal(t, []string{"active"}, limiter.Clients())
}

func TestMemoryLimiter_GlobalTotalsSurviveEviction(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerMinute = 2
	cfg.RequestsPerHour = 1000
	limiter, clock := newTestLimiter(cfg, WithRetention(time.Hour), WithCleanupEvery(2))

	admit(limiter, "gone")
	admit(limiter, "gone")
	allowed, _ := admit(limiter, "gone")
	require.False(t, allowed)

	before := limiter.GlobalStats()
	assert.Equal(t, int64(2), before.TotalRequests)
	assert.Equal(t, int64(1), before.TotalBlocked)

	clock.Advance(2 * time.Hour)
	admit(limiter, "fresh")
	admit(limiter, "fresh")
	require.Equal(t, []string{"fresh"}, limiter.Clients())

	after := limiter.GlobalStats()
	assert.Equal(t, 1, after.TrackedClients)
	assert.Equal(t, int64(4), after.TotalRequests)
	assert.Equal(t, int64(1), after.TotalBlocked)
	assert.InDelta(t, 0.25, after.BlockRate, 1e-9)
}

func TestMemoryLimiter_SingleRequestClientStaysSmall(t *testing.T) {
	limiter, _ := newTestLimiter(DefaultConfig())

	admit(limiter, "once")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	allocated := 0
	for _, w := range limiter.clients["once"].windows {
		assert.Equal(t, 1, w.Len())
		allocated += w.allocated()
	}
	assert.LessOrEqual(t, allocated, tierCount*minWindowGrowth)
}

func TestMemoryLimiter_CleanupOnlyOnCadence(t *testing.T) {
	cfg := testConfig()
	cfg.BurstLimit = 1000
	cfg.RequestsPerMinute = 1000
	limiter, clock := newTestLimiter(cfg, WithRetention(time.Hour))

	admit(limiter, "old")
	clock.Advance(2 * time.Hour)
	for i := 0; i < 99; i++ {
		admit(limiter, "busy")
		clock.Advance(time.Second)
	}
	assert.Len(t, limiter.Clients(), 2, "no sweep before the 100th request")

	admit(limiter, "busy")
	assert.Equal(t, []string{"busy"}, limiter.Clients())
}

func TestMemoryLimiter_DifferentClientsAreIndependent(t *testing.T) {
	cfg := testConfig()
	cfg.BurstLimit = 2
	limiter, _ := newTestLimiter(cfg)

	admit(limiter, "key1")
	admit(limiter, "key1")
	allowed1, _ := admit(limiter, "key1")
	assert.False(t, allowed1)

	allowed2, _ := admit(limiter, "key2")
	assert.True(t, allowed2)
}

func TestMemoryLimiter_AdmitIsAtomic(t *testing.T) {
	cfg := Config{
		RequestsPerMinute: 100,
		RequestsPerHour:   1000,
		RequestsPerDay:    10000,
		BurstLimit:        1000,
		BlockDuration:     time.Minute,
	}
	limiter, _ := newTestLimiter(cfg)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 4; j++ {
				if ok, _ := limiter.Admit("shared"); ok {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), admitted.Load())
	stats, _ := limiter.ClientStats("shared")
	assert.Equal(t, int64(100), stats.TotalRequests)
	assert.Equal(t, 100, stats.MinuteCount)
}

func TestMemoryLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewMemoryLimiter(DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("client-%d", id%5)
			for j := 0; j < 20; j++ {
				admit(limiter, key)
				limiter.ClientStats(key)
				limiter.GlobalStats()
			}
		}(i)
	}
	wg.Wait()
	// No panics or data races -- run with -race flag
}

func TestMemoryLimiter_AdmitReportsRemainingAfterRecording(t *testing.T) {
	limiter, _ := newTestLimiter(testConfig())

	allowed, info := limiter.Admit("remaining")
	require.True(t, allowed)
	assert.Equal(t, 59, info.Remaining)
	assert.Equal(t, 999, info.Tier(TierHour).Remaining)
	assert.Equal(t, 9999, info.Tier(TierDay).Remaining)

	_, peek := limiter.IsAllowed("remaining")
	assert.Equal(t, 59, peek.Remaining, "IsAllowed reports the count before a new request")
}
