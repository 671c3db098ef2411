package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateWindow_NeverExceedsCapacity(t *testing.T) {
	w := NewRateWindow(3, time.Minute)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		w.Add(base.Add(time.Duration(i) * time.Millisecond))
		assert.LessOrEqual(t, w.Len(), w.Cap())
	}

	oldest, ok := w.Oldest()
	assert.True(t, ok)
	assert.Equal(t, base.Add(7*time.Millisecond), oldest, "oldest entries should be evicted first")
}

func TestRateWindow_PrunesLazily(t *testing.T) {
	w := NewRateWindow(5, time.Minute)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	w.Add(base)
	w.Add(base.Add(30 * time.Second))
	w.Add(base.Add(45 * time.Second))

	assert.Equal(t, 3, w.Len())
	assert.Equal(t, 3, w.Count(base.Add(59*time.Second)))
	assert.Equal(t, 3, w.Len())

	// An entry exactly one duration old is no longer within the window.
	assert.Equal(t, 2, w.Count(base.Add(time.Minute)))
	assert.Equal(t, 1, w.Count(base.Add(90*time.Second)))
	assert.Equal(t, 0, w.Count(base.Add(2*time.Minute)))

	_, ok := w.Oldest()
	assert.False(t, ok)
}

func TestRateWindow_WrapsAround(t *testing.T) {
	w := NewRateWindow(2, time.Second)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		w.Add(base.Add(time.Duration(i) * time.Second))
	}
	assert.Equal(t, 2, w.Len())
	assert.Equal(t, 1, w.Count(base.Add(4500*time.Millisecond)))

	w.Add(base.Add(4700 * time.Millisecond))
	assert.Equal(t, 2, w.Count(base.Add(4800*time.Millisecond)))
}

func TestRateWindow_Reset(t *testing.T) {
	w := NewRateWindow(2, time.Minute)
	now := time.Now()
	w.Add(now)
	w.Add(now)

	w.Reset()
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, 2, w.Cap())
}

func TestNewRateWindow_MinimumCapacity(t *testing.T) {
	w := NewRateWindow(0, time.Minute)
	assert.Equal(t, 1, w.Cap())
}

func TestRateWindow_AllocatesOnDemand(t *testing.T) {
	w := NewRateWindow(10000, 24*time.Hour)
	assert.Zero(t, w.allocated(), "an unused window holds no storage")

	w.Add(time.Now())
	assert.Equal(t, 1, w.Len())
	assert.Equal(t, 10000, w.Cap())
	assert.LessOrEqual(t, w.allocated(), minWindowGrowth)
}

func TestRateWindow_GrowsAfterWrapKeepingOrder(t *testing.T) {
	w := NewRateWindow(16, time.Minute)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	// Fill the first ring, then drain two so head moves past zero.
	for i := 0; i < minWindowGrowth; i++ {
		w.Add(base.Add(time.Duration(i) * time.Second))
	}
	now := base.Add(time.Minute + 1500*time.Millisecond)
	assert.Equal(t, 2, w.Count(now))

	// Wrap around, then force a grow while the ring is wrapped.
	for i := 0; i < 5; i++ {
		w.Add(base.Add(time.Minute + time.Duration(10+i)*time.Second))
	}
	assert.Equal(t, 7, w.Len())
	assert.Greater(t, w.allocated(), minWindowGrowth)

	oldest, ok := w.Oldest()
	assert.True(t, ok)
	assert.Equal(t, base.Add(2*time.Second), oldest)

	// Entries leave in arrival order.
	assert.Equal(t, 6, w.Count(base.Add(time.Minute+2*time.Second)))
	oldest, _ = w.Oldest()
	assert.Equal(t, base.Add(3*time.Second), oldest)
	assert.Equal(t, 5, w.Count(base.Add(time.Minute+3*time.Second)))
	oldest, _ = w.Oldest()
	assert.Equal(t, base.Add(time.Minute+10*time.Second), oldest)
}

func TestRateWindow_GrowthStopsAtCapacity(t *testing.T) {
	w := NewRateWindow(6, time.Hour)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		w.Add(base.Add(time.Duration(i) * time.Second))
	}
	assert.Equal(t, 6, w.allocated())
	assert.Equal(t, 6, w.Len())
	oldest, _ := w.Oldest()
	assert.Equal(t, base.Add(14*time.Second), oldest)
}

func TestRateWindow_DrainReleasesStorage(t *testing.T) {
	w := NewRateWindow(100, time.Second)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		w.Add(base)
	}
	assert.Equal(t, 0, w.Count(base.Add(time.Second)))
	assert.Zero(t, w.allocated())
}
