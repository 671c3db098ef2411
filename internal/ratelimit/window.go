package ratelimit

import "time"

// minWindowGrowth is the backing size allocated on the first Add.
const minWindowGrowth = 4

// RateWindow is a bounded ring of request timestamps in arrival order.
// Entries older than the window duration are dropped lazily when the window
// is read. Adding to a full window evicts the oldest entry, so the window
// never holds more than its capacity. Storage grows with use and is released
// once the window drains.
type RateWindow struct {
	duration time.Duration
	capacity int
	entries  []time.Time
	head     int
	size     int
}

// NewRateWindow creates a window holding at most capacity timestamps that
// are younger than duration. Nothing is allocated until the first Add.
func NewRateWindow(capacity int, duration time.Duration) *RateWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &RateWindow{
		duration: duration,
		capacity: capacity,
	}
}

// Cap returns the maximum number of entries.
func (w *RateWindow) Cap() int {
	return w.capacity
}

// Len returns the number of entries without pruning.
func (w *RateWindow) Len() int {
	return w.size
}

// Count prunes stale entries relative to now and returns the occupancy.
func (w *RateWindow) Count(now time.Time) int {
	w.prune(now)
	return w.size
}

// Add appends t, evicting the oldest entry when full.
func (w *RateWindow) Add(t time.Time) {
	if w.size == len(w.entries) {
		if len(w.entries) == w.capacity {
			w.entries[w.head] = t
			w.head = (w.head + 1) % len(w.entries)
			return
		}
		w.grow()
	}
	w.entries[(w.head+w.size)%len(w.entries)] = t
	w.size++
}

// grow doubles the backing ring up to capacity, unwrapping it so the
// oldest entry lands at index zero.
func (w *RateWindow) grow() {
	n := max(minWindowGrowth, 2*len(w.entries))
	n = min(n, w.capacity)

	entries := make([]time.Time, n)
	copied := copy(entries, w.entries[w.head:])
	copy(entries[copied:], w.entries[:w.head])
	w.entries = entries
	w.head = 0
}

// Oldest returns the earliest retained timestamp.
func (w *RateWindow) Oldest() (time.Time, bool) {
	if w.size == 0 {
		return time.Time{}, false
	}
	return w.entries[w.head], true
}

// Reset drops every entry and releases the backing storage.
func (w *RateWindow) Reset() {
	w.entries = nil
	w.head = 0
	w.size = 0
}

// allocated reports the length of the backing ring.
func (w *RateWindow) allocated() int {
	return len(w.entries)
}

// prune drops entries that are no longer within duration of now.
func (w *RateWindow) prune(now time.Time) {
	cutoff := now.Add(-w.duration)
	for w.size > 0 && !w.entries[w.head].After(cutoff) {
		w.entries[w.head] = time.Time{}
		w.head = (w.head + 1) % len(w.entries)
		w.size--
	}
	if w.size == 0 {
		w.Reset()
	}
}
