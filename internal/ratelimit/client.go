package ratelimit

import "time"

// burstWindow is the sub-window over which burstCount is measured.
const burstWindow = time.Second

// ClientState is the per-client aggregate tracked by MemoryLimiter. It is
// not safe for concurrent use; the owning limiter serializes access.
type ClientState struct {
	windows      [tierCount]*RateWindow
	burstCount   int
	lastRequest  time.Time
	blockedUntil time.Time

	totalRequests int64
	totalBlocked  int64
}

func newClientState(cfg Config) *ClientState {
	c := &ClientState{}
	for _, t := range Tiers {
		c.windows[t] = NewRateWindow(cfg.Limit(t), t.Duration())
	}
	return c
}

// burst returns the burst count still inside the one-second sub-window.
// The count resets wholesale once more than a second has passed since the
// last recorded request; it does not decay continuously.
func (c *ClientState) burst(now time.Time) int {
	if now.Sub(c.lastRequest) > burstWindow {
		return 0
	}
	return c.burstCount
}

func (c *ClientState) blocked(now time.Time) bool {
	return now.Before(c.blockedUntil)
}

func (c *ClientState) block(now time.Time, d time.Duration) {
	c.blockedUntil = now.Add(d)
}

func (c *ClientState) record(now time.Time) {
	for _, w := range c.windows {
		w.Add(now)
	}
	if now.Sub(c.lastRequest) > burstWindow {
		c.burstCount = 0
	}
	c.burstCount++
	c.lastRequest = now
	c.totalRequests++
}

func (c *ClientState) reset() {
	c.blockedUntil = time.Time{}
	c.burstCount = 0
	for _, w := range c.windows {
		w.Reset()
	}
}

// tierInfo fills the per-tier occupancy view, pruning as a side effect.
func (c *ClientState) tierInfo(cfg Config, now time.Time) [tierCount]TierInfo {
	var out [tierCount]TierInfo
	for _, t := range Tiers {
		limit := cfg.Limit(t)
		out[t] = TierInfo{
			Limit:     limit,
			Remaining: max(0, limit-c.windows[t].Count(now)),
			ResetAt:   now.Add(t.Duration()),
		}
	}
	return out
}
