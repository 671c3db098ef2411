package ratelimit

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	defaultRetention    = 24 * time.Hour
	defaultCleanupEvery = 100
)

// Option customizes a MemoryLimiter.
type Option func(*MemoryLimiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *MemoryLimiter) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRetention sets how long an idle client is kept before eviction.
func WithRetention(d time.Duration) Option {
	return func(m *MemoryLimiter) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithCleanupEvery sets how many recorded requests of a single client
// trigger a sweep of stale clients.
func WithCleanupEvery(n int) Option {
	return func(m *MemoryLimiter) {
		if n > 0 {
			m.cleanupEvery = n
		}
	}
}

// MemoryLimiter is an in-memory sliding-window limiter. A single mutex
// guards the client map and every ClientState; each operation is a short
// critical section proportional to the number of tiers. Stale clients are
// evicted opportunistically from RecordRequest rather than by a background
// goroutine.
type MemoryLimiter struct {
	cfg          Config
	now          func() time.Time
	retention    time.Duration
	cleanupEvery int

	mu      sync.Mutex
	clients map[string]*ClientState

	// Lifetime totals; unaffected by eviction.
	totalRequests int64
	totalBlocked  int64
}

// NewMemoryLimiter creates a limiter with the given configuration.
func NewMemoryLimiter(cfg Config, opts ...Option) *MemoryLimiter {
	m := &MemoryLimiter{
		cfg:          cfg,
		now:          time.Now,
		retention:    defaultRetention,
		cleanupEvery: defaultCleanupEvery,
		clients:      make(map[string]*ClientState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the limiter's configuration.
func (m *MemoryLimiter) Config() Config {
	return m.cfg
}

// IsAllowed checks whether a request from clientID may proceed.
func (m *MemoryLimiter) IsAllowed(clientID string) (bool, Info) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decide(clientID, m.now())
}

// RecordRequest accounts an admitted request for clientID.
func (m *MemoryLimiter) RecordRequest(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(clientID, m.now())
}

// Admit decides and, when allowed, records in one critical section. The
// returned remaining counts already include the admitted request.
func (m *MemoryLimiter) Admit(clientID string) (bool, Info) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	allowed, info := m.decide(clientID, now)
	if allowed {
		m.record(clientID, now)
		info.consume()
	}
	return allowed, info
}

// decide evaluates the admission rules in precedence order. Caller must
// hold m.mu.
func (m *MemoryLimiter) decide(clientID string, now time.Time) (bool, Info) {
	c := m.client(clientID)

	info := Info{
		Limit: m.cfg.RequestsPerMinute,
		Tiers: c.tierInfo(m.cfg, now),
	}
	info.ResetAt = info.Tiers[TierMinute].ResetAt

	if c.blocked(now) {
		info.Reason = ReasonBlocked
		info.RetryAfter = c.blockedUntil.Sub(now)
		info.BlockedUntil = c.blockedUntil
		return false, info
	}

	reason := ""
	if c.burst(now) >= m.cfg.BurstLimit {
		reason = ReasonBurst
	} else {
		for _, t := range Tiers {
			if info.Tiers[t].Remaining <= 0 {
				reason = t.reason()
				break
			}
		}
	}

	if reason != "" {
		c.block(now, m.cfg.BlockDuration)
		c.totalBlocked++
		m.totalBlocked++
		info.Reason = reason
		info.RetryAfter = m.cfg.BlockDuration
		info.BlockedUntil = c.blockedUntil
		info.NewlyBlocked = true
		return false, info
	}

	info.Remaining = info.Tiers[TierMinute].Remaining
	return true, info
}

// record applies an admitted request. Caller must hold m.mu.
func (m *MemoryLimiter) record(clientID string, now time.Time) {
	c := m.client(clientID)
	c.record(now)
	m.totalRequests++

	if c.totalRequests%int64(m.cleanupEvery) == 0 {
		if n := m.evictStale(now); n > 0 {
			slog.Debug("Evicted stale rate limit clients", "count", n)
		}
	}
}

// client returns the state for clientID, creating it on first sight.
// Caller must hold m.mu.
func (m *MemoryLimiter) client(clientID string) *ClientState {
	c, ok := m.clients[clientID]
	if !ok {
		c = newClientState(m.cfg)
		m.clients[clientID] = c
	}
	return c
}

// evictStale removes clients whose last admitted request is older than the
// retention horizon. Clients with an active block are kept so the block is
// not forgotten. Caller must hold m.mu.
func (m *MemoryLimiter) evictStale(now time.Time) int {
	cutoff := now.Add(-m.retention)
	evicted := 0
	for id, c := range m.clients {
		if c.lastRequest.Before(cutoff) && !c.blocked(now) {
			delete(m.clients, id)
			evicted++
		}
	}
	return evicted
}

// ResetClient clears the block, burst counter and windows of a known
// client. Cumulative counters are kept.
func (m *MemoryLimiter) ResetClient(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[clientID]
	if !ok {
		return false
	}
	c.reset()
	return true
}

// BlockClient blocks clientID for duration regardless of its usage. A
// non-positive duration uses the configured block duration.
func (m *MemoryLimiter) BlockClient(clientID string, duration time.Duration) time.Time {
	if duration <= 0 {
		duration = m.cfg.BlockDuration
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	c := m.client(clientID)
	c.block(now, duration)
	return c.blockedUntil
}

// Clients returns the tracked client identifiers in sorted order.
func (m *MemoryLimiter) Clients() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sort.Strings(ids)
	return ids
}
