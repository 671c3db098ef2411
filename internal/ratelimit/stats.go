package ratelimit

import "time"

// ClientStats is a read-only snapshot of one client.
type ClientStats struct {
	ClientID      string    `json:"client_id"`
	TotalRequests int64     `json:"total_requests"`
	TotalBlocked  int64     `json:"total_blocked"`
	MinuteCount   int       `json:"minute_count"`
	HourCount     int       `json:"hour_count"`
	DayCount      int       `json:"day_count"`
	BurstCount    int       `json:"burst_count"`
	Blocked       bool      `json:"blocked"`
	BlockedUntil  time.Time `json:"blocked_until,omitzero"`
	LastRequest   time.Time `json:"last_request,omitzero"`
}

// GlobalStats is a limiter-wide snapshot.
type GlobalStats struct {
	TrackedClients int     `json:"tracked_clients"`
	BlockedClients int     `json:"blocked_clients"`
	TotalRequests  int64   `json:"total_requests"`
	TotalBlocked   int64   `json:"total_blocked"`
	BlockRate      float64 `json:"block_rate"`
	Config         Config  `json:"config"`
}

// ClientStats returns a snapshot for clientID, or false if it is unknown.
func (m *MemoryLimiter) ClientStats(clientID string) (ClientStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[clientID]
	if !ok {
		return ClientStats{}, false
	}

	now := m.now()
	stats := ClientStats{
		ClientID:      clientID,
		TotalRequests: c.totalRequests,
		TotalBlocked:  c.totalBlocked,
		MinuteCount:   c.windows[TierMinute].Count(now),
		HourCount:     c.windows[TierHour].Count(now),
		DayCount:      c.windows[TierDay].Count(now),
		BurstCount:    c.burst(now),
		Blocked:       c.blocked(now),
		LastRequest:   c.lastRequest,
	}
	if stats.Blocked {
		stats.BlockedUntil = c.blockedUntil
	}
	return stats, true
}

// GlobalStats reports lifetime totals alongside the currently tracked and
// blocked clients. BlockRate is totalBlocked / totalRequests, or 0 before any
// request was recorded.
func (m *MemoryLimiter) GlobalStats() GlobalStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stats := GlobalStats{
		TrackedClients: len(m.clients),
		TotalRequests:  m.totalRequests,
		TotalBlocked:   m.totalBlocked,
		Config:         m.cfg,
	}
	for _, c := range m.clients {
		if c.blocked(now) {
			stats.BlockedClients++
		}
	}
	if stats.TotalRequests > 0 {
		stats.BlockRate = float64(stats.TotalBlocked) / float64(stats.TotalRequests)
	}
	return stats
}
