// Package ratelimit provides per-client admission control using three
// sliding windows (minute, hour, day) plus a one-second burst counter.
// Any violation blocks the client for a fixed cool-down period across all
// tiers. State lives in process memory only.
package ratelimit

import (
	"errors"
	"time"
)

// Limiter defines the admission contract consumed by the HTTP pipeline.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// IsAllowed reports whether a request from clientID may proceed. It
	// never records the request; callers that are admitted must follow up
	// with RecordRequest exactly once.
	IsAllowed(clientID string) (allowed bool, info Info)

	// RecordRequest accounts an admitted request against every tier.
	RecordRequest(clientID string)

	// Admit performs IsAllowed and, when allowed, RecordRequest in a single
	// critical section.
	Admit(clientID string) (allowed bool, info Info)
}

// Admin is the operational surface exposed to monitoring and ops tooling.
type Admin interface {
	ClientStats(clientID string) (ClientStats, bool)
	GlobalStats() GlobalStats
	Clients() []string
	ResetClient(clientID string) bool
	BlockClient(clientID string, duration time.Duration) time.Time
}

// Denial reasons reported in Info.Reason.
const (
	ReasonBlocked = "client temporarily blocked"
	ReasonBurst   = "burst limit exceeded"
	ReasonMinute  = "per-minute limit exceeded"
	ReasonHour    = "per-hour limit exceeded"
	ReasonDay     = "per-day limit exceeded"
)

// Tier is one of the time granularities with an independent cap.
type Tier int

const (
	TierMinute Tier = iota
	TierHour
	TierDay

	tierCount = 3
)

// Tiers lists every tier in evaluation order.
var Tiers = [tierCount]Tier{TierMinute, TierHour, TierDay}

// Duration returns the length of the tier's window.
func (t Tier) Duration() time.Duration {
	switch t {
	case TierMinute:
		return time.Minute
	case TierHour:
		return time.Hour
	case TierDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

func (t Tier) String() string {
	switch t {
	case TierMinute:
		return "minute"
	case TierHour:
		return "hour"
	case TierDay:
		return "day"
	default:
		return "unknown"
	}
}

// reason returns the denial reason for a full window of this tier.
func (t Tier) reason() string {
	switch t {
	case TierMinute:
		return ReasonMinute
	case TierHour:
		return ReasonHour
	default:
		return ReasonDay
	}
}

// Config holds the immutable limits of a limiter instance.
type Config struct {
	RequestsPerMinute int           `json:"requests_per_minute"`
	RequestsPerHour   int           `json:"requests_per_hour"`
	RequestsPerDay    int           `json:"requests_per_day"`
	BurstLimit        int           `json:"burst_limit"`
	BlockDuration     time.Duration `json:"block_duration"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		RequestsPerHour:   1000,
		RequestsPerDay:    10000,
		BurstLimit:        10,
		BlockDuration:     300 * time.Second,
	}
}

// Validate rejects non-positive limits.
func (c Config) Validate() error {
	if c.RequestsPerMinute <= 0 {
		return errors.New("requests per minute must be positive")
	}
	if c.RequestsPerHour <= 0 {
		return errors.New("requests per hour must be positive")
	}
	if c.RequestsPerDay <= 0 {
		return errors.New("requests per day must be positive")
	}
	if c.BurstLimit <= 0 {
		return errors.New("burst limit must be positive")
	}
	if c.BlockDuration <= 0 {
		return errors.New("block duration must be positive")
	}
	return nil
}

// Limit returns the cap configured for a tier.
func (c Config) Limit(t Tier) int {
	switch t {
	case TierMinute:
		return c.RequestsPerMinute
	case TierHour:
		return c.RequestsPerHour
	case TierDay:
		return c.RequestsPerDay
	default:
		return 0
	}
}

// TierInfo describes the occupancy of one tier at decision time.
type TierInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Info contains admission state for populating response headers.
type Info struct {
	Limit      int           // Per-minute cap
	Remaining  int           // Requests left in the minute window, 0 when denied
	ResetAt    time.Time     // When the minute window resets
	RetryAfter time.Duration // How long to wait (meaningful only when denied)

	Reason       string              // Denial reason, empty when allowed
	BlockedUntil time.Time           // End of the active block, zero when not blocked
	NewlyBlocked bool                // This decision started a block
	Tiers        [tierCount]TierInfo // Indexed by Tier
}

// Tier returns the per-tier view of the decision.
func (i Info) Tier(t Tier) TierInfo {
	if t < 0 || int(t) >= tierCount {
		return TierInfo{}
	}
	return i.Tiers[t]
}

// consume accounts one admitted request in the remaining counts.
func (i *Info) consume() {
	i.Remaining = max(0, i.Remaining-1)
	for t := range i.Tiers {
		i.Tiers[t].Remaining = max(0, i.Tiers[t].Remaining-1)
	}
}
