// Package ratelimit shares server-requested cooldowns between ingestion
// processes. When a host answers 429 Too Many Requests with a Retry-After,
// every client talking to that host waits the cooldown out before its next
// request.
package ratelimit

import (
	"time"
)

// RedisKeyPrefix is the prefix of per-host cooldown keys.
const RedisKeyPrefix = "etl:cooldown:"

// MaxCooldown caps how long a single Retry-After can pause a host.
const MaxCooldown = 5 * time.Minute

// CooldownState is the cooldown currently recorded for a host.
type CooldownState struct {
	// Host is the remote host the cooldown applies to.
	Host string `json:"host"`

	// Until is when requests may resume.
	Until time.Time `json:"until"`

	// StatusCode is the response that triggered the cooldown.
	StatusCode int `json:"status_code"`

	// LastUpdate is when the cooldown was recorded.
	LastUpdate time.Time `json:"last_update"`
}

// IsActive returns true while requests to the host should wait.
func (s *CooldownState) IsActive() bool {
	return s != nil && time.Now().Before(s.Until)
}

// TimeUntilReset returns the remaining cooldown.
// Returns 0 if the cooldown has already passed.
func (s *CooldownState) TimeUntilReset() time.Duration {
	if s == nil {
		return 0
	}
	duration := time.Until(s.Until)
	if duration < 0 {
		return 0
	}
	return duration
}

// IsStale returns true if the state is older than maxAge.
func (s *CooldownState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}
