// Package budget implements a shared failure budget for portal calls.
// Exhausted items consume budget from a fixed window stored in Redis; when
// too much budget is burned, new calls are throttled and then blocked.
// This keeps a run with a dead credential or a struggling portal from
// hammering the endpoint from every worker at once.
package budget

import (
	"time"
)

// Redis keys for budget state storage.
const (
	RedisKeyRemaining      = "linecheck:budget:remaining"
	RedisKeyResetTimestamp = "linecheck:budget:reset_timestamp"
)

// Budget window parameters.
const (
	// WindowBudget is the number of exhausted items tolerated per window.
	WindowBudget = 100

	// WindowLength is the length of one budget window.
	WindowLength = 60 * time.Second

	// ThresholdCritical blocks all calls when remaining budget falls below
	// this value, until the window resets.
	ThresholdCritical = 5

	// ThresholdWarning throttles calls when remaining budget falls below
	// this value.
	ThresholdWarning = 20
)

// State represents the current failure budget window.
type State struct {
	// Remaining is the budget left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the current window ends and the budget refills.
	ResetAt time.Time `json:"reset_at"`
}

// NeedsCriticalBlock returns true if calls should be blocked.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical
}

// NeedsThrottling returns true if calls should be throttled.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock()
}

// Expired returns true if the window has ended and the budget should refill.
func (s *State) Expired() bool {
	return time.Now().After(s.ResetAt)
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}
