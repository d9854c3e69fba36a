package timer

import (
	"time"
)

// Config tunes the timer engine.
type Config struct {
	// ExtensionLength is the time one extension adds.
	ExtensionLength time.Duration
	// ExtensionCostDivisor derives the per-extension cost from the original
	// base points: cost = base / divisor (floor).
	ExtensionCostDivisor int
	// WarningMilestones are seconds-before-expiry thresholds, descending.
	WarningMilestones []int
	// EarlyBuffer is how far before a milestone's exact instant its callback
	// is armed, absorbing scheduling jitter.
	EarlyBuffer time.Duration
	// WarningWindow bounds how far a firing warning may drift from its
	// milestone before it is dropped as stale.
	WarningWindow time.Duration
	// LateGuard drops warnings firing more than this after their milestone.
	LateGuard time.Duration
	// StoreTimeout bounds every store round-trip.
	StoreTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ExtensionLength:      5 * time.Minute,
		ExtensionCostDivisor: 4,
		WarningMilestones:    []int{300, 60, 30},
		EarlyBuffer:          1500 * time.Millisecond,
		WarningWindow:        5 * time.Second,
		LateGuard:            3 * time.Second,
		StoreTimeout:         5 * time.Second,
	}
}

// StartResult is the snapshot returned by StartTimer.
type StartResult struct {
	TimerID        string    `json:"timer_id"`
	ChallengeID    string    `json:"challenge_id"`
	EndTime        time.Time `json:"end_time"`
	ExtensionsUsed int       `json:"extensions_used"`
}

// ExtendResult is the snapshot returned by ExtendTimer.
type ExtendResult struct {
	TimerID        string    `json:"timer_id"`
	ChallengeID    string    `json:"challenge_id"`
	NewEndTime     time.Time `json:"new_end_time"`
	ExtensionsUsed int       `json:"extensions_used"`
	ExtensionCost  int       `json:"extension_cost"`
}

// CompleteResult is the snapshot returned by CompleteTimer.
type CompleteResult struct {
	TimerID            string `json:"timer_id"`
	ChallengeID        string `json:"challenge_id"`
	ChallengeCompleted bool   `json:"challenge_completed"`
}
