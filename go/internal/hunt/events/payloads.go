package events

import (
	"time"
)

// Event payload types that are shared between the timer engine, progression,
// outbox, and gateway packages.

// Event type names as they appear on the bus and over WebSocket.
const (
	TypeTimerStarted     = "TimerStarted"
	TypeTimerExtended    = "TimerExtended"
	TypeTimerCompleted   = "TimerCompleted"
	TypeTimerWarning     = "TimerWarning"
	TypeChallengeUpdated = "ChallengeUpdated"
	TypeGroupProgress    = "GroupProgress"
	TypeRewardEarned     = "RewardEarned"
)

// TimerStartedPayload is the payload for a TimerStarted event
type TimerStartedPayload struct {
	TimerID        string    `json:"timer_id"`
	ChallengeID    string    `json:"challenge_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	TimerLengthSec int       `json:"timer_length_sec"`
	ExtensionsUsed int       `json:"extensions_used"`
}

// TimerExtendedPayload is the payload for a TimerExtended event
type TimerExtendedPayload struct {
	TimerID        string    `json:"timer_id"`
	ChallengeID    string    `json:"challenge_id"`
	NewEndTime     time.Time `json:"new_end_time"`
	ExtensionsUsed int       `json:"extensions_used"`
	ExtensionCost  int       `json:"extension_cost"`
}

// TimerCompletedPayload is the payload for a TimerCompleted event
type TimerCompletedPayload struct {
	TimerID            string    `json:"timer_id"`
	ChallengeID        string    `json:"challenge_id"`
	ChallengeCompleted bool      `json:"challenge_completed"`
	CompletedAt        time.Time `json:"completed_at"`
	AutoCompleted      bool      `json:"auto_completed"`
}

// TimerWarningPayload is the payload for a TimerWarning event
type TimerWarningPayload struct {
	ChallengeID      string    `json:"challenge_id"`
	MilestoneSec     int       `json:"milestone_sec"`
	TimeRemainingSec int       `json:"time_remaining_sec"`
	SentAt           time.Time `json:"sent_at"`
}

// ChallengeUpdatedPayload is the payload for a ChallengeUpdated event, emitted
// when the engine mutates a challenge's price (extension spend or restart
// restore).
type ChallengeUpdatedPayload struct {
	ChallengeID string `json:"challenge_id"`
	Points      int    `json:"points"`
}

// MemberProgress is one group member's progress inside a GroupProgress event.
type MemberProgress struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Points         int    `json:"points"`
	Host           bool   `json:"host"`
	CurChallengeID string `json:"cur_challenge_id"` // empty once the journey is complete
}

// GroupProgressPayload is the payload for a GroupProgress event, fanned out to
// every member of the acting user's group.
type GroupProgressPayload struct {
	GroupID      string           `json:"group_id"`
	CurJourneyID string           `json:"cur_journey_id"`
	Members      []MemberProgress `json:"members"`
}

// RewardEarnedPayload is the payload for a RewardEarned event
type RewardEarnedPayload struct {
	RewardID    string    `json:"reward_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	EarnedAt    time.Time `json:"earned_at"`
}
