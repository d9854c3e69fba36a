package models

import (
	"time"

	"github.com/google/uuid"
)

// TimerStatus defines the lifecycle state of a challenge timer.
type TimerStatus string

const (
	TimerStatusActive    TimerStatus = "ACTIVE"
	TimerStatusCompleted TimerStatus = "COMPLETED"
)

// TimerKey identifies a challenge timer. There is at most one timer row per key.
type TimerKey struct {
	UserID      uuid.UUID
	ChallengeID uuid.UUID
}

func (k TimerKey) String() string {
	return k.UserID.String() + "/" + k.ChallengeID.String()
}

// ChallengeTimer is the per-user per-challenge countdown state machine row.
//
// Invariant: EndTime = StartTime + TimerLength + ExtensionsUsed*extension length.
// Generation distinguishes successive arm/cancel cycles for the same key; any
// scheduled callback carrying an older generation is stale and must not act.
type ChallengeTimer struct {
	ID                    uuid.UUID   `json:"id"`
	UserID                uuid.UUID   `json:"user_id"`
	ChallengeID           uuid.UUID   `json:"challenge_id"`
	TimerLength           int         `json:"timer_length_sec"`
	StartTime             time.Time   `json:"start_time"`
	EndTime               time.Time   `json:"end_time"`
	Status                TimerStatus `json:"status"`
	ExtensionsUsed        int         `json:"extensions_used"`
	OriginalBasePoints    int         `json:"original_base_points"`
	WarningMilestones     []int       `json:"warning_milestones"`
	WarningMilestonesSent []int       `json:"warning_milestones_sent"`
	LastWarningSent       *time.Time  `json:"last_warning_sent,omitempty"`
	Generation            uint64      `json:"generation"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// Key returns the timer's identity key.
func (t *ChallengeTimer) Key() TimerKey {
	return TimerKey{UserID: t.UserID, ChallengeID: t.ChallengeID}
}

// WarningSent reports whether the given milestone was already delivered for the
// current countdown.
func (t *ChallengeTimer) WarningSent(milestoneSec int) bool {
	for _, m := range t.WarningMilestonesSent {
		if m == milestoneSec {
			return true
		}
	}
	return false
}
