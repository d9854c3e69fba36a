package models

import (
	"time"

	"github.com/google/uuid"
)

// JourneyTracker is the per-user per-journey progress record. It is the sole
// authority on what challenge the player is currently on.
//
// CurChallengeID is uuid.Nil once the player has finished every challenge in
// the journey.
type JourneyTracker struct {
	ID                    uuid.UUID   `json:"id"`
	UserID                uuid.UUID   `json:"user_id"`
	JourneyID             uuid.UUID   `json:"journey_id"`
	CurChallengeID        uuid.UUID   `json:"cur_challenge_id"`
	Score                 int         `json:"score"`
	CompletedChallengeIDs []uuid.UUID `json:"completed_challenge_ids"`
	CooldownMinimum       *time.Time  `json:"cooldown_minimum,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// JourneyComplete reports whether the player has finished the journey.
func (t *JourneyTracker) JourneyComplete() bool {
	return t.CurChallengeID == uuid.Nil
}

// Completed reports whether the given challenge was already recorded as done.
func (t *JourneyTracker) Completed(challengeID uuid.UUID) bool {
	for _, id := range t.CompletedChallengeIDs {
		if id == challengeID {
			return true
		}
	}
	return false
}

// InCooldown reports whether points are still frozen at the given instant.
func (t *JourneyTracker) InCooldown(now time.Time) bool {
	return t.CooldownMinimum != nil && now.Before(*t.CooldownMinimum)
}
