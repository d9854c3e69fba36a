package models

import "github.com/google/uuid"

// Reward is granted by the reward collaborator after a challenge completion.
type Reward struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	ScoreThreshold int       `json:"score_threshold"`
}
