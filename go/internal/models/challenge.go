package models

import (
	"time"

	"github.com/google/uuid"
)

// Journey represents an ordered sequence of challenges players progress through.
type Journey struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Challenge represents a single task within a journey, optionally time-limited.
// Points is the challenge's current price: timer extensions decrement it and a
// timer restart restores it, so it must never be treated as the original value.
type Challenge struct {
	ID           uuid.UUID `json:"id"`
	JourneyID    uuid.UUID `json:"journey_id"`
	JourneyIndex int       `json:"journey_index"`
	Name         string    `json:"name"`
	Points       int       `json:"points"`
	TimerLength  *int      `json:"timer_length_sec,omitempty"` // nil means no timer for this challenge
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasTimer reports whether the challenge is configured with a countdown timer.
func (c *Challenge) HasTimer() bool {
	return c.TimerLength != nil && *c.TimerLength > 0
}
