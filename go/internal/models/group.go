package models

import (
	"time"

	"github.com/google/uuid"
)

// GroupMember is one player in a group. Exactly one member is the host.
type GroupMember struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	IsHost bool      `json:"is_host"`
}

// Group is the broadcast fan-out target. The engine never mutates groups; it
// only reads the member list and the group's current journey.
type Group struct {
	ID           uuid.UUID     `json:"id"`
	CurJourneyID uuid.UUID     `json:"cur_journey_id"`
	Members      []GroupMember `json:"members"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Host returns the designated host member, if any.
func (g *Group) Host() *GroupMember {
	for i := range g.Members {
		if g.Members[i].IsHost {
			return &g.Members[i]
		}
	}
	return nil
}
