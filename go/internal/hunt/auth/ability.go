// Package auth models the capability checks the engine needs when one user
// acts on another user's resources (e.g. an operator overriding a player's
// timer). The full rule-based permission system lives outside this engine;
// callers pass an Actor in rather than relying on ambient context.
package auth

import "github.com/google/uuid"

type Action string

const (
	ActionOverrideTimers Action = "override_timers"
)

type Resource string

const (
	ResourceTimer Resource = "timer"
)

// Actor is whoever issued the request.
type Actor interface {
	UserID() uuid.UUID
	Can(action Action, resource Resource) bool
}

// Player is an ordinary participant: it can only act on its own resources.
type Player struct {
	ID uuid.UUID
}

func (p Player) UserID() uuid.UUID         { return p.ID }
func (p Player) Can(Action, Resource) bool { return false }

// CapabilityActor carries an explicit grant set, for operator tooling.
type CapabilityActor struct {
	ID     uuid.UUID
	Grants map[Action][]Resource
}

func (a CapabilityActor) UserID() uuid.UUID { return a.ID }

func (a CapabilityActor) Can(action Action, resource Resource) bool {
	for _, r := range a.Grants[action] {
		if r == resource {
			return true
		}
	}
	return false
}
