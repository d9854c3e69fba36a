package gateway

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/questhunt/go/internal/hunt/events"
)

// HuntEvent represents the base structure for all events pushed to clients
type HuntEvent struct {
	ID        string          `json:"id"`        // Event UUID
	GroupID   string          `json:"group_id"`  // Group UUID, empty for solo players
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of hunt event
type EventType string

const (
	EventTypeTimerStarted     EventType = EventType(events.TypeTimerStarted)
	EventTypeTimerExtended    EventType = EventType(events.TypeTimerExtended)
	EventTypeTimerCompleted   EventType = EventType(events.TypeTimerCompleted)
	EventTypeTimerWarning     EventType = EventType(events.TypeTimerWarning)
	EventTypeChallengeUpdated EventType = EventType(events.TypeChallengeUpdated)
	EventTypeGroupProgress    EventType = EventType(events.TypeGroupProgress)
	EventTypeRewardEarned     EventType = EventType(events.TypeRewardEarned)

	// EventTypeCommandError reports a rejected client command back to the
	// requesting connection only; it never reaches the bus.
	EventTypeCommandError EventType = "CommandError"
)

// CommandErrorData is the Data payload of a CommandError event.
type CommandErrorData struct {
	RequestID string `json:"request_id,omitempty"`
	Action    string `json:"action"`
	Message   string `json:"message"`
}

// ParseEventPayload parses event data into the appropriate payload struct
func ParseEventPayload(event *HuntEvent) (interface{}, error) {
	switch event.Type {
	case EventTypeTimerStarted:
		var payload events.TimerStartedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeTimerExtended:
		var payload events.TimerExtendedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeTimerCompleted:
		var payload events.TimerCompletedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeTimerWarning:
		var payload events.TimerWarningPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeChallengeUpdated:
		var payload events.ChallengeUpdatedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeGroupProgress:
		var payload events.GroupProgressPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRewardEarned:
		var payload events.RewardEarnedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
