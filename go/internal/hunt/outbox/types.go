package outbox

import (
	"context"

	"github.com/mcdev12/questhunt/go/internal/hunt/store"
)

// EventPublisher delivers an outbox row to the event stream.
type EventPublisher interface {
	Publish(ctx context.Context, event store.OutboxEvent) error
}
