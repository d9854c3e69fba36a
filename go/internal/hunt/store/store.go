package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/questhunt/go/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// OutboxEvent is one row of the transactional outbox. Events are inserted in
// the same transaction as the state change they describe and published to the
// bus by the outbox worker.
//
// TargetUserID is uuid.Nil for group-scoped events; otherwise the gateway
// delivers the event only to that user's connections.
type OutboxEvent struct {
	ID           uuid.UUID
	EventType    string
	GroupID      uuid.UUID
	TargetUserID uuid.UUID
	Payload      []byte
	CreatedAt    time.Time
	SentAt       *time.Time
}

// Queries is the set of data-access operations available both directly and
// inside a transaction.
type Queries interface {
	GetChallenge(ctx context.Context, id uuid.UUID) (*models.Challenge, error)
	ListJourneyChallenges(ctx context.Context, journeyID uuid.UUID) ([]*models.Challenge, error)
	UpdateChallengePoints(ctx context.Context, id uuid.UUID, points int) error

	GetTimer(ctx context.Context, key models.TimerKey) (*models.ChallengeTimer, error)
	UpsertTimer(ctx context.Context, timer *models.ChallengeTimer) error
	ListActiveTimers(ctx context.Context) ([]*models.ChallengeTimer, error)

	GetTracker(ctx context.Context, userID, journeyID uuid.UUID) (*models.JourneyTracker, error)
	SaveTracker(ctx context.Context, tracker *models.JourneyTracker) error

	GetGroupForUser(ctx context.Context, userID uuid.UUID) (*models.Group, error)

	InsertOutbox(ctx context.Context, event OutboxEvent) error
	FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error)
	MarkOutboxSent(ctx context.Context, ids []uuid.UUID) error
	DeleteSentOutboxBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is the canonical durable state interface for the engine. The in-memory
// scheduler is a cache rebuilt from this store, never the source of truth.
type Store interface {
	Queries

	// WithinTx runs fn against a transaction-bound Queries. If fn returns an
	// error every change made through q rolls back.
	WithinTx(ctx context.Context, fn func(q Queries) error) error
}
