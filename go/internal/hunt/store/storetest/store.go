// Package storetest provides an in-memory Store implementation for package
// tests. Transactions are copy-on-write: a WithinTx callback operates on a
// snapshot that only replaces live state when the callback succeeds.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/questhunt/go/internal/hunt/store"
	"github.com/mcdev12/questhunt/go/internal/models"
)

type state struct {
	challenges map[uuid.UUID]*models.Challenge
	timers     map[models.TimerKey]*models.ChallengeTimer
	trackers   map[uuid.UUID]map[uuid.UUID]*models.JourneyTracker // userID -> journeyID -> tracker
	groups     []*models.Group
	outbox     []store.OutboxEvent
}

func newState() *state {
	return &state{
		challenges: make(map[uuid.UUID]*models.Challenge),
		timers:     make(map[models.TimerKey]*models.ChallengeTimer),
		trackers:   make(map[uuid.UUID]map[uuid.UUID]*models.JourneyTracker),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, ch := range s.challenges {
		c.challenges[id] = copyChallenge(ch)
	}
	for key, t := range s.timers {
		c.timers[key] = copyTimer(t)
	}
	for userID, byJourney := range s.trackers {
		c.trackers[userID] = make(map[uuid.UUID]*models.JourneyTracker, len(byJourney))
		for journeyID, tr := range byJourney {
			c.trackers[userID][journeyID] = copyTracker(tr)
		}
	}
	c.groups = append(c.groups, s.groups...)
	c.outbox = append(c.outbox, s.outbox...)
	return c
}

// Store is an in-memory store.Store.
type Store struct {
	mu sync.Mutex
	st *state

	// FailNext, when non-nil, is returned by the next WithinTx call.
	FailNext error
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{st: newState()}
}

var _ store.Store = (*Store)(nil)

// WithinTx runs fn against a snapshot and commits it on success.
func (s *Store) WithinTx(ctx context.Context, fn func(q store.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNext != nil {
		err := s.FailNext
		s.FailNext = nil
		return err
	}

	snapshot := s.st.clone()
	if err := fn(&queries{st: snapshot}); err != nil {
		return err
	}
	s.st = snapshot
	return nil
}

// Seed helpers ---------------------------------------------------------------

func (s *Store) AddChallenge(c *models.Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.challenges[c.ID] = copyChallenge(c)
}

func (s *Store) AddTracker(t *models.JourneyTracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byJourney, ok := s.st.trackers[t.UserID]
	if !ok {
		byJourney = make(map[uuid.UUID]*models.JourneyTracker)
		s.st.trackers[t.UserID] = byJourney
	}
	byJourney[t.JourneyID] = copyTracker(t)
}

func (s *Store) AddGroup(g *models.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.groups = append(s.st.groups, g)
}

// Events returns all outbox events inserted so far, in order.
func (s *Store) Events() []store.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.OutboxEvent, len(s.st.outbox))
	copy(out, s.st.outbox)
	return out
}

// EventsOfType returns outbox events of one type, in order.
func (s *Store) EventsOfType(eventType string) []store.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.OutboxEvent
	for _, ev := range s.st.outbox {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Direct (non-transactional) query methods -----------------------------------

func (s *Store) GetChallenge(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{st: s.st}).GetChallenge(ctx, id)
}

func (s *Store) ListJourneyChallenges(ctx context.Context, journeyID uuid.UUID) ([]*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{st: s.st}).ListJourneyChallenges(ctx, journeyID)
}

func (s *Store) UpdateChallengePoints(ctx context.Context, id uuid.UUID, points int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{st: s.st}).UpdateChallengePoints(ctx, id, points)
}

func (s *Store) GetTimer(ctx context.Context, key models.TimerKey) (*models.ChallengeTimer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{st: s.st}).GetTimer(ctx, key)
}

func (s *Store) UpsertTimer(ctx context.Context, timer *models.ChallengeTimer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{st: s.st}).UpsertTimer(ctx, timer)
}

func (s *Store) ListActiveTimers(ctx context.Context) ([]*models.ChallengeTimer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{st: s.st}).ListActiveTimers(ctx)
}

func (s *Store) GetTracker(ctx context.Context, userID, journeyID uuid.UUID) (*models.JourneyTracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{st: s.st}).GetTracker(ctx, userID, journeyID)
}

func (s *Store) SaveTracker(ctx context.Context, tracker *models.JourneyTracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{st: s.st}).SaveTracker(ctx, tracker)
}

func (s *Store) GetGroupForUser(ctx context.Context, userID uuid.UUID) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{st: s.st}).GetGroupForUser(ctx, userID)
}

func (s *Store) InsertOutbox(ctx context.Context, event store.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{st: s.st}).InsertOutbox(ctx, event)
}

func (s *Store) FetchUnsentOutbox(ctx context.Context, limit int32) ([]store.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{st: s.st}).FetchUnsentOutbox(ctx, limit)
}

func (s *Store) MarkOutboxSent(ctx context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{st: s.st}).MarkOutboxSent(ctx, ids)
}

func (s *Store) DeleteSentOutboxBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{st: s.st}).DeleteSentOutboxBefore(ctx, cutoff)
}
