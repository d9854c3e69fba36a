package storetest

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/questhunt/go/internal/hunt/store"
	"github.com/mcdev12/questhunt/go/internal/models"
)

// queries implements store.Queries against one state snapshot.
type queries struct {
	st *state
}

var _ store.Queries = (*queries)(nil)

func (q *queries) GetChallenge(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	c, ok := q.st.challenges[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyChallenge(c), nil
}

func (q *queries) ListJourneyChallenges(ctx context.Context, journeyID uuid.UUID) ([]*models.Challenge, error) {
	var out []*models.Challenge
	for _, c := range q.st.challenges {
		if c.JourneyID == journeyID {
			out = append(out, copyChallenge(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JourneyIndex < out[j].JourneyIndex })
	return out, nil
}

func (q *queries) UpdateChallengePoints(ctx context.Context, id uuid.UUID, points int) error {
	c, ok := q.st.challenges[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Points = points
	return nil
}

func (q *queries) GetTimer(ctx context.Context, key models.TimerKey) (*models.ChallengeTimer, error) {
	t, ok := q.st.timers[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyTimer(t), nil
}

func (q *queries) UpsertTimer(ctx context.Context, timer *models.ChallengeTimer) error {
	q.st.timers[timer.Key()] = copyTimer(timer)
	return nil
}

func (q *queries) ListActiveTimers(ctx context.Context) ([]*models.ChallengeTimer, error) {
	var out []*models.ChallengeTimer
	for _, t := range q.st.timers {
		if t.Status == models.TimerStatusActive {
			out = append(out, copyTimer(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

func (q *queries) GetTracker(ctx context.Context, userID, journeyID uuid.UUID) (*models.JourneyTracker, error) {
	byJourney, ok := q.st.trackers[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	t, ok := byJourney[journeyID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyTracker(t), nil
}

func (q *queries) SaveTracker(ctx context.Context, tracker *models.JourneyTracker) error {
	byJourney, ok := q.st.trackers[tracker.UserID]
	if !ok {
		byJourney = make(map[uuid.UUID]*models.JourneyTracker)
		q.st.trackers[tracker.UserID] = byJourney
	}
	byJourney[tracker.JourneyID] = copyTracker(tracker)
	return nil
}

func (q *queries) GetGroupForUser(ctx context.Context, userID uuid.UUID) (*models.Group, error) {
	for _, g := range q.st.groups {
		for _, m := range g.Members {
			if m.UserID == userID {
				return g, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (q *queries) InsertOutbox(ctx context.Context, event store.OutboxEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	q.st.outbox = append(q.st.outbox, event)
	return nil
}

func (q *queries) FetchUnsentOutbox(ctx context.Context, limit int32) ([]store.OutboxEvent, error) {
	var out []store.OutboxEvent
	for _, ev := range q.st.outbox {
		if ev.SentAt == nil {
			out = append(out, ev)
			if int32(len(out)) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (q *queries) MarkOutboxSent(ctx context.Context, ids []uuid.UUID) error {
	now := time.Now()
	for _, id := range ids {
		for i := range q.st.outbox {
			if q.st.outbox[i].ID == id {
				t := now
				q.st.outbox[i].SentAt = &t
			}
		}
	}
	return nil
}

func (q *queries) DeleteSentOutboxBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var kept []store.OutboxEvent
	var deleted int64
	for _, ev := range q.st.outbox {
		if ev.SentAt != nil && ev.SentAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	q.st.outbox = kept
	return deleted, nil
}

func copyChallenge(c *models.Challenge) *models.Challenge {
	out := *c
	if c.TimerLength != nil {
		length := *c.TimerLength
		out.TimerLength = &length
	}
	return &out
}

func copyTimer(t *models.ChallengeTimer) *models.ChallengeTimer {
	out := *t
	out.WarningMilestones = append([]int(nil), t.WarningMilestones...)
	out.WarningMilestonesSent = append([]int(nil), t.WarningMilestonesSent...)
	if t.LastWarningSent != nil {
		ts := *t.LastWarningSent
		out.LastWarningSent = &ts
	}
	return &out
}

func copyTracker(t *models.JourneyTracker) *models.JourneyTracker {
	out := *t
	out.CompletedChallengeIDs = append([]uuid.UUID(nil), t.CompletedChallengeIDs...)
	if t.CooldownMinimum != nil {
		ts := *t.CooldownMinimum
		out.CooldownMinimum = &ts
	}
	return &out
}
