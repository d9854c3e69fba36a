package progression

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/questhunt/go/internal/hunt/events"
	"github.com/mcdev12/questhunt/go/internal/hunt/reward"
	"github.com/mcdev12/questhunt/go/internal/hunt/store"
	"github.com/mcdev12/questhunt/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Clock provides current time. clockwork.Clock satisfies it; tests use a fake.
type Clock interface {
	Now() time.Time
}

// Config tunes progression behavior.
type Config struct {
	// CompletionCooldown is the minimum interval between scoring completions
	// for one player (anti-cheat). Completions inside the window still advance
	// the tracker but award no points.
	CompletionCooldown time.Duration
	// StoreTimeout bounds every store round-trip.
	StoreTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		CompletionCooldown: 10 * time.Second,
		StoreTimeout:       5 * time.Second,
	}
}

// App advances players through a journey's ordered challenge sequence. It is
// the sole mutator of journey trackers and the sole authority on what
// challenge a player is currently on.
type App struct {
	store   store.Store
	trigger reward.Trigger
	clock   Clock
	cfg     Config
}

// NewApp creates a progression App.
func NewApp(st store.Store, trigger reward.Trigger, clock Clock, cfg Config) *App {
	return &App{store: st, trigger: trigger, clock: clock, cfg: cfg}
}

// CompleteChallenge records a challenge completion in its own transaction.
// Used by the manual "found it" path; the timer engine calls
// CompleteChallengeTx inside its completion transaction instead.
func (a *App) CompleteChallenge(ctx context.Context, userID, challengeID uuid.UUID) (*models.JourneyTracker, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	var tracker *models.JourneyTracker
	err := a.store.WithinTx(ctx, func(q store.Queries) error {
		var err error
		tracker, err = a.CompleteChallengeTx(ctx, q, userID, challengeID, a.clock.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return tracker, nil
}

// CompleteChallengeTx applies a completion inside an existing transaction.
//
// Idempotency contract: when challengeID is not the tracker's current
// challenge this is a no-op returning the unchanged tracker. Duplicate
// completion signals (manual action racing an auto-completing timer) are
// expected, not errors.
func (a *App) CompleteChallengeTx(ctx context.Context, q store.Queries, userID, challengeID uuid.UUID, now time.Time) (*models.JourneyTracker, error) {
	challenge, err := q.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge for completion: %w", err)
	}

	tracker, err := a.loadOrCreateTracker(ctx, q, userID, challenge.JourneyID)
	if err != nil {
		return nil, err
	}

	if tracker.CurChallengeID != challengeID {
		log.Debug().
			Str("user_id", userID.String()).
			Str("challenge_id", challengeID.String()).
			Str("cur_challenge_id", tracker.CurChallengeID.String()).
			Msg("duplicate or out-of-order completion signal; ignoring")
		return tracker, nil
	}

	tracker.CompletedChallengeIDs = append(tracker.CompletedChallengeIDs, challengeID)

	if tracker.InCooldown(now) {
		log.Warn().
			Str("user_id", userID.String()).
			Str("challenge_id", challengeID.String()).
			Time("cooldown_minimum", *tracker.CooldownMinimum).
			Msg("completion inside cooldown window; advancing without points")
	} else {
		tracker.Score += challenge.Points
		cooldown := now.Add(a.cfg.CompletionCooldown)
		tracker.CooldownMinimum = &cooldown
	}

	next, err := a.nextChallenge(ctx, q, challenge)
	if err != nil {
		return nil, err
	}
	tracker.CurChallengeID = next // uuid.Nil once the journey is done

	if err := q.SaveTracker(ctx, tracker); err != nil {
		return nil, err
	}

	group, err := q.GetGroupForUser(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load group for broadcast: %w", err)
	}

	a.checkReward(ctx, q, tracker, group, now)

	if group != nil {
		if err := a.emitGroupProgress(ctx, q, group); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("challenge_id", challengeID.String()).
		Int("score", tracker.Score).
		Bool("journey_complete", tracker.JourneyComplete()).
		Msg("challenge completed")

	return tracker, nil
}

// Tracker returns the player's tracker for a journey, creating it at the
// journey's first challenge if the player has not started yet.
func (a *App) Tracker(ctx context.Context, userID, journeyID uuid.UUID) (*models.JourneyTracker, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	var tracker *models.JourneyTracker
	err := a.store.WithinTx(ctx, func(q store.Queries) error {
		var err error
		tracker, err = a.loadOrCreateTracker(ctx, q, userID, journeyID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tracker, nil
}

func (a *App) loadOrCreateTracker(ctx context.Context, q store.Queries, userID, journeyID uuid.UUID) (*models.JourneyTracker, error) {
	tracker, err := q.GetTracker(ctx, userID, journeyID)
	if err == nil {
		return tracker, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load tracker: %w", err)
	}

	challenges, err := q.ListJourneyChallenges(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges for new tracker: %w", err)
	}

	tracker = &models.JourneyTracker{
		ID:        uuid.New(),
		UserID:    userID,
		JourneyID: journeyID,
	}
	if len(challenges) > 0 {
		tracker.CurChallengeID = challenges[0].ID
	}
	if err := q.SaveTracker(ctx, tracker); err != nil {
		return nil, err
	}
	return tracker, nil
}

func (a *App) nextChallenge(ctx context.Context, q store.Queries, current *models.Challenge) (uuid.UUID, error) {
	challenges, err := q.ListJourneyChallenges(ctx, current.JourneyID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to list challenges for advancement: %w", err)
	}
	for _, c := range challenges {
		if c.JourneyIndex > current.JourneyIndex {
			return c.ID, nil
		}
	}
	return uuid.Nil, nil
}

// checkReward consults the reward collaborator. A failing trigger never fails
// the completion.
func (a *App) checkReward(ctx context.Context, q store.Queries, tracker *models.JourneyTracker, group *models.Group, now time.Time) {
	earned, err := a.trigger.CheckForReward(ctx, tracker)
	if err != nil {
		log.Error().Err(err).Str("user_id", tracker.UserID.String()).Msg("reward trigger failed")
		return
	}
	if earned == nil {
		return
	}

	payload, err := json.Marshal(events.RewardEarnedPayload{
		RewardID:    earned.ID.String(),
		Name:        earned.Name,
		Description: earned.Description,
		EarnedAt:    now,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal reward payload")
		return
	}

	groupID := uuid.Nil
	if group != nil {
		groupID = group.ID
	}
	if err := q.InsertOutbox(ctx, store.OutboxEvent{
		ID:           uuid.New(),
		EventType:    events.TypeRewardEarned,
		GroupID:      groupID,
		TargetUserID: tracker.UserID,
		Payload:      payload,
	}); err != nil {
		log.Error().Err(err).Msg("failed to insert reward outbox event")
	}
}

// emitGroupProgress fans the group's current standings out to every member.
func (a *App) emitGroupProgress(ctx context.Context, q store.Queries, group *models.Group) error {
	members := make([]events.MemberProgress, 0, len(group.Members))
	for _, m := range group.Members {
		progress := events.MemberProgress{
			ID:   m.UserID.String(),
			Name: m.Name,
			Host: m.IsHost,
		}
		tracker, err := q.GetTracker(ctx, m.UserID, group.CurJourneyID)
		if err == nil {
			progress.Points = tracker.Score
			if !tracker.JourneyComplete() {
				progress.CurChallengeID = tracker.CurChallengeID.String()
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to load member tracker for broadcast: %w", err)
		}
		members = append(members, progress)
	}

	payload, err := json.Marshal(events.GroupProgressPayload{
		GroupID:      group.ID.String(),
		CurJourneyID: group.CurJourneyID.String(),
		Members:      members,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal group progress payload: %w", err)
	}

	return q.InsertOutbox(ctx, store.OutboxEvent{
		ID:        uuid.New(),
		EventType: events.TypeGroupProgress,
		GroupID:   group.ID,
		Payload:   payload,
	})
}
