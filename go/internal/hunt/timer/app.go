package timer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/questhunt/go/internal/hunt/auth"
	"github.com/mcdev12/questhunt/go/internal/hunt/events"
	"github.com/mcdev12/questhunt/go/internal/hunt/store"
	"github.com/mcdev12/questhunt/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Clock provides current time. clockwork.Clock satisfies it; tests use a fake.
type Clock interface {
	Now() time.Time
}

// Scheduler defines what the engine needs from the callback scheduler.
type Scheduler interface {
	SetGeneration(key models.TimerKey, gen uint64)
	ArmWarning(key models.TimerKey, gen uint64, at time.Time, milestoneSec int)
	ArmExpiry(key models.TimerKey, gen uint64, at time.Time)
	Cancel(key models.TimerKey)
}

// Progression defines what the engine needs from the journey tracker: the
// completion side effect, applied inside the engine's own transaction.
type Progression interface {
	CompleteChallengeTx(ctx context.Context, q store.Queries, userID, challengeID uuid.UUID, now time.Time) (*models.JourneyTracker, error)
}

// App is the per-user per-challenge countdown state machine. All operations on
// one timer key are serialized by a per-key mutex; every state transition plus
// its outbox events commits in a single store transaction.
type App struct {
	store       store.Store
	sched       Scheduler
	progression Progression
	clock       Clock
	cfg         Config

	keyLocksMu sync.Mutex
	keyLocks   map[models.TimerKey]*sync.Mutex
}

// NewApp creates the timer engine.
func NewApp(st store.Store, sched Scheduler, progression Progression, clock Clock, cfg Config) *App {
	return &App{
		store:       st,
		sched:       sched,
		progression: progression,
		clock:       clock,
		cfg:         cfg,
		keyLocks:    make(map[models.TimerKey]*sync.Mutex),
	}
}

// lockKey serializes operations on one timer key. Lock granularity is the key,
// so concurrent extends racing an in-flight auto-completion cannot both win.
func (a *App) lockKey(key models.TimerKey) func() {
	a.keyLocksMu.Lock()
	mu, ok := a.keyLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		a.keyLocks[key] = mu
	}
	a.keyLocksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (a *App) authorize(actor auth.Actor, userID uuid.UUID) error {
	if actor.UserID() == userID {
		return nil
	}
	if actor.Can(auth.ActionOverrideTimers, auth.ResourceTimer) {
		return nil
	}
	return ErrPermissionDenied
}

// StartTimer creates or resets the countdown for (userID, challengeID).
//
// A reset preserves extensionsUsed and originalBasePoints but restarts the
// clock, clears delivered warnings, and — by bumping the generation —
// invalidates every callback armed for the previous countdown. If a prior
// extension had decremented the challenge's price, the price is restored
// first.
func (a *App) StartTimer(ctx context.Context, actor auth.Actor, userID, challengeID uuid.UUID) (*StartResult, error) {
	if err := a.authorize(actor, userID); err != nil {
		return nil, err
	}

	key := models.TimerKey{UserID: userID, ChallengeID: challengeID}
	unlock := a.lockKey(key)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	var timer *models.ChallengeTimer
	err := a.store.WithinTx(ctx, func(q store.Queries) error {
		challenge, err := q.GetChallenge(ctx, challengeID)
		if err != nil {
			return fmt.Errorf("failed to load challenge: %w", err)
		}
		if !challenge.HasTimer() {
			return ErrNoTimerConfigured
		}

		existing, err := q.GetTimer(ctx, key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		groupID := a.groupIDFor(ctx, q, userID)
		now := a.clock.Now()

		if existing == nil {
			timer = &models.ChallengeTimer{
				ID:                 uuid.New(),
				UserID:             userID,
				ChallengeID:        challengeID,
				ExtensionsUsed:     0,
				OriginalBasePoints: challenge.Points,
				Generation:         1,
			}
		} else {
			timer = existing
			timer.Generation++
			timer.WarningMilestonesSent = nil
			timer.LastWarningSent = nil

			// A prior extension spent part of the challenge's price; a restart
			// refunds it.
			if challenge.Points != timer.OriginalBasePoints {
				if err := a.setChallengePoints(ctx, q, groupID, userID, challengeID, timer.OriginalBasePoints); err != nil {
					return err
				}
			}
		}

		timer.TimerLength = *challenge.TimerLength
		timer.StartTime = now
		timer.EndTime = now.Add(a.countdown(timer))
		timer.Status = models.TimerStatusActive
		timer.WarningMilestones = append([]int(nil), a.cfg.WarningMilestones...)

		if err := q.UpsertTimer(ctx, timer); err != nil {
			return err
		}

		payload, err := json.Marshal(events.TimerStartedPayload{
			TimerID:        timer.ID.String(),
			ChallengeID:    challengeID.String(),
			StartTime:      timer.StartTime,
			EndTime:        timer.EndTime,
			TimerLengthSec: timer.TimerLength,
			ExtensionsUsed: timer.ExtensionsUsed,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal timer started payload: %w", err)
		}
		return q.InsertOutbox(ctx, store.OutboxEvent{
			ID:           uuid.New(),
			EventType:    events.TypeTimerStarted,
			GroupID:      groupID,
			TargetUserID: userID,
			Payload:      payload,
		})
	})
	if err != nil {
		return nil, err
	}

	a.armCallbacks(timer)

	log.Info().
		Str("user_id", userID.String()).
		Str("challenge_id", challengeID.String()).
		Uint64("generation", timer.Generation).
		Time("end_time", timer.EndTime).
		Msg("timer started")

	return &StartResult{
		TimerID:        timer.ID.String(),
		ChallengeID:    challengeID.String(),
		EndTime:        timer.EndTime,
		ExtensionsUsed: timer.ExtensionsUsed,
	}, nil
}

// ExtendTimer buys five more minutes at a quarter of the timer's original base
// points. Extending also resets which milestones have fired: the remaining
// time profile changed, so warnings are re-delivered against the new deadline.
// A just-completed timer may still be extended (it flips back to ACTIVE).
func (a *App) ExtendTimer(ctx context.Context, actor auth.Actor, userID, challengeID uuid.UUID) (*ExtendResult, error) {
	if err := a.authorize(actor, userID); err != nil {
		return nil, err
	}

	key := models.TimerKey{UserID: userID, ChallengeID: challengeID}
	unlock := a.lockKey(key)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	var (
		timer *models.ChallengeTimer
		cost  int
	)
	err := a.store.WithinTx(ctx, func(q store.Queries) error {
		var err error
		timer, err = q.GetTimer(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrTimerNotFound
			}
			return err
		}

		cost = timer.OriginalBasePoints / a.cfg.ExtensionCostDivisor
		remaining := timer.OriginalBasePoints - timer.ExtensionsUsed*cost
		if cost <= 0 || remaining < cost {
			return ErrInsufficientPoints
		}

		now := a.clock.Now()
		base := timer.EndTime
		if now.After(base) {
			base = now
		}

		timer.ExtensionsUsed++
		timer.EndTime = base.Add(a.cfg.ExtensionLength)
		timer.Status = models.TimerStatusActive
		timer.WarningMilestonesSent = nil
		timer.Generation++

		if err := q.UpsertTimer(ctx, timer); err != nil {
			return err
		}

		groupID := a.groupIDFor(ctx, q, userID)

		// The extension spends part of the challenge's price.
		newPoints := timer.OriginalBasePoints - timer.ExtensionsUsed*cost
		if err := a.setChallengePoints(ctx, q, groupID, userID, challengeID, newPoints); err != nil {
			return err
		}

		payload, err := json.Marshal(events.TimerExtendedPayload{
			TimerID:        timer.ID.String(),
			ChallengeID:    challengeID.String(),
			NewEndTime:     timer.EndTime,
			ExtensionsUsed: timer.ExtensionsUsed,
			ExtensionCost:  cost,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal timer extended payload: %w", err)
		}
		return q.InsertOutbox(ctx, store.OutboxEvent{
			ID:           uuid.New(),
			EventType:    events.TypeTimerExtended,
			GroupID:      groupID,
			TargetUserID: userID,
			Payload:      payload,
		})
	})
	if err != nil {
		return nil, err
	}

	a.armCallbacks(timer)

	log.Info().
		Str("user_id", userID.String()).
		Str("challenge_id", challengeID.String()).
		Int("extensions_used", timer.ExtensionsUsed).
		Time("new_end_time", timer.EndTime).
		Msg("timer extended")

	return &ExtendResult{
		TimerID:        timer.ID.String(),
		ChallengeID:    challengeID.String(),
		NewEndTime:     timer.EndTime,
		ExtensionsUsed: timer.ExtensionsUsed,
		ExtensionCost:  cost,
	}, nil
}

// CompleteTimer marks the timer COMPLETED and feeds the completion into the
// journey tracker. Idempotent and defensive: a missing or already-completed
// timer returns challengeCompleted=false without error — that is a recoverable
// race (double tap, stale callback after a restart), not a fault.
func (a *App) CompleteTimer(ctx context.Context, actor auth.Actor, userID, challengeID uuid.UUID) (*CompleteResult, error) {
	if err := a.authorize(actor, userID); err != nil {
		return nil, err
	}
	key := models.TimerKey{UserID: userID, ChallengeID: challengeID}
	return a.complete(ctx, key, nil, false)
}

// HandleTimerExpiry is the scheduler callback for auto-completion.
func (a *App) HandleTimerExpiry(ctx context.Context, key models.TimerKey, gen uint64) error {
	_, err := a.complete(ctx, key, &gen, true)
	return err
}

func (a *App) complete(ctx context.Context, key models.TimerKey, expectGen *uint64, auto bool) (*CompleteResult, error) {
	unlock := a.lockKey(key)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	var (
		timer     *models.ChallengeTimer
		completed bool
	)
	err := a.store.WithinTx(ctx, func(q store.Queries) error {
		var err error
		timer, err = q.GetTimer(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				timer = nil
				return nil
			}
			return err
		}

		// Row-level generation check: a callback armed before a restart must
		// not complete the restarted countdown.
		if expectGen != nil && timer.Generation != *expectGen {
			log.Debug().
				Str("key", key.String()).
				Uint64("callback_gen", *expectGen).
				Uint64("row_gen", timer.Generation).
				Msg("dropping stale auto-completion")
			timer = nil
			return nil
		}

		if timer.Status == models.TimerStatusCompleted {
			timer = nil
			return nil
		}

		now := a.clock.Now()
		timer.Status = models.TimerStatusCompleted
		timer.EndTime = now
		if err := q.UpsertTimer(ctx, timer); err != nil {
			return err
		}

		if _, err := a.progression.CompleteChallengeTx(ctx, q, key.UserID, key.ChallengeID, now); err != nil {
			return fmt.Errorf("failed to apply challenge completion: %w", err)
		}

		groupID := a.groupIDFor(ctx, q, key.UserID)
		payload, err := json.Marshal(events.TimerCompletedPayload{
			TimerID:            timer.ID.String(),
			ChallengeID:        key.ChallengeID.String(),
			ChallengeCompleted: true,
			CompletedAt:        now,
			AutoCompleted:      auto,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal timer completed payload: %w", err)
		}
		if err := q.InsertOutbox(ctx, store.OutboxEvent{
			ID:           uuid.New(),
			EventType:    events.TypeTimerCompleted,
			GroupID:      groupID,
			TargetUserID: key.UserID,
			Payload:      payload,
		}); err != nil {
			return err
		}

		completed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &CompleteResult{ChallengeID: key.ChallengeID.String(), ChallengeCompleted: completed}
	if !completed {
		return result, nil
	}

	result.TimerID = timer.ID.String()
	a.sched.Cancel(key)

	log.Info().
		Str("key", key.String()).
		Bool("auto", auto).
		Msg("timer completed")
	return result, nil
}

// HandleTimerWarning is the scheduler callback for milestone warnings. Every
// failed check below means the callback is stale (superseded generation,
// restarted timer, clock drift); stale warnings are logged and dropped, never
// surfaced.
func (a *App) HandleTimerWarning(ctx context.Context, key models.TimerKey, gen uint64, milestoneSec int) error {
	unlock := a.lockKey(key)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	return a.store.WithinTx(ctx, func(q store.Queries) error {
		timer, err := q.GetTimer(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Debug().Str("key", key.String()).Msg("warning for missing timer; dropping")
				return nil
			}
			return err
		}

		now := a.clock.Now()
		if reason := a.warningStale(timer, gen, milestoneSec, now); reason != "" {
			log.Debug().
				Str("key", key.String()).
				Int("milestone_sec", milestoneSec).
				Str("reason", reason).
				Msg("dropping stale warning")
			return nil
		}

		timer.WarningMilestonesSent = append(timer.WarningMilestonesSent, milestoneSec)
		timer.LastWarningSent = &now
		if err := q.UpsertTimer(ctx, timer); err != nil {
			return err
		}

		remaining := timer.EndTime.Sub(now)
		payload, err := json.Marshal(events.TimerWarningPayload{
			ChallengeID:      key.ChallengeID.String(),
			MilestoneSec:     milestoneSec,
			TimeRemainingSec: int(remaining.Seconds()),
			SentAt:           now,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal timer warning payload: %w", err)
		}
		if err := q.InsertOutbox(ctx, store.OutboxEvent{
			ID:           uuid.New(),
			EventType:    events.TypeTimerWarning,
			GroupID:      a.groupIDFor(ctx, q, key.UserID),
			TargetUserID: key.UserID,
			Payload:      payload,
		}); err != nil {
			return err
		}

		log.Info().
			Str("key", key.String()).
			Int("milestone_sec", milestoneSec).
			Int("time_remaining_sec", int(remaining.Seconds())).
			Msg("timer warning sent")
		return nil
	})
}

// warningStale runs the ordered staleness checks and returns a reason string
// for the first failure, or "" when the warning should be delivered.
func (a *App) warningStale(timer *models.ChallengeTimer, gen uint64, milestoneSec int, now time.Time) string {
	if timer.Generation != gen {
		return "superseded generation"
	}
	if timer.Status != models.TimerStatusActive {
		return "timer not active"
	}
	if timer.WarningSent(milestoneSec) {
		return "milestone already sent"
	}

	milestone := time.Duration(milestoneSec) * time.Second
	remaining := timer.EndTime.Sub(now)

	// Drift guard: the fire time must land near the milestone.
	drift := remaining - milestone
	if drift > a.cfg.WarningWindow || drift < -a.cfg.WarningWindow {
		return "outside warning window"
	}
	// Too-late guard.
	if remaining < milestone-a.cfg.LateGuard {
		return "fired too late"
	}

	// Consistency with the timer's own start: catches a restarted timer whose
	// old callback escaped generation cancellation. Defense in depth on top of
	// the generation checks above. An extension bought after the deadline
	// re-anchors EndTime past StartTime+countdown; the check only applies while
	// that invariant holds, the drift guard above already validated the fire
	// time against the stored deadline.
	span := timer.EndTime.Sub(timer.StartTime)
	if skew := span - a.countdown(timer); skew <= a.cfg.WarningWindow && skew >= -a.cfg.WarningWindow {
		sinceStart := now.Sub(timer.StartTime)
		expected := a.countdown(timer) - milestone
		if diff := sinceStart - expected; diff > a.cfg.WarningWindow || diff < -a.cfg.WarningWindow {
			return "inconsistent with timer start"
		}
	}
	return ""
}

// RearmTimer rebuilds scheduler state for a persisted ACTIVE timer. Used by
// recovery; arming is idempotent per generation.
func (a *App) RearmTimer(timer *models.ChallengeTimer) {
	a.armCallbacks(timer)
}

// Timer returns the current timer row for a key.
func (a *App) Timer(ctx context.Context, userID, challengeID uuid.UUID) (*models.ChallengeTimer, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	timer, err := a.store.GetTimer(ctx, models.TimerKey{UserID: userID, ChallengeID: challengeID})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTimerNotFound
		}
		return nil, err
	}
	return timer, nil
}

// countdown is the timer's full length including extensions. The endTime
// invariant is EndTime = StartTime + countdown.
func (a *App) countdown(timer *models.ChallengeTimer) time.Duration {
	return time.Duration(timer.TimerLength)*time.Second +
		time.Duration(timer.ExtensionsUsed)*a.cfg.ExtensionLength
}

// armCallbacks makes the timer's generation current (cancelling everything
// older) and arms one callback per undelivered future milestone plus the
// auto-completion at end time.
func (a *App) armCallbacks(timer *models.ChallengeTimer) {
	key := timer.Key()
	a.sched.SetGeneration(key, timer.Generation)

	now := a.clock.Now()
	for _, milestoneSec := range timer.WarningMilestones {
		if timer.WarningSent(milestoneSec) {
			continue
		}
		at := timer.EndTime.
			Add(-time.Duration(milestoneSec) * time.Second).
			Add(-a.cfg.EarlyBuffer)
		if !at.After(now) {
			continue
		}
		a.sched.ArmWarning(key, timer.Generation, at, milestoneSec)
	}
	a.sched.ArmExpiry(key, timer.Generation, timer.EndTime)
}

func (a *App) setChallengePoints(ctx context.Context, q store.Queries, groupID, userID, challengeID uuid.UUID, points int) error {
	if err := q.UpdateChallengePoints(ctx, challengeID, points); err != nil {
		return err
	}
	payload, err := json.Marshal(events.ChallengeUpdatedPayload{
		ChallengeID: challengeID.String(),
		Points:      points,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal challenge updated payload: %w", err)
	}
	return q.InsertOutbox(ctx, store.OutboxEvent{
		ID:           uuid.New(),
		EventType:    events.TypeChallengeUpdated,
		GroupID:      groupID,
		TargetUserID: userID,
		Payload:      payload,
	})
}

// groupIDFor resolves the user's group for event routing. Solo players get
// uuid.Nil; their events are still delivered per-user.
func (a *App) groupIDFor(ctx context.Context, q store.Queries, userID uuid.UUID) uuid.UUID {
	group, err := q.GetGroupForUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to resolve group for event routing")
		}
		return uuid.Nil
	}
	return group.ID
}
