package scheduler

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/mcdev12/questhunt/go/internal/models"
	"github.com/rs/zerolog/log"
)

// TimerStore is what recovery needs from the store.
type TimerStore interface {
	ListActiveTimers(ctx context.Context) ([]*models.ChallengeTimer, error)
}

// Rearmer re-arms callbacks for a persisted timer row. Implemented by the
// timer engine, which owns the milestone/buffer math.
type Rearmer interface {
	RearmTimer(timer *models.ChallengeTimer)
}

// Recoverer rebuilds the in-memory schedule from durable state. The scheduler
// is only a cache: after a process restart every ACTIVE timer in the store is
// re-armed here, and a periodic resync repairs any drift while running.
type Recoverer struct {
	store   TimerStore
	sched   *Scheduler
	rearmer Rearmer
}

// NewRecoverer creates a Recoverer.
func NewRecoverer(store TimerStore, sched *Scheduler, rearmer Rearmer) *Recoverer {
	return &Recoverer{store: store, sched: sched, rearmer: rearmer}
}

// Resync re-arms every ACTIVE timer whose generation is not already armed.
// Timers already past their deadline get their expiry enqueued immediately by
// the arming path. Safe to run repeatedly.
func (r *Recoverer) Resync(ctx context.Context) error {
	var timers []*models.ChallengeTimer

	fetch := func() error {
		var err error
		timers, err = r.store.ListActiveTimers(ctx)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(fetch, policy); err != nil {
		return fmt.Errorf("failed to list active timers for resync: %w", err)
	}

	rearmed := 0
	for _, timer := range timers {
		key := timer.Key()
		if r.sched.Generation(key) == timer.Generation {
			continue // already armed for this generation
		}
		r.rearmer.RearmTimer(timer)
		rearmed++
	}

	if rearmed > 0 {
		log.Info().
			Int("active_timers", len(timers)).
			Int("rearmed", rearmed).
			Msg("scheduler resynced from store")
	} else {
		log.Debug().Int("active_timers", len(timers)).Msg("scheduler resync found nothing to re-arm")
	}
	return nil
}
