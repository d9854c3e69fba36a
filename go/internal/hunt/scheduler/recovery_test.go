package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/questhunt/go/internal/hunt/store/storetest"
	"github.com/mcdev12/questhunt/go/internal/models"
)

type recordingRearmer struct {
	sched   *Scheduler
	rearmed []models.TimerKey
}

func (r *recordingRearmer) RearmTimer(timer *models.ChallengeTimer) {
	r.rearmed = append(r.rearmed, timer.Key())
	r.sched.SetGeneration(timer.Key(), timer.Generation)
}

func TestResyncRearmsActiveTimers(t *testing.T) {
	st := storetest.New()
	clock := clockwork.NewFakeClock()
	sched := New(clock, newRecordingHandler(), 1)
	rearmer := &recordingRearmer{sched: sched}
	recoverer := NewRecoverer(st, sched, rearmer)

	active := &models.ChallengeTimer{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		ChallengeID: uuid.New(),
		Status:      models.TimerStatusActive,
		EndTime:     clock.Now().Add(time.Minute),
		Generation:  3,
	}
	completed := &models.ChallengeTimer{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		ChallengeID: uuid.New(),
		Status:      models.TimerStatusCompleted,
		Generation:  1,
	}
	ctx := context.Background()
	if err := st.UpsertTimer(ctx, active); err != nil {
		t.Fatalf("seed active timer: %v", err)
	}
	if err := st.UpsertTimer(ctx, completed); err != nil {
		t.Fatalf("seed completed timer: %v", err)
	}

	if err := recoverer.Resync(ctx); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if len(rearmer.rearmed) != 1 || rearmer.rearmed[0] != active.Key() {
		t.Fatalf("rearmed = %v, want only the active timer", rearmer.rearmed)
	}

	// A second pass finds the generation already armed and does nothing
	if err := recoverer.Resync(ctx); err != nil {
		t.Fatalf("second Resync: %v", err)
	}
	if len(rearmer.rearmed) != 1 {
		t.Errorf("rearmed after second pass = %d, want 1", len(rearmer.rearmed))
	}
}
