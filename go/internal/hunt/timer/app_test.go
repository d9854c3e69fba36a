package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/questhunt/go/internal/hunt/auth"
	"github.com/mcdev12/questhunt/go/internal/hunt/events"
	"github.com/mcdev12/questhunt/go/internal/hunt/store"
	"github.com/mcdev12/questhunt/go/internal/hunt/store/storetest"
	"github.com/mcdev12/questhunt/go/internal/models"
)

type armedWarning struct {
	key          models.TimerKey
	gen          uint64
	at           time.Time
	milestoneSec int
}

type armedExpiry struct {
	key models.TimerKey
	gen uint64
	at  time.Time
}

type fakeScheduler struct {
	mu          sync.Mutex
	generations map[models.TimerKey]uint64
	warnings    []armedWarning
	expiries    []armedExpiry
	cancelled   []models.TimerKey
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{generations: make(map[models.TimerKey]uint64)}
}

func (f *fakeScheduler) SetGeneration(key models.TimerKey, gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generations[key] = gen
	// Older arms are dead once the generation moves
	var warnings []armedWarning
	for _, w := range f.warnings {
		if w.key != key {
			warnings = append(warnings, w)
		}
	}
	f.warnings = warnings
	var expiries []armedExpiry
	for _, e := range f.expiries {
		if e.key != key {
			expiries = append(expiries, e)
		}
	}
	f.expiries = expiries
}

func (f *fakeScheduler) ArmWarning(key models.TimerKey, gen uint64, at time.Time, milestoneSec int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warnings = append(f.warnings, armedWarning{key: key, gen: gen, at: at, milestoneSec: milestoneSec})
}

func (f *fakeScheduler) ArmExpiry(key models.TimerKey, gen uint64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiries = append(f.expiries, armedExpiry{key: key, gen: gen, at: at})
}

func (f *fakeScheduler) Cancel(key models.TimerKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, key)
}

type progressionCall struct {
	userID      uuid.UUID
	challengeID uuid.UUID
}

type fakeProgression struct {
	mu    sync.Mutex
	calls []progressionCall
	err   error
}

func (f *fakeProgression) CompleteChallengeTx(ctx context.Context, q store.Queries, userID, challengeID uuid.UUID, now time.Time) (*models.JourneyTracker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, progressionCall{userID: userID, challengeID: challengeID})
	return &models.JourneyTracker{UserID: userID}, nil
}

type fixture struct {
	app         *App
	store       *storetest.Store
	sched       *fakeScheduler
	progression *fakeProgression
	clock       *clockwork.FakeClock
	userID      uuid.UUID
	challengeID uuid.UUID
	key         models.TimerKey
}

// newFixture seeds a 100 point challenge with a 600 second timer.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := storetest.New()
	sched := newFakeScheduler()
	prog := &fakeProgression{}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	userID := uuid.New()
	length := 600
	challenge := &models.Challenge{
		ID:           uuid.New(),
		JourneyID:    uuid.New(),
		JourneyIndex: 0,
		Name:         "find the statue",
		Points:       100,
		TimerLength:  &length,
	}
	st.AddChallenge(challenge)

	return &fixture{
		app:         NewApp(st, sched, prog, clock, DefaultConfig()),
		store:       st,
		sched:       sched,
		progression: prog,
		clock:       clock,
		userID:      userID,
		challengeID: challenge.ID,
		key:         models.TimerKey{UserID: userID, ChallengeID: challenge.ID},
	}
}

func (f *fixture) actor() auth.Actor {
	return auth.Player{ID: f.userID}
}

func (f *fixture) mustStart(t *testing.T) *StartResult {
	t.Helper()
	res, err := f.app.StartTimer(context.Background(), f.actor(), f.userID, f.challengeID)
	if err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	return res
}

func (f *fixture) timerRow(t *testing.T) *models.ChallengeTimer {
	t.Helper()
	row, err := f.store.GetTimer(context.Background(), f.key)
	if err != nil {
		t.Fatalf("GetTimer: %v", err)
	}
	return row
}

func TestStartTimerCreatesActiveTimer(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	res := f.mustStart(t)

	wantEnd := now.Add(600 * time.Second)
	if !res.EndTime.Equal(wantEnd) {
		t.Errorf("end time = %v, want %v", res.EndTime, wantEnd)
	}

	row := f.timerRow(t)
	if row.Status != models.TimerStatusActive {
		t.Errorf("status = %v, want ACTIVE", row.Status)
	}
	if row.Generation != 1 {
		t.Errorf("generation = %d, want 1", row.Generation)
	}
	if row.OriginalBasePoints != 100 {
		t.Errorf("original base points = %d, want 100", row.OriginalBasePoints)
	}

	if got := f.store.EventsOfType(events.TypeTimerStarted); len(got) != 1 {
		t.Fatalf("TimerStarted events = %d, want 1", len(got))
	}

	if f.sched.generations[f.key] != 1 {
		t.Errorf("scheduler generation = %d, want 1", f.sched.generations[f.key])
	}
	if len(f.sched.warnings) != 3 {
		t.Fatalf("armed warnings = %d, want 3", len(f.sched.warnings))
	}
	for _, w := range f.sched.warnings {
		wantAt := wantEnd.
			Add(-time.Duration(w.milestoneSec) * time.Second).
			Add(-1500 * time.Millisecond)
		if !w.at.Equal(wantAt) {
			t.Errorf("milestone %d armed at %v, want %v", w.milestoneSec, w.at, wantAt)
		}
	}
	if len(f.sched.expiries) != 1 || !f.sched.expiries[0].at.Equal(wantEnd) {
		t.Fatalf("expiry arm = %+v, want one at %v", f.sched.expiries, wantEnd)
	}
}

func TestStartTimerWithoutTimerConfig(t *testing.T) {
	f := newFixture(t)
	plain := &models.Challenge{ID: uuid.New(), JourneyID: uuid.New(), Points: 50}
	f.store.AddChallenge(plain)

	_, err := f.app.StartTimer(context.Background(), f.actor(), f.userID, plain.ID)
	if !errors.Is(err, ErrNoTimerConfigured) {
		t.Fatalf("err = %v, want ErrNoTimerConfigured", err)
	}
	if got := f.store.Events(); len(got) != 0 {
		t.Errorf("events written = %d, want 0", len(got))
	}
}

func TestStartTimerPermission(t *testing.T) {
	f := newFixture(t)

	stranger := auth.Player{ID: uuid.New()}
	if _, err := f.app.StartTimer(context.Background(), stranger, f.userID, f.challengeID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("stranger err = %v, want ErrPermissionDenied", err)
	}

	operator := auth.CapabilityActor{
		ID:     uuid.New(),
		Grants: map[auth.Action][]auth.Resource{auth.ActionOverrideTimers: {auth.ResourceTimer}},
	}
	if _, err := f.app.StartTimer(context.Background(), operator, f.userID, f.challengeID); err != nil {
		t.Fatalf("operator err = %v, want nil", err)
	}
}

func TestRestartBumpsGenerationAndRestoresPrice(t *testing.T) {
	f := newFixture(t)
	f.mustStart(t)

	// Extension spends a quarter of the price
	if _, err := f.app.ExtendTimer(context.Background(), f.actor(), f.userID, f.challengeID); err != nil {
		t.Fatalf("ExtendTimer: %v", err)
	}
	ch, _ := f.store.GetChallenge(context.Background(), f.challengeID)
	if ch.Points != 75 {
		t.Fatalf("points after extension = %d, want 75", ch.Points)
	}

	f.clock.Advance(time.Minute)
	f.mustStart(t)

	ch, _ = f.store.GetChallenge(context.Background(), f.challengeID)
	if ch.Points != 100 {
		t.Errorf("points after restart = %d, want 100", ch.Points)
	}

	row := f.timerRow(t)
	if row.Generation != 3 {
		t.Errorf("generation = %d, want 3 (start, extend, restart)", row.Generation)
	}
	if len(row.WarningMilestonesSent) != 0 {
		t.Errorf("sent milestones not cleared: %v", row.WarningMilestonesSent)
	}
	if row.ExtensionsUsed != 1 {
		t.Errorf("extensions used = %d, want 1 (restart preserves the count)", row.ExtensionsUsed)
	}
	// One extension is baked into the countdown
	wantEnd := f.clock.Now().Add(600*time.Second + 5*time.Minute)
	if !row.EndTime.Equal(wantEnd) {
		t.Errorf("end time = %v, want %v", row.EndTime, wantEnd)
	}
}

func TestExtendTimerCostAndBudget(t *testing.T) {
	f := newFixture(t)
	start := f.mustStart(t)

	// 100 base points at divisor 4 buys four extensions of 25 each
	for i := 1; i <= 4; i++ {
		res, err := f.app.ExtendTimer(context.Background(), f.actor(), f.userID, f.challengeID)
		if err != nil {
			t.Fatalf("extension %d: %v", i, err)
		}
		if res.ExtensionCost != 25 {
			t.Errorf("extension %d cost = %d, want 25", i, res.ExtensionCost)
		}
		if res.ExtensionsUsed != i {
			t.Errorf("extension %d count = %d, want %d", i, res.ExtensionsUsed, i)
		}
		wantEnd := start.EndTime.Add(time.Duration(i) * 5 * time.Minute)
		if !res.NewEndTime.Equal(wantEnd) {
			t.Errorf("extension %d end = %v, want %v", i, res.NewEndTime, wantEnd)
		}
		ch, _ := f.store.GetChallenge(context.Background(), f.challengeID)
		if want := 100 - i*25; ch.Points != want {
			t.Errorf("extension %d points = %d, want %d", i, ch.Points, want)
		}
	}

	if _, err := f.app.ExtendTimer(context.Background(), f.actor(), f.userID, f.challengeID); !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("fifth extension err = %v, want ErrInsufficientPoints", err)
	}

	if got := f.store.EventsOfType(events.TypeTimerExtended); len(got) != 4 {
		t.Errorf("TimerExtended events = %d, want 4", len(got))
	}
	if got := f.store.EventsOfType(events.TypeChallengeUpdated); len(got) != 4 {
		t.Errorf("ChallengeUpdated events = %d, want 4", len(got))
	}
}

func TestExtendExpiredTimerExtendsFromNow(t *testing.T) {
	f := newFixture(t)
	f.mustStart(t)

	// Let the deadline pass without completing
	f.clock.Advance(700 * time.Second)

	res, err := f.app.ExtendTimer(context.Background(), f.actor(), f.userID, f.challengeID)
	if err != nil {
		t.Fatalf("ExtendTimer: %v", err)
	}
	wantEnd := f.clock.Now().Add(5 * time.Minute)
	if !res.NewEndTime.Equal(wantEnd) {
		t.Errorf("end time = %v, want %v (anchored at now, not the old deadline)", res.NewEndTime, wantEnd)
	}
	if row := f.timerRow(t); row.Status != models.TimerStatusActive {
		t.Errorf("status = %v, want ACTIVE", row.Status)
	}
}

func TestExtendMissingTimer(t *testing.T) {
	f := newFixture(t)
	if _, err := f.app.ExtendTimer(context.Background(), f.actor(), f.userID, f.challengeID); !errors.Is(err, ErrTimerNotFound) {
		t.Fatalf("err = %v, want ErrTimerNotFound", err)
	}
}

func TestCompleteTimerIdempotent(t *testing.T) {
	f := newFixture(t)
	f.mustStart(t)

	first, err := f.app.CompleteTimer(context.Background(), f.actor(), f.userID, f.challengeID)
	if err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if !first.ChallengeCompleted {
		t.Fatal("first complete should report the challenge completed")
	}
	if len(f.progression.calls) != 1 {
		t.Fatalf("progression calls = %d, want 1", len(f.progression.calls))
	}
	if len(f.sched.cancelled) != 1 || f.sched.cancelled[0] != f.key {
		t.Errorf("scheduler cancel = %v, want [%v]", f.sched.cancelled, f.key)
	}

	second, err := f.app.CompleteTimer(context.Background(), f.actor(), f.userID, f.challengeID)
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if second.ChallengeCompleted {
		t.Error("second complete should be a no-op")
	}
	if len(f.progression.calls) != 1 {
		t.Errorf("progression calls after duplicate = %d, want 1", len(f.progression.calls))
	}
	if got := f.store.EventsOfType(events.TypeTimerCompleted); len(got) != 1 {
		t.Errorf("TimerCompleted events = %d, want 1", len(got))
	}
}

func TestCompleteMissingTimerIsNoop(t *testing.T) {
	f := newFixture(t)
	res, err := f.app.CompleteTimer(context.Background(), f.actor(), f.userID, f.challengeID)
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if res.ChallengeCompleted {
		t.Error("missing timer should not complete anything")
	}
}

func TestHandleTimerExpiryAutoCompletes(t *testing.T) {
	f := newFixture(t)
	f.mustStart(t)
	f.clock.Advance(600 * time.Second)

	if err := f.app.HandleTimerExpiry(context.Background(), f.key, 1); err != nil {
		t.Fatalf("HandleTimerExpiry: %v", err)
	}

	if row := f.timerRow(t); row.Status != models.TimerStatusCompleted {
		t.Errorf("status = %v, want COMPLETED", row.Status)
	}
	if len(f.progression.calls) != 1 {
		t.Errorf("progression calls = %d, want 1", len(f.progression.calls))
	}
}

func TestHandleTimerExpiryStaleGeneration(t *testing.T) {
	f := newFixture(t)
	f.mustStart(t)

	// Extend bumps the generation to 2; an expiry armed under 1 is stale
	if _, err := f.app.ExtendTimer(context.Background(), f.actor(), f.userID, f.challengeID); err != nil {
		t.Fatalf("ExtendTimer: %v", err)
	}

	if err := f.app.HandleTimerExpiry(context.Background(), f.key, 1); err != nil {
		t.Fatalf("HandleTimerExpiry: %v", err)
	}

	if row := f.timerRow(t); row.Status != models.TimerStatusActive {
		t.Errorf("status = %v, want ACTIVE (stale expiry must not complete)", row.Status)
	}
	if len(f.progression.calls) != 0 {
		t.Errorf("progression calls = %d, want 0", len(f.progression.calls))
	}
}

func TestHandleTimerWarningDelivers(t *testing.T) {
	f := newFixture(t)
	f.mustStart(t)

	// 300 seconds in, the 300s milestone is exactly due
	f.clock.Advance(300 * time.Second)

	if err := f.app.HandleTimerWarning(context.Background(), f.key, 1, 300); err != nil {
		t.Fatalf("HandleTimerWarning: %v", err)
	}

	row := f.timerRow(t)
	if !row.WarningSent(300) {
		t.Error("300s milestone should be recorded as sent")
	}
	got := f.store.EventsOfType(events.TypeTimerWarning)
	if len(got) != 1 {
		t.Fatalf("TimerWarning events = %d, want 1", len(got))
	}

	// Second delivery of the same milestone is dropped
	if err := f.app.HandleTimerWarning(context.Background(), f.key, 1, 300); err != nil {
		t.Fatalf("duplicate warning: %v", err)
	}
	if got := f.store.EventsOfType(events.TypeTimerWarning); len(got) != 1 {
		t.Errorf("TimerWarning events after duplicate = %d, want 1", len(got))
	}
}

func TestHandleTimerWarningStaleChecks(t *testing.T) {
	f := newFixture(t)
	f.mustStart(t)

	// Wrong generation
	f.clock.Advance(300 * time.Second)
	if err := f.app.HandleTimerWarning(context.Background(), f.key, 99, 300); err != nil {
		t.Fatalf("wrong gen: %v", err)
	}
	if len(f.store.EventsOfType(events.TypeTimerWarning)) != 0 {
		t.Error("warning with wrong generation must be dropped")
	}

	// Fired far from its milestone: 60s milestone with 300s remaining
	if err := f.app.HandleTimerWarning(context.Background(), f.key, 1, 60); err != nil {
		t.Fatalf("early warning: %v", err)
	}
	if len(f.store.EventsOfType(events.TypeTimerWarning)) != 0 {
		t.Error("warning fired outside its window must be dropped")
	}

	// Fired too late: 300s milestone with 60s remaining
	f.clock.Advance(240 * time.Second)
	if err := f.app.HandleTimerWarning(context.Background(), f.key, 1, 300); err != nil {
		t.Fatalf("late warning: %v", err)
	}
	if len(f.store.EventsOfType(events.TypeTimerWarning)) != 0 {
		t.Error("warning fired too late must be dropped")
	}
}

func TestWarningAfterExtendingExpiredTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mustStart(t)
	f.clock.Advance(600 * time.Second)
	if err := f.app.HandleTimerExpiry(ctx, f.key, 1); err != nil {
		t.Fatalf("HandleTimerExpiry: %v", err)
	}

	// An extension bought 50s after auto-completion anchors the new deadline
	// at now+5min, not at startTime+countdown.
	f.clock.Advance(50 * time.Second)
	res, err := f.app.ExtendTimer(ctx, f.actor(), f.userID, f.challengeID)
	if err != nil {
		t.Fatalf("ExtendTimer: %v", err)
	}
	wantEnd := f.clock.Now().Add(5 * time.Minute)
	if !res.NewEndTime.Equal(wantEnd) {
		t.Fatalf("new end time = %v, want %v", res.NewEndTime, wantEnd)
	}

	// The 60s milestone for the re-anchored deadline must still deliver.
	f.clock.Advance(4 * time.Minute)
	row := f.timerRow(t)
	if err := f.app.HandleTimerWarning(ctx, f.key, row.Generation, 60); err != nil {
		t.Fatalf("HandleTimerWarning: %v", err)
	}

	row = f.timerRow(t)
	if !row.WarningSent(60) {
		t.Error("60s milestone should be recorded as sent")
	}
	if got := f.store.EventsOfType(events.TypeTimerWarning); len(got) != 1 {
		t.Errorf("TimerWarning events = %d, want 1", len(got))
	}
}

func TestExtendClearsSentMilestones(t *testing.T) {
	f := newFixture(t)
	f.mustStart(t)

	f.clock.Advance(300 * time.Second)
	if err := f.app.HandleTimerWarning(context.Background(), f.key, 1, 300); err != nil {
		t.Fatalf("HandleTimerWarning: %v", err)
	}

	if _, err := f.app.ExtendTimer(context.Background(), f.actor(), f.userID, f.challengeID); err != nil {
		t.Fatalf("ExtendTimer: %v", err)
	}

	row := f.timerRow(t)
	if len(row.WarningMilestonesSent) != 0 {
		t.Errorf("sent milestones after extend = %v, want none", row.WarningMilestonesSent)
	}
	// New deadline, new callbacks for all three milestones
	if len(f.sched.warnings) != 3 {
		t.Errorf("armed warnings after extend = %d, want 3", len(f.sched.warnings))
	}
}

func TestRearmTimerSkipsSentMilestones(t *testing.T) {
	f := newFixture(t)
	f.mustStart(t)

	f.clock.Advance(300 * time.Second)
	if err := f.app.HandleTimerWarning(context.Background(), f.key, 1, 300); err != nil {
		t.Fatalf("HandleTimerWarning: %v", err)
	}

	row := f.timerRow(t)
	f.app.RearmTimer(row)

	// 300 was delivered and 60/30 are still ahead
	if len(f.sched.warnings) != 2 {
		t.Fatalf("armed warnings = %d, want 2", len(f.sched.warnings))
	}
	for _, w := range f.sched.warnings {
		if w.milestoneSec == 300 {
			t.Error("already-sent milestone must not be re-armed")
		}
	}
	if len(f.sched.expiries) != 1 {
		t.Errorf("armed expiries = %d, want 1", len(f.sched.expiries))
	}
}
