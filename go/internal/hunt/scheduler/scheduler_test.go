package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/questhunt/go/internal/models"
)

type recordedCall struct {
	key          models.TimerKey
	gen          uint64
	kind         string
	milestoneSec int
}

type recordingHandler struct {
	calls chan recordedCall
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{calls: make(chan recordedCall, 16)}
}

func (h *recordingHandler) HandleTimerExpiry(ctx context.Context, key models.TimerKey, gen uint64) error {
	h.calls <- recordedCall{key: key, gen: gen, kind: "expiry"}
	return nil
}

func (h *recordingHandler) HandleTimerWarning(ctx context.Context, key models.TimerKey, gen uint64, milestoneSec int) error {
	h.calls <- recordedCall{key: key, gen: gen, kind: "warning", milestoneSec: milestoneSec}
	return nil
}

func (h *recordingHandler) expectCall(t *testing.T) recordedCall {
	t.Helper()
	select {
	case c := <-h.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		return recordedCall{}
	}
}

func (h *recordingHandler) expectNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-h.calls:
		t.Fatalf("unexpected callback: %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func startScheduler(t *testing.T) (*Scheduler, *recordingHandler, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	handler := newRecordingHandler()
	s := New(clock, handler, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return s, handler, clock
}

func testKey() models.TimerKey {
	return models.TimerKey{UserID: uuid.New(), ChallengeID: uuid.New()}
}

func TestArmedCallbackFires(t *testing.T) {
	s, handler, clock := startScheduler(t)
	key := testKey()

	s.SetGeneration(key, 1)
	s.ArmExpiry(key, 1, clock.Now().Add(10*time.Second))

	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	call := handler.expectCall(t)
	if call.kind != "expiry" || call.key != key || call.gen != 1 {
		t.Errorf("call = %+v, want expiry for %v gen 1", call, key)
	}
}

func TestWarningCarriesMilestone(t *testing.T) {
	s, handler, clock := startScheduler(t)
	key := testKey()

	s.SetGeneration(key, 1)
	s.ArmWarning(key, 1, clock.Now().Add(time.Second), 60)

	clock.BlockUntil(1)
	clock.Advance(time.Second)

	call := handler.expectCall(t)
	if call.kind != "warning" || call.milestoneSec != 60 {
		t.Errorf("call = %+v, want warning with milestone 60", call)
	}
}

func TestPastDeadlineFiresImmediately(t *testing.T) {
	s, handler, clock := startScheduler(t)
	key := testKey()

	s.SetGeneration(key, 1)
	s.ArmExpiry(key, 1, clock.Now().Add(-time.Second))

	call := handler.expectCall(t)
	if call.kind != "expiry" {
		t.Errorf("call = %+v, want immediate expiry", call)
	}
}

func TestStaleGenerationRefusedAtArm(t *testing.T) {
	s, handler, clock := startScheduler(t)
	key := testKey()

	s.SetGeneration(key, 2)
	// Arming under an old generation is a no-op, even for past deadlines
	s.ArmExpiry(key, 1, clock.Now().Add(-time.Second))

	handler.expectNoCall(t)
}

func TestGenerationBumpInvalidatesArmedCallbacks(t *testing.T) {
	s, handler, clock := startScheduler(t)
	key := testKey()

	s.SetGeneration(key, 1)
	s.ArmExpiry(key, 1, clock.Now().Add(10*time.Second))
	clock.BlockUntil(1)

	s.SetGeneration(key, 2)
	clock.Advance(10 * time.Second)

	handler.expectNoCall(t)
}

func TestCancelStopsArmedCallbacks(t *testing.T) {
	s, handler, clock := startScheduler(t)
	key := testKey()

	s.SetGeneration(key, 1)
	for _, milestone := range []int{300, 60, 30} {
		s.ArmWarning(key, 1, clock.Now().Add(time.Duration(milestone)*time.Second), milestone)
	}
	clock.BlockUntil(3)

	s.Cancel(key)
	clock.Advance(400 * time.Second)

	handler.expectNoCall(t)
	if gen := s.Generation(key); gen != 0 {
		t.Errorf("generation after cancel = %d, want 0", gen)
	}
}

func TestCancelReleasesArmedGoroutines(t *testing.T) {
	s, handler, clock := startScheduler(t)
	key := testKey()
	s.SetGeneration(key, 1)

	before := runtime.NumGoroutine()
	for i := 1; i <= 25; i++ {
		s.ArmWarning(key, 1, clock.Now().Add(time.Hour), i)
	}
	clock.BlockUntil(25)

	s.Cancel(key)

	// Each armed callback parks a goroutine; cancellation must release them,
	// not leave them waiting until process shutdown. A couple of unrelated
	// runtime goroutines may come and go, so the bound is not exact.
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before+2 {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines after cancel = %d, want around %d", runtime.NumGoroutine(), before)
		}
		time.Sleep(10 * time.Millisecond)
	}
	handler.expectNoCall(t)
}

func TestIndependentKeysDoNotInterfere(t *testing.T) {
	s, handler, clock := startScheduler(t)
	keyA, keyB := testKey(), testKey()

	s.SetGeneration(keyA, 1)
	s.SetGeneration(keyB, 7)
	s.ArmExpiry(keyA, 1, clock.Now().Add(5*time.Second))
	s.ArmExpiry(keyB, 7, clock.Now().Add(5*time.Second))
	clock.BlockUntil(2)

	s.Cancel(keyA)
	clock.Advance(5 * time.Second)

	call := handler.expectCall(t)
	if call.key != keyB || call.gen != 7 {
		t.Errorf("call = %+v, want expiry for keyB gen 7", call)
	}
	handler.expectNoCall(t)
}

func TestGenerationAccessor(t *testing.T) {
	s, _, _ := startScheduler(t)
	key := testKey()

	if got := s.Generation(key); got != 0 {
		t.Errorf("unset generation = %d, want 0", got)
	}
	for gen := uint64(1); gen <= 3; gen++ {
		s.SetGeneration(key, gen)
		if got := s.Generation(key); got != gen {
			t.Errorf("generation = %d, want %d", got, gen)
		}
	}
}

func ExampleScheduler_SetGeneration() {
	clock := clockwork.NewRealClock()
	s := New(clock, nil, 1)
	key := models.TimerKey{}

	s.SetGeneration(key, 1)
	s.SetGeneration(key, 2) // everything armed under 1 is now dead
	fmt.Println(s.Generation(key))
	// Output: 2
}
