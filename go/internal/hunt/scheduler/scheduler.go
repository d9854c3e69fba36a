package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/questhunt/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// Handler executes fired callbacks. Implemented by the timer engine. Errors are
// logged and dropped here: a dead timer must never take the scheduler down.
type Handler interface {
	HandleTimerExpiry(ctx context.Context, key models.TimerKey, gen uint64) error
	HandleTimerWarning(ctx context.Context, key models.TimerKey, gen uint64, milestoneSec int) error
}

type taskKind int

const (
	taskWarning taskKind = iota
	taskExpiry
)

// task is one scheduled callback. The generation it was armed under travels
// with it so stale work can be rejected at every stage.
type task struct {
	key          models.TimerKey
	gen          uint64
	kind         taskKind
	milestoneSec int
}

// armedCallback pairs a scheduled timer with the channel that releases its
// waiting goroutine when the callback is cancelled before firing.
type armedCallback struct {
	timer clockwork.Timer
	done  chan struct{}
}

// Scheduler manages delayed callbacks keyed by (user, challenge). Each key has
// a current generation; arming, firing, and executing all validate against it,
// so bumping the generation invalidates everything scheduled before the bump.
//
// The scheduler is a cache: it holds no durable state and is rebuilt from the
// store on process start (see Recoverer).
type Scheduler struct {
	clock      Clock
	handler    Handler
	instanceID string

	mu          sync.Mutex
	generations map[models.TimerKey]uint64
	armed       map[models.TimerKey][]armedCallback

	// Worker pool configuration
	numWorkers int
	workCh     chan task

	// Track in-flight work to prevent duplicate processing
	inFlight   map[task]bool
	inFlightMu sync.Mutex

	runCtx context.Context
	ctxMu  sync.RWMutex
}

// New creates a scheduler with a worker pool.
func New(clock Clock, handler Handler, numWorkers int) *Scheduler {
	if numWorkers <= 0 {
		numWorkers = 10
	}
	return &Scheduler{
		clock:       clock,
		handler:     handler,
		instanceID:  uuid.New().String()[:8], // short ID for logging
		generations: make(map[models.TimerKey]uint64),
		armed:       make(map[models.TimerKey][]armedCallback),
		numWorkers:  numWorkers,
		workCh:      make(chan task, numWorkers*2), // Buffer to prevent blocking
		inFlight:    make(map[task]bool),
		runCtx:      context.Background(),
	}
}

// Generation returns the current generation armed for a key (0 if none).
func (s *Scheduler) Generation(key models.TimerKey) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[key]
}

// SetGeneration makes gen the only generation whose callbacks may act for this
// key, cancelling everything armed under previous generations.
func (s *Scheduler) SetGeneration(key models.TimerKey, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(key)
	s.generations[key] = gen
}

// Cancel stops and removes every callback for a key.
func (s *Scheduler) Cancel(key models.TimerKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(key)
	delete(s.generations, key)
}

func (s *Scheduler) cancelLocked(key models.TimerKey) {
	for _, ac := range s.armed[key] {
		stopAndDrainTimer(ac.timer)
		close(ac.done)
	}
	if len(s.armed[key]) > 0 {
		log.Debug().
			Str("key", key.String()).
			Int("cancelled", len(s.armed[key])).
			Msg("cancelled armed callbacks")
	}
	delete(s.armed, key)
}

// ArmWarning schedules a milestone warning at the given instant.
func (s *Scheduler) ArmWarning(key models.TimerKey, gen uint64, at time.Time, milestoneSec int) {
	s.arm(task{key: key, gen: gen, kind: taskWarning, milestoneSec: milestoneSec}, at)
}

// ArmExpiry schedules the auto-completion callback at the timer's end time.
func (s *Scheduler) ArmExpiry(key models.TimerKey, gen uint64, at time.Time) {
	s.arm(task{key: key, gen: gen, kind: taskExpiry}, at)
}

func (s *Scheduler) arm(t task, at time.Time) {
	s.mu.Lock()
	if s.generations[t.key] != t.gen {
		s.mu.Unlock()
		log.Debug().
			Str("key", t.key.String()).
			Uint64("gen", t.gen).
			Msg("refusing to arm callback for stale generation")
		return
	}

	duration := at.Sub(s.clock.Now())
	if duration <= 0 {
		s.mu.Unlock()
		s.enqueue(t)
		return
	}

	timer := s.clock.NewTimer(duration)
	done := make(chan struct{})
	s.armed[t.key] = append(s.armed[t.key], armedCallback{timer: timer, done: done})
	s.mu.Unlock()

	ctx := s.runContext()
	go func() {
		select {
		case <-timer.Chan():
			s.mu.Lock()
			current := s.generations[t.key]
			s.mu.Unlock()
			if current != t.gen {
				log.Debug().
					Str("key", t.key.String()).
					Uint64("fired_gen", t.gen).
					Uint64("current_gen", current).
					Msg("dropping fired callback from superseded generation")
				return
			}
			s.enqueue(t)
		case <-done:
			// Cancelled before firing; cancelLocked already stopped the timer.
		case <-ctx.Done():
			stopAndDrainTimer(timer)
		}
	}()

	log.Debug().
		Str("key", t.key.String()).
		Uint64("gen", t.gen).
		Time("deadline", at).
		Dur("duration", duration).
		Msg("armed one-shot callback")
}

func (s *Scheduler) enqueue(t task) {
	s.inFlightMu.Lock()
	if s.inFlight[t] {
		s.inFlightMu.Unlock()
		log.Debug().Str("key", t.key.String()).Msg("skipping callback already in flight")
		return
	}
	s.inFlight[t] = true
	s.inFlightMu.Unlock()

	select {
	case s.workCh <- t:
	default:
		log.Warn().
			Str("key", t.key.String()).
			Str("instance", s.instanceID).
			Msg("callback fired but work channel full")
		s.inFlightMu.Lock()
		delete(s.inFlight, t)
		s.inFlightMu.Unlock()
	}
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctxMu.Lock()
	s.runCtx = ctx
	s.ctxMu.Unlock()

	log.Info().
		Str("instance", s.instanceID).
		Int("workers", s.numWorkers).
		Msg("timer scheduler started")

	var wg sync.WaitGroup
	for i := 0; i < s.numWorkers; i++ {
		wg.Add(1)
		go s.worker(ctx, &wg, i)
	}

	<-ctx.Done()

	// Cancel any remaining armed timers so their goroutines exit.
	s.mu.Lock()
	for key := range s.armed {
		s.cancelLocked(key)
	}
	s.mu.Unlock()

	wg.Wait()
	log.Info().Str("instance", s.instanceID).Msg("timer scheduler stopped")
	return nil
}

func (s *Scheduler) runContext() context.Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.runCtx
}

// worker executes fired callbacks from the work channel.
func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.workCh:
			// The generation may have advanced between enqueue and execution.
			s.mu.Lock()
			current := s.generations[t.key]
			s.mu.Unlock()

			if current == t.gen {
				var err error
				switch t.kind {
				case taskWarning:
					err = s.handler.HandleTimerWarning(ctx, t.key, t.gen, t.milestoneSec)
				case taskExpiry:
					err = s.handler.HandleTimerExpiry(ctx, t.key, t.gen)
				}
				if err != nil {
					log.Error().
						Err(err).
						Str("key", t.key.String()).
						Str("instance", s.instanceID).
						Int("worker_id", workerID).
						Msg("callback handling failed")
				}
			} else {
				log.Debug().
					Str("key", t.key.String()).
					Uint64("task_gen", t.gen).
					Uint64("current_gen", current).
					Msg("dropping queued callback from superseded generation")
			}

			s.inFlightMu.Lock()
			delete(s.inFlight, t)
			s.inFlightMu.Unlock()
		}
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel to prevent
// goroutine leaks. This follows the pattern recommended in the
// time.Timer.Stop() documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
