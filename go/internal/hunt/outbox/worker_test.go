package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/questhunt/go/internal/hunt/store"
	"github.com/mcdev12/questhunt/go/internal/hunt/store/storetest"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []store.OutboxEvent
	failTypes map[string]bool
	notify    chan store.OutboxEvent
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		failTypes: make(map[string]bool),
		notify:    make(chan store.OutboxEvent, 16),
	}
}

func (p *fakePublisher) Publish(ctx context.Context, event store.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failTypes[event.EventType] {
		return errors.New("publish failed")
	}
	p.published = append(p.published, event)
	p.notify <- event
	return nil
}

func testConfig() Config {
	return Config{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    100,
		MaxRetries:   1,
		RetryDelay:   time.Millisecond,
	}
}

func seedEvent(t *testing.T, st *storetest.Store, eventType string) store.OutboxEvent {
	t.Helper()
	ev := store.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		GroupID:   uuid.New(),
		Payload:   json.RawMessage(`{}`),
	}
	if err := st.InsertOutbox(context.Background(), ev); err != nil {
		t.Fatalf("seed outbox event: %v", err)
	}
	return ev
}

func waitForPublish(t *testing.T, p *fakePublisher) store.OutboxEvent {
	t.Helper()
	select {
	case ev := <-p.notify:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
		return store.OutboxEvent{}
	}
}

func TestWorkerPublishesAndMarksSent(t *testing.T) {
	st := storetest.New()
	pub := newFakePublisher()
	a := seedEvent(t, st, "TimerStarted")
	b := seedEvent(t, st, "TimerWarning")

	w := NewWorker(st, pub, nil, testConfig())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := map[uuid.UUID]bool{
		waitForPublish(t, pub).ID: true,
		waitForPublish(t, pub).ID: true,
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if !got[a.ID] || !got[b.ID] {
		t.Errorf("published IDs = %v, want both seeded events", got)
	}

	unsent, err := st.FetchUnsentOutbox(context.Background(), 100)
	if err != nil {
		t.Fatalf("FetchUnsentOutbox: %v", err)
	}
	if len(unsent) != 0 {
		t.Errorf("unsent after drain = %d, want 0", len(unsent))
	}
}

func TestWorkerLeavesFailedEventsUnsent(t *testing.T) {
	st := storetest.New()
	pub := newFakePublisher()
	pub.failTypes["TimerWarning"] = true
	seedEvent(t, st, "TimerStarted")
	failing := seedEvent(t, st, "TimerWarning")

	w := NewWorker(st, pub, nil, testConfig())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForPublish(t, pub)
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	unsent, err := st.FetchUnsentOutbox(context.Background(), 100)
	if err != nil {
		t.Fatalf("FetchUnsentOutbox: %v", err)
	}
	if len(unsent) != 1 || unsent[0].ID != failing.ID {
		t.Fatalf("unsent = %v, want only the failing event", unsent)
	}
}

func TestWorkerDoubleStart(t *testing.T) {
	w := NewWorker(storetest.New(), newFakePublisher(), nil, testConfig())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := w.Stop(); err == nil {
		t.Error("second Stop should fail")
	}
}

func TestPruneDeletesOldSentEvents(t *testing.T) {
	st := storetest.New()
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	sent := store.OutboxEvent{
		ID:        uuid.New(),
		EventType: "TimerStarted",
		GroupID:   uuid.New(),
		Payload:   json.RawMessage(`{}`),
		SentAt:    &old,
	}
	if err := st.InsertOutbox(ctx, sent); err != nil {
		t.Fatalf("seed sent event: %v", err)
	}
	unsent := seedEvent(t, st, "TimerWarning")

	w := NewWorker(st, newFakePublisher(), nil, testConfig())
	if err := w.Prune(ctx, time.Hour); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	remaining, err := st.FetchUnsentOutbox(ctx, 100)
	if err != nil {
		t.Fatalf("FetchUnsentOutbox: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != unsent.ID {
		t.Fatalf("remaining = %v, want only the unsent event", remaining)
	}
}
