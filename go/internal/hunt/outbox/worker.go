package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/questhunt/go/internal/hunt/store"
	"github.com/rs/zerolog/log"
)

type Config struct {
	PollInterval time.Duration
	BatchSize    int32
	MaxRetries   int
	RetryDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		BatchSize:    100,
		MaxRetries:   3,
		RetryDelay:   time.Second,
	}
}

// Worker drains unsent outbox rows to the event stream. Fetch, publish, and
// mark-sent happen inside one transaction; FOR UPDATE SKIP LOCKED on the fetch
// keeps multiple workers from double-publishing.
type Worker struct {
	store     store.Store
	publisher EventPublisher
	metrics   MetricsCollector
	config    Config

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewWorker(st store.Store, publisher EventPublisher, metrics MetricsCollector, cfg Config) *Worker {
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	return &Worker{
		store:     st,
		publisher: publisher,
		metrics:   metrics,
		config:    cfg,
		stopChan:  make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	log.Info().
		Dur("poll_interval", w.config.PollInterval).
		Int("batch_size", int(w.config.BatchSize)).
		Msg("outbox worker started")

	return nil
}

func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker not running")
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()

	log.Info().Msg("outbox worker stopped")
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Process immediately on start
	w.processOutbox(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processOutbox(ctx)
		}
	}
}

func (w *Worker) processOutbox(ctx context.Context) {
	start := time.Now()

	var total, successful int
	err := w.store.WithinTx(ctx, func(q store.Queries) error {
		events, err := q.FetchUnsentOutbox(ctx, w.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to fetch unsent events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		total = len(events)

		log.Debug().Int("count", len(events)).Msg("processing outbox events")

		var successfulIDs []uuid.UUID
		for _, event := range events {
			if err := w.publishWithRetry(ctx, event); err != nil {
				log.Error().
					Err(err).
					Str("event_id", event.ID.String()).
					Str("event_type", event.EventType).
					Msg("failed to publish event")
				continue
			}
			successfulIDs = append(successfulIDs, event.ID)
		}
		successful = len(successfulIDs)

		if len(successfulIDs) > 0 {
			if err := q.MarkOutboxSent(ctx, successfulIDs); err != nil {
				return fmt.Errorf("failed to mark events as sent: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("outbox pass failed")
		return
	}

	if total > 0 {
		w.metrics.RecordBatchProcessed(total, time.Since(start))
		w.metrics.RecordOutboxLag(total - successful)
		log.Info().
			Int("total", total).
			Int("successful", successful).
			Msg("processed outbox events")
	}
}

func (w *Worker) publishWithRetry(ctx context.Context, event store.OutboxEvent) error {
	var lastErr error

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.config.RetryDelay * time.Duration(attempt)):
			}
		}

		start := time.Now()
		err := w.publisher.Publish(ctx, event)
		w.metrics.RecordPublishAttempt(event.EventType, attempt+1, err == nil)
		w.metrics.RecordEventProcessed(event.EventType, err == nil, time.Since(start))
		if err != nil {
			lastErr = err
			log.Warn().
				Str("event_id", event.ID.String()).
				Int("attempt", attempt+1).
				Err(err).
				Msg("failed to publish event, retrying")
			continue
		}

		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", w.config.MaxRetries+1, lastErr)
}

// Prune deletes sent rows older than the retention window. Wired to a
// periodic job in cmd.
func (w *Worker) Prune(ctx context.Context, retention time.Duration) error {
	deleted, err := w.store.DeleteSentOutboxBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return fmt.Errorf("failed to prune outbox: %w", err)
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("pruned sent outbox events")
	}
	return nil
}
