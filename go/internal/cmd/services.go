package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/questhunt/go/internal/hunt/gateway"
	"github.com/mcdev12/questhunt/go/internal/hunt/outbox"
	"github.com/mcdev12/questhunt/go/internal/hunt/progression"
	"github.com/mcdev12/questhunt/go/internal/hunt/reward"
	"github.com/mcdev12/questhunt/go/internal/hunt/scheduler"
	"github.com/mcdev12/questhunt/go/internal/hunt/store"
	"github.com/mcdev12/questhunt/go/internal/hunt/timer"
	"github.com/mcdev12/questhunt/go/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

type Services struct {
	Store         store.Store
	Scheduler     *scheduler.Scheduler
	Recoverer     *scheduler.Recoverer
	Timers        *timer.App
	Progression   *progression.App
	Publisher     *outbox.JetStreamPublisher
	OutboxWorker  *outbox.Worker
	ConnManager   *gateway.ConnectionManager
	WSHandler     *gateway.WebSocketHandler
	StateHandler  *gateway.StateHandler
	EventConsumer *gateway.EventConsumer
	Jobs          gocron.Scheduler
}

// handlerProxy breaks the construction cycle between the scheduler (which
// needs a Handler) and the timer engine (which needs the scheduler).
type handlerProxy struct {
	h scheduler.Handler
}

func (p *handlerProxy) HandleTimerExpiry(ctx context.Context, key models.TimerKey, gen uint64) error {
	return p.h.HandleTimerExpiry(ctx, key, gen)
}

func (p *handlerProxy) HandleTimerWarning(ctx context.Context, key models.TimerKey, gen uint64, milestoneSec int) error {
	return p.h.HandleTimerWarning(ctx, key, gen, milestoneSec)
}

func setupServices(cfg *Config, gameCfg *GameConfig, database *sql.DB) (*Services, error) {
	// Wire up dependency injection chain
	// Database layer → Store → App layer → Gateway layer

	st := store.NewPostgres(database)
	clock := clockwork.NewRealClock()

	proxy := &handlerProxy{}
	sched := scheduler.New(clock, proxy, cfg.SchedulerWorkers)

	trigger := reward.Trigger(reward.NoopTrigger{})
	if rewards := gameCfg.RewardTable(); len(rewards) > 0 {
		trigger = reward.NewThresholdTrigger(rewards)
	}
	progressionApp := progression.NewApp(st, trigger, clock, gameCfg.ProgressionConfig())

	timerApp := timer.NewApp(st, sched, progressionApp, clock, gameCfg.TimerConfig())
	proxy.h = timerApp

	recoverer := scheduler.NewRecoverer(st, sched, timerApp)

	publisher, err := outbox.NewJetStreamPublisher(jetStreamConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	metrics := outbox.NewPrometheusMetrics(prometheus.DefaultRegisterer)
	outboxCfg := outbox.DefaultConfig()
	outboxCfg.PollInterval = cfg.OutboxPollInterval
	outboxWorker := outbox.NewWorker(st, publisher, metrics, outboxCfg)

	connManager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	connManager.SetCommandHandler(gateway.NewCommandRouter(timerApp, 0))
	wsHandler := gateway.NewWebSocketHandler(connManager)
	stateHandler := gateway.NewStateHandler(progressionApp, timerApp)

	eventConsumer, err := gateway.NewEventConsumer(connManager, jetStreamConsumerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}

	jobs, err := setupJobs(cfg, recoverer, outboxWorker)
	if err != nil {
		return nil, err
	}

	return &Services{
		Store:         st,
		Scheduler:     sched,
		Recoverer:     recoverer,
		Timers:        timerApp,
		Progression:   progressionApp,
		Publisher:     publisher,
		OutboxWorker:  outboxWorker,
		ConnManager:   connManager,
		WSHandler:     wsHandler,
		StateHandler:  stateHandler,
		EventConsumer: eventConsumer,
		Jobs:          jobs,
	}, nil
}

func jetStreamConfig(cfg *Config) outbox.JetStreamConfig {
	jsCfg := outbox.DefaultJetStreamConfig()
	jsCfg.URL = cfg.NATSURL
	jsCfg.MaxAge = cfg.OutboxRetention
	return jsCfg
}

func jetStreamConsumerConfig(cfg *Config) gateway.JetStreamConsumerConfig {
	consumerCfg := gateway.DefaultJetStreamConsumerConfig()
	consumerCfg.URL = cfg.NATSURL
	return consumerCfg
}

// setupJobs schedules the periodic maintenance work: scheduler resync (repairs
// drift between armed callbacks and durable timers) and outbox pruning.
func setupJobs(cfg *Config, recoverer *scheduler.Recoverer, worker *outbox.Worker) (gocron.Scheduler, error) {
	jobs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create job scheduler: %w", err)
	}

	_, err = jobs.NewJob(
		gocron.DurationJob(cfg.SchedulerResyncEvery),
		gocron.NewTask(func(ctx context.Context) {
			if err := recoverer.Resync(ctx); err != nil {
				log.Printf("scheduler resync failed: %v", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule resync job: %w", err)
	}

	_, err = jobs.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func(ctx context.Context) {
			if err := worker.Prune(ctx, cfg.OutboxRetention); err != nil {
				log.Printf("outbox prune failed: %v", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule outbox prune job: %w", err)
	}

	return jobs, nil
}
