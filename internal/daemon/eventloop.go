package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/closedai/internal/observability"
	"github.com/harun/closedai/pkg/commandqueue"
	"github.com/harun/closedai/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Dequeuer replays one queued request.
type Dequeuer interface {
	DequeueOnce(ctx context.Context) (bool, error)
}

// EventLoopConfig holds event loop configuration
type EventLoopConfig struct {
	// QueueSchedule is the cron spec of the dequeue job.
	QueueSchedule string
	Queue         Dequeuer

	// Lease is refreshed on HeartbeatSchedule when set. OnLeaseLost runs
	// once another instance has taken it over.
	Lease       *Lease
	OnLeaseLost func()

	// Lanes is logged on every heartbeat when set.
	Lanes *commandqueue.CommandQueue

	Logger zerolog.Logger
}

// EventLoop runs the periodic jobs of a live instance.
type EventLoop struct {
	cron   *cron.Cron
	cfg    EventLoopConfig
	logger zerolog.Logger
}

// NewEventLoop schedules the dequeue and heartbeat jobs.
func NewEventLoop(cfg EventLoopConfig) (*EventLoop, error) {
	if cfg.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if cfg.QueueSchedule == "" {
		cfg.QueueSchedule = HeartbeatSchedule
	}

	logger := cfg.Logger.With().Str("component", "eventloop").Logger()
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	e := &EventLoop{cron: c, cfg: cfg, logger: logger}

	if _, err := c.AddFunc(cfg.QueueSchedule, e.dequeue); err != nil {
		return nil, fmt.Errorf("invalid queue schedule %q: %w", cfg.QueueSchedule, err)
	}
	if _, err := c.AddFunc(HeartbeatSchedule, e.heartbeat); err != nil {
		return nil, fmt.Errorf("failed to schedule heartbeat: %w", err)
	}
	return e, nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (e *EventLoop) Run(ctx context.Context) {
	e.logger.Info().Str("queue_schedule", e.cfg.QueueSchedule).Msg("Event loop started")
	e.cron.Start()

	<-ctx.Done()

	e.logger.Info().Msg("Event loop stopping")
	<-e.cron.Stop().Done()
}

func (e *EventLoop) dequeue() {
	ctx, cancel := context.WithTimeout(context.Background(), dequeueTimeout)
	defer cancel()

	processed, err := e.cfg.Queue.DequeueOnce(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Queue worker failed")
		return
	}
	if processed {
		e.logger.Debug().Msg("Queue worker processed an item")
	}
}

func (e *EventLoop) heartbeat() {
	if e.cfg.Lease != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := e.cfg.Lease.Heartbeat(ctx)
		cancel()
		if errors.Is(err, store.ErrLeaseHeld) && e.cfg.OnLeaseLost != nil {
			e.cfg.OnLeaseLost()
		}
	}

	if e.cfg.Lanes == nil {
		return
	}
	for lane, stats := range e.cfg.Lanes.Stats() {
		observability.SetQueueSize(lane, stats.Queued)
		if stats.Queued > 0 || stats.Running > 0 {
			e.logger.Debug().
				Str("lane", lane).
				Int("queued", stats.Queued).
				Int("running", stats.Running).
				Msg("Queue stats")
		}
	}
}

// cronLogger routes scheduler logs to zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
