package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/closedai/internal/observability"
	"github.com/harun/closedai/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// LaneRetry is the lane the retry queue worker runs in.
const LaneRetry = "retry"

// ErrClosed is returned for tasks submitted after Close.
var ErrClosed = errors.New("command queue closed")

// ConversationLane returns the lane that serializes runs of one conversation.
func ConversationLane(conversationID string) string {
	return "conversation:" + conversationID
}

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	// RequestID makes the submission idempotent while the result is cached.
	RequestID string

	// OnWait fires once if the task is still queued after WarnAfter.
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// LaneStats is a point-in-time view of a lane.
type LaneStats struct {
	Queued      int
	Running     int
	Concurrency int
}

// CommandQueue provides lane-based task serialization
type CommandQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	dedup     *dedupCache
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a CommandQueue. Every lane runs one task at a time.
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		lanes:  make(map[string]*laneState),
		dedup:  newDedupCache(10*time.Minute),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (cq *CommandQueue) lane(name string) *laneState {
	cq.mu.RLock()
	ls, ok := cq.lanes[name]
	cq.mu.RUnlock()
	if ok {
		return ls
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, ok = cq.lanes[name]; !ok {
		ls = &laneState{concurrency: 1}
		cq.lanes[name] = ls
		log.Debug().Str("lane", name).Msg("Lane initialized")
	}
	return ls
}

// Enqueue adds a task to a lane and blocks until it has run.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cq.ctx.Err() != nil {
		return nil, ErrClosed
	}

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	ctx, span := tracing.StartSpan(ctx, "closedai.commandqueue", "commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", lane).Logger()

	if opts.RequestID != "" {
		if cached, ok := cq.dedup.get(opts.RequestID); ok {
			logger.Debug().Str("request_id", opts.RequestID).Msg("Duplicate request, returning cached result")
			return cached.value, cached.err
		}
	}

	ls := cq.lane(lane)

	cq.mu.Lock()
	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	cq.mu.Unlock()

	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger.Debug().Str("task_id", taskID).Int("queue_size", queueSize).Msg("Task enqueued")
	observability.RecordQueueEnqueue(lane, queueSize)

	if opts.WarnAfter > 0 && opts.OnWait != nil {
		go cq.startWarnTimer(ls, record, lane)
	}

	go cq.processLane(lane, ls)

	result := <-record.result
	if result.err != nil {
		tracing.RecordError(span, result.err)
	}
	if opts.RequestID != "" {
		cq.dedup.set(opts.RequestID, result)
	}
	return result.value, result.err
}

func (cq *CommandQueue) processLane(lane string, ls *laneState) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++

		cq.wg.Add(1)
		go cq.executeTask(lane, ls, record)
	}
}

func (cq *CommandQueue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(record.ctx, "closedai.commandqueue", "commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("lane", lane).Logger()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := cq.run(runCtx, record.task)
	duration := time.Since(startTime)

	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		tracing.RecordError(span, err)
		logger.Debug().Str("task_id", record.id).Dur("duration", duration).Err(err).Msg("Task failed")
	} else {
		logger.Debug().Str("task_id", record.id).Dur("duration", duration).Msg("Task completed")
	}
	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	go cq.processLane(lane, ls)
}

// run executes task, turning a panic into an error so the lane keeps draining.
func (cq *CommandQueue) run(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (cq *CommandQueue) startWarnTimer(ls *laneState, record *taskRecord, lane string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			log.Warn().
				Str("lane", lane).
				Str("task_id", record.id).
				Dur("wait", wait).
				Int("queue_pos", queuePos).
				Msg("Task waiting longer than expected")
			record.options.OnWait(wait, queuePos)
		}
	case <-cq.ctx.Done():
	}
}

// Stats returns a snapshot of every lane that has been used.
func (cq *CommandQueue) Stats() map[string]LaneStats {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]LaneStats, len(cq.lanes))
	for name, ls := range cq.lanes {
		ls.mu.Lock()
		stats[name] = LaneStats{Queued: len(ls.queue), Running: ls.running, Concurrency: ls.concurrency}
		ls.mu.Unlock()
	}
	return stats
}

// Active returns the number of tasks queued or running across all lanes.
func (cq *CommandQueue) Active() int {
	total := 0
	for _, st := range cq.Stats() {
		total += st.Queued + st.Running
	}
	return total
}

// WaitForActive waits for all queued and running tasks to finish.
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if cq.Active() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}
		<-ticker.C
	}
}

// Close cancels running tasks and waits for them to return.
func (cq *CommandQueue) Close() error {
	cq.cancel()
	cq.wg.Wait()
	return nil
}
