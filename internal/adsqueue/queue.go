// Package adsqueue runs advertising tasks in the background. Producers get a
// task id back immediately; outcomes surface only as TASK_* and CAMPAIGN_*
// events, never as a return value.
package adsqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lotwise/driveline/internal/events"
	"github.com/lotwise/driveline/internal/metrics"
	"github.com/lotwise/driveline/pkg/schema"
)

// Queue accepts async work for background processing.
type Queue interface {
	Enqueue(ctx context.Context, taskType string, payload map[string]any) (string, error)
}

// Task is one unit of queued work. Payload may carry sandbox_id, session_id,
// and correlation_id; the queue copies them onto every event it publishes for
// the task.
type Task struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// TaskHandler processes one task. The returned map becomes the result field
// of the TASK_COMPLETED event.
type TaskHandler func(ctx context.Context, task Task) (map[string]any, error)

// Config sizes the queue.
type Config struct {
	Capacity int `json:"capacity"`
	Workers  int `json:"workers"`
}

// DefaultConfig returns the default queue sizing.
func DefaultConfig() Config {
	return Config{Capacity: 64, Workers: 2}
}

// MemoryQueue is an in-process bounded task queue: a buffered channel drained
// by a fixed set of worker goroutines. A full queue rejects new work rather
// than blocking the producer.
type MemoryQueue struct {
	tasks   chan Task
	workers int
	bus     events.Publisher
	metrics *metrics.Collector
	logger  *slog.Logger

	mu       sync.RWMutex
	handlers map[string]TaskHandler
	started  bool
	closed   bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewMemoryQueue creates a queue. collector may be nil; zero or negative
// config fields fall back to defaults.
func NewMemoryQueue(cfg Config, bus events.Publisher, collector *metrics.Collector, logger *slog.Logger) *MemoryQueue {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryQueue{
		tasks:    make(chan Task, cfg.Capacity),
		workers:  cfg.Workers,
		bus:      bus,
		metrics:  collector,
		logger:   logger,
		handlers: make(map[string]TaskHandler),
	}
}

// RegisterHandler binds a task type to its handler. Handlers are registered
// at wiring time, before Start.
func (q *MemoryQueue) RegisterHandler(taskType string, handler TaskHandler) error {
	if taskType == "" {
		return schema.NewError(schema.ErrCodeValidation, "task type is empty")
	}
	if handler == nil {
		return schema.NewError(schema.ErrCodeValidation, "task handler is nil")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return schema.NewError(schema.ErrCodeConflict, "cannot register handlers after the queue has started")
	}
	if _, exists := q.handlers[taskType]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "handler for task type %q already registered", taskType)
	}
	q.handlers[taskType] = handler
	return nil
}

// Start launches the worker goroutines. Handlers run under a context derived
// from ctx.
func (q *MemoryQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return fmt.Errorf("ads queue already started")
	}
	q.started = true
	workCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(workCtx)
	}
	q.logger.Info("ads queue started",
		slog.Int("workers", q.workers),
		slog.Int("capacity", cap(q.tasks)),
	)
	return nil
}

// Enqueue accepts a task for background processing and returns its id. A full
// queue returns QUEUE_FULL; an unknown task type is rejected up front.
func (q *MemoryQueue) Enqueue(ctx context.Context, taskType string, payload map[string]any) (string, error) {
	if taskType == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "task type is empty")
	}

	task := Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}

	// The send stays under the read lock: Close closes the channel under the
	// write lock, so a send here can never hit a closed channel.
	q.mu.RLock()
	if !q.started || q.closed {
		q.mu.RUnlock()
		return "", schema.NewError(schema.ErrCodeInternal, "ads queue is not running")
	}
	if _, ok := q.handlers[taskType]; !ok {
		q.mu.RUnlock()
		return "", schema.NewErrorf(schema.ErrCodeValidation, "no handler registered for task type %q", taskType)
	}
	select {
	case q.tasks <- task:
	default:
		q.mu.RUnlock()
		return "", schema.NewErrorf(schema.ErrCodeQueueFull, "ads queue is full (capacity %d)", cap(q.tasks)).
			WithDetails(map[string]any{"capacity": cap(q.tasks), "task_type": taskType})
	}
	q.mu.RUnlock()

	q.reportDepth()
	q.publish(ctx, task, schema.EventTaskQueued, map[string]any{"depth": len(q.tasks)})
	return task.ID, nil
}

// Depth returns the number of tasks waiting for a worker.
func (q *MemoryQueue) Depth() int {
	return len(q.tasks)
}

// Close stops accepting work, drains the backlog, and waits for workers to
// exit. Safe to call more than once.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.started || q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
	q.logger.Info("ads queue stopped")
	return nil
}

func (q *MemoryQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for task := range q.tasks {
		q.run(ctx, task)
		q.reportDepth()
	}
}

func (q *MemoryQueue) run(ctx context.Context, task Task) {
	q.mu.RLock()
	handler := q.handlers[task.Type]
	q.mu.RUnlock()

	q.publish(ctx, task, schema.EventTaskStarted, nil)
	start := time.Now()

	result, err := q.safeRun(ctx, handler, task)
	durationMS := time.Since(start).Milliseconds()
	if err != nil {
		q.logger.Error("ads task failed",
			slog.String("task_id", task.ID),
			slog.String("task_type", task.Type),
			slog.String("error", err.Error()),
		)
		q.publish(ctx, task, schema.EventTaskFailed, map[string]any{
			"error":       err.Error(),
			"duration_ms": durationMS,
		})
		return
	}

	q.publish(ctx, task, schema.EventTaskCompleted, map[string]any{
		"result":      result,
		"duration_ms": durationMS,
	})
}

// safeRun converts a handler panic into an error so one bad task cannot take
// down a worker.
func (q *MemoryQueue) safeRun(ctx context.Context, handler TaskHandler, task Task) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeInternal, "task handler panic: %v", r)
		}
	}()
	return handler(ctx, task)
}

func (q *MemoryQueue) reportDepth() {
	if q.metrics != nil {
		q.metrics.SetAdsQueueDepth(len(q.tasks))
	}
}

func (q *MemoryQueue) publish(ctx context.Context, task Task, eventType string, extra map[string]any) {
	payload := map[string]any{
		"task_id":   task.ID,
		"task_type": task.Type,
	}
	for k, v := range extra {
		payload[k] = v
	}
	err := q.bus.Publish(ctx, events.Event{
		Type:          eventType,
		CorrelationID: stringField(task.Payload, "correlation_id"),
		SandboxID:     stringField(task.Payload, "sandbox_id"),
		SessionID:     stringField(task.Payload, "session_id"),
		Payload:       payload,
	})
	if err != nil {
		q.logger.Warn("failed to publish task event",
			slog.String("event_type", eventType),
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
	}
}

func stringField(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}
