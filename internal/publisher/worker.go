// Package publisher runs the in-process publishing workers. A dispatcher
// claims due queue items and hands them to a fixed pool of workers, which
// publish each item and report the outcome back to the queue.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"publish-calendar-backend/config"
	"publish-calendar-backend/internal/model"
)

// Queue is the worker-facing side of the queue state machine.
type Queue interface {
	ClaimNext(ctx context.Context, limit int) ([]model.CalendarQueueItem, error)
	JobContext(ctx context.Context, id string) (*model.PublishJob, error)
	MarkPublished(ctx context.Context, id string) (*model.CalendarQueueItem, error)
	MarkFailed(ctx context.Context, id, reason string) (*model.CalendarQueueItem, error)
}

// WorkerPool manages a pool of workers for publishing queue items.
type WorkerPool struct {
	size      int
	batch     int
	poll      time.Duration
	jobs      chan model.CalendarQueueItem
	queue     Queue
	publisher Publisher
	log       *slog.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(cfg config.WorkerConfig, queue Queue, publisher Publisher, log *slog.Logger) *WorkerPool {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.Size
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &WorkerPool{
		size:      cfg.Size,
		batch:     cfg.BatchSize,
		poll:      cfg.PollInterval,
		jobs:      make(chan model.CalendarQueueItem, cfg.BatchSize), // Buffered channel
		queue:     queue,
		publisher: publisher,
		log:       log.With("component", "publisher"),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// Run starts the workers and feeds them claimed items until ctx is done.
func (wp *WorkerPool) Run(ctx context.Context) {
	wp.log.Info("starting worker pool", "size", wp.size, "batch", wp.batch, "poll", wp.poll)
	wp.Start(ctx)

	ticker := time.NewTicker(wp.poll)
	defer ticker.Stop()

	for {
		wp.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			wp.log.Info("worker pool shutting down")
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce claims as many items as the job buffer can take and
// dispatches them. It returns the number dispatched.
func (wp *WorkerPool) DispatchOnce(ctx context.Context) int {
	free := cap(wp.jobs) - len(wp.jobs)
	if free <= 0 {
		return 0
	}
	limit := wp.batch
	if free < limit {
		limit = free
	}

	claimed, err := wp.queue.ClaimNext(ctx, limit)
	if err != nil {
		wp.log.Error("failed to claim queue items", "error", err)
	}
	for _, item := range claimed {
		if !wp.Dispatch(ctx, item) {
			// Left in processing; the reaper requeues it.
			wp.log.Warn("shutdown before dispatch", "item_id", item.ID)
		}
	}
	return len(claimed)
}

// Dispatch sends a claimed item to the worker pool. It reports false if ctx
// ended first.
func (wp *WorkerPool) Dispatch(ctx context.Context, item model.CalendarQueueItem) bool {
	select {
	case wp.jobs <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan model.CalendarQueueItem {
	return wp.jobs
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("worker started", "worker", id)
	for {
		select {
		case item := <-wp.jobs:
			wp.log.Debug("worker processing item", "worker", id, "item_id", item.ID)
			wp.process(ctx, item)
		case <-ctx.Done():
			wp.log.Debug("worker shutting down", "worker", id)
			return
		}
	}
}

// process publishes one claimed item and records the outcome.
func (wp *WorkerPool) process(ctx context.Context, item model.CalendarQueueItem) {
	job, err := wp.queue.JobContext(ctx, item.ID)
	if err != nil {
		wp.fail(ctx, item.ID, err)
		return
	}

	if err := wp.publisher.Publish(ctx, job); err != nil {
		wp.fail(ctx, item.ID, err)
		return
	}

	if _, err := wp.queue.MarkPublished(ctx, item.ID); err != nil {
		wp.log.Error("failed to mark item published", "item_id", item.ID, "error", err)
		return
	}
	wp.log.Info("published queue item",
		"item_id", item.ID, "calendar_id", item.CalendarID, "scheduled_at", item.ScheduledAt)
}

func (wp *WorkerPool) fail(ctx context.Context, id string, cause error) {
	wp.log.Warn("publish failed", "item_id", id, "error", cause)
	if _, err := wp.queue.MarkFailed(ctx, id, cause.Error()); err != nil {
		wp.log.Error("failed to mark item failed", "item_id", id, "error", err)
	}
}
