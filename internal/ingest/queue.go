package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/protocolpilot/protocolpilot/internal/common"
	"github.com/protocolpilot/protocolpilot/internal/entity"
)

// Queue is a bounded in-process work queue: ingest workers pull registered
// jobs and run them through the pipeline. Enqueue never blocks; a full queue
// is reported to the caller so the watcher can log and drop.
type Queue struct {
	service    *Service
	tasks      chan entity.Job
	wg         sync.WaitGroup
	workers    int
	jobTimeout time.Duration
	logger     *slog.Logger
}

func NewQueue(service *Service, workers, size int, jobTimeout time.Duration, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	q := &Queue{
		service:    service,
		tasks:      make(chan entity.Job, size),
		jobTimeout: jobTimeout,
		logger:     logger,
	}
	q.workers = workers
	return q
}

// Start launches the worker pool. Workers exit when the queue is closed via
// Shutdown or when ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.tasks:
			if !ok {
				return
			}
			runCtx := ctx
			cancel := context.CancelFunc(func() {})
			if q.jobTimeout > 0 {
				runCtx, cancel = context.WithTimeout(ctx, q.jobTimeout)
			}
			if err := q.service.Process(runCtx, job); err != nil {
				q.logger.Error("ingest.worker.job_failed", "worker", id, "job_id", job.ID, "error", err)
			} else {
				q.logger.Info("ingest.worker.job_done", "worker", id, "job_id", job.ID)
			}
			cancel()
		}
	}
}

// Enqueue hands a job to the worker pool. Returns common.ErrInternal when
// the queue is full.
func (q *Queue) Enqueue(job entity.Job) error {
	select {
	case q.tasks <- job:
		return nil
	default:
		return common.NewAppError("QUEUE_FULL", "ingest queue is full", common.ErrInternal)
	}
}

// Shutdown stops accepting work and waits for in-flight jobs, up to ctx.
func (q *Queue) Shutdown(ctx context.Context) {
	close(q.tasks)
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		q.logger.Warn("ingest.queue.shutdown_timeout")
	}
}
