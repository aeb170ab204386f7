package job

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/outfield/enrichd/errors"
)

const (
	// MaxOrphanedJobsToResume limits how many orphaned jobs we'll attempt
	// to resume on startup to prevent overwhelming the system after a crash
	MaxOrphanedJobsToResume = 100

	maxConsecutiveErrors = 5
	maxErrorBackoff      = 30 * time.Second
	stopTimeout          = 30 * time.Second
)

// WorkerPool manages a pool of workers that claim and process jobs.
// Item execution is delegated to registered ItemProcessors keyed by
// job kind; the pool itself only drives the claim/progress/finish cycle.
type WorkerPool struct {
	queue      *Queue
	registry   *ProcessorRegistry
	poolConfig WorkerPoolConfig
	workers    int
	parentCtx  context.Context // Parent context from which worker context is derived
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *zap.SugaredLogger
	activeJobs int
	mu         sync.Mutex
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`       // Number of concurrent workers
	PollInterval time.Duration `json:"poll_interval"` // How often to check for new jobs
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      1,
		PollInterval: 2 * time.Second,
	}
}

// NewWorkerPool creates a worker pool bound to a queue and a processor
// registry. Callers must register processors before calling Start().
// Cancelling the parent context shuts the pool down along with the rest
// of the server.
func NewWorkerPool(ctx context.Context, queue *Queue, registry *ProcessorRegistry, poolCfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if poolCfg.Workers <= 0 {
		poolCfg.Workers = DefaultWorkerPoolConfig().Workers
	}
	if poolCfg.PollInterval <= 0 {
		poolCfg.PollInterval = DefaultWorkerPoolConfig().PollInterval
	}

	workerCtx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		queue:      queue,
		registry:   registry,
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		logger:     log.Named("worker"),
	}
}

// Start begins processing jobs. Jobs left in processing by a previous
// run are resumed first, then the polling workers are spawned.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	// After Stop() the context is cancelled; recreate it from the parent
	// before spawning workers.
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
	default:
	}
	wp.mu.Unlock()

	if err := wp.resumeOrphanedJobs(); err != nil {
		wp.logger.Warnw("Failed to resume orphaned jobs", "error", err)
		// Continue starting workers even if recovery fails
	}

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	wp.logger.Infow("Worker pool started",
		"workers", wp.workers,
		"poll_interval", wp.poolConfig.PollInterval,
	)
}

// Stop gracefully stops the worker pool. Workers notice the cancelled
// context between items and exit with progress already persisted, so an
// interrupted job stays in processing and resumes on the next Start.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped")
	case <-time.After(stopTimeout):
		wp.logger.Warnw("Worker pool stop timeout - workers may still be finishing an item",
			"timeout", stopTimeout)
	}
}

// ActiveJobs returns the number of jobs currently being executed
func (wp *WorkerPool) ActiveJobs() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.activeJobs
}

// resumeOrphanedJobs finds jobs stuck in processing after an ungraceful
// shutdown and resumes them where they left off. The item loop restarts
// at ProcessedCount, so completed items are never re-run.
func (wp *WorkerPool) resumeOrphanedJobs() error {
	orphaned, err := wp.queue.Store().ListProcessingJobs(MaxOrphanedJobsToResume)
	if err != nil {
		return errors.Wrap(err, "failed to list processing jobs")
	}

	if len(orphaned) == 0 {
		return nil
	}

	wp.logger.Infow("Found orphaned jobs from previous run", "count", len(orphaned))

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		for _, j := range orphaned {
			select {
			case <-wp.ctx.Done():
				return
			default:
			}

			reclaimed, err := wp.queue.Store().ReclaimJob(j.ID)
			if err != nil {
				// Finished or picked up elsewhere in the meantime
				wp.logger.Debugw("Skipping orphaned job", "job_id", j.ID, "error", err)
				continue
			}

			wp.logger.Infow("Resuming orphaned job",
				"job_id", reclaimed.ID,
				"kind", reclaimed.Kind,
				"processed", reclaimed.ProcessedCount,
				"total", reclaimed.TotalCount,
			)

			if err := wp.runJob(reclaimed); err != nil {
				wp.logger.Errorw("Failed to resume orphaned job", "job_id", reclaimed.ID, "error", err)
			}
		}
	}()

	return nil
}

// worker polls for pending jobs until the pool context is cancelled
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	backoff := time.Second

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.processNextJob(); err != nil {
				select {
				case <-wp.ctx.Done():
					// Shutting down - exit silently
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) {
					// Database closed during shutdown
					return
				}

				errorCount++
				wp.logger.Errorw("Worker error processing job",
					"worker_id", id,
					"error", err,
					"consecutive_errors", errorCount,
				)

				if errorCount >= maxConsecutiveErrors {
					wp.logger.Warnw("Worker backing off after consecutive errors",
						"worker_id", id,
						"backoff", backoff,
					)
					time.Sleep(backoff)
					backoff = min(backoff*2, maxErrorBackoff)
				}
			} else {
				errorCount = 0
				backoff = time.Second
			}
		}
	}
}

// processNextJob claims the next eligible pending job and runs it
func (wp *WorkerPool) processNextJob() error {
	select {
	case <-wp.ctx.Done():
		return nil
	default:
	}

	next, err := wp.queue.NextPendingJob()
	if err != nil {
		return errors.Wrap(err, "failed to find next pending job")
	}
	if next == nil {
		return nil
	}

	claimed, err := wp.queue.Claim(next.ID)
	if err != nil {
		if errors.Is(err, errors.ErrConflict) {
			// Another worker won the claim
			return nil
		}
		return errors.Wrapf(err, "failed to claim job %s", next.ID)
	}

	return wp.runJob(claimed)
}

// runJob executes a claimed job item by item, persisting counters after
// every recorded outcome. Per-item failures are recorded and the loop
// continues; only systemic errors fail the job. If the context is
// cancelled mid-loop the job is left in processing with its progress
// persisted, ready to be resumed.
func (wp *WorkerPool) runJob(j *Job) error {
	wp.mu.Lock()
	wp.activeJobs++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeJobs--
		wp.mu.Unlock()
	}()

	processor := wp.registry.Get(j.Kind)
	if processor == nil {
		return wp.queue.Fail(j, errors.Newf("no processor registered for kind %q", j.Kind))
	}

	wp.logger.Infow("Processing job",
		"job_id", j.ID,
		"kind", j.Kind,
		"processed", j.ProcessedCount,
		"total", j.TotalCount,
	)

	for !j.Done() {
		select {
		case <-wp.ctx.Done():
			wp.logger.Infow("Job interrupted by shutdown, will resume on restart",
				"job_id", j.ID,
				"processed", j.ProcessedCount,
				"total", j.TotalCount,
			)
			return nil
		default:
		}

		idx := j.NextIndex()
		item := j.Input.Items[idx]

		if err := processor.ProcessItem(wp.ctx, j, idx, item); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// Item left unrecorded, job resumes from this index
				return nil
			}
			// Systemic failure: counters persisted so far stay on the row
			wp.logger.Errorw("Job failed with systemic error",
				"job_id", j.ID,
				"kind", j.Kind,
				"processed", j.ProcessedCount,
				"error", err,
			)
			return wp.queue.Fail(j, err)
		}

		if j.NextIndex() == idx {
			// Processor returned nil without recording an outcome
			if err := j.RecordError(idx, item.CompanyID, "process", "processor recorded no outcome"); err != nil {
				return wp.queue.Fail(j, err)
			}
		}

		if err := wp.queue.UpdateProgress(j); err != nil {
			return errors.Wrapf(err, "failed to persist progress for job %s", j.ID)
		}
	}

	if err := wp.queue.Complete(j); err != nil {
		return errors.Wrapf(err, "failed to complete job %s", j.ID)
	}

	wp.logger.Infow("Job completed",
		"job_id", j.ID,
		"kind", j.Kind,
		"success", j.SuccessCount,
		"errors", j.ErrorCount,
		"skipped", j.SkippedCount,
	)

	return nil
}
