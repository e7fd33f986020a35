package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vidscope/errors"
)

const (
	// MaxOrphanedJobsToRecover limits how many jobs left running by a crash
	// are re-queued on startup
	MaxOrphanedJobsToRecover = 1000

	defaultStopTimeout = 30 * time.Second
)

// pulseLogger wraps zap.SugaredLogger with level conventions for pool events:
// Starting uses DEBUG, Closing uses WARN, Pulse uses INFO.
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an opening event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

// Closing logs a closing event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

// Pulse logs general worker operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// JobObserver is told when a job starts and finishes. Metrics hook in here.
type JobObserver interface {
	JobStarted(job *Job)
	JobFinished(job *Job, err error, elapsed time.Duration)
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers          int           `json:"workers"`
	PollInterval     time.Duration `json:"poll_interval"`
	MaxMemoryPercent float64       `json:"max_memory_percent"` // 0 disables the memory gate
	StopTimeout      time.Duration `json:"stop_timeout"`
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:          1,
		PollInterval:     250 * time.Millisecond,
		MaxMemoryPercent: 90,
		StopTimeout:      defaultStopTimeout,
	}
}

// WorkerPool runs queued jobs on a fixed number of goroutines
type WorkerPool struct {
	queue         *Queue
	registry      *HandlerRegistry
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	observer      JobObserver
	memStats      func() (total, available uint64, err error)
	jobsProcessed int
	activeWorkers int
	startTime     time.Time
	logger        pulseLogger
	mu            sync.Mutex
}

// NewWorkerPool creates a pool with an empty handler registry. Register
// handlers before Start. Cancelling ctx stops the workers.
func NewWorkerPool(ctx context.Context, db *sql.DB, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	if poolCfg.Workers <= 0 {
		poolCfg.Workers = 1
	}
	if poolCfg.PollInterval <= 0 {
		poolCfg.PollInterval = DefaultWorkerPoolConfig().PollInterval
	}
	if poolCfg.StopTimeout <= 0 {
		poolCfg.StopTimeout = defaultStopTimeout
	}

	workerCtx, cancel := context.WithCancel(ctx)
	registry := NewHandlerRegistry()

	return &WorkerPool{
		queue:      NewQueue(db),
		registry:   registry,
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		memStats:   getMemoryStats,
		logger:     pulseLogger{logger.Named("pulse")},
	}
}

// SetObserver installs a job lifecycle observer. Call before Start.
func (wp *WorkerPool) SetObserver(o JobObserver) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.observer = o
}

// Start recovers jobs orphaned by a previous crash and launches the workers
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	wp.mu.Unlock()

	if err := wp.recoverOrphanedJobs(); err != nil {
		wp.logger.Warnw("Failed to recover orphaned jobs", "error", err)
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	wp.logger.Starting("Worker pool started", "workers", wp.workers, "handlers", wp.registry.Names())
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// recoverOrphanedJobs re-queues jobs still marked running. They were
// interrupted by an unclean shutdown.
func (wp *WorkerPool) recoverOrphanedJobs() error {
	runningStatus := JobStatusRunning
	orphaned, err := wp.queue.ListJobs(&runningStatus, MaxOrphanedJobsToRecover)
	if err != nil {
		return errors.Wrap(err, "failed to list running jobs")
	}
	if len(orphaned) == 0 {
		return nil
	}

	wp.logger.Starting("Found jobs orphaned by previous shutdown", "count", len(orphaned))
	for _, job := range orphaned {
		job.Status = JobStatusQueued
		job.Error = ""
		job.StartedAt = nil
		job.RetryCount++
		if err := wp.queue.UpdateJob(job); err != nil {
			wp.logger.Warnw("Failed to recover orphaned job", "job_id", job.ID, "error", err)
			continue
		}
		wp.logger.Starting("Recovered orphaned job", "job_id", job.ID, "video", job.Source, "handler", job.HandlerName)
	}
	return nil
}

// Stop cancels the workers and waits for them up to the stop timeout.
// Running jobs see ctx cancelled and are re-queued.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	cancel := wp.cancel
	wp.mu.Unlock()
	cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Pulse("❀ Worker pool stopped - all workers exited cleanly")
	case <-time.After(wp.poolConfig.StopTimeout):
		wp.logger.Closing("Worker pool stop timed out, workers may still be running", "timeout", wp.poolConfig.StopTimeout)
	}
}

func (wp *WorkerPool) workerContext() context.Context {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.ctx
}

// worker processes jobs until the pool context is cancelled
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	ctx := wp.workerContext()

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wp.queue.Wake():
		}

		err := wp.processNextJob(ctx)
		if err == nil {
			if errorCount > 0 {
				wp.logger.Infow("Worker recovered from errors", "worker_id", id, "previous_error_count", errorCount)
			}
			errorCount = 0
			backoffDuration = time.Second
			continue
		}

		if ctx.Err() != nil || errors.Is(err, sql.ErrConnDone) {
			return
		}
		errorCount++
		wp.logger.Errorw("Worker error processing job", "worker_id", id, "error", err, "consecutive_errors", errorCount)

		if errorCount >= maxConsecutiveErrors {
			wp.logger.Warnw("Worker backing off due to consecutive errors",
				"worker_id", id,
				"backoff", backoffDuration,
				"consecutive_errors", errorCount)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoffDuration):
			}
			backoffDuration = min(backoffDuration*2, maxBackoff)
		}
	}
}

// processNextJob runs at most one job. A nil error covers the empty queue,
// a deferred job under memory pressure, and a job re-queued on shutdown.
func (wp *WorkerPool) processNextJob(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	if wp.memoryBusy() {
		return nil
	}

	job, err := wp.queue.Dequeue()
	if err != nil {
		return errors.Wrap(err, "failed to dequeue job")
	}
	if job == nil {
		return nil
	}

	wp.mu.Lock()
	wp.jobsProcessed++
	wp.activeWorkers++
	observer := wp.observer
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	log := wp.logger.With("job_id", job.ID, "video", job.Source)
	log.Infow("Job started", "handler", job.HandlerName)
	if observer != nil {
		observer.JobStarted(job)
	}

	start := time.Now()
	execErr := wp.execute(ctx, job)
	elapsed := time.Since(start)
	if observer != nil {
		observer.JobFinished(job, execErr, elapsed)
	}

	if execErr != nil {
		if ctx.Err() != nil {
			log.Warnw("❀ Job interrupted by shutdown, re-queuing")
			job.Status = JobStatusQueued
			job.StartedAt = nil
			if updateErr := wp.queue.UpdateJob(job); updateErr != nil {
				log.Errorw("Failed to re-queue interrupted job", "error", updateErr)
			}
			return nil
		}
		ec := ClassifyError(job.Stage, execErr)
		log.Errorw("Job failed",
			"stage", job.Stage,
			"error_code", ec.Code,
			"error", execErr,
			"duration_ms", elapsed.Milliseconds())
		return wp.queue.FailJob(job.ID, execErr)
	}

	log.Infow("Job completed", "duration_ms", elapsed.Milliseconds())
	return wp.queue.CompleteJob(job.ID)
}

// execute runs the handler, turning a panic into an error
func (wp *WorkerPool) execute(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler %s panicked: %v", job.HandlerName, r)
		}
	}()
	return wp.registry.Execute(ctx, job)
}

// GetQueue returns the job queue (useful for enqueuing jobs)
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Registry returns the handler registry. Register handlers before Start:
//
//	pool := async.NewWorkerPool(ctx, db, poolCfg, logger)
//	pool.Registry().Register(pipeline.NewProcessHandler(svc))
//	pool.Start()
func (wp *WorkerPool) Registry() *HandlerRegistry {
	return wp.registry
}

// JobsProcessed returns how many jobs this pool has dequeued since Start
func (wp *WorkerPool) JobsProcessed() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.jobsProcessed
}

func (wp *WorkerPool) String() string {
	return fmt.Sprintf("WorkerPool(workers=%d, handlers=%v)", wp.workers, wp.registry.Names())
}
