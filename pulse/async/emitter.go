package async

import (
	"go.uber.org/zap"
)

// JobProgressEmitter persists a running job's stage and frame progress to
// the job table so `vidscope status` and the websocket feed can show it.
type JobProgressEmitter struct {
	job     *Job
	queue   *Queue
	log     *zap.SugaredLogger
	lastPct int
}

// NewJobProgressEmitter creates a new progress emitter for a job.
func NewJobProgressEmitter(job *Job, queue *Queue, baseLogger *zap.SugaredLogger) *JobProgressEmitter {
	return &JobProgressEmitter{
		job:     job,
		queue:   queue,
		log:     baseLogger.With("job_id", job.ID, "video", job.Source),
		lastPct: -1,
	}
}

// EmitStage records a stage transition
func (e *JobProgressEmitter) EmitStage(stage, message string) {
	e.job.SetStage(stage)
	e.job.UpdateProgress(0, 0)
	e.lastPct = -1
	if err := e.queue.UpdateJob(e.job); err != nil {
		e.log.Warnw("Failed to update job for stage", "stage", stage, "error", err)
	}
	if message != "" {
		e.log.Debugw(message, "stage", stage)
	}
}

// EmitProgress records frame progress within the current stage. Writes
// happen only when the whole-percent value changes.
func (e *JobProgressEmitter) EmitProgress(current, total int) {
	e.job.UpdateProgress(current, total)
	pct := int(e.job.Progress.Percentage())
	if total > 0 && pct == e.lastPct {
		return
	}
	e.lastPct = pct
	if err := e.queue.UpdateJob(e.job); err != nil {
		e.log.Warnw("Failed to update job progress", "current", current, "total", total, "error", err)
	}
}

// EmitError logs a classified failure and stores its message on the job
func (e *JobProgressEmitter) EmitError(stage string, err error) {
	ec := ClassifyError(stage, err)
	e.log.Errorw("Job error",
		"stage", stage,
		"error_code", ec.Code,
		"error", err,
		"retryable", ec.Retryable,
	)

	e.job.Error = ec.Message
	if uerr := e.queue.UpdateJob(e.job); uerr != nil {
		e.log.Warnw("Failed to update job error state", "error", uerr)
	}
}

// EmitInfo logs informational messages.
func (e *JobProgressEmitter) EmitInfo(message string) {
	e.log.Info(message)
}
