package async

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/vidscope/errors"
)

const (
	// MaxJobsLimit is the maximum number of jobs returned by a listing
	MaxJobsLimit = 10000
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// Queue serializes job state changes and notifies subscribers
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job
	wake        chan struct{}
}

// NewQueue creates a new job queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		store:       NewStore(db),
		subscribers: make([]chan *Job, 0),
		wake:        make(chan struct{}, 1),
	}
}

// Enqueue adds a new job to the queue
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CreateJob(job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
		return err
	}

	q.notifySubscribers(job)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Wake fires after an Enqueue so idle workers can skip the rest of their poll interval
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Dequeue gets the oldest queued job and marks it as running.
// Returns nil when the queue is empty.
func (q *Queue) Dequeue() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.NextQueued()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queued jobs")
	}
	if job == nil {
		return nil, nil
	}

	job.Start()
	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to mark job as running")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
		return nil, err
	}

	q.notifySubscribers(job)
	return job, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(id string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.GetJob(id)
}

// UpdateJob updates a job's state
func (q *Queue) UpdateJob(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to update job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", job.Status))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// CompleteJob marks a job as completed
func (q *Queue) CompleteJob(id string) error {
	return q.finish(id, func(j *Job) { j.Complete() })
}

// FailJob marks a job as failed with an error
func (q *Queue) FailJob(id string, jobErr error) error {
	return q.finish(id, func(j *Job) { j.Fail(jobErr) })
}

// CancelJob marks a job as cancelled
func (q *Queue) CancelJob(id string, reason string) error {
	return q.finish(id, func(j *Job) { j.Cancel(reason) })
}

func (q *Queue) finish(id string, apply func(*Job)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "failed to finish job %s", id)
	}

	apply(job)

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to finish job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", job.Status))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// ListJobs returns jobs, optionally filtered by status
func (q *Queue) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListJobs(status, limit)
}

// ListActiveJobs returns all queued or running jobs
func (q *Queue) ListActiveJobs(limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListActiveJobs(limit)
}

// FindActiveJobBySourceAndHandler returns the live job for a video, or nil
func (q *Queue) FindActiveJobBySourceAndHandler(source, handlerName string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.FindActiveJobBySourceAndHandler(source, handlerName)
}

// Subscribe returns a channel that receives job updates.
// The caller is responsible for calling Unsubscribe when done.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is NOT closed; the caller owns it.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers requires q.mu. Slow subscribers miss updates.
func (q *Queue) notifySubscribers(job *Job) {
	snapshot := *job
	for _, ch := range q.subscribers {
		select {
		case ch <- &snapshot:
		default:
		}
	}
}

// Cleanup removes old finished jobs
func (q *Queue) Cleanup(olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.CleanupOldJobs(olderThan)
}

// QueueStats returns statistics about the queue
type QueueStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats() (*QueueStats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts, err := q.store.CountByStatus()
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{
		Queued:    counts[JobStatusQueued],
		Running:   counts[JobStatusRunning],
		Completed: counts[JobStatusCompleted],
		Failed:    counts[JobStatusFailed],
		Cancelled: counts[JobStatusCancelled],
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// GetJobCounts returns quick counts of queued and running jobs
func (q *Queue) GetJobCounts() (queued int, running int, err error) {
	stats, err := q.GetStats()
	if err != nil {
		return 0, 0, err
	}
	return stats.Queued, stats.Running, nil
}
