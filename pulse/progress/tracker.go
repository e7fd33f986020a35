// Package progress tracks the processing state of every video job in memory.
//
// Progress is monotonic per job: an update only applies when it moves the
// stored value strictly forward. Failures and claims bypass that rule. Jobs
// that finished before a restart are reconstructed from the catalog.
package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vidscope/catalog"
	"github.com/teranos/vidscope/errors"
)

// Status is the derived job state
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further updates are expected
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

const (
	// Failed is the progress value recorded with StatusError
	Failed = -1
	// Done is the progress value that marks completion
	Done = 100

	// SubscriberBufferSize bounds each subscriber channel
	SubscriberBufferSize = 100
)

// State is a point-in-time view of one job
type State struct {
	JobID              string    `json:"job_id"`
	Status             Status    `json:"status"`
	Progress           int       `json:"progress"`
	Step               string    `json:"step"`
	Error              string    `json:"error,omitempty"`
	ProcessedVideoPath string    `json:"processed_video_path,omitempty"`
	HeatmapPath        string    `json:"heatmap_path,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Lookup finds the persisted record for a job; the catalog satisfies it
type Lookup interface {
	Get(ctx context.Context, name string) (*catalog.VideoRecord, error)
}

// Tracker is safe for concurrent use. The mutex is never held across I/O.
type Tracker struct {
	mu          sync.Mutex
	states      map[string]*State
	ttl         time.Duration
	lookup      Lookup
	logger      *zap.SugaredLogger
	now         func() time.Time
	subscribers []chan State
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithTTL sets how long terminal states are kept
func WithTTL(ttl time.Duration) Option {
	return func(t *Tracker) { t.ttl = ttl }
}

// NewTracker creates a tracker. lookup may be nil, in which case unknown
// jobs are always not_started.
func NewTracker(lookup Lookup, logger *zap.SugaredLogger, opts ...Option) *Tracker {
	t := &Tracker{
		states: make(map[string]*State),
		ttl:    time.Hour,
		lookup: lookup,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Set records progress and step if progress exceeds the stored value.
// A job with no entry counts as 0. A negative progress is an error report:
// it is recorded through Fail with step as the message and always applies.
// Reports whether the update applied.
func (t *Tracker) Set(jobID string, progress int, step string) bool {
	if progress < 0 {
		t.Fail(jobID, step)
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.states[jobID]
	stored := 0
	if ok {
		stored = cur.Progress
	}
	if progress <= stored {
		return false
	}

	status := StatusProcessing
	if progress >= Done {
		status = StatusCompleted
	}
	st := &State{JobID: jobID, Status: status, Progress: progress, Step: step, UpdatedAt: t.now()}
	if ok {
		st.ProcessedVideoPath = cur.ProcessedVideoPath
		st.HeatmapPath = cur.HeatmapPath
	}
	t.states[jobID] = st
	t.notify(*st)
	return true
}

// SetArtifacts attaches artifact locations to an existing entry without
// touching its progress
func (t *Tracker) SetArtifacts(jobID, processedPath, heatmapPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[jobID]
	if !ok {
		return
	}
	if processedPath != "" {
		st.ProcessedVideoPath = processedPath
	}
	if heatmapPath != "" {
		st.HeatmapPath = heatmapPath
	}
}

// Fail records an error state. Always applies.
func (t *Tracker) Fail(jobID, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := &State{
		JobID:     jobID,
		Status:    StatusError,
		Progress:  Failed,
		Step:      "error: " + message,
		Error:     message,
		UpdatedAt: t.now(),
	}
	if cur, ok := t.states[jobID]; ok {
		st.ProcessedVideoPath = cur.ProcessedVideoPath
		st.HeatmapPath = cur.HeatmapPath
	}
	t.states[jobID] = st
	t.notify(*st)
}

// Claim takes ownership of a job. It returns (state, true) and resets the
// entry to progress 0 when nothing is processing it, or the current state
// and false when another caller already owns it.
func (t *Tracker) Claim(jobID, step string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.states[jobID]; ok && cur.Status == StatusProcessing {
		return *cur, false
	}
	st := &State{JobID: jobID, Status: StatusProcessing, Progress: 0, Step: step, UpdatedAt: t.now()}
	t.states[jobID] = st
	t.notify(*st)
	return *st, true
}

// Peek returns the in-memory state only
func (t *Tracker) Peek(jobID string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[jobID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Get returns the in-memory state, or reconstructs one from the catalog:
// a record with a processed video is completed, anything else not_started.
func (t *Tracker) Get(ctx context.Context, jobID string) State {
	if st, ok := t.Peek(jobID); ok {
		return st
	}

	notStarted := State{JobID: jobID, Status: StatusNotStarted, Step: "not started"}
	if t.lookup == nil {
		return notStarted
	}

	rec, err := t.lookup.Get(ctx, jobID)
	if err != nil {
		if !errors.IsNotFoundError(err) && t.logger != nil {
			t.logger.Warnw("Status fallback lookup failed", "video", jobID, "error", err)
		}
		return notStarted
	}
	if rec.ProcessedVideoPath == nil {
		return notStarted
	}

	st := State{
		JobID:              jobID,
		Status:             StatusCompleted,
		Progress:           Done,
		Step:               "completed",
		ProcessedVideoPath: *rec.ProcessedVideoPath,
		UpdatedAt:          rec.CreatedAt,
	}
	if rec.HeatmapPath != nil {
		st.HeatmapPath = *rec.HeatmapPath
	}
	return st
}

// Snapshot returns every in-memory state
func (t *Tracker) Snapshot() []State {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]State, 0, len(t.states))
	for _, st := range t.states {
		out = append(out, *st)
	}
	return out
}

// SetTTL changes the retention of terminal states
func (t *Tracker) SetTTL(ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ttl = ttl
}

// TTL returns the retention of terminal states
func (t *Tracker) TTL() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ttl
}

// Sweep drops terminal states older than the TTL and returns how many went.
// Processing entries are never evicted.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ttl <= 0 {
		return 0
	}
	n := 0
	for id, st := range t.states {
		if st.Status.Terminal() && now.Sub(st.UpdatedAt) >= t.ttl {
			delete(t.states, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(t.now()); n > 0 && t.logger != nil {
				t.logger.Debugw("Evicted finished jobs", "count", n)
			}
		}
	}
}

// Subscribe returns a channel receiving every applied state change.
// Slow subscribers miss updates rather than block the tracker.
func (t *Tracker) Subscribe() chan State {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan State, SubscriberBufferSize)
	t.subscribers = append(t.subscribers, ch)
	return ch
}

// Unsubscribe removes ch. The caller closes it.
func (t *Tracker) Unsubscribe(ch chan State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, sub := range t.subscribers {
		if sub == ch {
			t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
			return
		}
	}
}

// notify requires t.mu
func (t *Tracker) notify(st State) {
	for _, ch := range t.subscribers {
		select {
		case ch <- st:
		default:
		}
	}
}
