package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/pulse/async"
)

func TestJobObserver(t *testing.T) {
	m := New()
	job := &async.Job{HandlerName: "vidscope.process", Stage: "heatmap"}

	m.JobStarted(job)
	m.JobFinished(job, nil, time.Second)
	m.JobFinished(job, errors.ErrNoDetections, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsStarted.WithLabelValues("vidscope.process")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsCompleted.WithLabelValues("vidscope.process")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsFailed.WithLabelValues("vidscope.process", "no_detections")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.FramesDecoded.Add(48)
	m.ObserveStage("annotating", 1500*time.Millisecond)
	m.RegisterGauge("vidscope_tracked_jobs", "Jobs held by the progress tracker", func() float64 { return 3 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "vidscope_frames_decoded_total 48")
	assert.Contains(t, string(body), `vidscope_stage_duration_seconds_count{stage="annotating"} 1`)
	assert.Contains(t, string(body), "vidscope_tracked_jobs 3")
}
