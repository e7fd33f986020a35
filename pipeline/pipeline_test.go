package pipeline

import (
	"context"
	"database/sql"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/vidscope/annotate"
	"github.com/teranos/vidscope/catalog"
	"github.com/teranos/vidscope/detect"
	"github.com/teranos/vidscope/errors"
	vstest "github.com/teranos/vidscope/internal/testing"
	"github.com/teranos/vidscope/media"
	"github.com/teranos/vidscope/metrics"
	"github.com/teranos/vidscope/pulse/async"
	"github.com/teranos/vidscope/pulse/progress"
	"github.com/teranos/vidscope/storage"
	"github.com/teranos/vidscope/storage/local"
	"github.com/teranos/vidscope/video"
)

const testVideo = "traffic.mp4"

type fixture struct {
	svc      *Service
	db       *sql.DB
	store    *local.Store
	catalog  *catalog.Store
	tracker  *progress.Tracker
	queue    *async.Queue
	opener   *media.Memory
	detector *detect.Scripted
	registry *async.HandlerRegistry
	scratch  string
	frames   map[string][]*image.RGBA
}

func newFixture(t *testing.T, dets map[int][]video.Detection) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	conn := vstest.CreateTestDB(t)

	store, err := local.New(t.TempDir(), storage.Names{Original: "original", Processed: "processed", Heatmaps: "heatmaps"})
	require.NoError(t, err)

	cat := catalog.NewStore(conn, logger, catalog.WithRetry(1, 0))
	f := &fixture{
		db:       conn,
		store:    store,
		catalog:  cat,
		tracker:  progress.NewTracker(cat, logger),
		queue:    async.NewQueue(conn),
		opener:   media.NewMemory(),
		detector: detect.NewScripted(dets),
		registry: async.NewHandlerRegistry(),
		scratch:  t.TempDir(),
		frames:   map[string][]*image.RGBA{},
	}
	f.svc = NewService(Deps{
		Store:      store,
		Catalog:    cat,
		Tracker:    f.tracker,
		Queue:      f.queue,
		Detector:   f.detector,
		Opener:     f.opener,
		Transcoder: media.CopyTranscoder{},
		Metrics:    metrics.New(),
		Logger:     logger,
	}, Config{ScratchDir: f.scratch, IntermediateExt: ".avi"})
	f.svc.RegisterHandlers(f.registry)
	return f
}

// addSource uploads a placeholder object and remembers the frames the
// in-memory decoder should return for it
func (f *fixture) addSource(t *testing.T, name string, frames ...*image.RGBA) {
	t.Helper()
	_, err := f.store.UploadBytes(context.Background(), storage.Original, name, []byte("video"), storage.ContentTypeMP4)
	require.NoError(t, err)
	f.frames[name] = frames
}

// runNext dequeues one job and executes its handler directly
func (f *fixture) runNext(t *testing.T) (*async.Job, error) {
	t.Helper()
	job, err := f.queue.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, job, "queue is empty")

	jc := f.jobContext(job)
	f.opener.Add(jc.SourcePath, media.Info{FPS: 30, Width: 100, Height: 100}, f.frames[job.Source])

	h := f.registry.Get(job.HandlerName)
	require.NotNil(t, h)
	return job, h.Execute(context.Background(), job)
}

func (f *fixture) jobContext(job *async.Job) JobContext {
	return NewJobContext(f.scratch, job.Source, job.ID, ".avi")
}

func grayFrame(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

func car() map[int][]video.Detection {
	return map[int][]video.Detection{
		0: {{Label: "car", Confidence: 0.9, BBox: video.BBox{X1: 10, Y1: 10, X2: 50, Y2: 50}}},
	}
}

func TestStart_MissingSource(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Start(context.Background(), testVideo)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAssetNotFound))

	_, ok := f.tracker.Peek(testVideo)
	assert.False(t, ok, "missing source must not create a tracker entry")
}

func TestStart_InvalidName(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Start(context.Background(), "../etc/passwd")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestProcess_EndToEnd(t *testing.T) {
	f := newFixture(t, car())
	f.addSource(t, testVideo, grayFrame(100, 100, 100), grayFrame(100, 100, 100))
	ctx := context.Background()

	st, err := f.svc.Start(ctx, testVideo)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusProcessing, st.Status)
	assert.Equal(t, 0, st.Progress)
	assert.Equal(t, StepDetecting, st.Step)

	job, err := f.runNext(t)
	require.NoError(t, err)
	assert.Equal(t, 2, f.detector.Calls())

	processedPath := f.store.Path(storage.Processed, "processed_traffic.mp4")
	heatmapPath := f.store.Path(storage.Heatmaps, "heatmap_traffic.png")

	st = f.svc.Status(ctx, testVideo)
	assert.Equal(t, progress.StatusCompleted, st.Status)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, StepCompleted, st.Step)
	assert.Equal(t, processedPath, st.ProcessedVideoPath)
	assert.Equal(t, heatmapPath, st.HeatmapPath)

	rec, err := f.catalog.Get(ctx, testVideo)
	require.NoError(t, err)
	require.Len(t, rec.Metadata, 1)
	assert.Equal(t, 0, rec.Metadata[0].Frame)
	assert.Equal(t, "car", rec.Metadata[0].Objects[0].Label)
	require.NotNil(t, rec.ProcessedVideoPath)
	assert.Equal(t, processedPath, *rec.ProcessedVideoPath)
	require.NotNil(t, rec.HeatmapPath)
	assert.Equal(t, heatmapPath, *rec.HeatmapPath)

	// frame 0 carries the box, frame 1 is untouched
	written := f.opener.Written(f.jobContext(job).IntermediatePath)
	require.Len(t, written, 2)
	assert.Equal(t, annotate.BoxColor, written[0].RGBAAt(10, 10))
	assert.Equal(t, color.RGBA{100, 100, 100, 255}, written[1].RGBAAt(10, 10))

	rc, err := f.store.Open(ctx, storage.Heatmaps, "heatmap_traffic.png")
	require.NoError(t, err)
	defer rc.Close()
	img, err := png.Decode(rc)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 100), img.Bounds())

	ok, err := f.store.Exists(ctx, storage.Processed, "processed_traffic.mp4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcess_ReportsEachStep(t *testing.T) {
	f := newFixture(t, car())
	f.addSource(t, testVideo, grayFrame(100, 100, 100), grayFrame(100, 100, 100))
	updates := f.tracker.Subscribe()
	defer f.tracker.Unsubscribe(updates)

	_, err := f.svc.Start(context.Background(), testVideo)
	require.NoError(t, err)
	_, err = f.runNext(t)
	require.NoError(t, err)

	var steps []string
	last := -1
drain:
	for {
		select {
		case st := <-updates:
			assert.Greater(t, st.Progress, last, "progress went backwards at %s", st.Step)
			last = st.Progress
			steps = append(steps, st.Step)
		default:
			break drain
		}
	}

	assert.Equal(t, []string{
		StepDetecting, StepDetecting, StepDetecting, StepDetectDone,
		StepAnnotating, StepAnnotating, StepVideoDone,
		StepCompleted,
	}, steps)
	assert.Equal(t, 100, last)
}

func TestStart_AlreadyProcessed(t *testing.T) {
	f := newFixture(t, car())
	f.addSource(t, testVideo, grayFrame(8, 8, 0))
	ctx := context.Background()

	path := "file:///videos/processed_traffic.mp4"
	_, err := f.catalog.Upsert(ctx, testVideo, catalog.Update{ProcessedVideoPath: &path})
	require.NoError(t, err)

	st, err := f.svc.Start(ctx, testVideo)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusCompleted, st.Status)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, path, st.ProcessedVideoPath)

	job, err := f.queue.Dequeue()
	require.NoError(t, err)
	assert.Nil(t, job, "no job may be queued for a processed video")
	assert.Equal(t, 0, f.detector.Calls())
}

func TestStart_SecondCallerSeesRunningJob(t *testing.T) {
	f := newFixture(t, car())
	f.addSource(t, testVideo, grayFrame(8, 8, 0))
	ctx := context.Background()

	first, err := f.svc.Start(ctx, testVideo)
	require.NoError(t, err)
	f.tracker.Set(testVideo, 20, StepDetecting)

	second, err := f.svc.Start(ctx, testVideo)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusProcessing, second.Status)
	assert.Equal(t, 20, second.Progress)
	assert.Equal(t, first.JobID, second.JobID)

	jobs, err := f.queue.ListJobs(nil, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestProcess_NoDetectionsKeepsVideo(t *testing.T) {
	f := newFixture(t, nil)
	f.addSource(t, testVideo, grayFrame(20, 20, 50), grayFrame(20, 20, 50))
	ctx := context.Background()

	_, err := f.svc.Start(ctx, testVideo)
	require.NoError(t, err)
	job, err := f.runNext(t)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoDetections))

	rec, err := f.catalog.Get(ctx, testVideo)
	require.NoError(t, err)
	assert.NotNil(t, rec.Metadata)
	assert.Empty(t, rec.Metadata)
	require.NotNil(t, rec.ProcessedVideoPath)
	assert.Nil(t, rec.HeatmapPath)

	st := f.svc.Status(ctx, testVideo)
	assert.Equal(t, progress.StatusError, st.Status)
	assert.Equal(t, progress.Failed, st.Progress)
	assert.True(t, strings.HasPrefix(st.Step, "error: "), st.Step)
	assert.Equal(t, *rec.ProcessedVideoPath, st.ProcessedVideoPath)

	_, statErr := os.Stat(f.jobContext(job).Dir)
	assert.True(t, os.IsNotExist(statErr), "scratch directory left behind")
	_, statErr = os.Stat(filepath.Join(f.scratch, testVideo))
	assert.True(t, os.IsNotExist(statErr), "per-video scratch directory left behind")
}

type failingCatalog struct {
	*catalog.Store
}

func (c failingCatalog) Upsert(ctx context.Context, name string, u catalog.Update) (bool, error) {
	return false, errors.Mark(errors.New("database is locked"), errors.ErrPersistenceFailure)
}

func TestProcess_PersistenceFailureIsFatal(t *testing.T) {
	f := newFixture(t, car())
	f.svc.Catalog = failingCatalog{f.catalog}
	f.addSource(t, testVideo, grayFrame(20, 20, 50))
	ctx := context.Background()

	_, err := f.svc.Start(ctx, testVideo)
	require.NoError(t, err)
	_, err = f.runNext(t)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPersistenceFailure))

	st := f.svc.Status(ctx, testVideo)
	assert.Equal(t, progress.StatusError, st.Status)
	assert.Contains(t, st.Error, "database is locked")

	ok, err := f.store.Exists(ctx, storage.Processed, "processed_traffic.mp4")
	require.NoError(t, err)
	assert.False(t, ok, "annotation must not run after a failed upsert")
}

func TestProcess_DetectorFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.detector.FailWith(errors.New("model crashed"))
	f.addSource(t, testVideo, grayFrame(20, 20, 50))
	ctx := context.Background()

	_, err := f.svc.Start(ctx, testVideo)
	require.NoError(t, err)
	job, err := f.runNext(t)
	require.Error(t, err)

	st := f.svc.Status(ctx, testVideo)
	assert.Equal(t, progress.StatusError, st.Status)
	assert.Contains(t, st.Step, "model crashed")

	stored, err := f.queue.GetJob(job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Error)
	assert.Equal(t, StepDetecting, stored.Stage)
}

type panickingDetector struct{}

func (panickingDetector) Detect(ctx context.Context, f *media.Frame) ([]video.Detection, error) {
	var byLabel map[string]int
	byLabel["car"]++
	return nil, nil
}

func TestProcess_PanicUnderWorkerPoolFailsVideo(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.Detector = panickingDetector{}
	f.addSource(t, testVideo, grayFrame(20, 20, 50))
	ctx := context.Background()

	_, err := f.svc.Start(ctx, testVideo)
	require.NoError(t, err)
	job, err := f.queue.FindActiveJobBySourceAndHandler(testVideo, HandlerProcess)
	require.NoError(t, err)
	require.NotNil(t, job)
	f.opener.Add(f.jobContext(job).SourcePath, media.Info{FPS: 30, Width: 20, Height: 20}, f.frames[testVideo])

	pool := async.NewWorkerPool(ctx, f.db, async.WorkerPoolConfig{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
		StopTimeout:  5 * time.Second,
	}, zaptest.NewLogger(t).Sugar())
	f.svc.RegisterHandlers(pool.Registry())
	pool.Start()

	require.Eventually(t, func() bool {
		stored, err := f.queue.GetJob(job.ID)
		return err == nil && stored.Status == async.JobStatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	pool.Stop()

	st := f.svc.Status(ctx, testVideo)
	assert.Equal(t, progress.StatusError, st.Status)
	assert.Equal(t, progress.Failed, st.Progress)
	assert.Contains(t, st.Error, "nil map")

	// the caller can re-trigger once the video has failed
	st, err = f.svc.Start(ctx, testVideo)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusProcessing, st.Status)
	retry, err := f.queue.FindActiveJobBySourceAndHandler(testVideo, HandlerProcess)
	require.NoError(t, err)
	require.NotNil(t, retry)
	assert.NotEqual(t, job.ID, retry.ID)
}

func TestRecovered_PanicBecomesError(t *testing.T) {
	err := recovered(func() error { panic("nil frame") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil frame")

	assert.NoError(t, recovered(func() error { return nil }))
}

func TestStatus_Unknown(t *testing.T) {
	f := newFixture(t, nil)

	st := f.svc.Status(context.Background(), "never.mp4")
	assert.Equal(t, progress.StatusNotStarted, st.Status)
	assert.Equal(t, 0, st.Progress)
}

func TestHeatmap_Requests(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown video", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.Heatmap(ctx, testVideo)
		require.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
	})

	t.Run("recorded path", func(t *testing.T) {
		f := newFixture(t, nil)
		path := "gs://heatmaps/heatmap_traffic.png"
		_, err := f.catalog.Upsert(ctx, testVideo, catalog.Update{HeatmapPath: &path})
		require.NoError(t, err)

		hs, err := f.svc.Heatmap(ctx, testVideo)
		require.NoError(t, err)
		assert.True(t, hs.Ready)
		assert.Equal(t, path, hs.Path)
	})

	t.Run("backfills from storage", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.catalog.Upsert(ctx, testVideo, catalog.Update{Metadata: []video.FrameDetections{}})
		require.NoError(t, err)
		_, err = f.store.UploadBytes(ctx, storage.Heatmaps, "heatmap_traffic.png", []byte("png"), storage.ContentTypePNG)
		require.NoError(t, err)

		hs, err := f.svc.Heatmap(ctx, testVideo)
		require.NoError(t, err)
		assert.True(t, hs.Ready)

		rec, err := f.catalog.Get(ctx, testVideo)
		require.NoError(t, err)
		require.NotNil(t, rec.HeatmapPath)
		assert.Equal(t, f.store.Path(storage.Heatmaps, "heatmap_traffic.png"), *rec.HeatmapPath)
	})

	t.Run("not processed", func(t *testing.T) {
		f := newFixture(t, nil)
		path := "file:///x/processed_traffic.mp4"
		_, err := f.catalog.Upsert(ctx, testVideo, catalog.Update{ProcessedVideoPath: &path})
		require.NoError(t, err)

		_, err = f.svc.Heatmap(ctx, testVideo)
		require.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
	})

	t.Run("nothing detected", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.catalog.Upsert(ctx, testVideo, catalog.Update{Metadata: []video.FrameDetections{}})
		require.NoError(t, err)

		_, err = f.svc.Heatmap(ctx, testVideo)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrNoDetections))
	})
}

func TestHeatmap_RegeneratesFromStoredDetections(t *testing.T) {
	f := newFixture(t, nil)
	f.addSource(t, testVideo, grayFrame(100, 100, 80), grayFrame(100, 100, 80), grayFrame(100, 100, 80))
	ctx := context.Background()

	frames := []video.FrameDetections{{Frame: 1, Objects: car()[0]}}
	_, err := f.catalog.Upsert(ctx, testVideo, catalog.Update{Metadata: frames})
	require.NoError(t, err)

	first, err := f.svc.Heatmap(ctx, testVideo)
	require.NoError(t, err)
	assert.False(t, first.Ready)
	require.NotEmpty(t, first.JobID)

	again, err := f.svc.Heatmap(ctx, testVideo)
	require.NoError(t, err)
	assert.Equal(t, first.JobID, again.JobID, "an active heatmap job is reused")

	job, err := f.runNext(t)
	require.NoError(t, err)
	assert.Equal(t, HandlerHeatmap, job.HandlerName)
	assert.Equal(t, 0, f.detector.Calls())

	rec, err := f.catalog.Get(ctx, testVideo)
	require.NoError(t, err)
	require.NotNil(t, rec.HeatmapPath)
	assert.Equal(t, f.store.Path(storage.Heatmaps, "heatmap_traffic.png"), *rec.HeatmapPath)

	done, err := f.svc.Heatmap(ctx, testVideo)
	require.NoError(t, err)
	assert.True(t, done.Ready)
}

func TestScale(t *testing.T) {
	assert.Equal(t, 0, scale(0, 33, 0, 10))
	assert.Equal(t, 16, scale(0, 33, 1, 2))
	assert.Equal(t, 32, scale(0, 33, 2, 2))
	assert.Equal(t, 49, scale(33, 66, 1, 2))
	assert.Equal(t, 33, scale(33, 66, 5, 0))
}

func TestJobContext_Layout(t *testing.T) {
	jc := NewJobContext("/scratch", "clip.mov", "job-1", "")

	assert.Equal(t, filepath.Join("/scratch", "clip.mov", "job-1"), jc.Dir)
	assert.Equal(t, filepath.Join(jc.Dir, "source.mov"), jc.SourcePath)
	assert.Equal(t, filepath.Join(jc.Dir, "intermediate.mp4"), jc.IntermediatePath)
	assert.Equal(t, "processed_clip.mov", jc.ProcessedKey)
	assert.Equal(t, "heatmap_clip.png", jc.HeatmapKey)

	w, h := jc.Size()
	assert.Zero(t, w)
	assert.Zero(t, h)

	bg := image.NewRGBA(image.Rect(0, 0, 64, 48))
	withBG := jc.WithRender(media.Info{}, bg)
	w, h = withBG.Size()
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)
	assert.Nil(t, jc.Background, "With* returns a copy")
}
