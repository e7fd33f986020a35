package commands

import (
	"context"
	"database/sql"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/vidscope/am"
	"github.com/teranos/vidscope/catalog"
	"github.com/teranos/vidscope/db"
	"github.com/teranos/vidscope/detect"
	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/heatmap"
	"github.com/teranos/vidscope/logger"
	"github.com/teranos/vidscope/media"
	"github.com/teranos/vidscope/metrics"
	"github.com/teranos/vidscope/pipeline"
	"github.com/teranos/vidscope/pulse/async"
	"github.com/teranos/vidscope/pulse/progress"
	"github.com/teranos/vidscope/storage"
	"github.com/teranos/vidscope/storage/gcs"
	"github.com/teranos/vidscope/storage/local"
)

// app holds the wired components shared by serve and process
type app struct {
	cfg      *am.Config
	db       *sql.DB
	store    storage.Store
	catalog  *catalog.Store
	tracker  *progress.Tracker
	pool     *async.WorkerPool
	renderer *heatmap.Engine
	metrics  *metrics.Metrics
	svc      *pipeline.Service

	closers []io.Closer
}

// openDatabase opens and migrates the configured database
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	path := cfg.GetDatabasePath()
	database, err := db.Open(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", path)
	}
	return database, nil
}

// openCatalog is the lightweight path for read-only commands
func openCatalog() (*am.Config, *sql.DB, *catalog.Store, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to load configuration")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, database, catalog.NewStore(database, logger.Named("catalog")), nil
}

// openStore builds the configured backend wrapped with transient retries
func openStore(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (storage.Store, io.Closer, error) {
	names := storage.Names{
		Original:  cfg.Storage.Buckets.Original,
		Processed: cfg.Storage.Buckets.Processed,
		Heatmaps:  cfg.Storage.Buckets.Heatmaps,
	}

	var (
		backend storage.Store
		closer  io.Closer
	)
	switch cfg.Storage.Backend {
	case "", "local":
		s, err := local.New(cfg.Storage.LocalDir, names)
		if err != nil {
			return nil, nil, err
		}
		backend = s
	case "gcs":
		s, err := gcs.New(ctx, gcs.Config{
			ProjectID:       cfg.Storage.GCS.ProjectID,
			CredentialsFile: cfg.Storage.GCS.CredentialsFile,
			Endpoint:        cfg.Storage.GCS.Endpoint,
			Buckets:         names,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		backend, closer = s, s
	default:
		return nil, nil, errors.NewInvalidRequestError("unknown storage backend %q", cfg.Storage.Backend)
	}

	return storage.WithRetry(backend, cfg.Pipeline.PersistAttempts, cfg.PersistBackoff(), log), closer, nil
}

// newApp wires the full pipeline. The detector model is loaded here, so
// this fails early on builds without OpenCV.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.Logger
	a := &app{cfg: cfg, metrics: metrics.New()}

	a.db, err = openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.db)

	store, storeCloser, err := openStore(ctx, cfg, logger.Named("storage"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	if storeCloser != nil {
		a.closers = append(a.closers, storeCloser)
	}

	yolo, err := detect.NewYOLO(detect.YOLOConfig{
		ModelPath:    cfg.Detection.ModelPath,
		ConfigPath:   cfg.Detection.ConfigPath,
		NamesPath:    cfg.Detection.NamesPath,
		InputSize:    cfg.Detection.InputSize,
		NMSThreshold: cfg.Detection.NMSThreshold,
	})
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "failed to load detector")
	}
	a.closers = append(a.closers, yolo)

	ffmpeg := media.NewFFmpeg(cfg.FFmpeg.Path, logger.Named("ffmpeg"))
	if cfg.FFmpeg.Preset != "" {
		ffmpeg.Preset = cfg.FFmpeg.Preset
	}
	if cfg.FFmpeg.CRF > 0 {
		ffmpeg.CRF = cfg.FFmpeg.CRF
	}
	ffmpeg.Timeout = time.Duration(cfg.FFmpeg.TimeoutSeconds) * time.Second

	a.catalog = catalog.NewStore(a.db, logger.Named("catalog"),
		catalog.WithRetry(cfg.Pipeline.PersistAttempts, cfg.PersistBackoff()))
	a.tracker = progress.NewTracker(a.catalog, logger.Named("tracker"), progress.WithTTL(cfg.TrackerTTL()))
	a.renderer = heatmap.NewEngine(heatmapOptions(cfg))

	a.pool = async.NewWorkerPool(ctx, a.db, async.WorkerPoolConfig{
		Workers:          cfg.Pipeline.Workers,
		PollInterval:     time.Duration(cfg.Pipeline.PollIntervalMS) * time.Millisecond,
		MaxMemoryPercent: float64(cfg.Pipeline.MaxMemoryPercent),
	}, log)
	a.pool.SetObserver(a.metrics)

	a.svc = pipeline.NewService(pipeline.Deps{
		Store:      a.store,
		Catalog:    a.catalog,
		Tracker:    a.tracker,
		Queue:      a.pool.GetQueue(),
		Detector:   yolo,
		Opener:     media.NewOpenCV(),
		Transcoder: ffmpeg,
		Renderer:   a.renderer,
		Metrics:    a.metrics,
		Logger:     log,
	}, pipeline.Config{
		ScratchDir:          cfg.Pipeline.ScratchDir,
		IntermediateCodec:   cfg.Pipeline.IntermediateCodec,
		IntermediateExt:     cfg.Pipeline.IntermediateExt,
		ConfidenceThreshold: cfg.Detection.ConfidenceThreshold,
	})
	a.svc.RegisterHandlers(a.pool.Registry())

	a.metrics.RegisterGauge("vidscope_queue_depth", "Jobs waiting for a worker", func() float64 {
		queued, _, err := a.pool.GetQueue().GetJobCounts()
		if err != nil {
			return 0
		}
		return float64(queued)
	})
	return a, nil
}

// applyConfig pushes hot-reloadable settings into running components
func (a *app) applyConfig(cfg *am.Config) {
	a.tracker.SetTTL(cfg.TrackerTTL())
	a.renderer.SetOptions(heatmapOptions(cfg))
	a.svc.SetConfidenceThreshold(cfg.Detection.ConfidenceThreshold)
	logger.SetTheme(cfg.GetServerLogTheme())
}

func heatmapOptions(cfg *am.Config) heatmap.Options {
	return heatmap.Options{
		NoiseFloor:       cfg.Heatmap.NoiseFloor,
		BackgroundWeight: cfg.Heatmap.BackgroundWeight,
		OverlayWeight:    cfg.Heatmap.OverlayWeight,
	}
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logger.Warnw("Close failed", "error", err)
		}
	}
	a.closers = nil
}
