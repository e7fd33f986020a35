package am

import (
	"strings"

	"github.com/teranos/vidscope/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.Newf("server.port cannot be 0 (omit for default port %d)", DefaultServerPort)
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", *c.Server.Port)
	}
	if c.Server.MaxUploadBytes < 0 {
		return errors.Newf("server.max_upload_bytes must be >= 0, got %d", c.Server.MaxUploadBytes)
	}
	if c.Server.RequestsPerMinute < 0 {
		return errors.Newf("server.requests_per_minute must be >= 0, got %d", c.Server.RequestsPerMinute)
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir cannot be empty for the local backend")
		}
	case "gcs":
	default:
		return errors.Newf("storage.backend must be local or gcs, got %q", c.Storage.Backend)
	}
	b := c.Storage.Buckets
	if b.Original == "" || b.Processed == "" || b.Heatmaps == "" {
		return errors.New("storage.buckets.original, processed and heatmaps must all be set")
	}

	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold >= 1 {
		return errors.Newf("detection.confidence_threshold must be in [0, 1), got %f", c.Detection.ConfidenceThreshold)
	}

	// 0 workers = enqueue only (another process drains the queue)
	if c.Pipeline.Workers < 0 {
		return errors.Newf("pipeline.workers must be >= 0, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.PersistAttempts < 1 {
		return errors.Newf("pipeline.persist_attempts must be >= 1, got %d", c.Pipeline.PersistAttempts)
	}
	if c.Pipeline.PersistBackoffMS < 0 {
		return errors.Newf("pipeline.persist_backoff_ms must be >= 0, got %d", c.Pipeline.PersistBackoffMS)
	}
	if c.Pipeline.MaxMemoryPercent < 0 || c.Pipeline.MaxMemoryPercent > 100 {
		return errors.Newf("pipeline.max_memory_percent must be in [0, 100], got %d", c.Pipeline.MaxMemoryPercent)
	}
	if c.Pipeline.IntermediateExt != "" && !strings.HasPrefix(c.Pipeline.IntermediateExt, ".") {
		return errors.Newf("pipeline.intermediate_ext must start with '.', got %q", c.Pipeline.IntermediateExt)
	}

	if c.Heatmap.NoiseFloor < 0 || c.Heatmap.NoiseFloor > 255 {
		return errors.Newf("heatmap.noise_floor must be in [0, 255], got %d", c.Heatmap.NoiseFloor)
	}
	if c.Heatmap.BackgroundWeight < 0 || c.Heatmap.OverlayWeight < 0 {
		return errors.New("heatmap weights must be >= 0")
	}

	// 0 TTL = evict terminal entries on the next sweep
	if c.Tracker.TTLSeconds < 0 {
		return errors.Newf("tracker.ttl_seconds must be >= 0, got %d", c.Tracker.TTLSeconds)
	}

	if c.FFmpeg.CRF < 0 || c.FFmpeg.CRF > 51 {
		return errors.Newf("ffmpeg.crf must be in [0, 51], got %d", c.FFmpeg.CRF)
	}

	return nil
}
