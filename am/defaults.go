package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "vidscope.db")

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
	v.SetDefault("server.log_theme", "everforest")
	v.SetDefault("server.max_upload_bytes", 16*1024*1024)
	v.SetDefault("server.allowed_extensions", []string{"mp4", "avi", "mov"})
	v.SetDefault("server.requests_per_minute", 30)
	v.SetDefault("server.shutdown_timeout_secs", 10)
	v.SetDefault("server.progress_ping_interval", 30)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("storage.buckets.original", "original-videos")
	v.SetDefault("storage.buckets.processed", "processed-videos")
	v.SetDefault("storage.buckets.heatmaps", "heatmaps")

	v.SetDefault("detection.model_path", "models/yolov8n.onnx")
	v.SetDefault("detection.names_path", "models/coco.names")
	v.SetDefault("detection.confidence_threshold", 0.3)
	v.SetDefault("detection.nms_threshold", 0.45)
	v.SetDefault("detection.input_size", 640)

	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("pipeline.scratch_dir", "tmp")
	v.SetDefault("pipeline.poll_interval_ms", 250)
	v.SetDefault("pipeline.persist_attempts", 3)
	v.SetDefault("pipeline.persist_backoff_ms", 1000)
	v.SetDefault("pipeline.max_memory_percent", 90)
	v.SetDefault("pipeline.intermediate_codec", "mp4v")
	v.SetDefault("pipeline.intermediate_ext", ".mp4")

	v.SetDefault("heatmap.noise_floor", 25)
	v.SetDefault("heatmap.background_weight", 0.3)
	v.SetDefault("heatmap.overlay_weight", 0.7)

	v.SetDefault("tracker.ttl_seconds", 3600)
	v.SetDefault("tracker.sweep_interval_seconds", 60)

	v.SetDefault("ffmpeg.path", "ffmpeg")
	v.SetDefault("ffmpeg.preset", "ultrafast")
	v.SetDefault("ffmpeg.crf", 28)
	v.SetDefault("ffmpeg.timeout_seconds", 600)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("storage.gcs.credentials_file", "GOOGLE_APPLICATION_CREDENTIALS")
	v.BindEnv("storage.gcs.project_id", "VIDSCOPE_GCS_PROJECT_ID", "GOOGLE_CLOUD_PROJECT")
	v.BindEnv("database.path", "VIDSCOPE_DATABASE_PATH")
}

// GetServerPort returns the configured server port, or DefaultServerPort
func (c *Config) GetServerPort() int {
	if c.Server.Port == nil {
		return DefaultServerPort
	}
	return *c.Server.Port
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "vidscope.db"
	}
	return c.Database.Path
}

// GetServerLogTheme returns the log theme (default: everforest)
func (c *Config) GetServerLogTheme() string {
	if c.Server.LogTheme == "" {
		return "everforest"
	}
	return c.Server.LogTheme
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Storage: %s, Pipeline: {Workers: %d}, Heatmap: {NoiseFloor: %d}}",
		c.Database.Path, c.Storage.Backend, c.Pipeline.Workers, c.Heatmap.NoiseFloor)
}
