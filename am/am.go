package am

import "time"

// Config represents the vidscope configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Detection DetectionConfig `mapstructure:"detection"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Heatmap   HeatmapConfig   `mapstructure:"heatmap"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
}

// DatabaseConfig configures the SQLite metadata database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port           *int     `mapstructure:"port"` // nil = default 8780, 0 is invalid (omit for default)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	LogTheme       string   `mapstructure:"log_theme"` // Color theme: gruvbox, everforest, none

	// Upload limits
	MaxUploadBytes    int64    `mapstructure:"max_upload_bytes"`   // default: 16 MiB
	AllowedExtensions []string `mapstructure:"allowed_extensions"` // default: mp4, avi, mov

	// Rate limit for upload and process triggers (0 = unlimited)
	RequestsPerMinute int `mapstructure:"requests_per_minute"`

	ShutdownTimeoutSecs  int `mapstructure:"shutdown_timeout_secs"`
	ProgressPingInterval int `mapstructure:"progress_ping_interval"` // websocket ping, seconds
}

// StorageConfig selects and configures the object storage backend
type StorageConfig struct {
	Backend  string        `mapstructure:"backend"` // local or gcs
	LocalDir string        `mapstructure:"local_dir"`
	Buckets  BucketsConfig `mapstructure:"buckets"`
	GCS      GCSConfig     `mapstructure:"gcs"`
}

// BucketsConfig names the three logical buckets
type BucketsConfig struct {
	Original  string `mapstructure:"original"`
	Processed string `mapstructure:"processed"`
	Heatmaps  string `mapstructure:"heatmaps"`
}

// GCSConfig configures Google Cloud Storage access
type GCSConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"` // empty = application default credentials
	Endpoint        string `mapstructure:"endpoint"`         // override for emulators
}

// DetectionConfig configures the object detector
type DetectionConfig struct {
	ModelPath           string  `mapstructure:"model_path"`           // Darknet weights or ONNX model
	ConfigPath          string  `mapstructure:"config_path"`          // Darknet cfg (empty for ONNX)
	NamesPath           string  `mapstructure:"names_path"`           // class labels, one per line
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"` // detections at or below are dropped (default: 0.3)
	NMSThreshold        float64 `mapstructure:"nms_threshold"`
	InputSize           int     `mapstructure:"input_size"` // network input edge in pixels
}

// PipelineConfig configures the processing workers
type PipelineConfig struct {
	Workers        int    `mapstructure:"workers"` // concurrent jobs (default: 1)
	ScratchDir     string `mapstructure:"scratch_dir"`
	PollIntervalMS int    `mapstructure:"poll_interval_ms"`

	// Metadata upsert retry policy
	PersistAttempts  int `mapstructure:"persist_attempts"`   // default: 3
	PersistBackoffMS int `mapstructure:"persist_backoff_ms"` // fixed delay between attempts (default: 1000)

	// Pause dequeue above this system memory use (0 = never)
	MaxMemoryPercent int `mapstructure:"max_memory_percent"`

	// Raw annotated file written before the final transcode
	IntermediateCodec string `mapstructure:"intermediate_codec"` // fourcc
	IntermediateExt   string `mapstructure:"intermediate_ext"`
}

// HeatmapConfig configures heatmap synthesis
type HeatmapConfig struct {
	NoiseFloor       int     `mapstructure:"noise_floor"`       // normalized values below are zeroed (default: 25)
	BackgroundWeight float64 `mapstructure:"background_weight"` // default: 0.3
	OverlayWeight    float64 `mapstructure:"overlay_weight"`    // default: 0.7
}

// TrackerConfig configures the in-memory progress tracker
type TrackerConfig struct {
	TTLSeconds           int `mapstructure:"ttl_seconds"`            // terminal entries evicted after this (default: 3600)
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"` // janitor period (default: 60)
}

// FFmpegConfig configures the final transcode
type FFmpegConfig struct {
	Path           string `mapstructure:"path"`
	Preset         string `mapstructure:"preset"`
	CRF            int    `mapstructure:"crf"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Server port constants
const (
	DefaultServerPort = 8780
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// TrackerTTL returns the tracker TTL as a duration
func (c *Config) TrackerTTL() time.Duration {
	return time.Duration(c.Tracker.TTLSeconds) * time.Second
}

// TrackerSweepInterval returns the janitor period as a duration
func (c *Config) TrackerSweepInterval() time.Duration {
	if c.Tracker.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Tracker.SweepIntervalSeconds) * time.Second
}

// PersistBackoff returns the fixed metadata retry delay
func (c *Config) PersistBackoff() time.Duration {
	return time.Duration(c.Pipeline.PersistBackoffMS) * time.Millisecond
}
