package am

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Isolated viper instance without user/system config
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, "vidscope.db", cfg.Database.Path)
	assert.Equal(t, DefaultServerPort, cfg.GetServerPort())
	assert.Equal(t, int64(16*1024*1024), cfg.Server.MaxUploadBytes)
	assert.Equal(t, []string{"mp4", "avi", "mov"}, cfg.Server.AllowedExtensions)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, 0.3, cfg.Detection.ConfidenceThreshold)
	assert.Equal(t, 1, cfg.Pipeline.Workers)
	assert.Equal(t, 3, cfg.Pipeline.PersistAttempts)
	assert.Equal(t, time.Second, cfg.PersistBackoff())
	assert.Equal(t, 25, cfg.Heatmap.NoiseFloor)
	assert.Equal(t, time.Hour, cfg.TrackerTTL())
	assert.Equal(t, "ultrafast", cfg.FFmpeg.Preset)
	assert.Equal(t, 28, cfg.FFmpeg.CRF)

	require.NoError(t, cfg.Validate(), "defaults must validate")
}

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	tests := []struct {
		key      string
		expected interface{}
	}{
		{"database.path", "vidscope.db"},
		{"server.port", DefaultServerPort},
		{"server.log_theme", "everforest"},
		{"storage.buckets.original", "original-videos"},
		{"storage.buckets.processed", "processed-videos"},
		{"storage.buckets.heatmaps", "heatmaps"},
		{"pipeline.workers", 2},
		{"heatmap.noise_floor", 25},
		{"ffmpeg.path", "ffmpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.expected, v.Get(tt.key))
		})
	}
}

func validConfig(t *testing.T) Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	return *cfg
}

func TestValidate(t *testing.T) {
	zero := 0
	negative := -5

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero port is invalid", func(c *Config) { c.Server.Port = &zero }, true},
		{"negative port is invalid", func(c *Config) { c.Server.Port = &negative }, true},
		{"nil port uses default", func(c *Config) { c.Server.Port = nil }, false},
		{"unknown storage backend", func(c *Config) { c.Storage.Backend = "s3" }, true},
		{"gcs backend", func(c *Config) { c.Storage.Backend = "gcs" }, false},
		{"missing bucket", func(c *Config) { c.Storage.Buckets.Heatmaps = "" }, true},
		{"threshold of 1 is invalid", func(c *Config) { c.Detection.ConfidenceThreshold = 1 }, true},
		{"zero threshold keeps everything", func(c *Config) { c.Detection.ConfidenceThreshold = 0 }, false},
		{"zero workers is valid (enqueue only)", func(c *Config) { c.Pipeline.Workers = 0 }, false},
		{"negative workers is invalid", func(c *Config) { c.Pipeline.Workers = -1 }, true},
		{"zero persist attempts is invalid", func(c *Config) { c.Pipeline.PersistAttempts = 0 }, true},
		{"intermediate ext without dot", func(c *Config) { c.Pipeline.IntermediateExt = "avi" }, true},
		{"noise floor above 255", func(c *Config) { c.Heatmap.NoiseFloor = 256 }, true},
		{"zero ttl is valid", func(c *Config) { c.Tracker.TTLSeconds = 0 }, false},
		{"crf out of range", func(c *Config) { c.FFmpeg.CRF = 60 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	content := `
[storage]
backend = "gcs"

[storage.buckets]
original = "cam-raw"

[heatmap]
noise_floor = 40

[tracker]
ttl_seconds = 120
`
	require.NoError(t, os.WriteFile(path, []byte(content), DefaultFilePermissions))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "gcs", cfg.Storage.Backend)
	assert.Equal(t, "cam-raw", cfg.Storage.Buckets.Original)
	assert.Equal(t, "processed-videos", cfg.Storage.Buckets.Processed, "unset keys keep defaults")
	assert.Equal(t, 40, cfg.Heatmap.NoiseFloor)
	assert.Equal(t, 2*time.Minute, cfg.TrackerTTL())
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestFindProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "project", "clips", "today")
	require.NoError(t, os.MkdirAll(subDir, DefaultDirPermissions))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "project", "am.toml"), nil, DefaultFilePermissions))

	t.Chdir(subDir)

	result := FindProjectConfig()
	require.NotEmpty(t, result)
	assert.True(t, filepath.IsAbs(result))
	assert.Equal(t, "am.toml", filepath.Base(result))
}

func TestSetValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte("[storage]\nbackend = \"local\"\n"), DefaultFilePermissions))

	require.NoError(t, SetValue(path, "tracker.ttl_seconds", 900))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 900, cfg.Tracker.TTLSeconds)
	assert.Equal(t, "local", cfg.Storage.Backend, "existing keys survive")

	_, err = os.Stat(path + ".back1")
	assert.NoError(t, err, "backup written before modification")
}

func TestSetValue_RejectsColdKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	err := SetValue(path, "database.path", "other.db")
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "nothing written")
}

func TestCreateBackupRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	for _, body := range []string{"a", "b", "c", "d"} {
		require.NoError(t, os.WriteFile(path, []byte(body), DefaultFilePermissions))
		require.NoError(t, createBackup(path))
	}

	for suffix, want := range map[string]string{".back1": "d", ".back2": "c", ".back3": "b"} {
		got, err := os.ReadFile(path + suffix)
		require.NoError(t, err)
		assert.Equal(t, want, string(got), suffix)
	}
}

func TestIsBackupFile(t *testing.T) {
	assert.True(t, isBackupFile("/etc/vidscope/am.toml.back2"))
	assert.False(t, isBackupFile("/etc/vidscope/am.toml"))
}

func TestWriteEffective(t *testing.T) {
	t.Chdir(t.TempDir())
	Reset()
	t.Cleanup(Reset)

	var buf bytes.Buffer
	require.NoError(t, WriteEffective(&buf))
	assert.Contains(t, buf.String(), "[heatmap]")
	assert.Contains(t, buf.String(), "noise_floor = 25")
}
