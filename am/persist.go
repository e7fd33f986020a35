package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/vidscope/errors"
)

// hotKeys are the settings `vidscope am set` may change. They are the ones
// the running server re-reads through the ConfigWatcher.
var hotKeys = map[string]bool{
	"tracker.ttl_seconds":            true,
	"tracker.sweep_interval_seconds": true,
	"heatmap.noise_floor":            true,
	"heatmap.background_weight":      true,
	"heatmap.overlay_weight":         true,
	"detection.confidence_threshold": true,
	"server.log_theme":               true,
}

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete old backup %s", back3)
	}
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}

// SetValue writes a single dotted key into the TOML file at configPath,
// keeping the rest of the file and rotating backups first.
func SetValue(configPath, key string, value interface{}) error {
	if !hotKeys[key] {
		return errors.WithHint(
			errors.NewInvalidRequestError("%s cannot be changed at runtime", key),
			"edit am.toml directly and restart vidscope serve",
		)
	}

	doc := make(map[string]interface{})
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, &doc); err != nil {
			return errors.Wrapf(err, "failed to parse %s", configPath)
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to read %s", configPath)
	}

	setNested(doc, strings.Split(key, "."), value)

	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if w := GetGlobalWatcher(); w != nil {
		w.MarkOwnWrite()
	}

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", configPath)
	}
	return nil
}

func setNested(doc map[string]interface{}, path []string, value interface{}) {
	for _, part := range path[:len(path)-1] {
		next, ok := doc[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			doc[part] = next
		}
		doc = next
	}
	doc[path[len(path)-1]] = value
}
