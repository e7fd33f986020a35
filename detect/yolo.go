package detect

import (
	"os"
	"strings"

	"github.com/teranos/vidscope/errors"
)

// candidateFloor is the score a raw network output needs before NMS
const candidateFloor = 0.25

// YOLOConfig locates the network and its class names
type YOLOConfig struct {
	ModelPath    string
	ConfigPath   string // empty for ONNX
	NamesPath    string
	InputSize    int
	NMSThreshold float64
}

func (c YOLOConfig) withDefaults() YOLOConfig {
	if c.InputSize <= 0 {
		c.InputSize = 640
	}
	if c.NMSThreshold <= 0 {
		c.NMSThreshold = 0.45
	}
	return c
}

// LoadNames reads one class name per line, skipping blank lines
func LoadNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read class names %s", path)
	}
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	if len(names) == 0 {
		return nil, errors.Newf("class names file %s is empty", path)
	}
	return names, nil
}
