package am

import (
	"io"

	"github.com/BurntSushi/toml"

	"github.com/teranos/vidscope/errors"
)

// WriteEffective renders the merged configuration (defaults, files, env) as TOML
func WriteEffective(w io.Writer) error {
	settings := GetViper().AllSettings()
	if err := toml.NewEncoder(w).Encode(settings); err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	return nil
}
