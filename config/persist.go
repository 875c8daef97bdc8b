package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/robodata/rdm/errors"
)

// Render marshals a configuration tree as TOML.
func Render() ([]byte, error) {
	data, err := toml.Marshal(newViper().AllSettings())
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal config")
	}
	return data, nil
}

// WriteDefault writes the default configuration to a TOML file. An
// existing file is never overwritten unless force is set; a backup of
// the previous file is kept next to it.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil {
		if !force {
			return errors.Configurationf("%s already exists, pass force to overwrite", path)
		}
		if err := os.Rename(path, path+".back"); err != nil {
			return errors.WrapIO(err, "failed to back up existing config")
		}
	}

	data, err := Render()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapIO(err, "failed to create config directory")
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapIO(err, "failed to write config file")
	}
	return nil
}
