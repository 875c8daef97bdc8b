// Package commands holds the rdm CLI command implementations.
package commands

import (
	"github.com/robodata/rdm/config"
	"github.com/robodata/rdm/errors"
	"github.com/robodata/rdm/format"
	"github.com/robodata/rdm/format/jsonfmt"
	"github.com/robodata/rdm/format/zarrfmt"
)

// Flags shared across commands, bound by the root command.
var (
	ConfigFlag   string
	LogLevelFlag string
	JSONLogFlag  bool
)

func init() {
	// Bundled adapters register once at process startup.
	if err := format.Register(zarrfmt.New()); err != nil {
		panic(err)
	}
	if err := format.Register(jsonfmt.New()); err != nil {
		panic(err)
	}
}

// loadConfig reads the configuration snapshot, from a file when --config
// was given.
func loadConfig() (*config.Config, error) {
	if ConfigFlag != "" {
		cfg, err := config.LoadFromFile(ConfigFlag)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load configuration")
		}
		return cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	return cfg, nil
}
