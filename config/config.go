// Package config supplies rdm configuration.
//
// Configuration is read once through Viper (defaults < file < RDM_*
// environment variables) and unmarshalled into an immutable Config
// snapshot. The conversion engine and batch orchestrator only ever see
// the snapshot; nothing mutates configuration after startup.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/robodata/rdm/errors"
)

// Config is the full configuration snapshot.
type Config struct {
	Formats    map[string]map[string]interface{} `mapstructure:"formats"`
	Validation ValidationConfig                  `mapstructure:"validation"`
	Conversion ConversionConfig                  `mapstructure:"conversion"`
	Logging    LoggingConfig                     `mapstructure:"logging"`
}

// ValidationConfig controls the schema validation pass.
type ValidationConfig struct {
	Strict      bool             `mapstructure:"strict"`       // error-severity issues abort conversion
	CheckSchema bool             `mapstructure:"check_schema"` // run cross-field rules
	Rules       []CrossFieldRule `mapstructure:"rules"`
}

// CrossFieldRule requires two arrays to share their leading dimension,
// e.g. "action" and "observation" both sized by episode length.
type CrossFieldRule struct {
	Left  string `mapstructure:"left"`  // array path, e.g. "steps/action"
	Right string `mapstructure:"right"` // array path, e.g. "steps/observation"
}

// ConversionConfig controls the conversion engine and batch pool.
type ConversionConfig struct {
	Parallel       bool `mapstructure:"parallel"`
	NumWorkers     int  `mapstructure:"num_workers"`     // 0 = number of CPUs
	BatchSize      int  `mapstructure:"batch_size"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds"` // 0 = no per-file timeout
}

// LoggingConfig controls the global logger setup.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// SetDefaults configures default values for all configuration options.
// The tree mirrors the options each bundled adapter recognizes.
func SetDefaults(v *viper.Viper) {
	// Format adapter defaults
	v.SetDefault("formats.zarr.compression", "gzip")
	v.SetDefault("formats.zarr.compression_level", 5)
	v.SetDefault("formats.zarr.chunk_target_bytes", 1<<20) // 1 MiB per chunk
	v.SetDefault("formats.json.compression", "none")
	v.SetDefault("formats.json.indent", 2)

	// Validation defaults
	v.SetDefault("validation.strict", true)
	v.SetDefault("validation.check_schema", true)

	// Conversion defaults
	v.SetDefault("conversion.parallel", true)
	v.SetDefault("conversion.num_workers", 0) // 0 = runtime.NumCPU
	v.SetDefault("conversion.batch_size", 1)
	v.SetDefault("conversion.timeout_seconds", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
}

// Load reads configuration from defaults and RDM_* environment variables.
func Load() (*Config, error) {
	return loadWith(newViper())
}

// LoadFromFile reads configuration from a specific file path, merged over
// defaults. The format is inferred from the extension (toml/yaml/json).
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.WithKind(
			errors.Wrapf(err, "failed to read config file %s", path),
			errors.KindConfiguration)
	}
	return loadWith(v)
}

// Get returns a configuration value by dot-separated key path from a
// fresh default-populated instance. Intended for one-off lookups in the
// CLI; library code uses the Config snapshot.
func Get(key string) interface{} {
	return newViper().Get(key)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("RDM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

func loadWith(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.WithKind(
			errors.Wrap(err, "failed to unmarshal config"),
			errors.KindConfiguration)
	}
	return &cfg, nil
}

// FormatOptions returns the option map configured for a format id.
// The returned map is a copy; adapters own their parse of it.
func (c *Config) FormatOptions(id string) map[string]interface{} {
	src, ok := c.Formats[id]
	if !ok {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(src))
	for k, val := range src {
		out[k] = val
	}
	return out
}
