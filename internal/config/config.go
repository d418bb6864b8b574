// Package config loads and validates the querywatch YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	qerrors "github.com/querywatch/querywatch/internal/errors"
)

// Config is the complete querywatch configuration.
type Config struct {
	// BufferSize is the number of buffered register/remove operations that
	// triggers an automatic flush.
	BufferSize int `yaml:"buffer_size"`

	// PurgeFrequency is the purge-cycle interval as a Go duration string
	// (e.g. "5m", "30s").
	PurgeFrequency string `yaml:"purge_frequency"`

	// MaxClauseTerms caps decomposition clause size.
	MaxClauseTerms int `yaml:"max_clause_terms"`

	// DecodeCacheSize bounds the deserialized-query cache.
	DecodeCacheSize int `yaml:"decode_cache_size"`

	// MatchParallelism bounds concurrent exact evaluations per match.
	// Zero means one evaluation goroutine per CPU.
	MatchParallelism int `yaml:"match_parallelism"`

	// Serializer selects the query serializer: "msgpack" or "json".
	Serializer string `yaml:"serializer"`

	// ReadOnly disables register/remove/purge; the instance only serves
	// match traffic.
	ReadOnly bool `yaml:"read_only"`

	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig selects the query-store backend.
type StorageConfig struct {
	// Path is the on-disk index directory. Empty selects the ephemeral
	// in-memory backend.
	Path string `yaml:"path"`
}

// ServerConfig configures optional HTTP endpoints.
type ServerConfig struct {
	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration defaults: 5000 buffered updates,
// five-minute purge cycles, msgpack serialization, in-memory storage.
func Default() Config {
	return Config{
		BufferSize:      5000,
		PurgeFrequency:  "5m",
		MaxClauseTerms:  1024,
		DecodeCacheSize: 4096,
		Serializer:      "msgpack",
		Logging:         LoggingConfig{Level: "info"},
	}
}

// Load reads the configuration at path, overlaying it on the defaults.
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, qerrors.New(qerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("read config %s: %v", path, err), err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, qerrors.New(qerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("parse config %s: %v", path, err), err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.BufferSize < 1 {
		return qerrors.New(qerrors.ErrCodeConfigInvalid, "buffer_size must be positive", nil)
	}
	if c.MaxClauseTerms < 1 {
		return qerrors.New(qerrors.ErrCodeConfigInvalid, "max_clause_terms must be positive", nil)
	}
	if c.DecodeCacheSize < 1 {
		return qerrors.New(qerrors.ErrCodeConfigInvalid, "decode_cache_size must be positive", nil)
	}
	if c.MatchParallelism < 0 {
		return qerrors.New(qerrors.ErrCodeConfigInvalid, "match_parallelism must not be negative", nil)
	}
	if _, err := c.PurgeInterval(); err != nil {
		return err
	}
	switch c.Serializer {
	case "", "msgpack", "json":
	default:
		return qerrors.New(qerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown serializer %q", c.Serializer), nil)
	}
	return nil
}

// PurgeInterval parses PurgeFrequency.
func (c Config) PurgeInterval() (time.Duration, error) {
	if c.PurgeFrequency == "" {
		return 5 * time.Minute, nil
	}
	d, err := time.ParseDuration(c.PurgeFrequency)
	if err != nil {
		return 0, qerrors.New(qerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid purge_frequency %q", c.PurgeFrequency), err)
	}
	if d <= 0 {
		return 0, qerrors.New(qerrors.ErrCodeConfigInvalid, "purge_frequency must be positive", nil)
	}
	return d, nil
}
