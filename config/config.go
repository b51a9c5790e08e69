// Package config loads container configuration from TOML or YAML files and
// turns it into container options, component overrides and a zap logger.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/bean-runtime/errors"
	"github.com/wippyai/bean-runtime/tx"
)

// Config is the complete container configuration.
type Config struct {
	Components  map[string]Component `toml:"components" yaml:"components"`
	Logging     Logging              `toml:"logging" yaml:"logging"`
	Stats       Stats                `toml:"stats" yaml:"stats"`
	RateLimit   RateLimit            `toml:"rate_limit" yaml:"rate_limit"`
	Pool        Pool                 `toml:"pool" yaml:"pool"`
	Transaction Transaction          `toml:"transaction" yaml:"transaction"`
}

// Logging selects the logger level and encoding.
type Logging struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // json or console
}

// Pool holds pool defaults applied to every component.
type Pool struct {
	Limit          int      `toml:"limit" yaml:"limit"`
	Strict         bool     `toml:"strict" yaml:"strict"`
	AcquireTimeout Duration `toml:"acquire_timeout" yaml:"acquire_timeout"`
}

// Transaction holds transaction policy switches.
type Transaction struct {
	// LegacyPoolTimeoutInvalidates turns pool acquisition timeouts into
	// invalid_reference errors instead of retryable unavailable errors.
	LegacyPoolTimeoutInvalidates bool `toml:"legacy_pool_timeout_invalidates" yaml:"legacy_pool_timeout_invalidates"`
}

// Stats selects the invocation statistics backend.
type Stats struct {
	Backend string   `toml:"backend" yaml:"backend"` // "", memory or redis
	Redis   Redis    `toml:"redis" yaml:"redis"`
	Prefix  string   `toml:"prefix" yaml:"prefix"`
	Bucket  string   `toml:"bucket" yaml:"bucket"`
	TTL     Duration `toml:"ttl" yaml:"ttl"`
}

// Redis holds the connection settings of the redis stats backend.
type Redis struct {
	Addr     string `toml:"addr" yaml:"addr"`
	Password string `toml:"password" yaml:"password"`
	DB       int    `toml:"db" yaml:"db"`
}

// RateLimit holds the default invocation rate of every component.
type RateLimit struct {
	Rate  float64  `toml:"rate" yaml:"rate"`
	Burst int      `toml:"burst" yaml:"burst"`
	Wait  Duration `toml:"wait" yaml:"wait"`
}

// Component overrides settings of one deployed component.
type Component struct {
	Strict    *bool    `toml:"strict" yaml:"strict"`
	Attribute string   `toml:"attribute" yaml:"attribute"`
	Limit     int      `toml:"limit" yaml:"limit"`
	Timeout   Duration `toml:"timeout" yaml:"timeout"`
	Rate      float64  `toml:"rate" yaml:"rate"`
	Burst     int      `toml:"burst" yaml:"burst"`
}

// Duration wraps time.Duration for text decoding ("250ms", "1m").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Format is a configuration file syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// DetectFormat picks the format from the file extension; unknown extensions
// are read as TOML.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatTOML
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Load reads the configuration at path. Environment variables in path are
// expanded.
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load(fmt.Sprintf("read %s", path), err)
	}
	return Parse(data, DetectFormat(path))
}

// Parse decodes data in format, applies defaults and validates the result.
func Parse(data []byte, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Load("TOML parse error", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Load("YAML parse error", err)
		}
	default:
		return nil, errors.Load(fmt.Sprintf("unsupported format %q", format), nil)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Stats.Prefix == "" {
		c.Stats.Prefix = "beans:stats"
	}
	if c.Stats.Bucket == "" {
		c.Stats.Bucket = "minute"
	}
	if c.Stats.TTL.Duration == 0 {
		c.Stats.TTL.Duration = 24 * time.Hour
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "json", "console":
	default:
		return errors.Load(fmt.Sprintf("logging.format: unknown format %q", c.Logging.Format), nil)
	}
	if c.Pool.Limit < 0 {
		return errors.Load("pool.limit: must not be negative", nil)
	}
	switch c.Stats.Backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Stats.Redis.Addr) == "" {
			return errors.Load("stats.redis.addr: required by the redis backend", nil)
		}
	default:
		return errors.Load(fmt.Sprintf("stats.backend: unknown backend %q", c.Stats.Backend), nil)
	}
	if c.RateLimit.Rate < 0 {
		return errors.Load("rate_limit.rate: must not be negative", nil)
	}
	for name, comp := range c.Components {
		if comp.Limit < 0 {
			return errors.Load(fmt.Sprintf("components.%s.limit: must not be negative", name), nil)
		}
		if comp.Attribute != "" {
			if _, err := tx.ParseAttribute(comp.Attribute); err != nil {
				return errors.Load(fmt.Sprintf("components.%s.attribute", name), err)
			}
		}
	}
	return nil
}
