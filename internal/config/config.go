// Package config loads gtaf settings from defaults, an optional YAML file
// and GTAF_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"gtaf/internal/kdb"
	"gtaf/internal/logging"
	"gtaf/internal/ordino"
	"gtaf/internal/resolve"
)

// EnvPrefix prefixes every environment override, e.g. GTAF_SOURCE_API_KEY.
const EnvPrefix = "GTAF"

// DefaultFile is read when no --config flag is given and it exists.
const DefaultFile = "gtaf.yaml"

type Config struct {
	KDB      KDBConfig      `mapstructure:"kdb" yaml:"kdb"`
	Snapshot SnapshotConfig `mapstructure:"snapshot" yaml:"snapshot"`
	Process  ProcessConfig  `mapstructure:"process" yaml:"process"`
	Source   SourceConfig   `mapstructure:"source" yaml:"source"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type KDBConfig struct {
	Path                string `mapstructure:"path" yaml:"path"`
	RetainedOccurrences int    `mapstructure:"retained_occurrences" yaml:"retained_occurrences"`
	ResolvePolicy       string `mapstructure:"resolve_policy" yaml:"resolve_policy"`
}

type SnapshotConfig struct {
	TopFailures int `mapstructure:"top_failures" yaml:"top_failures"`
}

type ProcessConfig struct {
	Parallel int `mapstructure:"parallel" yaml:"parallel"`
}

type SourceConfig struct {
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	APIKeyFile string        `mapstructure:"api_key_file" yaml:"api_key_file"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst      int           `mapstructure:"burst" yaml:"burst"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// SetDefaults registers every key with its default value. Keys must be
// registered for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("kdb.path", "knowledge_db")
	v.SetDefault("kdb.retained_occurrences", kdb.DefaultRetainedOccurrences)
	v.SetDefault("kdb.resolve_policy", "first")
	v.SetDefault("snapshot.top_failures", 3)
	v.SetDefault("process.parallel", 4)
	v.SetDefault("source.base_url", ordino.DefaultBaseURL)
	v.SetDefault("source.api_key", "")
	v.SetDefault("source.api_key_file", "")
	v.SetDefault("source.timeout", 30*time.Second)
	v.SetDefault("source.rate_limit", 5.0)
	v.SetDefault("source.burst", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// Load builds a Config. An empty file means DefaultFile if present; an
// explicit file that cannot be read is an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yaml"))
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}
	return FromViper(v)
}

// FromViper unmarshals and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.KDB.Path) == "" {
		return fmt.Errorf("kdb.path must not be empty")
	}
	if c.KDB.RetainedOccurrences < 1 {
		return fmt.Errorf("kdb.retained_occurrences must be a positive integer")
	}
	if _, err := resolve.ParsePolicy(c.KDB.ResolvePolicy); err != nil {
		return fmt.Errorf("kdb.resolve_policy: %w", err)
	}
	if c.Snapshot.TopFailures < 0 {
		return fmt.Errorf("snapshot.top_failures must not be negative")
	}
	if c.Process.Parallel < 1 {
		return fmt.Errorf("process.parallel must be a positive integer")
	}
	if c.Source.Timeout < 0 {
		return fmt.Errorf("source.timeout must not be negative")
	}
	if c.Source.RateLimit > 0 && c.Source.Burst < 1 {
		return fmt.Errorf("source.burst must be a positive integer when rate_limit is set")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// APIKey returns the source API key, reading APIKeyFile when no inline key
// is set. An empty result means the report source is not configured.
func (c *Config) APIKey() (string, error) {
	if c.Source.APIKey != "" {
		return c.Source.APIKey, nil
	}
	if c.Source.APIKeyFile == "" {
		return "", nil
	}
	key, err := ordino.ReadAPIKey(c.Source.APIKeyFile)
	if err != nil {
		return "", fmt.Errorf("config: read api key file: %w", err)
	}
	return key, nil
}

// YAML renders the effective configuration with the API key masked.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	if out.Source.APIKey != "" {
		out.Source.APIKey = "********"
	}
	return yaml.Marshal(out)
}
