package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := FromViper(v)
	require.NoError(t, err)
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := defaults(t)

	assert.Equal(t, "knowledge_db", cfg.KDB.Path)
	assert.Equal(t, 5, cfg.KDB.RetainedOccurrences)
	assert.Equal(t, "first", cfg.KDB.ResolvePolicy)
	assert.Equal(t, 3, cfg.Snapshot.TopFailures)
	assert.Equal(t, 4, cfg.Process.Parallel)
	assert.Equal(t, "https://dev-portal.ordino.ai/api/v1", cfg.Source.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Source.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gtaf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
kdb:
  path: /var/lib/gtaf
  resolve_policy: strict
source:
  api_key: from-file
  timeout: 5s
log:
  format: json
`), 0o644))

	t.Setenv("GTAF_SOURCE_API_KEY", "from-env")
	t.Setenv("GTAF_PROCESS_PARALLEL", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/gtaf", cfg.KDB.Path)
	assert.Equal(t, "strict", cfg.KDB.ResolvePolicy)
	assert.Equal(t, 5*time.Second, cfg.Source.Timeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "from-env", cfg.Source.APIKey, "env must win over the file")
	assert.Equal(t, 8, cfg.Process.Parallel)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_NoDefaultFileIsFine(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "knowledge_db", cfg.KDB.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty path", func(c *Config) { c.KDB.Path = " " }, "kdb.path"},
		{"zero retention", func(c *Config) { c.KDB.RetainedOccurrences = 0 }, "kdb.retained_occurrences"},
		{"bad policy", func(c *Config) { c.KDB.ResolvePolicy = "fuzzy" }, "kdb.resolve_policy"},
		{"negative top", func(c *Config) { c.Snapshot.TopFailures = -1 }, "snapshot.top_failures"},
		{"zero parallel", func(c *Config) { c.Process.Parallel = 0 }, "process.parallel"},
		{"burst", func(c *Config) { c.Source.RateLimit = 2; c.Source.Burst = 0 }, "source.burst"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAPIKey(t *testing.T) {
	cfg := defaults(t)

	key, err := cfg.APIKey()
	require.NoError(t, err)
	assert.Empty(t, key)

	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("file-key\n"), 0o600))
	cfg.Source.APIKeyFile = path
	key, err = cfg.APIKey()
	require.NoError(t, err)
	assert.Equal(t, "file-key", key)

	cfg.Source.APIKey = "inline"
	key, err = cfg.APIKey()
	require.NoError(t, err)
	assert.Equal(t, "inline", key)
}

func TestYAML_MasksKey(t *testing.T) {
	cfg := defaults(t)
	cfg.Source.APIKey = "super-secret"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "super-secret")
	assert.Contains(t, string(out), "retained_occurrences: 5")
	assert.Equal(t, "super-secret", cfg.Source.APIKey, "YAML must not mutate the config")
}
